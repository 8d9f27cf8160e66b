package webhook

import "encoding/json"

// Embed is a rich embed block
type Embed struct {
	Color       int    `json:"color"`
	Description string `json:"description"`
}

// Payload is the body of a webhook execution. Extra holds caller supplied
// parameters; username, content and embeds always take precedence over it.
type Payload struct {
	Username string
	Content  string
	Embeds   []Embed
	Extra    map[string]interface{}
}

func (p Payload) MarshalJSON() ([]byte, error) {
	body := make(map[string]interface{}, len(p.Extra)+3)
	for k, v := range p.Extra {
		body[k] = v
	}
	body["username"] = p.Username
	body["content"] = p.Content
	if p.Embeds != nil {
		body["embeds"] = p.Embeds
	}
	return json.Marshal(body)
}
