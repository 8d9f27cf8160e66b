package models

import (
	"strconv"
	"strings"
)

// ChatType distinguishes direct chats from groups and channels
type ChatType string

const (
	ChatTypeUser    ChatType = "user"
	ChatTypeGroup   ChatType = "group"
	ChatTypeChannel ChatType = "channel"
)

// EntityTextURL is the entity type of an inline hyperlink with a hidden target
const EntityTextURL = "text_url"

// ActionTopicCreate marks the service message that opens a forum topic
const ActionTopicCreate = "topic_create"

// User is the sender of a message
type User struct {
	ID        int64    `json:"id"`
	Username  string   `json:"username,omitempty"`
	Usernames []string `json:"usernames,omitempty"`
	FirstName string   `json:"first_name,omitempty"`
	Bot       bool     `json:"bot,omitempty"`
}

// Identities returns every handle the user can be matched by: the collectible
// usernames, the primary username and the numeric id. Empty values are dropped.
func (u *User) Identities() []string {
	if u == nil {
		return nil
	}
	ids := make([]string, 0, len(u.Usernames)+2)
	for _, name := range u.Usernames {
		if name != "" {
			ids = append(ids, name)
		}
	}
	if u.Username != "" {
		ids = append(ids, u.Username)
	}
	if u.ID != 0 {
		ids = append(ids, strconv.FormatInt(u.ID, 10))
	}
	return ids
}

// DisplayName returns the username, falling back to the first name
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	if u.Username != "" {
		return u.Username
	}
	return u.FirstName
}

// Chat is the conversation a message was posted in
type Chat struct {
	ID        int64    `json:"id"`
	Title     string   `json:"title,omitempty"`
	Type      ChatType `json:"type"`
	Forum     bool     `json:"forum,omitempty"`
	Broadcast bool     `json:"broadcast,omitempty"`
	HasLink   bool     `json:"has_link,omitempty"`
}

// IsDirect reports whether the chat is a one-to-one conversation
func (c *Chat) IsDirect() bool {
	return c != nil && c.Type == ChatTypeUser
}

// IsLinked reports whether the chat is a broadcast channel or is linked to one
func (c *Chat) IsLinked() bool {
	return c != nil && (c.HasLink || c.Broadcast)
}

// Entity is a formatting span of the message text. Offsets count UTF-16 code units.
type Entity struct {
	Type   string `json:"type"`
	Offset int    `json:"offset"`
	Length int    `json:"length"`
	URL    string `json:"url,omitempty"`
}

// ReplyHeader describes what a message replies to
type ReplyHeader struct {
	ForumTopic   bool  `json:"forum_topic,omitempty"`
	ReplyToMsgID int64 `json:"reply_to_msg_id,omitempty"`
	ReplyToTopID int64 `json:"reply_to_top_id,omitempty"`
}

// TopicID returns the id of the topic root, falling back to the direct reply target
func (r *ReplyHeader) TopicID() int64 {
	if r == nil {
		return 0
	}
	if r.ReplyToTopID != 0 {
		return r.ReplyToTopID
	}
	return r.ReplyToMsgID
}

// Action is set on service messages
type Action struct {
	Type  string `json:"type"`
	Title string `json:"title,omitempty"`
}

// Forward carries the origin of a forwarded message
type Forward struct {
	SenderUsername string `json:"sender_username,omitempty"`
}

// Attachment is a downloaded media file travelling with the message
type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type,omitempty"`
	Data        []byte `json:"data"`
}

// Message is a single inbound chat message together with the metadata the
// gateway resolved for it. It lives only for the duration of one dispatch.
type Message struct {
	ID          int64        `json:"id"`
	ChatID      int64        `json:"chat_id"`
	Text        string       `json:"text"`
	Sender      *User        `json:"sender,omitempty"`
	Chat        *Chat        `json:"chat,omitempty"`
	Entities    []Entity     `json:"entities,omitempty"`
	Sticker     bool         `json:"sticker,omitempty"`
	Forward     *Forward     `json:"forward,omitempty"`
	ReplyTo     *ReplyHeader `json:"reply_to,omitempty"`
	Reply       *Message     `json:"reply,omitempty"`
	Action      *Action      `json:"action,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// ChatKey is the chat id as it appears in listener rules
func (m *Message) ChatKey() string {
	return strconv.FormatInt(m.ChatID, 10)
}

// HasContent reports whether there is anything to relay
func (m *Message) HasContent() bool {
	return m.Text != "" || len(m.Attachments) > 0
}

// IsService reports whether the message is a service notice rather than user content
func (m *Message) IsService() bool {
	return m != nil && m.Action != nil
}

// IsCommand reports whether the text is a bot command
func (m *Message) IsCommand() bool {
	return strings.HasPrefix(m.Text, "/")
}

// TopicTitle returns the title set by a topic creation notice, if any
func (m *Message) TopicTitle() string {
	if m == nil || m.Action == nil {
		return ""
	}
	return m.Action.Title
}

// LinkTargets returns the last path segment of every hyperlink entity, skipping empty ones
func (m *Message) LinkTargets() []string {
	return LinkTargets(m.Entities)
}

// LinkTargets returns the last path segment of every hyperlink entity, skipping empty ones
func LinkTargets(entities []Entity) []string {
	var targets []string
	for _, e := range entities {
		if e.Type != EntityTextURL {
			continue
		}
		if seg := LastPathSegment(e.URL); seg != "" {
			targets = append(targets, seg)
		}
	}
	return targets
}

// LastPathSegment returns what follows the final slash of a URL
func LastPathSegment(url string) string {
	if i := strings.LastIndexByte(url, '/'); i >= 0 {
		return url[i+1:]
	}
	return url
}
