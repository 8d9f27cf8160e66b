package listener

import (
	"encoding/json"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/lugondev/go-chat-relay-web3/internal/classify"
)

// DefaultEmbedColor is the embed side colour when a rule sets none
const DefaultEmbedColor = 16711680

var (
	ErrNoWebhook      = errors.New("listener has no webhook")
	ErrNoChannelScope = errors.New("forum listener channel needs a name or main flag")
)

// EmbedMode selects rich-embed formatting: off, on for everything, or on only
// for messages whose sender or reply author is in a given identity set.
type EmbedMode struct {
	on         bool
	identities []string
}

// EmbedOff disables embeds
func EmbedOff() EmbedMode { return EmbedMode{} }

// EmbedOn embeds every message
func EmbedOn() EmbedMode { return EmbedMode{on: true} }

// RestrictedTo embeds messages involving one of ids
func RestrictedTo(ids ...string) EmbedMode {
	if ids == nil {
		ids = []string{}
	}
	return EmbedMode{identities: ids}
}

// On reports plain boolean mode
func (m EmbedMode) On() bool { return m.on }

// Restricted reports identity-list mode
func (m EmbedMode) Restricted() bool { return m.identities != nil }

// AnyMatch reports whether at least one of ids is in the list
func (m EmbedMode) AnyMatch(ids []string) bool {
	if !m.Restricted() {
		return false
	}
	for _, id := range ids {
		if contains(m.identities, id) {
			return true
		}
	}
	return false
}

// AllMatch reports whether ids is non-empty and every one is in the list
func (m EmbedMode) AllMatch(ids []string) bool {
	if !m.Restricted() || len(ids) == 0 {
		return false
	}
	for _, id := range ids {
		if !contains(m.identities, id) {
			return false
		}
	}
	return true
}

// UnmarshalYAML accepts a boolean or a list of identities
func (m *EmbedMode) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var on bool
		if err := node.Decode(&on); err != nil {
			return fmt.Errorf("embedded: %w", err)
		}
		*m = EmbedMode{on: on}
		return nil
	case yaml.SequenceNode:
		var ids []string
		if err := node.Decode(&ids); err != nil {
			return fmt.Errorf("embedded: %w", err)
		}
		*m = RestrictedTo(ids...)
		return nil
	default:
		return fmt.Errorf("embedded must be a boolean or a list, line %d", node.Line)
	}
}

func (m EmbedMode) MarshalJSON() ([]byte, error) {
	if m.Restricted() {
		return json.Marshal(m.identities)
	}
	return json.Marshal(m.on)
}

// ChannelRule binds a forum topic title to a webhook
type ChannelRule struct {
	Name    string `yaml:"name" json:"name"`
	Main    bool   `yaml:"main" json:"main,omitempty"`
	Webhook string `yaml:"webhook" json:"-"`
}

// Matches reports whether the channel serves a topic with the given title
func (c *ChannelRule) Matches(title string) bool {
	return c.Name == title || (c.Main && title == "")
}

// Rule is one configured listener
type Rule struct {
	Name                        string                 `yaml:"name" json:"name,omitempty"`
	Users                       []string               `yaml:"users" json:"users,omitempty"`
	Group                       string                 `yaml:"group" json:"group,omitempty"`
	Channels                    []ChannelRule          `yaml:"channels" json:"channels,omitempty"`
	Forum                       bool                   `yaml:"forum" json:"forum,omitempty"`
	Linked                      bool                   `yaml:"linked" json:"linked,omitempty"`
	WhitelistOnly               bool                   `yaml:"whitelist_only" json:"whitelist_only,omitempty"`
	Whitelist                   []string               `yaml:"whitelist" json:"whitelist,omitempty"`
	Blacklist                   []string               `yaml:"blacklist" json:"blacklist,omitempty"`
	AllowDMs                    bool                   `yaml:"allow_dms" json:"allow_dms,omitempty"`
	Stickers                    bool                   `yaml:"stickers" json:"stickers,omitempty"`
	Commands                    bool                   `yaml:"commands" json:"commands,omitempty"`
	Embedded                    EmbedMode              `yaml:"embedded" json:"embedded"`
	ShowReplies                 *bool                  `yaml:"show_replies" json:"show_replies,omitempty"`
	ShowUser                    bool                   `yaml:"show_user" json:"show_user,omitempty"`
	ReplyingTo                  []string               `yaml:"replying_to" json:"replying_to,omitempty"`
	RepliesOnly                 bool                   `yaml:"replies_only" json:"replies_only,omitempty"`
	DontEmbedSingularLinks      bool                   `yaml:"dont_embed_singular_links" json:"dont_embed_singular_links,omitempty"`
	Mention                     bool                   `yaml:"mention" json:"mention,omitempty"`
	Type                        classify.TypeHint      `yaml:"type" json:"type"`
	ForwardTo                   string                 `yaml:"forward_to" json:"forward_to,omitempty"`
	Webhook                     string                 `yaml:"webhook" json:"-"`
	EmbedColor                  *int                   `yaml:"embed_color" json:"embed_color,omitempty"`
	ExtraWebhookParameters      map[string]interface{} `yaml:"extra_webhook_parameters" json:"extra_webhook_parameters,omitempty"`
	UseReplyUserInsteadOfAuthor bool                   `yaml:"use_reply_user_instead_of_author" json:"use_reply_user_instead_of_author,omitempty"`
	IncludeForumChannelName     bool                   `yaml:"include_forum_channel_name" json:"include_forum_channel_name,omitempty"`
}

// Label names the rule in logs and metrics
func (r *Rule) Label() string {
	if r.Name != "" {
		return r.Name
	}
	if r.Group != "" {
		return "group:" + r.Group
	}
	return "unnamed"
}

// ShouldShowReply defaults to true
func (r *Rule) ShouldShowReply() bool {
	return r.ShowReplies == nil || *r.ShowReplies
}

// Color returns the embed colour
func (r *Rule) Color() int {
	if r.EmbedColor == nil {
		return DefaultEmbedColor
	}
	return *r.EmbedColor
}

// Validate checks that every message the rule can match has somewhere to go
func (r *Rule) Validate() error {
	for i, ch := range r.Channels {
		if ch.Name == "" && !ch.Main {
			return fmt.Errorf("channel %d: %w", i, ErrNoChannelScope)
		}
		if ch.Webhook == "" && r.Webhook == "" {
			return fmt.Errorf("channel %q: %w", ch.Name, ErrNoWebhook)
		}
	}
	if r.Webhook == "" && len(r.Channels) == 0 {
		return ErrNoWebhook
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func intersects(a, b []string) bool {
	for _, v := range a {
		if contains(b, v) {
			return true
		}
	}
	return false
}
