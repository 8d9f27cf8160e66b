package listener

import (
	"context"

	"github.com/lugondev/go-chat-relay-web3/internal/classify"
	"github.com/lugondev/go-chat-relay-web3/internal/logger"
	"github.com/lugondev/go-chat-relay-web3/pkg/models"
)

// TopicResolver fetches the message that opened a forum topic
type TopicResolver interface {
	ResolveTopic(ctx context.Context, chatID, messageID int64) (*models.Message, error)
}

// Decision is a rule that applies to a message, with its derived formatting flags
type Decision struct {
	Rule        *Rule
	Topology    Topology
	Channel     *ChannelRule
	Topic       *models.Message
	ReplyAuthor *models.User
	// HasReply is false for forum messages whose reply target is a service notice
	HasReply   bool
	Embed      bool
	EmbedUser  bool
	EmbedReply bool
	ShowReply  bool
}

// Embedding reports whether any embed condition holds
func (d *Decision) Embedding() bool {
	return d.Embed || d.EmbedUser || d.EmbedReply
}

// Webhook returns the resolved channel's webhook, else the rule's
func (d *Decision) Webhook() string {
	if d.Channel != nil && d.Channel.Webhook != "" {
		return d.Channel.Webhook
	}
	return d.Rule.Webhook
}

// TypeHint returns the rule's scan type, defaulting by topology
func (d *Decision) TypeHint() classify.TypeHint {
	return d.Rule.Type.Or(d.Topology.DefaultType())
}

// Matcher evaluates listener rules against inbound messages
type Matcher struct {
	rules  []Rule
	links  *LinkDetector
	topics TopicResolver
	log    logger.Logger
}

// NewMatcher creates a matcher over rules in their configured order. topics
// may be nil, in which case forum replies inside topics resolve to no topic.
func NewMatcher(rules []Rule, links *LinkDetector, topics TopicResolver, log logger.Logger) *Matcher {
	return &Matcher{
		rules:  rules,
		links:  links,
		topics: topics,
		log:    log.With(logger.F("component", "listener_matcher")),
	}
}

// Rules returns the configured rules
func (m *Matcher) Rules() []Rule {
	return m.rules
}

// Match runs both filtering stages
func (m *Matcher) Match(ctx context.Context, msg *models.Message) []Decision {
	return m.Resolve(ctx, msg, m.Prefilter(msg))
}

// Prefilter keeps the rules whose user, group and command constraints accept
// the message, in configuration order.
func (m *Matcher) Prefilter(msg *models.Message) []*Rule {
	ids := msg.Sender.Identities()
	chatKey := msg.ChatKey()

	var out []*Rule
	for i := range m.rules {
		r := &m.rules[i]
		if len(r.Users) > 0 && !intersects(ids, r.Users) {
			continue
		}
		if r.Group != "" && r.Group != chatKey {
			continue
		}
		if !r.Commands && msg.IsCommand() {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Resolve applies the topology filter and eligibility checks to candidates
// and derives each survivor's flags. Forum messages are matched to channels
// through their topic.
func (m *Matcher) Resolve(ctx context.Context, msg *models.Message, candidates []*Rule) []Decision {
	topology := TopologyOf(msg.Chat)

	var (
		topic    *models.Message
		resolved bool
	)

	decisions := make([]Decision, 0, len(candidates))
	for _, r := range candidates {
		if !r.acceptsTopology(topology, msg.Chat) || !r.eligible(msg) {
			continue
		}

		d := Decision{
			Rule:      r,
			Topology:  topology,
			HasReply:  msg.Reply != nil,
			ShowReply: r.ShouldShowReply(),
		}
		if msg.Reply != nil {
			d.ReplyAuthor = msg.Reply.Sender
		}

		if topology == TopologyForum {
			if !resolved {
				topic, resolved = m.topic(ctx, msg), true
			}
			d.Topic = topic
			d.Channel = r.channelFor(topic.TopicTitle())
			if (len(r.Channels) > 0 && d.Channel == nil) || (len(r.Users) == 0 && len(r.Channels) == 0) {
				continue
			}
			d.HasReply = msg.Reply != nil && !msg.Reply.IsService()
		}

		m.deriveFlags(&d, msg)
		decisions = append(decisions, d)
	}
	return decisions
}

func (m *Matcher) deriveFlags(d *Decision, msg *models.Message) {
	r := d.Rule
	senderIDs := msg.Sender.Identities()
	replyIDs := d.ReplyAuthor.Identities()

	if d.Topology == TopologyForum {
		singular := r.DontEmbedSingularLinks && m.links.IsSingularLink(msg.Text)
		d.Embed = !singular && r.Embedded.On()
		d.EmbedUser = r.Embedded.AnyMatch(senderIDs)
		d.EmbedReply = r.Embedded.AnyMatch(replyIDs)
		return
	}

	singular := m.links.IsSingularLink(msg.Text)
	d.Embed = !singular && r.Embedded.On()
	d.EmbedUser = r.Embedded.AllMatch(senderIDs)
	d.EmbedReply = r.Embedded.AllMatch(replyIDs)
}

// topic finds the topic creation message for a forum post. A reply outside
// a topic thread is itself treated as the topic.
func (m *Matcher) topic(ctx context.Context, msg *models.Message) *models.Message {
	reply := msg.Reply
	if reply == nil || reply.ReplyTo == nil || !reply.ReplyTo.ForumTopic {
		return reply
	}
	if m.topics == nil {
		return nil
	}

	topic, err := m.topics.ResolveTopic(ctx, msg.ChatID, reply.ReplyTo.TopicID())
	if err != nil {
		m.log.WithContext(ctx).Warn("failed to resolve forum topic",
			logger.F("topic_id", reply.ReplyTo.TopicID()),
			logger.Err(err),
		)
		return nil
	}
	return topic
}

func (r *Rule) acceptsTopology(t Topology, chat *models.Chat) bool {
	usersOnly := r.Group == "" && len(r.Users) > 0

	switch t {
	case TopologyForum:
		return r.Forum || usersOnly
	case TopologyLinked:
		// TODO: broadcast channels without a discussion group accept every rule,
		// including forum-only ones; decide whether they should require linked.
		if chat.HasLink {
			return r.Linked
		}
		return true
	default:
		return !r.Forum || usersOnly
	}
}

func (r *Rule) eligible(msg *models.Message) bool {
	chatKey := msg.ChatKey()
	if r.WhitelistOnly {
		if !contains(r.Whitelist, chatKey) {
			return false
		}
	} else if contains(r.Blacklist, chatKey) {
		return false
	}

	if msg.Sticker && !r.Stickers {
		return false
	}
	if msg.Chat.IsDirect() && !r.AllowDMs {
		return false
	}
	return true
}

func (r *Rule) channelFor(title string) *ChannelRule {
	for i := range r.Channels {
		if r.Channels[i].Matches(title) {
			return &r.Channels[i]
		}
	}
	return nil
}
