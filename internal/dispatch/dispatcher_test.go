package dispatch

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lugondev/go-chat-relay-web3/internal/classify"
	"github.com/lugondev/go-chat-relay-web3/internal/listener"
	"github.com/lugondev/go-chat-relay-web3/internal/logger"
	"github.com/lugondev/go-chat-relay-web3/internal/metrics"
	"github.com/lugondev/go-chat-relay-web3/internal/webhook"
	"github.com/lugondev/go-chat-relay-web3/pkg/models"
)

type sent struct {
	url     string
	payload *webhook.Payload
	files   []models.Attachment
}

type recordingSender struct {
	calls []sent
	err   error
}

func (s *recordingSender) Send(_ context.Context, url string, payload *webhook.Payload, files []models.Attachment) error {
	s.calls = append(s.calls, sent{url: url, payload: payload, files: files})
	return s.err
}

type recordingForwarder struct {
	targets []string
	err     error
}

func (f *recordingForwarder) Forward(_ context.Context, target string, _ *models.Message) error {
	f.targets = append(f.targets, target)
	return f.err
}

type recordingClassifier struct {
	inputs []classify.Input
}

func (c *recordingClassifier) Classify(_ context.Context, in classify.Input) (*models.ScanEvent, bool) {
	c.inputs = append(c.inputs, in)
	return nil, false
}

type stubTopics struct {
	topic *models.Message
}

func (s stubTopics) ResolveTopic(context.Context, int64, int64) (*models.Message, error) {
	return s.topic, nil
}

func groupMessage(text string) *models.Message {
	return &models.Message{
		ID:     7,
		ChatID: -1001,
		Text:   text,
		Sender: &models.User{ID: 5, Username: "alice", FirstName: "Alice"},
		Chat:   &models.Chat{ID: -1001, Title: "Alpha", Type: models.ChatTypeGroup},
	}
}

func groupDecision(r *listener.Rule) *listener.Decision {
	return &listener.Decision{Rule: r, Topology: listener.TopologyGroup, ShowReply: r.ShouldShowReply()}
}

func withReply(msg *models.Message) *models.Message {
	msg.Reply = &models.Message{
		ID:     6,
		Text:   "first line\nsecond line",
		Sender: &models.User{ID: 9, Username: "bob", FirstName: "Bob"},
	}
	return msg
}

func TestComposePlainText(t *testing.T) {
	r := &listener.Rule{Webhook: "https://hook/main"}
	delivery, skip := Compose(groupMessage("gm"), groupDecision(r))
	require.NotNil(t, delivery)
	assert.Empty(t, skip)

	assert.Equal(t, "https://hook/main", delivery.Webhook)
	assert.Equal(t, "Alpha", delivery.Payload.Username)
	assert.Equal(t, "`Alice:` gm", delivery.Payload.Content)
	assert.Nil(t, delivery.Payload.Embeds)
}

func TestComposeReplyBlock(t *testing.T) {
	r := &listener.Rule{Webhook: "w", Mention: true}
	msg := withReply(groupMessage("agreed"))
	d := groupDecision(r)
	d.ReplyAuthor = msg.Reply.Sender
	d.HasReply = true

	delivery, _ := Compose(msg, d)
	require.NotNil(t, delivery)
	assert.Equal(t, "@everyone\n> `Bob:` first line\n> second line\n`Alice:` agreed", delivery.Payload.Content)
}

func TestComposeHiddenReplies(t *testing.T) {
	hide := false
	r := &listener.Rule{Webhook: "w", ShowReplies: &hide}
	msg := withReply(groupMessage("agreed"))
	d := groupDecision(r)
	d.ReplyAuthor = msg.Reply.Sender
	d.HasReply = true

	delivery, _ := Compose(msg, d)
	require.NotNil(t, delivery)
	assert.Equal(t, "`Alice:` agreed", delivery.Payload.Content)
}

func TestComposeForwardedFrom(t *testing.T) {
	r := &listener.Rule{Webhook: "w", ShowUser: true}
	msg := groupMessage("news")
	msg.Forward = &models.Forward{}

	delivery, _ := Compose(msg, groupDecision(r))
	require.NotNil(t, delivery)
	assert.Equal(t, "__**Forwarded from Unknown**__\n news", delivery.Payload.Content)
	assert.Equal(t, "alice | Alpha", delivery.Payload.Username)
}

func TestComposeSkips(t *testing.T) {
	t.Run("replies only", func(t *testing.T) {
		_, skip := Compose(groupMessage("x"), groupDecision(&listener.Rule{RepliesOnly: true}))
		assert.Equal(t, SkipRepliesOnly, skip)
	})

	t.Run("replying to someone else", func(t *testing.T) {
		msg := withReply(groupMessage("x"))
		d := groupDecision(&listener.Rule{ReplyingTo: []string{"carol"}})
		d.ReplyAuthor = msg.Reply.Sender
		_, skip := Compose(msg, d)
		assert.Equal(t, SkipReplyingTo, skip)
	})

	t.Run("replying to without reply", func(t *testing.T) {
		_, skip := Compose(groupMessage("x"), groupDecision(&listener.Rule{ReplyingTo: []string{"bob"}}))
		assert.Equal(t, SkipReplyingTo, skip)
	})

	t.Run("empty", func(t *testing.T) {
		_, skip := Compose(groupMessage(""), groupDecision(&listener.Rule{}))
		assert.Equal(t, SkipEmpty, skip)
	})

	t.Run("attachment only is sent", func(t *testing.T) {
		msg := groupMessage("")
		msg.Attachments = []models.Attachment{{Name: "a.png", Data: []byte{1}}}
		delivery, _ := Compose(msg, groupDecision(&listener.Rule{Webhook: "w"}))
		require.NotNil(t, delivery)
		assert.Len(t, delivery.Files, 1)
	})
}

func TestComposeEmbedBody(t *testing.T) {
	color := 255
	r := &listener.Rule{Webhook: "w", Embedded: listener.EmbedOn(), EmbedColor: &color}
	d := groupDecision(r)
	d.Embed = true

	delivery, _ := Compose(groupMessage("gm"), d)
	require.NotNil(t, delivery)
	assert.Empty(t, delivery.Payload.Content)
	require.Len(t, delivery.Payload.Embeds, 1)
	assert.Equal(t, webhook.Embed{Color: 255, Description: "`Alice:` gm"}, delivery.Payload.Embeds[0])
}

func TestComposeEmbedReply(t *testing.T) {
	r := &listener.Rule{Webhook: "w", Embedded: listener.RestrictedTo("bob")}
	msg := withReply(groupMessage("agreed"))
	d := groupDecision(r)
	d.ReplyAuthor = msg.Reply.Sender
	d.HasReply = true
	d.EmbedReply = true

	delivery, _ := Compose(msg, d)
	require.NotNil(t, delivery)
	assert.Equal(t, "`Alice:` agreed", delivery.Payload.Content)
	require.Len(t, delivery.Payload.Embeds, 1)
	assert.Equal(t, listener.DefaultEmbedColor, delivery.Payload.Embeds[0].Color)
	assert.Equal(t, "> `Bob:` first line\n> second line", delivery.Payload.Embeds[0].Description)
}

func TestComposeForumHiddenReplyEmbedsReplyBlock(t *testing.T) {
	hide := false
	r := &listener.Rule{Webhook: "w", Embedded: listener.EmbedOn(), ShowReplies: &hide}
	msg := groupMessage("gm")
	d := &listener.Decision{Rule: r, Topology: listener.TopologyForum, Embed: true}

	delivery, _ := Compose(msg, d)
	require.NotNil(t, delivery)
	require.Len(t, delivery.Payload.Embeds, 1)
	assert.Empty(t, delivery.Payload.Embeds[0].Description)
}

func TestComposeExtraParameters(t *testing.T) {
	r := &listener.Rule{
		Name:                   "relay",
		Webhook:                "w",
		ExtraWebhookParameters: map[string]interface{}{"avatar_url": "https://a/b.png"},
	}
	delivery, _ := Compose(groupMessage("gm"), groupDecision(r))
	require.NotNil(t, delivery)
	assert.Equal(t, "relay", delivery.Payload.Username)
	assert.Equal(t, "https://a/b.png", delivery.Payload.Extra["avatar_url"])
}

func TestUsername(t *testing.T) {
	msg := withReply(groupMessage("x"))
	msg.Chat.Title = ""

	r := &listener.Rule{ShowUser: true, UseReplyUserInsteadOfAuthor: true}
	d := groupDecision(r)
	d.ReplyAuthor = msg.Reply.Sender
	assert.Equal(t, "bob | DM", username(msg, d))

	d.ReplyAuthor = nil
	assert.Equal(t, "Unknown | DM", username(msg, d))

	forum := &listener.Decision{
		Rule:     &listener.Rule{IncludeForumChannelName: true},
		Topology: listener.TopologyForum,
		Channel:  &listener.ChannelRule{Name: "calls"},
	}
	msg.Chat.Title = "Forum"
	assert.Equal(t, "Forum -> calls", username(msg, forum))
}

func TestRenderTextURLs(t *testing.T) {
	msg := &models.Message{
		Text: "🟢 wallet bought",
		Entities: []models.Entity{
			{Type: models.EntityTextURL, Offset: 3, Length: 6, URL: "https://app.cielo.finance/profile/0xabc"},
			{Type: "bold", Offset: 0, Length: 2},
		},
	}
	assert.Equal(t, "🟢 [wallet](https://app.cielo.finance/profile/0xabc) bought", Render(msg))
}

func TestRenderIgnoresOutOfRangeEntities(t *testing.T) {
	msg := &models.Message{
		Text:     "short",
		Entities: []models.Entity{{Type: models.EntityTextURL, Offset: 2, Length: 20, URL: "https://x"}},
	}
	assert.Equal(t, "short", Render(msg))
}

func TestDispatchDeliversAndClassifies(t *testing.T) {
	sender := &recordingSender{}
	classifier := &recordingClassifier{}
	m := metrics.New("test")
	d := New(Config{Sender: sender, Classifier: classifier, Metrics: m}, logger.Nop())

	r := &listener.Rule{Name: "alpha-calls", Webhook: "https://hook/alpha"}
	require.NoError(t, d.Dispatch(context.Background(), groupMessage("0xabc"), groupDecision(r)))

	require.Len(t, sender.calls, 1)
	assert.Equal(t, "https://hook/alpha", sender.calls[0].url)

	require.Len(t, classifier.inputs, 1)
	in := classifier.inputs[0]
	assert.Equal(t, "alice", in.SenderName)
	assert.Equal(t, "alpha-calls", in.ChatName)
	assert.Equal(t, int64(-1001), in.ChatID)
	assert.Equal(t, models.ScanTypeScan, in.Hint.Resolve(""))
}

func TestDispatchClassifiesAfterFailedDelivery(t *testing.T) {
	sender := &recordingSender{err: webhook.ErrSendFailed}
	classifier := &recordingClassifier{}
	d := New(Config{Sender: sender, Classifier: classifier}, logger.Nop())

	msg := groupMessage("gm")
	msg.Chat.Broadcast = true
	dec := &listener.Decision{Rule: &listener.Rule{Webhook: "w"}, Topology: listener.TopologyLinked, ShowReply: true}

	err := d.Dispatch(context.Background(), msg, dec)
	require.ErrorIs(t, err, webhook.ErrSendFailed)
	require.Len(t, classifier.inputs, 1)
	assert.Equal(t, "Alpha", classifier.inputs[0].ChatName)
	assert.Equal(t, models.ScanTypeBot, classifier.inputs[0].Hint.Resolve(""))
}

func TestDispatchSkippedDoesNotClassify(t *testing.T) {
	sender := &recordingSender{}
	classifier := &recordingClassifier{}
	d := New(Config{Sender: sender, Classifier: classifier}, logger.Nop())

	require.NoError(t, d.Dispatch(context.Background(), groupMessage(""), groupDecision(&listener.Rule{Webhook: "w"})))
	assert.Empty(t, sender.calls)
	assert.Empty(t, classifier.inputs)
}

func TestDispatchWithoutWebhook(t *testing.T) {
	d := New(Config{Sender: &recordingSender{}}, logger.Nop())
	err := d.Dispatch(context.Background(), groupMessage("gm"), groupDecision(&listener.Rule{}))
	assert.ErrorIs(t, err, ErrNoDestination)
}

func TestForumTopicRoutesToChannelWebhook(t *testing.T) {
	rules := []listener.Rule{{
		Name:    "forum",
		Forum:   true,
		Webhook: "https://hook/default",
		Channels: []listener.ChannelRule{
			{Name: "general", Main: true, Webhook: "https://hook/general"},
			{Name: "calls", Webhook: "https://hook/calls"},
		},
	}}
	topics := stubTopics{topic: &models.Message{ID: 100, Action: &models.Action{Type: models.ActionTopicCreate, Title: "calls"}}}
	matcher := listener.NewMatcher(rules, listener.NewLinkDetector([]string{"x.com"}), topics, logger.Nop())

	msg := groupMessage("ca 0xabc")
	msg.Chat.Forum = true
	msg.Reply = &models.Message{
		ID:      101,
		Text:    "earlier post",
		Sender:  &models.User{ID: 9, Username: "bob", FirstName: "Bob"},
		ReplyTo: &models.ReplyHeader{ForumTopic: true, ReplyToMsgID: 100},
	}

	decisions := matcher.Match(context.Background(), msg)
	require.Len(t, decisions, 1)

	sender := &recordingSender{}
	d := New(Config{Sender: sender}, logger.Nop())
	require.NoError(t, d.Dispatch(context.Background(), msg, &decisions[0]))

	require.Len(t, sender.calls, 1)
	assert.Equal(t, "https://hook/calls", sender.calls[0].url)
}

func TestForward(t *testing.T) {
	fwd := &recordingForwarder{}
	d := New(Config{Forwarder: fwd}, logger.Nop())
	msg := groupMessage("gm")

	require.NoError(t, d.Forward(context.Background(), msg, groupDecision(&listener.Rule{})))
	assert.Empty(t, fwd.targets)

	require.NoError(t, d.Forward(context.Background(), msg, groupDecision(&listener.Rule{ForwardTo: "@mirror"})))
	assert.Equal(t, []string{"@mirror"}, fwd.targets)

	fwd.err = errors.New("peer flood")
	err := d.Forward(context.Background(), msg, groupDecision(&listener.Rule{ForwardTo: "@mirror"}))
	assert.ErrorContains(t, err, "peer flood")

	noFwd := New(Config{}, logger.Nop())
	assert.ErrorIs(t, noFwd.Forward(context.Background(), msg, groupDecision(&listener.Rule{ForwardTo: "@x"})), ErrNoForwarder)
}

func TestForward_LogsMissingForwarder(t *testing.T) {
	var buf bytes.Buffer
	d := New(Config{}, logger.New(logger.Config{Level: logger.LevelInfo, Format: "json", Output: &buf}))

	err := d.Forward(context.Background(), groupMessage("gm"), groupDecision(&listener.Rule{Name: "mirror", ForwardTo: "@archive"}))
	require.ErrorIs(t, err, ErrNoForwarder)

	out := buf.String()
	assert.Contains(t, out, "cannot forward message")
	assert.Contains(t, out, "@archive")
	assert.Contains(t, out, `"listener":"mirror"`)
}
