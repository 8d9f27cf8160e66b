package redis

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lugondev/go-chat-relay-web3/internal/logger"
	"github.com/lugondev/go-chat-relay-web3/pkg/models"
)

// mockLogger implements logger.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(msg string, fields ...logger.Field) {}
func (m *mockLogger) Info(msg string, fields ...logger.Field)  {}
func (m *mockLogger) Warn(msg string, fields ...logger.Field)  {}
func (m *mockLogger) Error(msg string, fields ...logger.Field) {}
func (m *mockLogger) Fatal(msg string, fields ...logger.Field) {}
func (m *mockLogger) With(fields ...logger.Field) logger.Logger {
	return m
}
func (m *mockLogger) WithContext(ctx context.Context) logger.Logger {
	return m
}

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client, err := NewClient(Config{Host: mr.Addr(), KeyPrefix: "test"}, &mockLogger{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestBuildRedisAddr(t *testing.T) {
	assert.Equal(t, "localhost:6379", buildRedisAddr("localhost", 6379))
	assert.Equal(t, "cache:6380", buildRedisAddr("cache:6380", 6379))
}

func TestNewClientUnreachable(t *testing.T) {
	_, err := NewClient(Config{Host: "127.0.0.1", Port: 1, DialTimeout: 100 * time.Millisecond}, &mockLogger{})
	assert.Error(t, err)
}

func TestClientKeyAndHealth(t *testing.T) {
	client, mr := newTestClient(t)

	assert.Equal(t, "test:recent:scans:members", client.Key("recent", "scans", "members"))

	health := client.Health(context.Background())
	assert.Equal(t, "up", health["status"])
	assert.Equal(t, mr.Addr(), health["addr"])
}

func TestRecentSetSeen(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()
	set := NewRecentSet(client, "scans", 3, &mockLogger{})

	seen, err := set.Seen(ctx, "alice:0xabc")
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = set.Seen(ctx, "alice:0xabc")
	require.NoError(t, err)
	assert.True(t, seen)

	n, err := set.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRecentSetEvictsOldest(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()
	set := NewRecentSet(client, "trades", 2, &mockLogger{})

	for _, k := range []string{"a", "b", "c"} {
		seen, err := set.Seen(ctx, k)
		require.NoError(t, err)
		require.False(t, seen)
	}

	n, err := set.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	seen, err := set.Seen(ctx, "c")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = set.Seen(ctx, "a")
	require.NoError(t, err)
	assert.False(t, seen, "oldest key should have been evicted")

	require.NoError(t, set.Reset(ctx))
	n, err = set.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRecentSetSharedAcrossInstances(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	first := NewRecentSet(client, "scans", 10, &mockLogger{})
	second := NewRecentSet(client, "scans", 10, &mockLogger{})

	_, err := first.Seen(ctx, "k")
	require.NoError(t, err)
	seen, err := second.Seen(ctx, "k")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestMemberKeyLength(t *testing.T) {
	assert.Len(t, memberKey("alice:0xabc"), 32)
	assert.Equal(t, memberKey("x"), memberKey("x"))
	assert.NotEqual(t, memberKey("x"), memberKey("y"))
}

func TestRateLimiterAllow(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	now := time.UnixMilli(1_700_000_000_000)
	rl := NewRateLimiter(client, 2, time.Second, &mockLogger{})
	rl.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		ok, err := rl.Allow(ctx, "hook")
		require.NoError(t, err)
		assert.True(t, ok)
	}

	ok, err := rl.Allow(ctx, "hook")
	require.NoError(t, err)
	assert.False(t, ok)

	remaining, err := rl.Remaining(ctx, "hook")
	require.NoError(t, err)
	assert.Zero(t, remaining)

	ok, err = rl.Allow(ctx, "other")
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(1500 * time.Millisecond)
	ok, err = rl.Allow(ctx, "hook")
	require.NoError(t, err)
	assert.True(t, ok)

	remaining, err = rl.Remaining(ctx, "hook")
	require.NoError(t, err)
	assert.Equal(t, int64(1), remaining)
}

func TestRateLimiterWait(t *testing.T) {
	client, _ := newTestClient(t)

	rl := NewRateLimiter(client, 1, time.Hour, &mockLogger{})
	require.NoError(t, rl.Wait(context.Background(), "hook"))

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, rl.Wait(ctx, "hook"), context.DeadlineExceeded)
}

func TestRateLimiterUnlimited(t *testing.T) {
	client, _ := newTestClient(t)
	rl := NewRateLimiter(client, 0, time.Second, &mockLogger{})

	for i := 0; i < 5; i++ {
		ok, err := rl.Allow(context.Background(), "hook")
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestPubSubBroadcastsScans(t *testing.T) {
	client, _ := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listener := NewPubSub(client, "listener", &mockLogger{})
	defer listener.Close()

	received := make(chan *PubSubMessage, 2)
	listener.RegisterHandler(ScanChannel(), func(msg *PubSubMessage) { received <- msg })
	require.NoError(t, listener.Subscribe(ctx, ScanChannel()))
	require.NoError(t, listener.Start(ctx))

	publisher := NewPubSub(client, "publisher", &mockLogger{})
	event := &models.ScanEvent{Type: "buy", Chain: "solana", TokenAddress: "So1", Timestamp: 1}
	require.NoError(t, publisher.Publish(ctx, event))

	// messages from the listener itself are ignored
	require.NoError(t, listener.Publish(ctx, event))

	select {
	case msg := <-received:
		assert.Equal(t, "buy", msg.Type)
		assert.Equal(t, "publisher", msg.InstanceID)
		got, err := msg.ScanEvent()
		require.NoError(t, err)
		assert.Equal(t, "So1", got.TokenAddress)
	case <-time.After(2 * time.Second):
		t.Fatal("scan broadcast not received")
	}

	select {
	case msg := <-received:
		t.Fatalf("unexpected message from %s", msg.InstanceID)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPubSubStartRequiresSubscribe(t *testing.T) {
	client, _ := newTestClient(t)
	p := NewPubSub(client, "x", &mockLogger{})
	assert.ErrorIs(t, p.Start(context.Background()), ErrNotSubscribed)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
}

func TestChannelNames(t *testing.T) {
	assert.Equal(t, "scans:broadcast", ScanChannel())
	assert.Equal(t, "cluster:heartbeat", HeartbeatChannel())
}

type countingResolver struct {
	calls int
	topic *models.Message
	err   error
}

func (r *countingResolver) ResolveTopic(_ context.Context, _, messageID int64) (*models.Message, error) {
	r.calls++
	if r.topic != nil {
		topic := *r.topic
		topic.ID = messageID
		return &topic, r.err
	}
	return nil, r.err
}

func TestTopicCacheServesRepeatLookups(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()

	next := &countingResolver{topic: &models.Message{
		Action: &models.Action{Type: models.ActionTopicCreate, Title: "calls"},
		Reply:  &models.Message{Text: "dropped"},
	}}
	cache := NewTopicCache(client, next, time.Minute, &mockLogger{})

	for i := 0; i < 3; i++ {
		topic, err := cache.ResolveTopic(ctx, -1001, 42)
		require.NoError(t, err)
		require.NotNil(t, topic)
		assert.Equal(t, "calls", topic.TopicTitle())
		assert.Equal(t, int64(42), topic.ID)
	}
	assert.Equal(t, 1, next.calls)

	cached, err := cache.Get(ctx, -1001, 42)
	require.NoError(t, err)
	assert.Nil(t, cached.Reply)

	key := fmt.Sprintf("test:topic:%d:%d", -1001, 42)
	assert.True(t, mr.Exists(key))
	assert.Equal(t, time.Minute, mr.TTL(key))
}

func TestTopicCachePicksUpRenameAfterExpiry(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()

	next := &countingResolver{topic: &models.Message{
		Action: &models.Action{Type: models.ActionTopicCreate, Title: "calls"},
	}}
	cache := NewTopicCache(client, next, 0, &mockLogger{})

	topic, err := cache.ResolveTopic(ctx, -1001, 42)
	require.NoError(t, err)
	assert.Equal(t, "calls", topic.TopicTitle())
	assert.Equal(t, defaultTopicTTL, mr.TTL(fmt.Sprintf("test:topic:%d:%d", -1001, 42)))

	next.topic.Action.Title = "alpha calls"
	topic, err = cache.ResolveTopic(ctx, -1001, 42)
	require.NoError(t, err)
	assert.Equal(t, "calls", topic.TopicTitle())

	mr.FastForward(defaultTopicTTL + time.Second)

	topic, err = cache.ResolveTopic(ctx, -1001, 42)
	require.NoError(t, err)
	assert.Equal(t, "alpha calls", topic.TopicTitle())
	assert.Equal(t, 2, next.calls)
}

func TestTopicCacheDoesNotCacheMisses(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	next := &countingResolver{}
	cache := NewTopicCache(client, next, 0, &mockLogger{})

	topic, err := cache.ResolveTopic(ctx, 1, 2)
	require.NoError(t, err)
	assert.Nil(t, topic)

	_, _ = cache.ResolveTopic(ctx, 1, 2)
	assert.Equal(t, 2, next.calls)

	next.err = errors.New("gateway timeout")
	_, err = cache.ResolveTopic(ctx, 1, 3)
	assert.EqualError(t, err, "gateway timeout")
}
