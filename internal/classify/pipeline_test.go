package classify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lugondev/go-chat-relay-web3/internal/dedupe"
	"github.com/lugondev/go-chat-relay-web3/internal/logger"
	"github.com/lugondev/go-chat-relay-web3/pkg/models"
)

var ethToken = "0x" + strings.Repeat("ab", 20)

type recordingSink struct {
	mu     sync.Mutex
	events []*models.ScanEvent
	err    error
}

func (s *recordingSink) Publish(_ context.Context, event *models.ScanEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func fixedClock() time.Time { return time.UnixMilli(1700000000000) }

func newPipeline(sink Sink) *Pipeline {
	return New(Config{Sink: sink, Clock: fixedClock}, logger.Nop())
}

func input(text string, hint TypeHint) Input {
	return Input{
		ChatID:     -1001234567,
		SenderName: "alice",
		ChatName:   "Degen Lounge",
		Message:    &models.Message{ID: 42, ChatID: -1001234567, Text: text},
		Hint:       hint,
	}
}

func TestBuildNoAddress(t *testing.T) {
	event, ok := newPipeline(nil).Build(input("gm frens", TypeHint{}))
	assert.False(t, ok)
	assert.Nil(t, event)
}

func TestBuildGenericContext(t *testing.T) {
	event, ok := newPipeline(nil).Build(input("aping "+ethToken, Fixed("scan")))
	require.True(t, ok)

	assert.Equal(t, "scan", event.Type)
	assert.Equal(t, "ethereum", event.Chain)
	assert.Equal(t, ethToken, event.TokenAddress)
	assert.Equal(t, int64(1700000000000), event.Timestamp)
	assert.Equal(t, models.ScanContext{
		Username:  "alice",
		Guildname: "Degen Lounge",
		URL:       "https://t.me/c/1234567/42",
		Args:      "aping " + ethToken,
	}, event.Context)
}

func TestBuildDefaultType(t *testing.T) {
	tests := []struct {
		name   string
		sender string
		chat   string
		want   string
	}{
		{"bot sender", "SniperBOT", "Gamble Den", models.ScanTypeBot},
		{"caller chat", "alice", "Alpha Calls", models.ScanTypeCaller},
		{"gamble chat", "alice", "the GAMBLE house", models.ScanTypeCaller},
		{"playground chat", "alice", "Playground", models.ScanTypeCaller},
		{"plain", "alice", "Friends", models.ScanTypeScan},
	}

	p := newPipeline(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := input(ethToken, TypeHint{})
			in.SenderName, in.ChatName = tt.sender, tt.chat

			event, ok := p.Build(in)
			require.True(t, ok)
			assert.Equal(t, tt.want, event.Type)
		})
	}
}

func TestBuildKeywordHint(t *testing.T) {
	hint := Keywords(Keyword{"Alpha", "caller"}, Keyword{"gem", "bot"})
	p := newPipeline(nil)

	event, ok := p.Build(input("new gem "+ethToken, hint))
	require.True(t, ok)
	assert.Equal(t, "bot", event.Type)

	event, ok = p.Build(input("gem from Alpha "+ethToken, hint))
	require.True(t, ok)
	assert.Equal(t, "caller", event.Type, "first configured key wins")

	event, ok = p.Build(input("alpha lowercase "+ethToken, hint))
	require.True(t, ok)
	assert.Equal(t, models.ScanTypeScan, event.Type, "unmatched map falls back to the default")
}

func TestBuildUsesLinkTargets(t *testing.T) {
	in := input("chart", Fixed("scan"))
	in.Message.Entities = []models.Entity{{
		Type: models.EntityTextURL, Offset: 0, Length: 5,
		URL: "https://dexscreener.com/ethereum/" + ethToken,
	}}

	event, ok := newPipeline(nil).Build(in)
	require.True(t, ok)
	assert.Equal(t, ethToken, event.TokenAddress)
	assert.Equal(t, "chart", event.Context.(models.ScanContext).Args)
}

func TestBuildTradeOverride(t *testing.T) {
	in := input("Smart Wallet\n1.5 #WETH for 1,000 #PEPE @ $0.01 | Cielo "+ethToken, Fixed("bot"))
	in.Message.Entities = []models.Entity{{Type: models.EntityTextURL, URL: "https://etherscan.io/address/0xWALLET"}}

	event, ok := newPipeline(nil).Build(in)
	require.True(t, ok)

	assert.Equal(t, "buy", event.Type)
	ctx, isTrade := event.Context.(models.TradeContext)
	require.True(t, isTrade)
	require.NotNil(t, ctx.WalletAddress)
	assert.Equal(t, "0xWALLET", *ctx.WalletAddress)
	assert.Equal(t, 1.5, ctx.Amount)
	assert.Equal(t, "ETH", ctx.Currency)
	assert.Equal(t, 0.01, ctx.PricePerToken)
	assert.Equal(t, "Smart_Wallet", ctx.Username)
	assert.Equal(t, "https://app.cielo.finance/profile/0xWALLET?tokens="+ethToken, ctx.URL)
}

func TestBuildTradeWithoutHashtagsKeepsGenericContext(t *testing.T) {
	event, ok := newPipeline(nil).Build(input("cielo tracked "+ethToken, Fixed("scan")))
	require.True(t, ok)
	assert.Equal(t, "scan", event.Type)
	assert.IsType(t, models.ScanContext{}, event.Context)
}

func TestBuildDeterministic(t *testing.T) {
	calls := 0
	p := New(Config{Clock: func() time.Time {
		calls++
		return time.UnixMilli(int64(calls))
	}}, logger.Nop())

	in := input("Wallet\n2 #SOL for 10 #WIF cielo "+ethToken, TypeHint{})
	first, ok := p.Build(in)
	require.True(t, ok)
	second, ok := p.Build(in)
	require.True(t, ok)

	assert.NotEqual(t, first.Timestamp, second.Timestamp)
	first.Timestamp, second.Timestamp = 0, 0

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestClassifyPublishes(t *testing.T) {
	sink := &recordingSink{}
	p := newPipeline(sink)

	event, ok := p.Classify(context.Background(), input("ape "+ethToken, TypeHint{}))
	require.True(t, ok)
	p.Wait()

	require.Equal(t, 1, sink.count())
	assert.Same(t, event, sink.events[0])
}

func TestClassifySinkFailureIsSwallowed(t *testing.T) {
	sink := &recordingSink{err: errors.New("connection refused")}
	p := newPipeline(sink)

	_, ok := p.Classify(context.Background(), input("ape "+ethToken, TypeHint{}))
	assert.True(t, ok)
	p.Wait()
	assert.Equal(t, 1, sink.count())
}

func TestClassifyNoAddressPublishesNothing(t *testing.T) {
	sink := &recordingSink{}
	p := newPipeline(sink)

	_, ok := p.Classify(context.Background(), input("nothing here", TypeHint{}))
	assert.False(t, ok)
	p.Wait()
	assert.Zero(t, sink.count())
}

func TestClassifyCanceledContextStillPublishes(t *testing.T) {
	sink := &recordingSink{}
	p := newPipeline(sink)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := p.Classify(ctx, input("ape "+ethToken, TypeHint{}))
	require.True(t, ok)
	p.Wait()
	assert.Equal(t, 1, sink.count())
}

func TestClassifyRecentScansSuppressRepeats(t *testing.T) {
	sink := &recordingSink{}
	p := New(Config{
		Sink:  sink,
		Scans: dedupe.NewMemorySet(dedupe.ScanHistoryLimit),
		Clock: fixedClock,
	}, logger.Nop())

	ctx := context.Background()
	_, ok := p.Classify(ctx, input("ape "+ethToken, TypeHint{}))
	assert.True(t, ok)

	upper := input("ape 0x"+strings.ToUpper(ethToken[2:]), TypeHint{})
	_, ok = p.Classify(ctx, upper)
	assert.False(t, ok, "keys are case-insensitive")

	other := input("ape "+ethToken, TypeHint{})
	other.SenderName = "bob"
	_, ok = p.Classify(ctx, other)
	assert.True(t, ok)

	p.Wait()
	assert.Equal(t, 2, sink.count())
}

func TestClassifyRecentTradesSuppressRepeats(t *testing.T) {
	sink := &recordingSink{}
	p := New(Config{
		Sink:   sink,
		Trades: dedupe.NewMemorySet(dedupe.TradeHistoryLimit),
		Clock:  fixedClock,
	}, logger.Nop())

	ctx := context.Background()
	in := input("W\n1 #ETH for 5 #PEPE cielo "+ethToken, TypeHint{})
	in.Message.Entities = []models.Entity{{Type: models.EntityTextURL, URL: "https://x.io/0xW"}}

	_, ok := p.Classify(ctx, in)
	assert.True(t, ok)
	_, ok = p.Classify(ctx, in)
	assert.False(t, ok)

	_, ok = p.Classify(ctx, input("plain "+ethToken, TypeHint{}))
	assert.True(t, ok, "non-trade events ignore the trade set")

	p.Wait()
	assert.Equal(t, 2, sink.count())
}

func TestPermalink(t *testing.T) {
	assert.Equal(t, "https://t.me/c/1234567/9", Permalink(-1001234567, 9))
	assert.Equal(t, "https://t.me/c/42/9", Permalink(42, 9))
}
