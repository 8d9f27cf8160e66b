package sink

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lugondev/go-chat-relay-web3/internal/logger"
	"github.com/lugondev/go-chat-relay-web3/internal/metrics"
	"github.com/lugondev/go-chat-relay-web3/pkg/models"
)

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

func scanEvent() *models.ScanEvent {
	return &models.ScanEvent{
		Type:         models.ScanTypeScan,
		Chain:        "ethereum",
		TokenAddress: "0x1111111111111111111111111111111111111111",
		Context: models.ScanContext{
			Username:  "alice",
			Guildname: "Alpha",
			URL:       "https://t.me/c/1234/7",
			Args:      "ca 0x1111111111111111111111111111111111111111",
		},
		Timestamp: 1700000000000,
	}
}

func TestMultiPublishesToAll(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	m := metrics.New("test")
	multi := NewMulti([]Named{{Name: "a", Sink: a}, {Name: "b", Sink: b}, {Name: "nil"}}, m, logger.Nop())

	assert.Equal(t, []string{"a", "b"}, multi.Names())
	require.NoError(t, multi.Publish(context.Background(), scanEvent()))
	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SinkPublishes.WithLabelValues("a", "ok")))
}

func TestMultiReturnsFailureAfterTryingAll(t *testing.T) {
	boom := errors.New("boom")
	a, b := &recordingSink{err: boom}, &recordingSink{}
	multi := NewMulti([]Named{{Name: "a", Sink: a}, {Name: "b", Sink: b}}, nil, logger.Nop())

	err := multi.Publish(context.Background(), scanEvent())
	assert.ErrorIs(t, err, boom)
	assert.Len(t, b.events, 1)
}

func TestMultiEmpty(t *testing.T) {
	multi := NewMulti(nil, nil, logger.Nop())
	assert.Zero(t, multi.Count())
	assert.ErrorIs(t, multi.Publish(context.Background(), scanEvent()), ErrNoSinks)
}

func TestHTTPSinkPostsHistory(t *testing.T) {
	var body map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/create/history", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	s := NewHTTPSink(HTTPConfig{BaseURL: srv.URL + "/"}, logger.Nop())
	assert.Equal(t, srv.URL+"/create/history", s.Endpoint())
	require.NoError(t, s.Publish(context.Background(), scanEvent()))

	assert.Equal(t, "scan", body["type"])
	assert.Equal(t, "ethereum", body["chain"])
	assert.Equal(t, "0x1111111111111111111111111111111111111111", body["token_address"])
	assert.EqualValues(t, 1700000000000, body["timestamp"])
	ctx, ok := body["context"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "alice", ctx["username"])
}

func TestHTTPSinkRetriesThenFails(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := NewHTTPSink(HTTPConfig{BaseURL: srv.URL, RetryCount: 2, Backoff: time.Millisecond}, logger.Nop())
	err := s.Publish(context.Background(), scanEvent())
	require.ErrorIs(t, err, ErrPublishFailed)
	assert.Contains(t, err.Error(), "status 503")
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestHTTPSinkDefaultURL(t *testing.T) {
	s := NewHTTPSink(HTTPConfig{}, logger.Nop())
	assert.Equal(t, "https://istory.ai/create/history", s.Endpoint())
}
