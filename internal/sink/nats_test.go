package sink

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lugondev/go-chat-relay-web3/internal/logger"
	"github.com/lugondev/go-chat-relay-web3/pkg/models"
)

func runNATS(t *testing.T) string {
	t.Helper()

	opts := natsserver.DefaultTestOptions
	opts.Port = -1
	s := natsserver.RunServer(&opts)
	t.Cleanup(s.Shutdown)
	return s.ClientURL()
}

func TestConnectNATSRequiresURL(t *testing.T) {
	s, err := ConnectNATS(NATSConfig{}, logger.Nop())
	assert.Error(t, err)
	assert.Nil(t, s)
}

func TestNATSSinkPublishesBySubject(t *testing.T) {
	url := runNATS(t)

	sub, err := nats.Connect(url)
	require.NoError(t, err)
	defer sub.Close()

	inbox, err := sub.SubscribeSync("scans.>")
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	s, err := ConnectNATS(NATSConfig{URL: url}, logger.Nop())
	require.NoError(t, err)
	assert.True(t, s.Ready())
	assert.Equal(t, "scans.buy", s.Subject("buy"))

	event := scanEvent()
	event.Type = models.ScanTypeCaller
	require.NoError(t, s.Publish(context.Background(), event))

	msg, err := inbox.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "scans.caller", msg.Subject)

	var got models.ScanEvent
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, event.TokenAddress, got.TokenAddress)
	assert.Equal(t, "caller", got.Type)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}

func TestNATSSinkHonorsCancelledContext(t *testing.T) {
	s, err := ConnectNATS(NATSConfig{URL: runNATS(t), SubjectPrefix: "relay"}, logger.Nop())
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Publish(ctx, scanEvent()), context.Canceled)
}
