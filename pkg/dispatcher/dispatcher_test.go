package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fleetops/autopilot/internal/apperrors"
	"github.com/fleetops/autopilot/pkg/domain"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *redis.Client) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(client, "actions", zap.NewNop()), client
}

func TestPublish_WritesToStream(t *testing.T) {
	d, client := newTestDispatcher(t)

	envelope := domain.ActionEnvelope{
		IncidentID: "inc_checkout_1700000000",
		Service:    "checkout",
		Region:     "us-central1",
		Action:     domain.ActionScaleUp,
		Reason:     "sustained errors",
		Confidence: 0.8,
		CreatedAt:  time.Now().UTC(),
	}

	messageID, err := d.Publish(context.Background(), envelope)
	require.NoError(t, err)
	assert.NotEmpty(t, messageID)

	streamLen, err := client.XLen(context.Background(), "actions").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), streamLen)
}

func TestPublish_RejectsMalformedEnvelope(t *testing.T) {
	d, _ := newTestDispatcher(t)

	_, err := d.Publish(context.Background(), domain.ActionEnvelope{})

	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInvalidArgument))
}
