// Package dispatcher implements the Dispatcher (spec §4.4): it publishes
// ActionEnvelopes onto a durable, at-least-once bus so the Fixer can
// consume them independently of the Supervisor's lifetime.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/fleetops/autopilot/internal/apperrors"
	"github.com/fleetops/autopilot/pkg/domain"
	"github.com/fleetops/autopilot/pkg/logging"
)

const publishDeadline = 10 * time.Second

// Dispatcher publishes ActionEnvelopes onto a Redis Stream. Attributes
// echo the payload body (incident_id, service_name, action_type) so
// downstream consumers can filter without decoding JSON (spec §4.4).
type Dispatcher struct {
	redis  *redis.Client
	stream string
	log    *zap.Logger
}

// New builds a Dispatcher targeting the given stream name.
func New(client *redis.Client, stream string, log *zap.Logger) *Dispatcher {
	return &Dispatcher{redis: client, stream: stream, log: log}
}

// Publish implements the §4.4 contract. A malformed envelope returns a
// PermanentError (AppError of type InvalidArgument) without retrying;
// transport failures retry with bounded backoff and surface a
// TransientError (AppError of type Transient) once exhausted.
func (d *Dispatcher) Publish(ctx context.Context, envelope domain.ActionEnvelope) (string, error) {
	if envelope.IncidentID == "" || envelope.Service == "" || envelope.Action == "" {
		return "", apperrors.NewInvalidArgumentError("action envelope missing required fields")
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrorTypeInvalidArgument, "encoding action envelope")
	}

	messageID := uuid.NewString()

	ctx, cancel := context.WithTimeout(ctx, publishDeadline)
	defer cancel()

	backoff := retry.WithMaxRetries(5, retry.NewExponential(100*time.Millisecond))
	publishErr := retry.Do(ctx, backoff, func(ctx context.Context) error {
		_, err := d.redis.XAdd(ctx, &redis.XAddArgs{
			Stream: d.stream,
			Values: map[string]interface{}{
				"message_id":  messageID,
				"payload":     string(body),
				"incident_id": envelope.IncidentID,
				"service_name": envelope.Service,
				"action_type": string(envelope.Action),
			},
		}).Result()
		if err != nil {
			d.log.Warn("bus publish attempt failed, retrying",
				logging.NewFields().Component("dispatcher").Operation("publish").
					Incident(envelope.IncidentID).Error(err).ToLogrus())
			return retry.RetryableError(err)
		}
		return nil
	})
	if publishErr != nil {
		return "", apperrors.Wrap(publishErr, apperrors.ErrorTypeTransient,
			fmt.Sprintf("publishing action envelope for incident %s", envelope.IncidentID))
	}

	return messageID, nil
}
