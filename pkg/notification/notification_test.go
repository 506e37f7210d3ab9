package notification

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/fleetops/autopilot/pkg/domain"
)

func TestNotifyFailed_NoopWithoutToken(t *testing.T) {
	n := New("", "#incidents", zap.NewNop())

	// must not panic despite no configured Slack client.
	n.NotifyFailed(context.Background(), domain.Incident{ID: "inc_checkout_1700000000", Status: domain.IncidentFailed})
}
