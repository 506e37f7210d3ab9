// Package notification sends a best-effort operator notification when an
// incident reaches FAILED (spec §4.5). A notification failure is logged,
// never re-raised — the incident's terminal state is already durable.
package notification

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/fleetops/autopilot/pkg/domain"
	"github.com/fleetops/autopilot/pkg/logging"
	"github.com/fleetops/autopilot/pkg/notification/sanitization"
)

// Notifier posts a message describing a failed incident.
type Notifier struct {
	client  *slack.Client
	channel string
	log     *zap.Logger
}

// New builds a Notifier. An empty token yields a Notifier whose Notify
// calls are no-ops, so Slack remains optional in deployments that don't
// configure it.
func New(token, channel string, log *zap.Logger) *Notifier {
	var client *slack.Client
	if token != "" {
		client = slack.New(token)
	}
	return &Notifier{client: client, channel: channel, log: log}
}

// NotifyFailed posts a best-effort Slack message for a FAILED incident.
func (n *Notifier) NotifyFailed(ctx context.Context, incident domain.Incident) {
	if n.client == nil {
		return
	}

	text := fmt.Sprintf(":rotating_light: incident %s for %s/%s is FAILED: %s",
		incident.ID, incident.Service, incident.Region, sanitization.Redact(incident.ErrorMessage))

	_, _, err := n.client.PostMessageContext(ctx, n.channel, slack.MsgOptionText(text, false))
	if err != nil {
		n.log.Warn("slack notification failed",
			logging.NewFields().Component("notification").Operation("notify_failed").
				Incident(incident.ID).Error(err).ToLogrus())
	}
}
