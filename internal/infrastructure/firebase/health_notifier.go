package firebase

import (
	"context"
	"fmt"
	"strconv"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"bankfeed/internal/domain/connector"
)

// Sender is the slice of the FCM client the notifier uses.
type Sender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// HealthNotifier publishes connector health transitions to a per-tenant
// FCM topic named "<prefix>-<tenant_id>".
type HealthNotifier struct {
	sender      Sender
	topicPrefix string
	logger      *zap.Logger
}

// NewMessagingClient initializes a Firebase app and returns its FCM client.
func NewMessagingClient(ctx context.Context, credentialsFile string) (*messaging.Client, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}

	msgClient, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase messaging client: %w", err)
	}
	return msgClient, nil
}

func NewHealthNotifier(sender Sender, topicPrefix string, logger *zap.Logger) *HealthNotifier {
	if topicPrefix == "" {
		topicPrefix = "bank-connectors"
	}
	return &HealthNotifier{
		sender:      sender,
		topicPrefix: topicPrefix,
		logger:      logger.With(zap.String("component", "health_notifier")),
	}
}

// Topic is the FCM topic alerts for a tenant go to.
func (n *HealthNotifier) Topic(tenantID int64) string {
	return n.topicPrefix + "-" + strconv.FormatInt(tenantID, 10)
}

// ConnectorHealthChanged sends an alert when a connector enters or leaves ERROR.
func (n *HealthNotifier) ConnectorHealthChanged(ctx context.Context, c *connector.Connector, previous connector.Status) error {
	msg := n.buildMessage(c, previous)
	if msg == nil {
		return nil
	}

	id, err := n.sender.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("failed to send connector health alert: %w", err)
	}
	n.logger.Info("connector health alert sent",
		zap.String("message_id", id),
		zap.String("topic", msg.Topic),
		zap.String("connector_id", c.ID),
		zap.String("status", string(c.Status)),
	)
	return nil
}

func (n *HealthNotifier) buildMessage(c *connector.Connector, previous connector.Status) *messaging.Message {
	var title, body string
	switch {
	case c.Status == connector.StatusError && previous != connector.StatusError:
		title = "Bank connector failing"
		body = fmt.Sprintf("%s (%s) could not sync", c.Name, c.Code)
		if c.LastErrorMessage != nil && *c.LastErrorMessage != "" {
			body += ": " + truncate(*c.LastErrorMessage, 200)
		}
	case previous == connector.StatusError && c.Status != connector.StatusError:
		title = "Bank connector recovered"
		body = fmt.Sprintf("%s (%s) is syncing again", c.Name, c.Code)
	default:
		return nil
	}

	data := map[string]string{
		"type":            "connector_health",
		"tenant_id":       strconv.FormatInt(c.TenantID, 10),
		"connector_id":    c.ID,
		"connector_code":  c.Code,
		"status":          string(c.Status),
		"previous_status": string(previous),
	}
	if c.LastSyncAt != nil {
		data["last_sync_at"] = c.LastSyncAt.UTC().Format(time.RFC3339)
	}

	return &messaging.Message{
		Topic:        n.Topic(c.TenantID),
		Notification: &messaging.Notification{Title: title, Body: body},
		Data:         data,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
