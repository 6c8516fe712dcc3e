package firebase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"bankfeed/internal/domain/connector"
)

type recordingSender struct {
	sent []*messaging.Message
	err  error
}

func (s *recordingSender) Send(_ context.Context, m *messaging.Message) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.sent = append(s.sent, m)
	return "msg-1", nil
}

func testConnector(status connector.Status) *connector.Connector {
	msg := "OPEN_FINANCE pull_statements failed with status 401: " + strings.Repeat("x", 300)
	at := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	return &connector.Connector{
		ID:               "c-1",
		TenantID:         42,
		Code:             "ITAU-MAIN",
		Name:             "Itau main",
		Status:           status,
		LastErrorMessage: &msg,
		LastSyncAt:       &at,
	}
}

func TestConnectorHealthChanged_EntersError(t *testing.T) {
	sender := &recordingSender{}
	n := NewHealthNotifier(sender, "alerts", zaptest.NewLogger(t))

	err := n.ConnectorHealthChanged(context.Background(), testConnector(connector.StatusError), connector.StatusActive)
	require.NoError(t, err)

	require.Len(t, sender.sent, 1)
	msg := sender.sent[0]
	assert.Equal(t, "alerts-42", msg.Topic)
	assert.Equal(t, "Bank connector failing", msg.Notification.Title)
	assert.Contains(t, msg.Notification.Body, "Itau main (ITAU-MAIN)")
	assert.Contains(t, msg.Notification.Body, "status 401")
	assert.Less(t, len(msg.Notification.Body), 260)
	assert.Equal(t, "ERROR", msg.Data["status"])
	assert.Equal(t, "ACTIVE", msg.Data["previous_status"])
	assert.Equal(t, "2026-04-01T10:00:00Z", msg.Data["last_sync_at"])
}

func TestConnectorHealthChanged_Recovers(t *testing.T) {
	sender := &recordingSender{}
	n := NewHealthNotifier(sender, "", zaptest.NewLogger(t))

	require.NoError(t, n.ConnectorHealthChanged(context.Background(), testConnector(connector.StatusActive), connector.StatusError))

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "bank-connectors-42", sender.sent[0].Topic)
	assert.Equal(t, "Bank connector recovered", sender.sent[0].Notification.Title)
}

func TestConnectorHealthChanged_NoTransition(t *testing.T) {
	sender := &recordingSender{}
	n := NewHealthNotifier(sender, "alerts", zaptest.NewLogger(t))

	cases := []struct {
		now, previous connector.Status
	}{
		{connector.StatusError, connector.StatusError},
		{connector.StatusActive, connector.StatusDraft},
		{connector.StatusPaused, connector.StatusPaused},
	}
	for _, c := range cases {
		require.NoError(t, n.ConnectorHealthChanged(context.Background(), testConnector(c.now), c.previous))
	}
	assert.Empty(t, sender.sent)
}

func TestConnectorHealthChanged_SendError(t *testing.T) {
	sender := &recordingSender{err: errors.New("quota exceeded")}
	n := NewHealthNotifier(sender, "alerts", zaptest.NewLogger(t))

	err := n.ConnectorHealthChanged(context.Background(), testConnector(connector.StatusError), connector.StatusActive)
	assert.ErrorContains(t, err, "quota exceeded")
}
