package listener

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

const (
	// ChannelName is the NOTIFY channel for on-demand sync requests.
	ChannelName       = "connector_sync_requested"
	reconnectInterval = 5 * time.Second
	pingInterval      = 90 * time.Second
)

// SyncRequest is the payload of pg_notify('connector_sync_requested', ...).
type SyncRequest struct {
	TenantID    int64  `json:"tenant_id"`
	ConnectorID string `json:"connector_id"`
	RequestID   string `json:"request_id"`
	ForceFull   bool   `json:"force_full"`
}

// Handler receives parsed sync requests. It must not block for long.
type Handler interface {
	HandleSyncRequest(ctx context.Context, req SyncRequest)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req SyncRequest)

func (f HandlerFunc) HandleSyncRequest(ctx context.Context, req SyncRequest) { f(ctx, req) }

// SyncListener turns database notifications into sync requests.
type SyncListener struct {
	connStr    string
	handler    Handler
	logger     *zap.Logger
	shutdownCh chan struct{}
	done       chan struct{}
}

// NewSyncListener creates a listener on ChannelName.
func NewSyncListener(connStr string, handler Handler, logger *zap.Logger) *SyncListener {
	return &SyncListener{
		connStr:    connStr,
		handler:    handler,
		logger:     logger.With(zap.String("component", "sync_listener")),
		shutdownCh: make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start begins listening in a background goroutine.
func (l *SyncListener) Start(ctx context.Context) {
	go l.listen(ctx)
	l.logger.Info("sync request listener started", zap.String("channel", ChannelName))
}

// Stop shuts the listener down and waits for it to exit.
func (l *SyncListener) Stop() {
	close(l.shutdownCh)
	<-l.done
	l.logger.Info("sync request listener stopped")
}

func (l *SyncListener) listen(ctx context.Context) {
	defer close(l.done)

	for {
		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		default:
			l.connectAndListen(ctx)
		}

		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(reconnectInterval):
			l.logger.Info("reconnecting to postgres for notifications")
		}
	}
}

func (l *SyncListener) connectAndListen(ctx context.Context) {
	listener := pq.NewListener(l.connStr, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnected:
			l.logger.Info("connected to notification channel")
		case pq.ListenerEventDisconnected:
			l.logger.Warn("disconnected from notification channel", zap.Error(err))
		case pq.ListenerEventReconnected:
			l.logger.Info("reconnected to notification channel")
		case pq.ListenerEventConnectionAttemptFailed:
			l.logger.Warn("notification connection attempt failed", zap.Error(err))
		}
	})
	defer listener.Close()

	if err := listener.Listen(ChannelName); err != nil {
		l.logger.Error("failed to listen", zap.String("channel", ChannelName), zap.Error(err))
		return
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		case n := <-listener.Notify:
			if n == nil {
				// connection lost; pq reconnects and we re-LISTEN
				return
			}
			l.dispatch(ctx, n.Extra)
		case <-ticker.C:
			go func() {
				if err := listener.Ping(); err != nil {
					l.logger.Warn("listener ping failed", zap.Error(err))
				}
			}()
		}
	}
}

func (l *SyncListener) dispatch(ctx context.Context, payload string) {
	req, err := ParseSyncRequest(payload)
	if err != nil {
		l.logger.Warn("ignoring sync notification", zap.Error(err))
		return
	}
	l.logger.Debug("sync requested",
		zap.Int64("tenant_id", req.TenantID),
		zap.String("connector_id", req.ConnectorID),
		zap.String("request_id", req.RequestID),
	)
	l.handler.HandleSyncRequest(ctx, req)
}

// ParseSyncRequest decodes and validates a notification payload.
func ParseSyncRequest(payload string) (SyncRequest, error) {
	var req SyncRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		return SyncRequest{}, err
	}
	req.ConnectorID = strings.TrimSpace(req.ConnectorID)
	req.RequestID = strings.TrimSpace(req.RequestID)
	if req.TenantID <= 0 {
		return SyncRequest{}, errors.New("tenant_id is required")
	}
	if req.ConnectorID == "" {
		return SyncRequest{}, errors.New("connector_id is required")
	}
	return req, nil
}
