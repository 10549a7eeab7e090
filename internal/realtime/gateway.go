// Package realtime implements the websocket gateway: per-connection read and
// write pumps and the fan-out orchestrator that couples the connection
// registry to the durable stores.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/pulsefeed/pulse-backend/internal/messaging"
	"github.com/pulsefeed/pulse-backend/internal/notification"
	"github.com/pulsefeed/pulse-backend/internal/presence"
	"go.uber.org/zap"
)

var (
	errMissingRegistry   = errors.New("connection registry is required")
	errMissingMessages   = errors.New("message store is required")
	errMissingDispatcher = errors.New("notification dispatcher is required")
)

// MessageStore is the durable write half of the message path.
type MessageStore interface {
	Create(ctx context.Context, senderID, recipientID, text string) (messaging.Message, error)
}

// Dispatcher creates deduplicated notification records.
type Dispatcher interface {
	Dispatch(ctx context.Context, recipientID, senderID string, kind notification.Type, postID string) (notification.DispatchOutcome, error)
}

// IDProvider issues connection handles.
type IDProvider interface {
	NewID() (string, error)
}

// GatewayConfig bundles the gateway's collaborators.
type GatewayConfig struct {
	Registry   *presence.Registry
	Messages   MessageStore
	Dispatcher Dispatcher
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Gateway accepts persistent client connections, routes inbound events, and
// pushes outbound events to the live connections of the addressed recipient.
//
// The join event trusts the client-announced user identity without
// cross-checking it against the token that authenticated the handshake; this
// matches the upstream protocol and is a known gap, not an oversight.
type Gateway struct {
	registry   *presence.Registry
	messages   MessageStore
	dispatcher Dispatcher
	ids        IDProvider
	logger     *zap.Logger

	mu       sync.RWMutex
	sessions map[presence.ConnID]*session
}

// NewGateway validates the configuration and constructs the gateway.
func NewGateway(cfg GatewayConfig) (*Gateway, error) {
	if cfg.Registry == nil {
		return nil, errMissingRegistry
	}
	if cfg.Messages == nil {
		return nil, errMissingMessages
	}
	if cfg.Dispatcher == nil {
		return nil, errMissingDispatcher
	}
	ids := cfg.IDProvider
	if ids == nil {
		ids = messaging.NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		registry:   cfg.Registry,
		messages:   cfg.Messages,
		dispatcher: cfg.Dispatcher,
		ids:        ids,
		logger:     logger,
		sessions:   make(map[presence.ConnID]*session),
	}, nil
}

// ServeWS upgrades the request and runs the connection until it closes.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	connID, err := g.ids.NewID()
	if err != nil {
		g.logger.Error("connection id generation failed", zap.Error(err))
		conn.Close()
		return
	}

	s := &session{
		gateway: g,
		connID:  presence.ConnID(connID),
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
	}
	g.mu.Lock()
	g.sessions[s.connID] = s
	g.mu.Unlock()

	go s.writePump()
	go s.readPump()
}

// handleEvent dispatches one inbound event. Events for a single connection
// arrive here sequentially from its read pump.
func (g *Gateway) handleEvent(s *session, payload []byte) {
	var event InboundEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		g.sendError(s, ErrorCodeInvalidEvent)
		return
	}

	switch event.Event {
	case EventJoin:
		g.handleJoin(s, event)
	case EventSendMessage:
		g.handleSendMessage(s, event)
	case EventSendNotification:
		g.handleSendNotification(s, event)
	default:
		g.sendError(s, ErrorCodeInvalidEvent)
	}
}

// handleJoin associates the connection with the announced user identity,
// making it addressable for delivery. Joining twice is idempotent.
func (g *Gateway) handleJoin(s *session, event InboundEvent) {
	if event.UserID == "" {
		g.sendError(s, ErrorCodeInvalidInput)
		return
	}
	g.registry.Register(s.connID, event.UserID)
	g.logger.Info("connection joined",
		zap.String("conn_id", string(s.connID)),
		zap.String("user_id", event.UserID))
}

// handleSendMessage persists the message, then pushes a live event to every
// registered connection of the recipient. The durable write is authoritative;
// push failures are logged and never roll it back. An offline recipient is
// the normal case, not an error.
func (g *Gateway) handleSendMessage(s *session, event InboundEvent) {
	record, err := g.messages.Create(context.Background(), event.SenderID, event.ReceiverID, event.Message)
	if err != nil {
		g.logger.Error("message persist failed",
			zap.String("conn_id", string(s.connID)),
			zap.String("sender_id", event.SenderID),
			zap.Error(err))
		if errors.Is(err, messaging.ErrInvalidUserID) || errors.Is(err, messaging.ErrEmptyText) || errors.Is(err, messaging.ErrSelfConversation) {
			g.sendError(s, ErrorCodeInvalidInput)
		} else {
			g.sendError(s, ErrorCodeStorageFailed)
		}
		return
	}

	g.pushToUser(record.RecipientID, OutboundEvent{
		Event:    EventReceiveMessage,
		SenderID: record.SenderID,
		Message:  record.Text,
	})
}

// handleSendNotification delegates to the dispatcher and pushes only when a
// record was created; duplicates emit nothing. Failures are logged and
// swallowed: notification creation never blocks or errors the triggering
// action. This fire-and-forget policy is a documented contract.
func (g *Gateway) handleSendNotification(s *session, event InboundEvent) {
	kind, err := notification.ParseType(event.Type)
	if err != nil {
		g.sendError(s, ErrorCodeInvalidInput)
		return
	}

	outcome, err := g.dispatcher.Dispatch(context.Background(), event.ReceiverID, event.SenderID, kind, event.PostID)
	if err != nil {
		g.logger.Error("notification dispatch failed",
			zap.String("conn_id", string(s.connID)),
			zap.String("sender_id", event.SenderID),
			zap.String("receiver_id", event.ReceiverID),
			zap.String("type", string(kind)),
			zap.Error(err))
		return
	}
	if !outcome.Created {
		return
	}

	g.pushToUser(event.ReceiverID, OutboundEvent{
		Event:    EventReceiveNotification,
		SenderID: event.SenderID,
		Type:     string(kind),
		PostID:   event.PostID,
	})
}

// pushToUser delivers the event to every live connection of the user.
// Delivery is best effort: a connection with a full buffer is skipped rather
// than allowed to block the caller.
func (g *Gateway) pushToUser(userID string, event OutboundEvent) {
	handles := g.registry.ConnectionsFor(userID)
	if len(handles) == 0 {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		g.logger.Error("push encode failed", zap.Error(err))
		return
	}
	for _, connID := range handles {
		g.mu.RLock()
		target := g.sessions[connID]
		g.mu.RUnlock()
		if target == nil {
			continue
		}
		select {
		case target.send <- payload:
		default:
			g.logger.Warn("push skipped, send buffer full",
				zap.String("conn_id", string(connID)),
				zap.String("user_id", userID))
		}
	}
}

func (g *Gateway) sendError(s *session, code string) {
	payload, err := json.Marshal(OutboundEvent{Event: EventError, Code: code})
	if err != nil {
		return
	}
	select {
	case s.send <- payload:
	default:
	}
}

// dropSession tears down all state for a closed connection. The send channel
// is never closed: a push racing with teardown lands in a buffer nobody
// drains, and once the session leaves the map new pushes skip it. The write
// pump exits on its own when the underlying connection closes.
func (g *Gateway) dropSession(s *session) {
	g.registry.Unregister(s.connID)
	g.mu.Lock()
	if current, ok := g.sessions[s.connID]; ok && current == s {
		delete(g.sessions, s.connID)
	}
	g.mu.Unlock()
}
