package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"clinic-phone/internal/events"
	"clinic-phone/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handler upgrades /v1/phone/ws. Authentication happens in middleware
// before the upgrade.
type Handler struct {
	hub        *Hub
	bridge     *Bridge
	authorizer *ChannelAuthorizer
	upgrader   websocket.Upgrader
	logger     *Logger
}

func NewHandler(hub *Hub, bridge *Bridge, authorizer *ChannelAuthorizer, allowedOrigins []string, logger *zap.Logger) *Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &Handler{
		hub:        hub,
		bridge:     bridge,
		authorizer: authorizer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowed) == 0 || origin == "" || allowed[origin]
			},
		},
		logger: NewLogger(logger),
	}
}

func (h *Handler) Connect(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("upgrade_failed", nil, zap.Error(err))
		return
	}

	operatorID, _ := services.OperatorIDFromContext(c.Request.Context())
	client := NewClient(conn, operatorID)
	client.Subscribe(events.PhoneEventsChannel)
	if payload, err := h.bridge.SnapshotPayload(); err == nil {
		client.SendMessage(payload)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if !h.hub.Register(client) {
		_ = conn.Close()
		return
	}
	h.logger.Info("connected", client)
	go client.WriteLoop(ctx)

	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		h.handleMessage(client, data)
	}

	h.hub.Unregister(client)
	h.logger.Info("disconnected", client, zap.Int64("dropped", client.Dropped()))
}

func (h *Handler) handleMessage(client *Client, data []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.hub.SendTo(client, encodeReply(MessageError, "", "malformed message"))
		return
	}

	switch msg.Action {
	case "subscribe":
		if !h.authorizer.CanSubscribe(client, msg.Channel) {
			h.hub.SendTo(client, encodeReply(MessageError, msg.Channel, "subscription denied"))
			return
		}
		if !h.hub.Subscribe(client, msg.Channel) {
			h.hub.SendTo(client, encodeReply(MessageError, msg.Channel, "subscription failed"))
			return
		}
		h.hub.SendTo(client, encodeReply(MessageAck, msg.Channel, ""))
	case "unsubscribe":
		h.hub.Unsubscribe(client, msg.Channel)
		h.hub.SendTo(client, encodeReply(MessageAck, msg.Channel, ""))
	case "snapshot":
		if payload, err := h.bridge.SnapshotPayload(); err == nil {
			h.hub.SendTo(client, payload)
		}
	case "ping":
		h.hub.SendTo(client, encodeReply(MessageAck, "", ""))
	default:
		h.hub.SendTo(client, encodeReply(MessageError, "", "unknown action"))
	}
}
