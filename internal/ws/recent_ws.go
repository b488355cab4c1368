package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"chat-sync/internal/apperr"
	"chat-sync/internal/gateway"
	"chat-sync/internal/models"
	"chat-sync/internal/observability"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameLength = 64 * 1024
)

// Gateway is the sync gateway surface the websocket transport drives.
type Gateway interface {
	Connect(ctx context.Context, token string) (*gateway.Session, error)
	SubscribeRecent(ctx context.Context, session *gateway.Session) (*gateway.Subscription, error)
	Send(ctx context.Context, session *gateway.Session, toUID, text string) (models.Message, error)
	Disconnect(session *gateway.Session)
}

type frameError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type serverFrame struct {
	Type    string                     `json:"type"`
	Ref     string                     `json:"ref,omitempty"`
	Entry   *models.RecentConversation `json:"entry,omitempty"`
	Message *models.Message            `json:"message,omitempty"`
	Error   *frameError                `json:"error,omitempty"`
}

type clientFrame struct {
	Type  string `json:"type"`
	Ref   string `json:"ref"`
	ToUID string `json:"to_uid"`
	Text  string `json:"text"`
}

// RecentWebSocketHandler streams the caller's recent conversation list and
// accepts outgoing messages on the same connection.
type RecentWebSocketHandler struct {
	gw  Gateway
	log zerolog.Logger
}

func NewRecentWebSocketHandler(gw Gateway, log zerolog.Logger) *RecentWebSocketHandler {
	return &RecentWebSocketHandler{gw: gw, log: log.With().Str("component", "ws").Logger()}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// conn serializes writes; gorilla allows one concurrent writer.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(v)
}

func (c *conn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Handle authenticates, upgrades and serves one connection.
func (h *RecentWebSocketHandler) Handle(c *gin.Context) {
	ctx, span := observability.StartSpan(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	session, err := h.gw.Connect(ctx, tokenFromRequest(c))
	if err != nil {
		observability.RecordError(span, err)
		c.JSON(apperr.HTTPStatus(err), gin.H{"error": gin.H{
			"message":    apperr.MessageOf(err),
			"type":       apperr.KindOf(err),
			"request_id": observability.RequestIDFromRequest(c.Request),
		}})
		return
	}

	wsConn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.gw.Disconnect(session)
		return
	}
	wsConn.SetReadLimit(maxFrameLength)
	client := &conn{ws: wsConn}

	info := ConnInfo{
		ConnID:      newConnID(),
		SessionID:   session.ID,
		UserID:      session.UID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	connCtx := observability.WithRequestID(context.WithoutCancel(ctx), info.RequestID)

	sub, err := h.gw.SubscribeRecent(connCtx, session)
	if err != nil {
		_ = client.writeJSON(serverFrame{Type: "error", Error: toFrameError(err)})
		h.gw.Disconnect(session)
		wsConn.Close()
		return
	}

	observability.IncWSActive(wsKind)
	publishWSEvent(connCtx, "ws_connect", info, "")
	h.log.Debug().Str("conn_id", info.ConnID).Str("uid", info.UserID).Msg("websocket connected")

	go h.writeLoop(client, sub, info)
	go h.readLoop(connCtx, client, session, info)
}

func (h *RecentWebSocketHandler) writeLoop(client *conn, sub *gateway.Subscription, info ConnInfo) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.ws.Close()
	}()
	for {
		select {
		case change, ok := <-sub.Events():
			if !ok {
				if err := sub.Err(); err != nil {
					_ = client.writeJSON(serverFrame{Type: "error", Error: toFrameError(err)})
				}
				return
			}
			entry := change.Entry
			if err := client.writeJSON(serverFrame{Type: string(change.Kind), Entry: &entry}); err != nil {
				h.log.Debug().Err(err).Str("conn_id", info.ConnID).Msg("websocket write failed")
				return
			}
		case <-ticker.C:
			if err := client.ping(); err != nil {
				return
			}
		}
	}
}

func (h *RecentWebSocketHandler) readLoop(ctx context.Context, client *conn, session *gateway.Session, info ConnInfo) {
	var closeReason string
	defer func() {
		h.gw.Disconnect(session)
		observability.DecWSActive(wsKind)
		publishWSEvent(ctx, "ws_disconnect", info, closeReason)
		client.ws.Close()
	}()

	_ = client.ws.SetReadDeadline(time.Now().Add(pongWait))
	client.ws.SetPongHandler(func(string) error {
		return client.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := client.ws.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				publishWSEvent(ctx, "ws_error", info, closeReason)
			}
			return
		}
		reply := h.handleFrame(ctx, session, data)
		if err := client.writeJSON(reply); err != nil {
			closeReason = err.Error()
			return
		}
	}
}

func (h *RecentWebSocketHandler) handleFrame(ctx context.Context, session *gateway.Session, data []byte) serverFrame {
	var frame clientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return serverFrame{Type: "error", Error: &frameError{Type: string(apperr.KindValidation), Message: "malformed frame"}}
	}
	switch frame.Type {
	case "send":
		msg, err := h.gw.Send(ctx, session, frame.ToUID, frame.Text)
		if err != nil {
			return serverFrame{Type: "error", Ref: frame.Ref, Error: toFrameError(err)}
		}
		return serverFrame{Type: "ack", Ref: frame.Ref, Message: &msg}
	default:
		return serverFrame{Type: "error", Ref: frame.Ref, Error: &frameError{Type: string(apperr.KindValidation), Message: "unknown frame type"}}
	}
}

func toFrameError(err error) *frameError {
	return &frameError{Type: string(apperr.KindOf(err)), Message: apperr.MessageOf(err)}
}

func tokenFromRequest(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return c.Query("token")
}
