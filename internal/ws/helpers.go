package ws

import (
	"context"
	"time"

	"github.com/google/uuid"

	"chat-sync/internal/observability"
)

const wsKind = "recent"

func newConnID() string {
	return uuid.NewString()
}

func publishWSEvent(ctx context.Context, event string, info ConnInfo, reason string) {
	duration := int64(0)
	if event != "ws_connect" {
		duration = time.Since(info.ConnectedAt).Milliseconds()
	}
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"kind":        wsKind,
			"session_id":  info.SessionID,
			"event":       event,
			"conn_id":     info.ConnID,
			"duration_ms": duration,
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}

	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	_ = observability.PublishEvent(ctx, observability.RoutingWSRecent, observability.NewEnvelope("ws_events", event, payload), headers)
	observability.IncWSEvent(wsKind, event)
}
