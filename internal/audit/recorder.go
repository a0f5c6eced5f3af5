package audit

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"cajards.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Recorder appends audit entries and mirrors them as structured log lines.
// Recording is best-effort: by the time Record runs the business mutation is
// already durable, so a failed audit write is logged and swallowed.
type Recorder struct {
	store Store
}

func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

// Record writes one audit entry for a completed mutation.
func (r *Recorder) Record(ctx context.Context, actor, action, entityType, entityID string, oldValue, newValue any, origin string) {
	entry := NewEntry(actor, action, entityType, entityID, oldValue, newValue, origin)
	if r != nil && r.store != nil {
		if err := r.store.Append(ctx, entry); err != nil {
			obs.LogRequest(map[string]any{
				"ts":    time.Now().UTC().Format(time.RFC3339Nano),
				"level": "error",
				"msg":   "audit append failed",
				"event": action,
				"error": err.Error(),
			})
		}
	}
	logEntry(ctx, entry)
}

// List exposes the stored trail, newest first.
func (r *Recorder) List(ctx context.Context, limit, offset int) ([]Entry, error) {
	return r.store.List(ctx, limit, offset)
}

func logEntry(ctx context.Context, e Entry) {
	line := map[string]any{
		"ts":          e.CreatedAt.Format(time.RFC3339Nano),
		"type":        "audit",
		"event":       e.Action,
		"actor_id":    e.ActorID,
		"entity_type": e.EntityType,
		"entity_id":   e.EntityID,
		"origin":      e.Origin,
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		line["request_id"] = rid
	}
	if len(e.OldData) > 0 {
		line["old_data"] = json.RawMessage(e.OldData)
	}
	if len(e.NewData) > 0 {
		line["new_data"] = json.RawMessage(e.NewData)
	}
	obs.LogRequest(line)
}
