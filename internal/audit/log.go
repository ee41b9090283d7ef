package audit

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"storefront.org/internal/obs"
)

type ctxKey string

const (
	correlationIDKey ctxKey = "audit_correlation_id"
	actorKey         ctxKey = "audit_actor"
)

// WithCorrelationID attaches an identifier shared by all events of one
// command invocation.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	id = strings.TrimSpace(id)
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationIDKey, id)
}

// WithActor records who performed the audited actions.
func WithActor(ctx context.Context, actor string) context.Context {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ctx
	}
	return context.WithValue(ctx, actorKey, actor)
}

func stringFromContext(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit entry enriched with correlation and actor context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	zfields := []zap.Field{
		zap.String("type", "audit"),
		zap.String("event", event),
	}
	if id := stringFromContext(ctx, correlationIDKey); id != "" {
		zfields = append(zfields, zap.String("correlation_id", id))
	}
	if actor := stringFromContext(ctx, actorKey); actor != "" {
		zfields = append(zfields, zap.String("actor", actor))
	}
	copyFields := make(map[string]any, len(fields))
	for k, v := range fields {
		copyFields[k] = v
	}
	zfields = append(zfields, zap.Any("fields", copyFields))

	obs.Logger().Info("audit", zfields...)
	return nil
}
