package audit

import (
	"context"
	"errors"
	"strings"
	"time"

	"authority.dev/internal/auth"
	"authority.dev/internal/obs"
)

type ctxKey struct{}

// WithRequestID stores the HTTP request id so audit lines can be correlated
// with access logs.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID = strings.TrimSpace(requestID); requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, requestID)
}

// RequestIDFromContext returns the request id, or "".
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	rid, _ := ctx.Value(ctxKey{}).(string)
	return rid
}

// reserved keys are owned by the envelope and never overwritten by fields.
var reserved = map[string]struct{}{
	"ts": {}, "level": {}, "msg": {}, "type": {}, "event": {},
	"request_id": {}, "operator_id": {}, "operator_tenant": {},
}

// LogEvent writes one structured audit line. The operator (if any) and the
// request id come from ctx; fields are flattened into the line.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("audit: event name is required")
	}
	entry := make(map[string]any, len(fields)+8)
	for k, v := range fields {
		if _, taken := reserved[k]; taken {
			k = "field_" + k
		}
		entry[k] = v
	}
	entry["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	entry["level"] = "info"
	entry["msg"] = "audit"
	entry["type"] = "audit"
	entry["event"] = event
	if rid := RequestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if ctx != nil {
		if op, ok := auth.UserIDFromContext(ctx); ok {
			entry["operator_id"] = op
		}
		if tenant, ok := auth.TenantFromContext(ctx); ok {
			entry["operator_tenant"] = tenant
		}
	}
	obs.LogRequest(entry)
	return nil
}
