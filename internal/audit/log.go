package audit

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Event tags.
const (
	EventLoginSuccess = "login_success"
	EventLoginFailure = "login_failure"
	EventTokenExpire  = "token_expire"
	EventTokenInvalid = "token_invalid"
	EventOrgCreated   = "org_created"
	EventUserCreated  = "user_created"
	EventUserDeleted  = "user_deleted"
)

// Event is an append-only record of an authentication or directory action.
// An empty Username means the subject was unknown.
type Event struct {
	ID        int64
	Username  string
	Event     string
	Timestamp time.Time
	Details   string
}

// Sink persists events. Implementations assign ID and, when zero, Timestamp.
type Sink interface {
	Append(ctx context.Context, e *Event) error
}

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

// RequestIDFromContext extracts the request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Recorder writes events to a Sink on a best-effort basis. Sink failures are
// logged and never reach the caller.
type Recorder struct {
	sink   Sink
	logger logrus.FieldLogger
	now    func() time.Time
}

// NewRecorder builds a Recorder. A nil sink only logs events.
func NewRecorder(sink Sink, logger logrus.FieldLogger) *Recorder {
	if logger == nil {
		l := logrus.New()
		l.SetFormatter(&logrus.JSONFormatter{})
		logger = l
	}
	return &Recorder{sink: sink, logger: logger, now: time.Now}
}

// Record appends one event. It is safe to call on a nil Recorder.
func (r *Recorder) Record(ctx context.Context, username, event, details string) {
	if r == nil {
		return
	}
	e := &Event{
		Username:  strings.TrimSpace(username),
		Event:     event,
		Timestamp: r.now().UTC(),
		Details:   details,
	}
	fields := logrus.Fields{
		"type":     "audit",
		"event":    e.Event,
		"username": e.Username,
		"details":  e.Details,
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		fields["request_id"] = rid
	}
	entry := r.logger.WithFields(fields)
	entry.Info("audit_event")

	if r.sink == nil {
		return
	}
	if err := r.sink.Append(ctx, e); err != nil {
		entry.WithError(err).Warn("audit sink append failed")
	}
}
