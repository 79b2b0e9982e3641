// Package audit records who changed which cross-reference request.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"porky.com/knmt/internal/ids"
	"porky.com/knmt/internal/obs"
	"porky.com/knmt/internal/session"
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

// RequestIDFromContext returns the id set by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Event is one audit record.
type Event struct {
	ID        string
	Time      time.Time
	Name      string
	RequestID string
	UserEmail string
	System    string
	Fields    map[string]any
}

// Sink persists events in addition to the log.
type Sink interface {
	Write(ctx context.Context, e Event) error
}

var (
	sinkMu sync.RWMutex
	sink   Sink
)

// SetSink installs s and returns a function restoring the previous sink.
func SetSink(s Sink) (restore func()) {
	sinkMu.Lock()
	prev := sink
	sink = s
	sinkMu.Unlock()
	return func() {
		sinkMu.Lock()
		sink = prev
		sinkMu.Unlock()
	}
}

// LogEvent writes an audit entry enriched with request and session context.
// A failing sink is logged but does not fail the caller's operation.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	e := Event{
		ID:        ids.New(),
		Time:      time.Now().UTC(),
		Name:      event,
		RequestID: RequestIDFromContext(ctx),
		Fields:    make(map[string]any, len(fields)),
	}
	if s, ok := session.FromContext(ctx); ok {
		e.UserEmail = s.Email
		e.System = string(s.System)
	}
	for k, v := range fields {
		e.Fields[k] = v
	}

	obs.Logger().Info("audit",
		zap.String("audit_id", e.ID),
		zap.String("event", e.Name),
		zap.String("request_id", e.RequestID),
		zap.String("user", e.UserEmail),
		zap.String("system", e.System),
		zap.Any("fields", e.Fields),
	)

	sinkMu.RLock()
	s := sink
	sinkMu.RUnlock()
	if s != nil {
		if err := s.Write(ctx, e); err != nil {
			obs.Logger().Warn("audit_sink_failed", zap.String("audit_id", e.ID), zap.Error(err))
		}
	}
	return nil
}

// PGSink stores events in the audit_events table.
type PGSink struct {
	db *sql.DB
}

func NewPGSink(db *sql.DB) *PGSink { return &PGSink{db: db} }

func (p *PGSink) Write(ctx context.Context, e Event) error {
	fields, err := json.Marshal(e.Fields)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx,
		`insert into audit_events(id, ts, event, request_id, user_email, system, fields) values($1,$2,$3,$4,$5,$6,$7)`,
		e.ID, e.Time, e.Name, e.RequestID, e.UserEmail, e.System, fields,
	)
	return err
}
