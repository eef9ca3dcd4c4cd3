package analytics

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"auabot/internal/storage"
	logx "auabot/pkg/logx"
)

type eventStore interface {
	AppendEvent(ctx context.Context, e storage.UserEvent) error
}

// Recorder appends rows to the user_events log. It is fire-and-forget:
// a failed append is logged and swallowed so analytics can never break the
// user-facing path that emitted the event.
type Recorder struct {
	store eventStore
	log   logx.Logger
}

func NewRecorder(store eventStore, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{store: store, log: log}
}

type RecordOption func(*storage.UserEvent)

// WithSession groups related events under one session id.
func WithSession(id string) RecordOption {
	return func(e *storage.UserEvent) { e.SessionID = id }
}

func WithTimestamp(t time.Time) RecordOption {
	return func(e *storage.UserEvent) { e.Timestamp = t }
}

// Record appends one event. payload nil means no event_data; otherwise it is
// JSON-encoded. A fresh session id is generated unless WithSession is given.
func (r *Recorder) Record(ctx context.Context, userID int64, eventType string, payload any, opts ...RecordOption) {
	e := storage.UserEvent{
		UserID:    userID,
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			r.log.Warn("event payload not serializable",
				logx.String("event_type", eventType), logx.Err(err))
		} else {
			e.EventData = string(b)
		}
	}
	for _, opt := range opts {
		opt(&e)
	}
	if e.SessionID == "" {
		e.SessionID = uuid.NewString()
	}

	if err := r.store.AppendEvent(ctx, e); err != nil {
		r.log.Warn("event append failed",
			logx.String("event_type", eventType),
			logx.Int64("user_id", userID),
			logx.Err(err))
	}
}
