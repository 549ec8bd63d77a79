// Package schedule announces calendar objects with attendees to the
// scheduling side of the server.
package schedule

import (
	"context"
	"log/slog"
	"time"

	"github.com/jw6ventures/calstore/internal/metrics"
	"github.com/jw6ventures/calstore/internal/store"
)

// Methods of a scheduling message.
const (
	MethodRequest = "REQUEST"
	MethodCancel  = "CANCEL"
)

// Message describes one scheduling event for an object.
type Message struct {
	Method     string
	CalendarID int64
	UID        string
	Organizer  string
	Summary    string
	Sequence   int
	Start      *time.Time
	Attendees  []string
}

// Notifier delivers scheduling messages.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// MessageFromRows builds a message from the master component of an object,
// falling back to the first component. ok is false when no component has
// attendees.
func MessageFromRows(method string, rows *store.CalendarRows) (Message, bool) {
	if rows == nil || len(rows.Objects) == 0 || len(rows.Attendees) == 0 {
		return Message{}, false
	}
	obj := rows.Objects[0]
	msg := Message{Method: method, CalendarID: obj.CalendarID, UID: obj.UID}

	var master *store.Component
	for i := range rows.Components {
		c := &rows.Components[i]
		if c.RecurrenceID == nil {
			master = c
			break
		}
		if master == nil {
			master = c
		}
	}
	if master != nil {
		msg.Organizer = deref(master.Organizer)
		msg.Summary = deref(master.Summary)
		msg.Start = master.Start
		if master.Sequence != nil {
			msg.Sequence = *master.Sequence
		}
	}

	seen := make(map[string]bool, len(rows.Attendees))
	for _, a := range rows.Attendees {
		if seen[a.Address] {
			continue
		}
		seen[a.Address] = true
		msg.Attendees = append(msg.Attendees, a.Address)
	}
	return msg, true
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// LogNotifier writes messages to a logger. It stands in until outbound
// iMIP delivery is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(ctx context.Context, msg Message) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "scheduling message",
		"method", msg.Method,
		"calendar_id", msg.CalendarID,
		"uid", msg.UID,
		"organizer", msg.Organizer,
		"attendees", len(msg.Attendees),
		"sequence", msg.Sequence,
		"request_id", metrics.RequestIDFromContext(ctx),
	)
	metrics.ObserveNotification("logged")
	return nil
}

// Nop discards every message.
type Nop struct{}

func (Nop) Notify(context.Context, Message) error { return nil }
