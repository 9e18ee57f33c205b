package notify

import (
	"context"

	"github.com/survarium-stats/importer/pkg/logger"
)

// EventType names an import status event.
type EventType string

const (
	EventTooMuchErrors EventType = "tooMuchErrors"
	EventFatal         EventType = "fatal"
	EventNoUpdates     EventType = "noUpdates"
	EventClanWar       EventType = "clanwar"
)

// Event is a structured import status event. Fields not relevant to the
// event type are left zero.
type Event struct {
	Type           EventType `json:"type"`
	Host           string    `json:"host,omitempty"`
	Timestamp      int64     `json:"ts,omitempty"`
	Match          int64     `json:"match,omitempty"`
	Errors         int       `json:"errors,omitempty"`
	Total          int       `json:"total,omitempty"`
	LastError      string    `json:"lastError,omitempty"`
	LastErrorMatch int64     `json:"lastErrorMatch,omitempty"`
	Error          string    `json:"error,omitempty"`
}

// Notifier delivers status events. Delivery is fire-and-forget: failures are
// logged by the implementation and never reach the caller.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// Multi fans an event out to every notifier in order.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, event Event) {
	for _, n := range m {
		n.Notify(ctx, event)
	}
}

type nop struct{}

func (nop) Notify(context.Context, Event) {}

// Nop returns a notifier that drops every event.
func Nop() Notifier {
	return nop{}
}

// LogNotifier writes events to the structured log.
type LogNotifier struct {
	logger *logger.Logger
}

func NewLogNotifier(log *logger.Logger) *LogNotifier {
	if log == nil {
		log = logger.New("notify")
	}
	return &LogNotifier{logger: log}
}

func (n *LogNotifier) Notify(_ context.Context, event Event) {
	evt := n.logger.Info()
	if event.Type == EventFatal || event.Type == EventTooMuchErrors {
		evt = n.logger.Warn()
	}

	evt = evt.Str("action", "import_status").
		Str("event_type", string(event.Type)).
		Str("host", event.Host)

	if event.Timestamp != 0 {
		evt = evt.Int64("ts", event.Timestamp)
	}
	if event.Match != 0 {
		evt = evt.Int64("match_id", event.Match)
	}
	if event.Total != 0 {
		evt = evt.Int("errors", event.Errors).Int("total", event.Total)
	}
	if event.LastError != "" {
		evt = evt.Str("last_error", event.LastError).Int64("last_error_match", event.LastErrorMatch)
	}
	if event.Error != "" {
		evt = evt.Str("error", event.Error)
	}

	evt.Msg("Import status event")
}
