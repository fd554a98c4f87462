package engine

import (
	"github.com/rs/zerolog"
)

// LogObserver writes the event stream to a structured logger. It is safe
// for concurrent use.
type LogObserver struct {
	logger zerolog.Logger
}

// NewLogObserver creates an observer that logs every event.
func NewLogObserver(logger zerolog.Logger) *LogObserver {
	return &LogObserver{logger: logger}
}

// OnEvent implements Observer.
func (o *LogObserver) OnEvent(ev Event) {
	var entry *zerolog.Event
	switch ev.Type {
	case EventSkip, EventStart, EventDone, EventDryRun:
		entry = o.logger.Info()
	case EventStopOnFail:
		entry = o.logger.Warn()
	default:
		entry = o.logger.Error()
	}

	entry = entry.Str("event", string(ev.Type))
	if ev.Rule != nil {
		entry = entry.
			Int("rule_id", ev.Rule.ID()).
			Str("rule", ev.Rule.Name())
	}
	if ev.Type == EventSkip {
		entry = entry.Bool("direct", ev.Direct)
	}
	if ev.Reason != "" {
		entry = entry.Str("reason", ev.Reason)
	}
	if ev.Err != nil {
		entry = entry.Err(ev.Err)
	}
	entry.Msg("build event")
}
