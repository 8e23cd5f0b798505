package audit

import (
	"github.com/rs/zerolog"
)

// OptionalEvent is a nested log dictionary that is only attached to its
// parent when at least one field was set.
type OptionalEvent struct {
	ev       *zerolog.Event
	modified bool
}

func NewOptionalEvent(e *zerolog.Event) *OptionalEvent {
	return &OptionalEvent{ev: e}
}

func (oe *OptionalEvent) event() *zerolog.Event {
	if oe.ev == nil {
		oe.ev = zerolog.Dict()
		oe.modified = false
	}
	return oe.ev
}

// Set attaches the dictionary to parent under key if anything was written.
func (oe *OptionalEvent) Set(parent *zerolog.Event, key string) bool {
	if oe.modified {
		parent.Dict(key, oe.event())
		return true
	}
	return false
}

func (oe *OptionalEvent) Str(key, val string) *OptionalEvent {
	if val == "" {
		return oe
	}
	oe.event().Str(key, val)
	oe.modified = true
	return oe
}

// Int writes val unless it is zero. Use IntAlways for counts where zero is
// meaningful.
func (oe *OptionalEvent) Int(key string, val int) *OptionalEvent {
	if val == 0 {
		return oe
	}
	return oe.IntAlways(key, val)
}

func (oe *OptionalEvent) IntAlways(key string, val int) *OptionalEvent {
	oe.event().Int(key, val)
	oe.modified = true
	return oe
}
