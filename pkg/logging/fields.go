// Package logging wraps zap with a small chainable field builder so
// every component logs the same standard keys instead of inventing
// its own.
package logging

import "time"

// Fields is a chainable accumulator of structured log fields.
type Fields map[string]any

// NewFields returns an empty field set.
func NewFields() Fields {
	return Fields{}
}

func (f Fields) Component(name string) Fields {
	f["component"] = name
	return f
}

func (f Fields) Operation(name string) Fields {
	f["operation"] = name
	return f
}

func (f Fields) Resource(resourceType, name string) Fields {
	f["resource_type"] = resourceType
	if name != "" {
		f["resource_name"] = name
	}
	return f
}

func (f Fields) Channel(channelID string) Fields {
	if channelID != "" {
		f["channel_id"] = channelID
	}
	return f
}

func (f Fields) Task(taskID string) Fields {
	if taskID != "" {
		f["task_id"] = taskID
	}
	return f
}

func (f Fields) Stage(stage string) Fields {
	if stage != "" {
		f["stage"] = stage
	}
	return f
}

func (f Fields) Duration(d time.Duration) Fields {
	f["duration_ms"] = d.Milliseconds()
	return f
}

func (f Fields) Error(err error) Fields {
	if err != nil {
		f["error"] = err.Error()
	}
	return f
}

// Pairs flattens Fields into an alternating key/value slice suitable
// for zap's SugaredLogger.Infow-style calls.
func (f Fields) Pairs() []any {
	out := make([]any, 0, len(f)*2)
	for k, v := range f {
		out = append(out, k, v)
	}
	return out
}
