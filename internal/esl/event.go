package esl

import (
	"strconv"
	"time"
)

// Event is one decoded event-socket frame: an ordered header block plus an
// optional flat key/value body. Lookups fall through from headers to body,
// since the switch puts the interesting fields of a plain event in the body.
type Event struct {
	headers []header
	body    map[string]string
}

type header struct {
	Key   string
	Value string
}

// NewEvent builds an Event from alternating key/value pairs. Test helper.
func NewEvent(kvs ...string) Event {
	e := Event{}
	for i := 0; i+1 < len(kvs); i += 2 {
		e.headers = append(e.headers, header{Key: kvs[i], Value: kvs[i+1]})
	}
	return e
}

// WithBody returns a copy of the event with the given body attached.
func (e Event) WithBody(body map[string]string) Event {
	e.body = body
	return e
}

// Get returns the value for key, searching headers first, then the body.
func (e Event) Get(key string) string {
	for _, h := range e.headers {
		if h.Key == key {
			return h.Value
		}
	}
	return e.body[key]
}

// GetInt returns the integer value for key, or 0 if absent or unparseable.
func (e Event) GetInt(key string) int {
	v, _ := strconv.Atoi(e.Get(key))
	return v
}

// GetEpochMicro interprets the value for key as epoch microseconds,
// the encoding FreeSWITCH uses for Caller-Channel-Created-Time.
func (e Event) GetEpochMicro(key string) time.Time {
	us, err := strconv.ParseInt(e.Get(key), 10, 64)
	if err != nil || us <= 0 {
		return time.Time{}
	}
	return time.UnixMicro(us).UTC()
}

// ContentType returns the frame's Content-Type header.
func (e Event) ContentType() string { return e.Get("Content-Type") }

// ReplyText returns the Reply-Text header of a command/reply frame.
func (e Event) ReplyText() string { return e.Get("Reply-Text") }

// Kind returns the event kind (Event-Name), e.g. CHANNEL_CREATE.
func (e Event) Kind() string { return e.Get("Event-Name") }

// Headers returns the frame headers in arrival order.
func (e Event) Headers() []header { return e.headers }

// Body returns the decoded body fields, or nil when the frame had no body.
func (e Event) Body() map[string]string { return e.body }
