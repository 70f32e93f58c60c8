package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// LineError reports a line that could not be decoded. It never stops the stream.
type LineError struct {
	line []byte
	err  error
}

func (e *LineError) Error() string {
	if e == nil || e.err == nil {
		return "stream: decode error"
	}
	return fmt.Sprintf("stream: decode line: %v", e.err)
}

func (e *LineError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// Line returns a copy of the offending line.
func (e *LineError) Line() []byte {
	if e == nil {
		return nil
	}
	return append([]byte(nil), e.line...)
}

// Decoder splits a byte stream into JSON events. It holds one carry-over
// buffer and is not safe for concurrent use; each session owns its own.
type Decoder struct {
	buf []byte
}

// NewDecoder returns an empty decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends chunk to the carry-over buffer and decodes every complete line.
func (d *Decoder) Feed(chunk []byte) ([]Event, []error) {
	d.buf = append(d.buf, chunk...)

	var (
		events []Event
		errs   []error
	)
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		line := d.buf[:i]
		d.buf = d.buf[i+1:]
		if ev, ok, err := decodeLine(line); ok {
			if err != nil {
				errs = append(errs, err)
			} else {
				events = append(events, ev)
			}
		}
	}
	// Drop the consumed prefix so the backing array does not grow without bound.
	if len(d.buf) == 0 {
		d.buf = nil
	} else {
		d.buf = append([]byte(nil), d.buf...)
	}
	return events, errs
}

// Flush decodes whatever remains in the buffer as a final line. Call it once
// the underlying stream has reached EOF.
func (d *Decoder) Flush() ([]Event, []error) {
	line := d.buf
	d.buf = nil
	ev, ok, err := decodeLine(line)
	switch {
	case !ok:
		return nil, nil
	case err != nil:
		return nil, []error{err}
	default:
		return []Event{ev}, nil
	}
}

// Reset discards the carry-over buffer.
func (d *Decoder) Reset() {
	d.buf = nil
}

// Pending returns the number of buffered bytes not yet terminated by a newline.
func (d *Decoder) Pending() int {
	return len(d.buf)
}

// decodeLine reports ok=false for blank lines.
func decodeLine(line []byte) (Event, bool, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return Event{}, false, nil
	}
	ev, err := Parse(line)
	if err != nil {
		return Event{}, true, &LineError{line: append([]byte(nil), line...), err: err}
	}
	return ev, true, nil
}

// Parse decodes a single JSON record into an Event.
func Parse(line []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return Event{}, err
	}
	return Event{
		Type:      env.Type,
		Subtype:   env.Subtype,
		SessionID: env.SessionID,
		UUID:      env.UUID,
		Raw:       append(json.RawMessage(nil), line...),
	}, nil
}
