package stream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	doneSentinel   = "[DONE]"
	maxSSELineSize = 1 << 20
)

// SSEWriter encodes events as server-sent events.
type SSEWriter struct {
	w     io.Writer
	flush func()
	mu    sync.Mutex
}

// NewSSEWriter sets the event-stream headers on w.
func NewSSEWriter(w http.ResponseWriter) *SSEWriter {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")

	s := &SSEWriter{w: w}
	if f, ok := w.(http.Flusher); ok {
		s.flush = f.Flush
	}
	return s
}

// NewSSEWriterTo writes frames to a plain writer.
func NewSSEWriterTo(w io.Writer) *SSEWriter {
	return &SSEWriter{w: w}
}

// Send writes one data frame.
func (s *SSEWriter) Send(ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	return s.write("data: " + string(body) + "\n\n")
}

// Heartbeat writes a comment frame.
func (s *SSEWriter) Heartbeat() error {
	return s.write(fmt.Sprintf(": ping %d\n\n", time.Now().Unix()))
}

// Done writes the terminating sentinel.
func (s *SSEWriter) Done() error {
	return s.write("data: " + doneSentinel + "\n\n")
}

func (s *SSEWriter) write(frame string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := io.WriteString(s.w, frame); err != nil {
		return err
	}
	if s.flush != nil {
		s.flush()
	}
	return nil
}

// SSEReader decodes frames written by SSEWriter.
type SSEReader struct {
	scanner *bufio.Scanner
}

// NewSSEReader reads events from r.
func NewSSEReader(r io.Reader) *SSEReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxSSELineSize)
	return &SSEReader{scanner: sc}
}

// Next returns the next event. It returns io.EOF after the sentinel and
// io.ErrUnexpectedEOF when the body ends without one.
func (r *SSEReader) Next() (Event, error) {
	var data bytes.Buffer
	for r.scanner.Scan() {
		line := r.scanner.Text()

		if line == "" {
			if data.Len() == 0 {
				continue
			}
			return r.decode(data.Bytes())
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		if field != "data" {
			continue
		}
		value = strings.TrimPrefix(value, " ")
		if data.Len() > 0 {
			data.WriteByte('\n')
		}
		data.WriteString(value)
	}

	if err := r.scanner.Err(); err != nil {
		return Event{}, err
	}
	if data.Len() > 0 {
		return r.decode(data.Bytes())
	}
	return Event{}, io.ErrUnexpectedEOF
}

func (r *SSEReader) decode(data []byte) (Event, error) {
	if string(data) == doneSentinel {
		return Event{}, io.EOF
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("failed to decode event: %w", err)
	}
	return ev, nil
}

// IsEndOfStream reports whether err means the stream ended cleanly.
func IsEndOfStream(err error) bool {
	return errors.Is(err, io.EOF)
}
