package provider

import (
	"bufio"
	"io"
	"strings"
)

// sseEvent is one decoded Server-Sent Events frame.
type sseEvent struct {
	ID    string
	Event string
	Data  string
}

// decodeSSE parses an SSE byte stream, invoking handler for each complete
// frame (terminated by a blank line). It stops and returns nil as soon as
// a frame's Data equals "[DONE]" (the OpenAI-compatible sentinel), without
// invoking handler for it. Grounded on the SSE parser shape used across
// the pack for manual/low-level decoding (event:/data:/id: lines joined
// on blank-line boundaries), generalized here to also track id: so
// decoders that need last-event-id resumption semantics can see it —
// though per spec.md §4.1 a retry always re-opens a fresh stream, never
// resumes.
func decodeSSE(r io.Reader, handler func(sseEvent) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	var ev sseEvent
	var dataLines []string

	flush := func() error {
		if ev.Event == "" && ev.ID == "" && len(dataLines) == 0 {
			return nil
		}
		ev.Data = strings.Join(dataLines, "\n")
		if ev.Data == "[DONE]" {
			return errStreamDone
		}
		err := handler(ev)
		ev = sseEvent{}
		dataLines = nil
		return err
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if err := flush(); err != nil {
				if err == errStreamDone {
					return nil
				}
				return err
			}
			continue
		}
		switch {
		case strings.HasPrefix(line, "event:"):
			ev.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		case strings.HasPrefix(line, "id:"):
			ev.ID = strings.TrimSpace(strings.TrimPrefix(line, "id:"))
		default:
			// comments (":") and "retry:" lines are ignored.
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return flush()
}

// errStreamDone is a sentinel used internally to unwind decodeSSE's loop
// cleanly on the "[DONE]" terminator; it never escapes decodeSSE.
var errStreamDone = sentinelErr("sse: [DONE]")

type sentinelErr string

func (e sentinelErr) Error() string { return string(e) }
