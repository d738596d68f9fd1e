package insight

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// StreamHandlers receives streaming chat events as they arrive. Nil handlers
// are skipped. Event order is sources, start, chunks, then exactly one of
// done or error.
type StreamHandlers struct {
	OnSources func(sources []Source)
	OnStart   func(message string)
	OnChunk   func(content string)
	OnDone    func(message, fullContent string)
	OnError   func(message string)
}

// ChatStream sends a message and consumes the server-sent event stream until
// the terminal event or ctx cancellation. A server-reported error event is
// delivered to OnError and returned as an error.
func (c *Client) ChatStream(ctx context.Context, message string, filters map[string]any, h StreamHandlers) error {
	resp, err := c.do(ctx, http.MethodPost, "/api/v1/chat/stream",
		map[string]any{"message": message, "filters": filters})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}

	return consumeEventStream(resp.Body, h)
}

// consumeEventStream parses the SSE wire format: buffer incoming bytes, split
// on newline; "event: " sets the current event name; "data: " dispatches its
// JSON payload on the current event name and resets it; a blank line also
// resets; a trailing partial line is carried into the next read.
func consumeEventStream(r io.Reader, h StreamHandlers) error {
	var (
		carry []byte
		event string
		buf   = make([]byte, 4096)
	)

	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			data := append(carry, buf[:n]...)
			lines := bytes.Split(data, []byte("\n"))
			carry = append([]byte(nil), lines[len(lines)-1]...)
			for _, line := range lines[:len(lines)-1] {
				terminal, err := dispatchLine(strings.TrimSuffix(string(line), "\r"), &event, h)
				if err != nil {
					return err
				}
				if terminal {
					return nil
				}
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			return fmt.Errorf("read stream: %w", readErr)
		}
	}
}

// dispatchLine handles one complete line. Returns terminal=true after a done
// event; an error event is both dispatched and returned as an error.
func dispatchLine(line string, event *string, h StreamHandlers) (bool, error) {
	switch {
	case line == "":
		*event = ""
		return false, nil
	case strings.HasPrefix(line, "event: "):
		*event = strings.TrimPrefix(line, "event: ")
		return false, nil
	case strings.HasPrefix(line, "data: "):
		defer func() { *event = "" }()
		return dispatchData(*event, strings.TrimPrefix(line, "data: "), h)
	default:
		// Incomplete or unknown framing line: ignore.
		return false, nil
	}
}

func dispatchData(event, payload string, h StreamHandlers) (bool, error) {
	switch event {
	case "sources":
		var p struct {
			Sources []Source `json:"sources"`
		}
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return false, fmt.Errorf("decode sources event: %w", err)
		}
		if h.OnSources != nil {
			h.OnSources(p.Sources)
		}
	case "start":
		var p struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return false, fmt.Errorf("decode start event: %w", err)
		}
		if h.OnStart != nil {
			h.OnStart(p.Message)
		}
	case "chunk":
		var p struct {
			Content string `json:"content"`
		}
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return false, fmt.Errorf("decode chunk event: %w", err)
		}
		if h.OnChunk != nil {
			h.OnChunk(p.Content)
		}
	case "done":
		var p struct {
			Message     string `json:"message"`
			FullContent string `json:"fullContent"`
		}
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return false, fmt.Errorf("decode done event: %w", err)
		}
		if h.OnDone != nil {
			h.OnDone(p.Message, p.FullContent)
		}
		return true, nil
	case "error":
		var p struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return false, fmt.Errorf("decode error event: %w", err)
		}
		if h.OnError != nil {
			h.OnError(p.Error)
		}
		return true, &StreamError{Message: p.Error}
	}
	return false, nil
}

// StreamError is a server-reported terminal error event.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	return "stream error: " + e.Message
}
