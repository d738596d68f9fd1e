// Package chat models the streaming chat event protocol.
package chat

// EventType tags a streaming chat event.
type EventType string

// Event types in required emission order: sources, start, chunk*, then
// exactly one of done or error.
const (
	EventSources EventType = "sources"
	EventStart   EventType = "start"
	EventChunk   EventType = "chunk"
	EventDone    EventType = "done"
	EventError   EventType = "error"
)

// Source is one attribution attached to a response.
type Source struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Event is one unit of the streaming protocol. Exactly the fields relevant
// to the event type are populated.
type Event struct {
	Type        EventType
	Sources     []Source
	Message     string
	Content     string
	FullContent string
	Err         string
}

// ExternalContext is live context fetched outside the knowledge base,
// together with its attributions. Providers always return something usable.
type ExternalContext struct {
	Text    string
	Sources []Source
}

// Response is the non-streaming chat result.
type Response struct {
	Content string   `json:"content"`
	Sources []Source `json:"sources"`
}

// SourcesEvent creates a sources event.
func SourcesEvent(sources []Source) Event {
	return Event{Type: EventSources, Sources: sources}
}

// StartEvent creates a start event.
func StartEvent(message string) Event {
	return Event{Type: EventStart, Message: message}
}

// ChunkEvent creates a chunk event.
func ChunkEvent(content string) Event {
	return Event{Type: EventChunk, Content: content}
}

// DoneEvent creates a terminal done event carrying the accumulated text.
func DoneEvent(message, fullContent string) Event {
	return Event{Type: EventDone, Message: message, FullContent: fullContent}
}

// ErrorEvent creates a terminal error event with a user-safe message.
func ErrorEvent(msg string) Event {
	return Event{Type: EventError, Err: msg}
}
