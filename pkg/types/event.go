package types

import "time"

// EventType defines the type of event emitted by the runtime.
type EventType string

const (
	EventTypeToolCall         EventType = "tool_call"          // EventTypeToolCall indicates dispatch accepted a call.
	EventTypeToolResult       EventType = "tool_result"        // EventTypeToolResult indicates a call succeeded.
	EventTypeToolResultError  EventType = "tool_result_error"  // EventTypeToolResultError indicates a call failed.
	EventTypeNotify           EventType = "notify"             // EventTypeNotify carries an adapter notification.
	EventTypeHumanRequest     EventType = "human_request"      // EventTypeHumanRequest indicates a call is waiting for a person.
	EventTypeHumanCompleted   EventType = "human_completed"    // EventTypeHumanCompleted indicates the person finished the step.
	EventTypeHumanTimeout     EventType = "human_timeout"      // EventTypeHumanTimeout indicates the step deadline passed.
	EventTypeAdapterLoaded    EventType = "adapter_loaded"     // EventTypeAdapterLoaded indicates an adapter bundle was registered.
	EventTypeAdapterLoadError EventType = "adapter_load_error" // EventTypeAdapterLoadError indicates an adapter bundle was skipped.
)

// NotifyLevel is the severity of an adapter notification.
type NotifyLevel string

const (
	NotifyInfo  NotifyLevel = "info"
	NotifyWarn  NotifyLevel = "warn"
	NotifyError NotifyLevel = "error"
)

// Event represents something observable that happened inside the runtime.
type Event struct {
	// Time is when the event was created.
	Time time.Time

	// Metadata holds optional additional information about the event.
	Metadata map[string]any

	// Args is the input sent to the tool (for tool call events).
	Args map[string]any

	// Result is the outcome of the tool (for tool result events).
	Result *Result

	// Error contains error information for error events.
	Error error

	// AdapterID is the adapter the event belongs to.
	AdapterID string

	// ToolName is the namespaced tool name (for tool events).
	ToolName string

	// Message holds the notification text or human prompt.
	Message string

	// RequestID identifies a human request.
	RequestID string

	// Level is set for notify events.
	Level NotifyLevel

	// Type indicates the kind of event.
	Type EventType
}

// EventSink receives runtime events. Implementations must not block.
type EventSink func(*Event)

func newEvent(t EventType, adapterID string) *Event {
	return &Event{
		Type:      t,
		AdapterID: adapterID,
		Time:      time.Now(),
		Metadata:  make(map[string]any),
	}
}

// NewToolCallEvent creates a tool call event.
func NewToolCallEvent(adapterID, toolName string, args map[string]any) *Event {
	e := newEvent(EventTypeToolCall, adapterID)
	e.ToolName = toolName
	e.Args = args
	return e
}

// NewToolResultEvent creates a tool result event, picking the error variant
// for failed results.
func NewToolResultEvent(adapterID, toolName string, result *Result) *Event {
	t := EventTypeToolResult
	if result != nil && !result.Success {
		t = EventTypeToolResultError
	}
	e := newEvent(t, adapterID)
	e.ToolName = toolName
	e.Result = result
	return e
}

// NewNotifyEvent creates a notification event.
func NewNotifyEvent(adapterID string, level NotifyLevel, message string) *Event {
	e := newEvent(EventTypeNotify, adapterID)
	e.Level = level
	e.Message = message
	return e
}

// NewHumanRequestEvent creates a human request event.
func NewHumanRequestEvent(adapterID, requestID, prompt string, deadline time.Time) *Event {
	e := newEvent(EventTypeHumanRequest, adapterID)
	e.RequestID = requestID
	e.Message = prompt
	e.Metadata["deadline"] = deadline
	return e
}

// NewHumanCompletedEvent creates a human completed event.
func NewHumanCompletedEvent(adapterID, requestID string) *Event {
	e := newEvent(EventTypeHumanCompleted, adapterID)
	e.RequestID = requestID
	return e
}

// NewHumanTimeoutEvent creates a human timeout event.
func NewHumanTimeoutEvent(adapterID, requestID string) *Event {
	e := newEvent(EventTypeHumanTimeout, adapterID)
	e.RequestID = requestID
	return e
}

// NewAdapterLoadedEvent creates an adapter loaded event.
func NewAdapterLoadedEvent(adapterID string, tools []string) *Event {
	e := newEvent(EventTypeAdapterLoaded, adapterID)
	e.Metadata["tools"] = tools
	return e
}

// NewAdapterLoadErrorEvent creates an adapter load error event.
func NewAdapterLoadErrorEvent(path string, err error) *Event {
	e := newEvent(EventTypeAdapterLoadError, "")
	e.Error = err
	e.Metadata["path"] = path
	return e
}

// IsErrorEvent returns true if this is an error event.
func (e *Event) IsErrorEvent() bool {
	return e.Type == EventTypeToolResultError || e.Type == EventTypeAdapterLoadError ||
		e.Type == EventTypeHumanTimeout || (e.Type == EventTypeNotify && e.Level == NotifyError)
}
