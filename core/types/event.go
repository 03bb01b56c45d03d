package types

// Event is an application event emitted by a component during execution.
type Event struct {
	Entity  EntityID `json:"entity"`
	Type    string   `json:"type"`
	Payload []byte   `json:"payload,omitempty"`
}

// LogEntry is a free-form log line emitted by a component.
type LogEntry struct {
	Entity  EntityID `json:"entity"`
	Level   string   `json:"level"`
	Message string   `json:"message"`
}
