package domain

// Status is the lifecycle state shared by batches and prompt tasks.
// Batches use all four values; tasks never enter StatusWaiting.
type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether no further transition is allowed
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known statuses
func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Severity ranks an issue reported by the generation service
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Valid reports whether s is one of the three severity levels
func (s Severity) Valid() bool {
	switch s {
	case SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

// Severities lists the levels from most to least severe
var Severities = []Severity{SeverityHigh, SeverityMedium, SeverityLow}

// ErrorKind classifies why a prompt task failed
type ErrorKind string

const (
	ErrorKindNone        ErrorKind = ""
	ErrorKindCatalog     ErrorKind = "catalog"
	ErrorKindTransport   ErrorKind = "transport"
	ErrorKindTimeout     ErrorKind = "timeout"
	ErrorKindFormat      ErrorKind = "format"
	ErrorKindInterrupted ErrorKind = "interrupted"
)
