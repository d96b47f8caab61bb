package model

// Severity classifies the result shown to the operator.
type Severity int

const (
	SeveritySuccess Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeveritySuccess:
		return "success"
	case SeverityWarning:
		return "warning"
	default:
		return "error"
	}
}

// Color is the modal accent for the severity.
func (s Severity) Color() string {
	switch s {
	case SeveritySuccess:
		return "#2e7d32"
	case SeverityWarning:
		return "#ef6c00"
	default:
		return "#c62828"
	}
}

// Modal is the single result surface of a scan.
type Modal struct {
	Title     string
	Message   string
	Severity  Severity
	Color     string // Severity.Color() at the time the modal was built
	AvatarURL string
	OnClose   func()
}
