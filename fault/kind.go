package fault

// Kind classifies a failure by its root cause.
type Kind string

const (
	KindNetwork        Kind = "NETWORK"
	KindOffline        Kind = "OFFLINE"
	KindAuthentication Kind = "AUTHENTICATION"
	KindAuthorization  Kind = "AUTHORIZATION"
	KindRateLimit      Kind = "RATE_LIMIT"
	KindServer         Kind = "SERVER"
	KindClient         Kind = "CLIENT"
	KindTimeout        Kind = "TIMEOUT"
	KindValidation     Kind = "VALIDATION"
	KindUnknown        Kind = "UNKNOWN"
)

// Severity ranks how much a fault should alarm the user.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the severity name.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// profile holds the classification defaults for a kind.
type profile struct {
	Severity    Severity
	Recoverable bool
	Retryable   bool
}
