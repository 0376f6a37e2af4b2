package session

// FailureKind classifies why a command did not complete.
type FailureKind int

const (
	// FailureNone means the prompt was received.
	FailureNone FailureKind = iota
	// FailureConnectionClosed means the remote side closed or reset the
	// connection. The Session must not be used afterwards.
	FailureConnectionClosed
	// FailureTimeout means no prompt arrived before the deadline.
	FailureTimeout
	// FailureCanceled means the caller's context was canceled while the
	// command was in flight.
	FailureCanceled
)

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureConnectionClosed:
		return "connection closed"
	case FailureTimeout:
		return "timeout"
	case FailureCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Outcome is the result of issuing one command.
type Outcome struct {
	OK bool
	// Response is the reply with the trailing prompt and surrounding
	// whitespace removed. Empty if nothing but the prompt came back.
	Response string
	Failure  FailureKind
}

func success(response string) Outcome {
	return Outcome{OK: true, Response: response}
}

func failure(kind FailureKind) Outcome {
	return Outcome{Failure: kind}
}
