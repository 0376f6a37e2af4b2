package events

import "encoding/json"

// Event name constants
const (
	RunStarted   = "run.started"
	BoxStarted   = "box.started"
	CardFinished = "card.finished"
	BoxFinished  = "box.finished"
	RunFinished  = "run.finished"
)

// Event is one progress notification of a fleet run.
type Event struct {
	Name string          // event name, one of the constants above
	Data json.RawMessage // raw JSON payload
}

// RunStartedEvent is the payload for run.started.
type RunStartedEvent struct {
	RunID string `json:"runId"`
	Mode  string `json:"mode"`
	Boxes []int  `json:"boxes"`
	Ts    int64  `json:"ts"`
}

// BoxStartedEvent is the payload for box.started.
type BoxStartedEvent struct {
	RunID string `json:"runId"`
	Box   int    `json:"box"`
	Host  string `json:"host"`
	Ts    int64  `json:"ts"`
}

// CardFinishedEvent is the payload for card.finished.
type CardFinishedEvent struct {
	RunID  string `json:"runId"`
	Box    int    `json:"box"`
	Card   int    `json:"card"`
	Slot   int    `json:"slot"`
	Status string `json:"status"`
	Ts     int64  `json:"ts"`
}

// BoxFinishedEvent is the payload for box.finished.
type BoxFinishedEvent struct {
	RunID      string `json:"runId"`
	Box        int    `json:"box"`
	Host       string `json:"host"`
	Overall    string `json:"overall"`
	Phase      string `json:"phase"`
	FailedStep string `json:"failedStep,omitempty"`
	Ts         int64  `json:"ts"`
}

// RunFinishedEvent is the payload for run.finished.
type RunFinishedEvent struct {
	RunID   string `json:"runId"`
	OK      int    `json:"ok"`
	Partial int    `json:"partial"`
	Dead    int    `json:"dead"`
	Ts      int64  `json:"ts"`
}

// DecodeAs decodes the event payload into the caller-specified generic type T.
// It ignores the event name and simply unmarshals Data into T. If Data is empty,
// it returns the zero value of T with a nil error.
//
// Example:
//
//	payload, err := events.DecodeAs[events.BoxFinishedEvent](ev)
//	if err != nil { /* handle */ }
//	fmt.Println(payload.Host, payload.Overall)
func DecodeAs[T any](e Event) (T, error) {
	var zero T
	if len(e.Data) == 0 {
		return zero, nil
	}
	var v T
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return zero, err
	}
	return v, nil
}
