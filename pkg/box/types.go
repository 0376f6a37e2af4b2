package box

import (
	"time"

	"github.com/a2cb/cbhv/pkg/session"
)

// Mode selects what a fleet run does with every box.
type Mode string

const (
	// ModeApply writes the values of the correction file.
	ModeApply Mode = "apply"
	// ModeReset writes zeros and disables the correction loop.
	ModeReset Mode = "reset"
	// ModeCalibrate measures the correction values.
	ModeCalibrate Mode = "calibrate"
)

// Phase defines the steps of the configuration state machine. Phases only
// move forward; PhaseAborted is terminal and reachable from any step.
type Phase string

const (
	PhaseIdle         Phase = "Idle"
	PhaseUnprotected  Phase = "Unprotected"
	PhaseCardsWritten Phase = "CardsWritten"
	PhaseModeSet      Phase = "ModeSet"
	PhaseProtected    Phase = "Protected"
	PhasePersisted    Phase = "Persisted"
	PhaseVerified     Phase = "Verified"
	PhaseAborted      Phase = "Aborted"
)

// Step names the command group a failure happened in.
type Step string

const (
	StepConnect   Step = "connect"
	StepUnprotect Step = "unprotect"
	StepCards     Step = "cards"
	StepMode      Step = "mode"
	StepProtect   Step = "protect"
	StepPersist   Step = "persist"
	StepVerify    Step = "verify"
	StepTime      Step = "time"
	StepMeasure   Step = "measure"
)

// CardStatus is the outcome for one card.
type CardStatus string

const (
	CardOK         CardStatus = "ok"
	CardParseError CardStatus = "parse_error"
	CardSendError  CardStatus = "send_error"
	CardIOError    CardStatus = "io_error"
)

// Overall is the aggregate outcome for one box.
type Overall string

const (
	OverallOK      Overall = "ok"
	OverallPartial Overall = "partial"
	OverallDead    Overall = "dead"
)

// CardResult holds the outcome for one card of a box.
type CardResult struct {
	Host   string     `json:"host"`
	Card   int        `json:"card"`
	Slot   int        `json:"slot"`
	Status CardStatus `json:"status"`
	// MissingChannels lists the channels without correction values when
	// Status is CardParseError.
	MissingChannels []int               `json:"missingChannels,omitempty"`
	Failure         session.FailureKind `json:"failure,omitempty"`
}

// Result is the aggregate outcome for one box.
type Result struct {
	Box     Box          `json:"box"`
	Mode    Mode         `json:"mode"`
	Phase   Phase        `json:"phase"`
	Overall Overall      `json:"overall"`
	Cards   []CardResult `json:"cards"`

	// FailedStep and Failure describe why the box was aborted.
	FailedStep Step                `json:"failedStep,omitempty"`
	Failure    session.FailureKind `json:"failure,omitempty"`
	// Err is set when the box could not be reached at all.
	Err error `json:"-"`

	// Listing is the verbatim reply of "eemem print".
	Listing  string        `json:"listing,omitempty"`
	Warnings []string      `json:"warnings,omitempty"`
	Duration time.Duration `json:"duration"`
}

// NewResult returns an empty result for b.
func NewResult(b Box, mode Mode) Result {
	return Result{
		Box:   b,
		Mode:  mode,
		Phase: PhaseIdle,
	}
}

// Abort moves the result to the terminal phase.
func (r *Result) Abort(step Step, kind session.FailureKind) {
	r.Phase = PhaseAborted
	r.FailedStep = step
	r.Failure = kind
	r.Overall = OverallDead
}

// Finish derives Overall from the card outcomes unless the box was aborted.
func (r *Result) Finish() {
	if r.Phase == PhaseAborted {
		r.Overall = OverallDead
		return
	}
	r.Overall = OverallOK
	for _, c := range r.Cards {
		if c.Status != CardOK {
			r.Overall = OverallPartial
			return
		}
	}
}

// CardStatuses returns the status of every handled card keyed by card
// number.
func (r Result) CardStatuses() map[int]CardStatus {
	m := make(map[int]CardStatus, len(r.Cards))
	for _, c := range r.Cards {
		m[c.Card] = c.Status
	}
	return m
}

// CountCards returns how many cards ended with status s.
func (r Result) CountCards(s CardStatus) int {
	n := 0
	for _, c := range r.Cards {
		if c.Status == s {
			n++
		}
	}
	return n
}
