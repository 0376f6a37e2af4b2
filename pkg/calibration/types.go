package calibration

import (
	"fmt"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/a2cb/cbhv/pkg/box"
)

// Phase defines phases of a box measurement. It shares the type of
// box.Phase so a measured box reports through box.Result unchanged.
type Phase = box.Phase

const (
	PhaseIdle      Phase = box.PhaseIdle
	PhaseTimeSet   Phase = "TimeSet"
	PhaseMeasuring Phase = "Measuring"
	PhaseDone      Phase = "Done"
	PhaseError     Phase = box.PhaseAborted
)

const (
	DefaultOutputDir   = "./cbhv_corr_measuremt"
	DefaultFileName    = "karte%03d.txt"
	DefaultRangeMin    = 1300
	DefaultRangeMax    = 1650
	DefaultStepping    = 10
	DefaultWaitingTime = 3 * time.Second
)

// Header is the first line of every output file.
const Header = "Setpoint,Date,Level,CH0,CH1,CH2,CH3,CH4,CH5,CH6,CH7"

// Settings control one measurement run.
type Settings struct {
	// OutputPattern is a printf pattern formatted with the global card
	// number, e.g. "./cbhv_corr_measuremt/karte%03d.txt".
	OutputPattern string `json:"outputPattern"`
	// RangeMin and RangeMax bound the setpoints in volts, max exclusive.
	RangeMin int `json:"rangeMin"`
	RangeMax int `json:"rangeMax"`
	Stepping int `json:"stepping"`
	// WaitingTime is how long to wait between setting the voltages and
	// reading back the ADC.
	WaitingTime time.Duration `json:"waitingTime"`
}

// DefaultSettings returns the settings of a standard measurement.
func DefaultSettings() Settings {
	return Settings{
		OutputPattern: DefaultOutputDir + "/" + DefaultFileName,
		RangeMin:      DefaultRangeMin,
		RangeMax:      DefaultRangeMax,
		Stepping:      DefaultStepping,
		WaitingTime:   DefaultWaitingTime,
	}
}

// Validate checks the sweep and the output pattern.
func (s Settings) Validate() error {
	if s.RangeMin < 0 || s.RangeMax <= s.RangeMin {
		return pkgerrors.Errorf("invalid voltage range [%d, %d)", s.RangeMin, s.RangeMax)
	}
	if s.Stepping <= 0 {
		return pkgerrors.Errorf("invalid stepping %d", s.Stepping)
	}
	if s.WaitingTime < 0 {
		return pkgerrors.Errorf("invalid waiting time %s", s.WaitingTime)
	}
	if s.OutputPattern == "" {
		return pkgerrors.New("output file pattern is empty")
	}
	if p := fmt.Sprintf(s.OutputPattern, 1); strings.Contains(p, "%!") {
		return pkgerrors.Errorf("output file pattern %q must contain exactly one integer verb", s.OutputPattern)
	}
	return nil
}

// Setpoints returns the voltages of the sweep in ascending order.
func (s Settings) Setpoints() []int {
	if s.Stepping <= 0 {
		return nil
	}
	var points []int
	for v := s.RangeMin; v < s.RangeMax; v += s.Stepping {
		points = append(points, v)
	}
	return points
}

// OutputPath returns the output file of card.
func (s Settings) OutputPath(card int) string {
	return fmt.Sprintf(s.OutputPattern, card)
}
