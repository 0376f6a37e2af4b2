package config

import (
	"time"

	"github.com/a2cb/cbhv/pkg/calibration"
)

// Config holds everything a run needs besides the command line mode.
type Config interface {
	HostTemplate() string
	Port() int
	Boxes() []int
	CorrectionFile() string
	Parallelism() int
	LockFile() string
	DialTimeout() time.Duration
	BannerTimeout() time.Duration
	CommandTimeout() time.Duration
	PersistTimeout() time.Duration
	SettleDelay() time.Duration
	Calibration() calibration.Settings

	SetHostTemplate(string)
	SetPort(int)
	SetBoxes([]int)
	SetCorrectionFile(string)
	SetParallelism(int)
	SetLockFile(string)
	SetCalibration(calibration.Settings)

	// Load reads the configuration from the source.
	Load() error
	// Save saves the configuration to the source.
	Save() error
}
