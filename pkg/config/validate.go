package config

import (
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/a2cb/cbhv/pkg/box"
)

// Validate checks c before any box is contacted. A config error is fatal
// for the whole run.
func Validate(c Config) error {
	if _, err := box.HostName(c.HostTemplate(), 1); err != nil {
		return err
	}
	if p := c.Port(); p < 1 || p > 65535 {
		return pkgerrors.Errorf("invalid port %d", p)
	}
	boxes := c.Boxes()
	if len(boxes) == 0 {
		return pkgerrors.New("no boxes configured")
	}
	seen := make(map[int]bool, len(boxes))
	for _, b := range boxes {
		if b < 1 {
			return pkgerrors.Errorf("invalid box index %d", b)
		}
		if seen[b] {
			return pkgerrors.Errorf("box %d listed more than once", b)
		}
		seen[b] = true
	}
	if c.Parallelism() < 1 {
		return pkgerrors.Errorf("parallelism must be at least 1, got %d", c.Parallelism())
	}
	timeouts := []struct {
		name string
		d    time.Duration
	}{
		{"dial", c.DialTimeout()},
		{"banner", c.BannerTimeout()},
		{"command", c.CommandTimeout()},
		{"persist", c.PersistTimeout()},
	}
	for _, t := range timeouts {
		if t.d <= 0 {
			return pkgerrors.Errorf("%s timeout must be positive, got %s", t.name, t.d)
		}
	}
	if c.SettleDelay() < 0 {
		return pkgerrors.New("settle delay must not be negative")
	}
	return pkgerrors.Wrap(c.Calibration().Validate(), "calibration")
}
