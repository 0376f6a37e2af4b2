package calibration

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/a2cb/cbhv/pkg/box"
	"github.com/a2cb/cbhv/pkg/corrections"
	"github.com/a2cb/cbhv/pkg/session"
)

// Measurer sweeps the cards of a box and stores the readout.
type Measurer struct {
	settings Settings
	log      *logrus.Entry
	now      func() time.Time
	onCard   func(box.CardResult)
}

// Option configures a Measurer.
type Option func(*Measurer)

// WithLogger sets the base logger.
func WithLogger(l *logrus.Entry) Option {
	return func(m *Measurer) {
		if l != nil {
			m.log = l
		}
	}
}

// WithClock sets the time source used for the board clock.
func WithClock(now func() time.Time) Option {
	return func(m *Measurer) {
		if now != nil {
			m.now = now
		}
	}
}

// WithCardCallback registers fn to be called after every card.
func WithCardCallback(fn func(box.CardResult)) Option {
	return func(m *Measurer) {
		m.onCard = fn
	}
}

// NewMeasurer validates s and returns a Measurer.
func NewMeasurer(s Settings, opts ...Option) (*Measurer, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	m := &Measurer{
		settings: s,
		log:      logrus.NewEntry(logrus.StandardLogger()),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Settings returns the settings of m.
func (m *Measurer) Settings() Settings {
	return m.settings
}

// Measure sets the board clock of b and runs the sweep on all its cards.
func (m *Measurer) Measure(ctx context.Context, cmd box.Commander, b box.Box) box.Result {
	res := box.NewResult(b, box.ModeCalibrate)
	log := m.log.WithFields(logrus.Fields{
		"box":  b.Index,
		"host": b.Host,
		"mode": box.ModeCalibrate,
	})

	out := cmd.SendCommand(ctx, timeCommand(m.now()))
	if !out.OK {
		res.Abort(box.StepTime, out.Failure)
		log.WithField("failure", out.Failure).Warn("box may be dead, continue with next one")
		return res
	}
	m.transition(&res, log, PhaseTimeSet)

	log.Info("start measuring correction values, this will take some time")
	m.transition(&res, log, PhaseMeasuring)
	for _, card := range b.Cards() {
		if ctx.Err() != nil {
			res.Abort(box.StepMeasure, session.FailureCanceled)
			log.Warn("measurement canceled")
			return res
		}

		cr, kind := m.measureCard(ctx, cmd, b, card, log)
		res.Cards = append(res.Cards, cr)
		if m.onCard != nil {
			m.onCard(cr)
		}
		if kind != session.FailureNone {
			res.Abort(box.StepMeasure, kind)
			log.WithField("failure", kind).Warn("box may be dead, continue with next one")
			return res
		}
	}

	m.transition(&res, log, PhaseDone)
	res.Finish()
	log.WithField("overall", res.Overall).Info("box measured")
	return res
}

func (m *Measurer) transition(res *box.Result, log *logrus.Entry, to Phase) {
	log.WithFields(logrus.Fields{"from": res.Phase, "to": to}).Debug("phase transition")
	res.Phase = to
}

// measureCard returns the card result and, when the session became
// unusable, the failure that should abort the box.
func (m *Measurer) measureCard(ctx context.Context, cmd box.Commander, b box.Box, card box.Card,
	log *logrus.Entry) (cr box.CardResult, kind session.FailureKind) {
	cr = box.CardResult{
		Host:   b.Host,
		Card:   card.Number,
		Slot:   card.Slot,
		Status: box.CardOK,
	}
	path := m.settings.OutputPath(card.Number)
	log = log.WithFields(logrus.Fields{
		"card": card.Number,
		"slot": card.Slot,
		"file": path,
	})
	log.Debug("handling card")

	f, err := create(path)
	if err != nil {
		log.WithError(err).Error("failed to create output file, card skipped")
		cr.Status = box.CardIOError
		return cr, session.FailureNone
	}
	defer func() {
		if err := f.Close(); err != nil {
			log.WithError(err).Warn("failed to close output file")
			cr.Status = box.CardIOError
		}
	}()

	if _, err := fmt.Fprintln(f, Header); err != nil {
		log.WithError(err).Error("failed to write output file, card skipped")
		cr.Status = box.CardIOError
		return cr, session.FailureNone
	}

	for _, v := range m.settings.Setpoints() {
		for ch := 0; ch < corrections.ChannelsPerCard; ch++ {
			out := cmd.SendCommand(ctx, setVoltageCommand(card.Slot, ch, v))
			if out.OK {
				continue
			}
			if fatal(out.Failure) {
				cr.Status = box.CardSendError
				cr.Failure = out.Failure
				return cr, out.Failure
			}
			log.WithFields(logrus.Fields{"channel": ch, "setpoint": v}).Warn("failed to set voltage")
		}

		if !sleep(ctx, m.settings.WaitingTime) {
			cr.Status = box.CardSendError
			cr.Failure = session.FailureCanceled
			return cr, session.FailureCanceled
		}

		out := cmd.SendCommand(ctx, readCommand(card.Slot))
		if !out.OK {
			cr.Status = box.CardSendError
			cr.Failure = out.Failure
			if fatal(out.Failure) {
				return cr, out.Failure
			}
			log.WithField("setpoint", v).Error("no response from card")
			continue
		}
		if _, err := fmt.Fprintln(f, out.Response); err != nil {
			log.WithError(err).Error("failed to write output file, card skipped")
			cr.Status = box.CardIOError
			return cr, session.FailureNone
		}
	}

	return cr, session.FailureNone
}

// fatal reports whether kind leaves the session unusable.
func fatal(kind session.FailureKind) bool {
	return kind == session.FailureConnectionClosed || kind == session.FailureCanceled
}

func create(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return os.Create(path)
}

// sleep waits d or until ctx is done. It reports whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func timeCommand(now time.Time) string {
	return "time " + now.Format("15 04 05 02 01 2006")
}

func setVoltageCommand(slot, channel, millivolts int) string {
	return fmt.Sprintf("SetVpmF %d %d %d", slot, channel, millivolts)
}

func readCommand(slot int) string {
	return fmt.Sprintf("read_adc csv2L %d", slot)
}
