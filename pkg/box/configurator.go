package box

import (
	"context"
	"fmt"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/a2cb/cbhv/pkg/corrections"
	"github.com/a2cb/cbhv/pkg/session"
)

// DefaultPersistTimeout bounds read_config, which writes the EEPROM and is
// much slower than any other command.
const DefaultPersistTimeout = 40 * time.Second

const (
	cmdUnprotect = "eemem unprotect"
	cmdProtect   = "eemem protect"
	cmdPersist   = "read_config"
	cmdPrint     = "eemem print"
)

// Commander is what the configurator needs from a box session.
type Commander interface {
	SendCommand(ctx context.Context, cmd string) session.Outcome
	SendCommandTimeout(ctx context.Context, cmd string, timeout time.Duration) session.Outcome
}

// Configurator writes correction values (or zeros) to a box and makes them
// persistent. One Configurator can serve many boxes concurrently; it holds
// no per-box state.
type Configurator struct {
	mode           Mode
	table          *corrections.Table
	persistTimeout time.Duration
	log            *logrus.Entry
	onCard         func(CardResult)
}

// ConfiguratorOption configures a Configurator.
type ConfiguratorOption func(*Configurator)

// WithPersistTimeout sets the timeout of the read_config step.
func WithPersistTimeout(d time.Duration) ConfiguratorOption {
	return func(c *Configurator) {
		if d > 0 {
			c.persistTimeout = d
		}
	}
}

// WithLogger sets the base logger. Box and card fields are added to it.
func WithLogger(l *logrus.Entry) ConfiguratorOption {
	return func(c *Configurator) {
		if l != nil {
			c.log = l
		}
	}
}

// WithCardCallback registers fn to be called after every card.
func WithCardCallback(fn func(CardResult)) ConfiguratorOption {
	return func(c *Configurator) {
		c.onCard = fn
	}
}

// NewConfigurator returns a configurator for mode. ModeApply needs a
// correction table.
func NewConfigurator(mode Mode, table *corrections.Table, opts ...ConfiguratorOption) (*Configurator, error) {
	switch mode {
	case ModeApply:
		if table == nil {
			return nil, pkgerrors.New("apply mode needs a correction table")
		}
	case ModeReset:
	default:
		return nil, pkgerrors.Errorf("mode %q cannot be configured", mode)
	}

	c := &Configurator{
		mode:           mode,
		table:          table,
		persistTimeout: DefaultPersistTimeout,
		log:            logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Mode returns the mode the configurator runs in.
func (c *Configurator) Mode() Mode {
	return c.mode
}

// Configure runs the whole transaction on b through cmd.
//
// The steps are strictly ordered: unprotect, write M/N for every card,
// toggle the correction loop, protect, persist, verify. A failed unprotect,
// mode toggle, protect or persist aborts the box. A failed card only
// degrades that card. A failed verify is a warning.
func (c *Configurator) Configure(ctx context.Context, cmd Commander, b Box) Result {
	res := NewResult(b, c.mode)
	log := c.log.WithFields(logrus.Fields{
		"box":  b.Index,
		"host": b.Host,
		"mode": c.mode,
	})

	if !c.step(ctx, cmd, &res, log, StepUnprotect, cmdUnprotect, 0, PhaseUnprotected) {
		return res
	}

	for _, card := range b.Cards() {
		if ctx.Err() != nil {
			res.Abort(StepCards, session.FailureCanceled)
			log.Warn("canceled while writing cards")
			return res
		}
		cr := c.writeCard(ctx, cmd, b, card, log)
		res.Cards = append(res.Cards, cr)
		if c.onCard != nil {
			c.onCard(cr)
		}
	}
	res.Phase = PhaseCardsWritten

	if !c.step(ctx, cmd, &res, log, StepMode, regCommand(c.mode == ModeApply), 0, PhaseModeSet) {
		return res
	}
	if !c.step(ctx, cmd, &res, log, StepProtect, cmdProtect, 0, PhaseProtected) {
		return res
	}
	if !c.step(ctx, cmd, &res, log, StepPersist, cmdPersist, c.persistTimeout, PhasePersisted) {
		return res
	}

	out := cmd.SendCommand(ctx, cmdPrint)
	if out.OK {
		res.Listing = out.Response
		res.Phase = PhaseVerified
		log.Infof("eemem print returned:\n%s", out.Response)
	} else {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %s", StepVerify, out.Failure))
		log.WithField("failure", out.Failure).Warn("box didn't respond after sending eemem print")
	}

	res.Finish()
	log.WithField("overall", res.Overall).Info("box configured")
	return res
}

// step sends one box level command and moves res to next on success. A
// zero timeout uses the session default.
func (c *Configurator) step(ctx context.Context, cmd Commander, res *Result, log *logrus.Entry,
	step Step, command string, timeout time.Duration, next Phase) bool {
	var out session.Outcome
	if timeout > 0 {
		out = cmd.SendCommandTimeout(ctx, command, timeout)
	} else {
		out = cmd.SendCommand(ctx, command)
	}

	if !out.OK {
		res.Abort(step, out.Failure)
		log.WithFields(logrus.Fields{
			"step":    step,
			"failure": out.Failure,
		}).Warn("box may be dead, continue with next one")
		return false
	}

	res.Phase = next
	return true
}

func (c *Configurator) writeCard(ctx context.Context, cmd Commander, b Box, card Card, log *logrus.Entry) CardResult {
	cr := CardResult{
		Host:   b.Host,
		Card:   card.Number,
		Slot:   card.Slot,
		Status: CardOK,
	}
	log = log.WithFields(logrus.Fields{
		"card": card.Number,
		"slot": card.Slot,
	})
	log.Debug("handling card")

	gains, offsets, missing := c.values(card.Number)
	if len(missing) > 0 {
		for _, ch := range missing {
			log.WithField("channel", ch).Error("no correction values found for channel")
		}
		log.Error("problem parsing values, card skipped")
		cr.Status = CardParseError
		cr.MissingChannels = missing
		return cr
	}

	// Both commands are always tried so one lost reply does not leave the
	// other half of the card unwritten.
	gainOut := cmd.SendCommand(ctx, gainCommand(card.Slot, gains))
	offsetOut := cmd.SendCommand(ctx, offsetCommand(card.Slot, offsets))

	switch {
	case !gainOut.OK:
		cr.Status = CardSendError
		cr.Failure = gainOut.Failure
	case !offsetOut.OK:
		cr.Status = CardSendError
		cr.Failure = offsetOut.Failure
	}
	if cr.Status != CardOK {
		log.WithField("failure", cr.Failure).Warn("card write failed, continue with next card")
	}

	return cr
}

// values returns the gain and offset lists of card. Reset mode always
// yields zeros.
func (c *Configurator) values(card int) (gains, offsets []string, missing []int) {
	gains = make([]string, 0, corrections.ChannelsPerCard)
	offsets = make([]string, 0, corrections.ChannelsPerCard)

	for ch := 0; ch < corrections.ChannelsPerCard; ch++ {
		if c.mode == ModeReset {
			gains = append(gains, "0")
			offsets = append(offsets, "0")
			continue
		}
		e, ok := c.table.Lookup(card, ch)
		if !ok {
			missing = append(missing, ch)
			continue
		}
		gains = append(gains, e.Gain)
		offsets = append(offsets, e.Offset)
	}

	return gains, offsets, missing
}

func gainCommand(slot int, gains []string) string {
	return fmt.Sprintf("eemem add M%d %s", slot, strings.Join(gains, ","))
}

func offsetCommand(slot int, offsets []string) string {
	return fmt.Sprintf("eemem add N%d %s", slot, strings.Join(offsets, ","))
}

func regCommand(on bool) string {
	if on {
		return "eemem add REG on"
	}
	return "eemem add REG off"
}
