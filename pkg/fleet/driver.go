package fleet

import (
	"context"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/a2cb/cbhv/pkg/box"
	"github.com/a2cb/cbhv/pkg/calibration"
	"github.com/a2cb/cbhv/pkg/corrections"
	"github.com/a2cb/cbhv/pkg/events"
	"github.com/a2cb/cbhv/pkg/session"
)

var (
	// ErrNoBoxes is returned when a run is started without any box.
	ErrNoBoxes = pkgerrors.New("no boxes provided")
	// ErrNoCorrections is returned when values should be applied but the
	// correction table has no entry.
	ErrNoCorrections = pkgerrors.New("no correction values available")
)

// Conn is an open connection to a box.
type Conn interface {
	box.Commander
	Close() error
}

// OpenFunc connects to host.
type OpenFunc func(ctx context.Context, host string) (Conn, error)

// BoxFunc runs the job of a run against one box.
type BoxFunc func(ctx context.Context, cmd box.Commander, b box.Box) box.Result

// SessionOpener returns an OpenFunc backed by telnet sessions.
func SessionOpener(opts ...session.Option) OpenFunc {
	return func(ctx context.Context, host string) (Conn, error) {
		return session.Open(ctx, host, opts...)
	}
}

// Driver runs a job over boxes. Run must not be called concurrently on the
// same Driver.
type Driver struct {
	mode        box.Mode
	job         BoxFunc
	open        OpenFunc
	template    string
	parallelism int
	hub         *events.EventHub
	log         *logrus.Entry

	runID string
}

// Option configures a Driver.
type Option func(*Driver)

// WithOpener sets how connections are opened. The default opens telnet
// sessions with default settings.
func WithOpener(open OpenFunc) Option {
	return func(d *Driver) {
		if open != nil {
			d.open = open
		}
	}
}

// WithHostTemplate sets the printf template turning a box index into its
// host name.
func WithHostTemplate(template string) Option {
	return func(d *Driver) {
		if template != "" {
			d.template = template
		}
	}
}

// WithParallelism sets how many boxes are handled at once.
func WithParallelism(n int) Option {
	return func(d *Driver) {
		if n > 0 {
			d.parallelism = n
		}
	}
}

// WithEventHub publishes progress events on hub.
func WithEventHub(hub *events.EventHub) Option {
	return func(d *Driver) {
		d.hub = hub
	}
}

// WithLogger sets the base logger.
func WithLogger(l *logrus.Entry) Option {
	return func(d *Driver) {
		if l != nil {
			d.log = l
		}
	}
}

// NewDriver returns a driver running job in mode.
func NewDriver(mode box.Mode, job BoxFunc, opts ...Option) *Driver {
	d := &Driver{
		mode:        mode,
		job:         job,
		open:        SessionOpener(),
		template:    box.DefaultHostTemplate,
		parallelism: 1,
		log:         logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// NewConfigureDriver returns a driver writing correction values (apply) or
// zeros (reset) to every box.
func NewConfigureDriver(mode box.Mode, table *corrections.Table, cfgOpts []box.ConfiguratorOption, opts ...Option) (*Driver, error) {
	if mode == box.ModeApply && table.Len() == 0 {
		return nil, ErrNoCorrections
	}

	d := NewDriver(mode, nil, opts...)
	cfgOpts = append(cfgOpts, box.WithLogger(d.log), box.WithCardCallback(d.cardFinished))
	c, err := box.NewConfigurator(mode, table, cfgOpts...)
	if err != nil {
		return nil, err
	}
	d.job = c.Configure
	return d, nil
}

// NewMeasureDriver returns a driver running the correction measurement on
// every box.
func NewMeasureDriver(settings calibration.Settings, mOpts []calibration.Option, opts ...Option) (*Driver, error) {
	d := NewDriver(box.ModeCalibrate, nil, opts...)
	mOpts = append(mOpts, calibration.WithLogger(d.log), calibration.WithCardCallback(d.cardFinished))
	m, err := calibration.NewMeasurer(settings, mOpts...)
	if err != nil {
		return nil, err
	}
	d.job = m.Measure
	return d, nil
}

// Mode returns the mode of the run.
func (d *Driver) Mode() box.Mode {
	return d.mode
}

// Run handles the boxes with the given indices and returns the report.
//
// Device failures never make Run fail; they are part of the report. An
// error is returned when the run cannot start, or together with the
// partial report when ctx was canceled before all boxes were handled.
func (d *Driver) Run(ctx context.Context, indices []int) (*Report, error) {
	if len(indices) == 0 {
		return nil, ErrNoBoxes
	}
	if d.job == nil {
		return nil, pkgerrors.Errorf("no job for mode %s", d.mode)
	}

	boxes := make([]box.Box, 0, len(indices))
	for _, idx := range indices {
		b, err := box.New(idx, d.template)
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "box %d", idx)
		}
		boxes = append(boxes, b)
	}

	d.runID = uuid.NewString()
	report := &Report{
		RunID:   d.runID,
		Mode:    d.mode,
		Started: time.Now(),
	}
	log := d.log.WithField("run", d.runID)
	log.WithFields(logrus.Fields{
		"mode":        d.mode,
		"boxes":       indices,
		"parallelism": d.parallelism,
	}).Info("start connecting to the boxes")
	d.hub.Publish(events.RunStarted, events.RunStartedEvent{
		RunID: d.runID,
		Mode:  string(d.mode),
		Boxes: indices,
		Ts:    time.Now().Unix(),
	})

	// One slot per box; a nil slot means the box was never started.
	results := make([]*box.Result, len(boxes))

	var g errgroup.Group
	g.SetLimit(d.parallelism)
	for i, b := range boxes {
		if ctx.Err() != nil {
			break
		}
		i, b := i, b
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			res := d.runBox(ctx, b, log)
			results[i] = &res
			return nil
		})
	}
	_ = g.Wait()

	for i, res := range results {
		if res == nil {
			report.Skipped = append(report.Skipped, boxes[i].Index)
			continue
		}
		report.add(*res)
	}
	report.Elapsed = time.Since(report.Started)

	d.hub.Publish(events.RunFinished, events.RunFinishedEvent{
		RunID:   d.runID,
		OK:      report.OK,
		Partial: report.Partial,
		Dead:    report.Dead,
		Ts:      time.Now().Unix(),
	})
	log.WithFields(logrus.Fields{
		"ok":      report.OK,
		"partial": report.Partial,
		"dead":    report.Dead,
		"skipped": len(report.Skipped),
		"elapsed": report.Elapsed.Round(time.Millisecond),
	}).Info("run finished")

	if err := ctx.Err(); err != nil {
		return report, pkgerrors.Wrap(err, "run interrupted")
	}
	return report, nil
}

func (d *Driver) runBox(ctx context.Context, b box.Box, log *logrus.Entry) box.Result {
	log = log.WithFields(logrus.Fields{
		"box":  b.Index,
		"host": b.Host,
	})
	log.Infof("connecting to box %s", b.Host)
	d.hub.Publish(events.BoxStarted, events.BoxStartedEvent{
		RunID: d.runID,
		Box:   b.Index,
		Host:  b.Host,
		Ts:    time.Now().Unix(),
	})

	start := time.Now()
	res := d.visit(ctx, b, log)
	res.Duration = time.Since(start)

	d.hub.Publish(events.BoxFinished, events.BoxFinishedEvent{
		RunID:      d.runID,
		Box:        b.Index,
		Host:       b.Host,
		Overall:    string(res.Overall),
		Phase:      string(res.Phase),
		FailedStep: string(res.FailedStep),
		Ts:         time.Now().Unix(),
	})
	return res
}

// visit opens the connection, runs the job and always closes the
// connection again.
func (d *Driver) visit(ctx context.Context, b box.Box, log *logrus.Entry) box.Result {
	conn, err := d.open(ctx, b.Host)
	if err != nil {
		res := box.NewResult(b, d.mode)
		res.Err = err
		kind := session.FailureConnectionClosed
		if ctx.Err() != nil {
			kind = session.FailureCanceled
		}
		res.Abort(box.StepConnect, kind)
		log.WithError(err).Warn("box may be dead, continue with next one")
		return res
	}
	defer func() {
		if err := conn.Close(); err != nil {
			log.WithError(err).Debug("failed to close telnet connection")
		}
		log.Debug("telnet connection closed")
	}()

	return d.job(ctx, conn, b)
}

func (d *Driver) cardFinished(cr box.CardResult) {
	d.hub.Publish(events.CardFinished, events.CardFinishedEvent{
		RunID:  d.runID,
		Box:    (cr.Card + box.CardsPerBox - 1) / box.CardsPerBox,
		Card:   cr.Card,
		Slot:   cr.Slot,
		Status: string(cr.Status),
		Ts:     time.Now().Unix(),
	})
}
