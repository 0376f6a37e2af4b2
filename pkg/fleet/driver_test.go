package fleet

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/a2cb/cbhv/pkg/box"
	"github.com/a2cb/cbhv/pkg/calibration"
	"github.com/a2cb/cbhv/pkg/corrections"
	"github.com/a2cb/cbhv/pkg/events"
	"github.com/a2cb/cbhv/pkg/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeConn struct {
	host   string
	mu     sync.Mutex
	sent   []string
	closed atomic.Int32
	fail   map[string]session.FailureKind
}

func (c *fakeConn) SendCommand(ctx context.Context, cmd string) session.Outcome {
	return c.SendCommandTimeout(ctx, cmd, 0)
}

func (c *fakeConn) SendCommandTimeout(_ context.Context, cmd string, _ time.Duration) session.Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, cmd)
	if kind, ok := c.fail[cmd]; ok {
		return session.Outcome{Failure: kind}
	}
	return session.Outcome{OK: true}
}

func (c *fakeConn) Close() error {
	c.closed.Add(1)
	return nil
}

// fakeFleet hands out one fakeConn per host and refuses unreachable hosts.
type fakeFleet struct {
	mu          sync.Mutex
	conns       map[string]*fakeConn
	unreachable map[string]bool
	fail        map[string]map[string]session.FailureKind
	opened      []string
}

func newFakeFleet() *fakeFleet {
	return &fakeFleet{
		conns:       map[string]*fakeConn{},
		unreachable: map[string]bool{},
		fail:        map[string]map[string]session.FailureKind{},
	}
}

func (f *fakeFleet) open(_ context.Context, host string) (Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, host)
	if f.unreachable[host] {
		return nil, &session.ConnectionError{Host: host, Err: errors.New("connection refused")}
	}
	c := &fakeConn{host: host, fail: f.fail[host]}
	f.conns[host] = c
	return c, nil
}

func resetDriver(t *testing.T, f *fakeFleet, opts ...Option) *Driver {
	t.Helper()
	d, err := NewConfigureDriver(box.ModeReset, nil, nil, append([]Option{WithOpener(f.open)}, opts...)...)
	require.NoError(t, err)
	return d
}

func TestRunIsolatesDeadBoxes(t *testing.T) {
	f := newFakeFleet()
	f.unreachable["cbhv02"] = true
	f.fail["cbhv03"] = map[string]session.FailureKind{"eemem unprotect": session.FailureTimeout}

	report, err := resetDriver(t, f).Run(context.Background(), []int{1, 2, 3, 4})
	require.NoError(t, err)

	require.Equal(t, []string{"cbhv01", "cbhv02", "cbhv03", "cbhv04"}, f.opened)
	require.Equal(t, 2, report.OK)
	require.Equal(t, 2, report.Dead)
	require.Equal(t, []string{"cbhv02", "cbhv03"}, report.DeadHosts())
	require.NotEmpty(t, report.RunID)

	unreachable, ok := report.Result(2)
	require.True(t, ok)
	require.Equal(t, box.StepConnect, unreachable.FailedStep)
	var connErr *session.ConnectionError
	require.ErrorAs(t, unreachable.Err, &connErr)

	for host, c := range f.conns {
		require.EqualValues(t, 1, c.closed.Load(), "%s closed", host)
	}
	require.Equal(t, []string{"eemem unprotect"}, f.conns["cbhv03"].sent)
	require.Len(t, f.conns["cbhv04"].sent, 15)
}

func TestRunResultsOrderedWithParallelism(t *testing.T) {
	f := newFakeFleet()
	indices := []int{5, 1, 9, 3, 7, 2}

	report, err := resetDriver(t, f, WithParallelism(3)).Run(context.Background(), indices)
	require.NoError(t, err)

	var got []int
	for _, res := range report.Results {
		got = append(got, res.Box.Index)
	}
	if diff := cmp.Diff(indices, got); diff != "" {
		t.Errorf("result order mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, len(indices), report.OK)
	require.Len(t, f.opened, len(indices))
}

func TestRunCanceledBetweenBoxes(t *testing.T) {
	f := newFakeFleet()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := NewDriver(box.ModeReset, func(ctx context.Context, cmd box.Commander, b box.Box) box.Result {
		res := box.NewResult(b, box.ModeReset)
		res.Phase = box.PhaseVerified
		res.Finish()
		if b.Index == 2 {
			cancel()
		}
		return res
	}, WithOpener(f.open))

	report, err := d.Run(ctx, []int{1, 2, 3, 4})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)

	require.Equal(t, []string{"cbhv01", "cbhv02"}, f.opened)
	require.Equal(t, []int{3, 4}, report.Skipped)
	require.Equal(t, 2, report.OK)
	for _, c := range f.conns {
		require.EqualValues(t, 1, c.closed.Load())
	}
}

func TestRunRejects(t *testing.T) {
	f := newFakeFleet()

	_, err := resetDriver(t, f).Run(context.Background(), nil)
	require.ErrorIs(t, err, ErrNoBoxes)

	_, err = resetDriver(t, f, WithHostTemplate("cbhv")).Run(context.Background(), []int{1})
	require.ErrorIs(t, err, box.ErrBadTemplate)

	_, err = NewConfigureDriver(box.ModeApply, corrections.Load(nil), nil, WithOpener(f.open))
	require.ErrorIs(t, err, ErrNoCorrections)

	require.Empty(t, f.opened)
}

func TestRunPublishesEvents(t *testing.T) {
	f := newFakeFleet()
	hub := events.NewEventHub()
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)

	report, err := resetDriver(t, f, WithEventHub(hub)).Run(context.Background(), []int{4})
	require.NoError(t, err)

	var names []string
	var cards []events.CardFinishedEvent
	for len(ch) > 0 {
		ev := <-ch
		names = append(names, ev.Name)
		if ev.Name == events.CardFinished {
			cf, err := events.DecodeAs[events.CardFinishedEvent](ev)
			require.NoError(t, err)
			cards = append(cards, cf)
		}
	}

	want := []string{events.RunStarted, events.BoxStarted}
	for i := 0; i < box.CardsPerBox; i++ {
		want = append(want, events.CardFinished)
	}
	want = append(want, events.BoxFinished, events.RunFinished)
	require.Equal(t, want, names)

	require.Equal(t, 16, cards[0].Card)
	require.Equal(t, 4, cards[0].Box)
	require.Equal(t, 4, cards[4].Box)
	require.Equal(t, report.RunID, cards[0].RunID)
}

func TestMeasureDriver(t *testing.T) {
	f := newFakeFleet()
	s := calibration.Settings{
		OutputPattern: t.TempDir() + "/karte%03d.txt",
		RangeMin:      1300,
		RangeMax:      1310,
		Stepping:      10,
	}
	d, err := NewMeasureDriver(s, nil, WithOpener(f.open))
	require.NoError(t, err)
	require.Equal(t, box.ModeCalibrate, d.Mode())

	report, err := d.Run(context.Background(), []int{1})
	require.NoError(t, err)
	require.Equal(t, 1, report.OK)
	require.True(t, strings.HasPrefix(f.conns["cbhv01"].sent[0], "time "))
}

// TestResetOverTelnet runs a reset against a loopback box speaking the
// prompt protocol.
func TestResetOverTelnet(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		lines []string
		wg    sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		if _, err := c.Write([]byte("CB HV\r\n>")); err != nil {
			return
		}
		r := bufio.NewReader(c)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			mu.Lock()
			lines = append(lines, strings.TrimSpace(line))
			mu.Unlock()
			if _, err := c.Write([]byte("ok\r\n>")); err != nil {
				return
			}
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		wg.Wait()
	})

	port := ln.Addr().(*net.TCPAddr).Port
	d, err := NewConfigureDriver(box.ModeReset, nil, nil,
		WithHostTemplate("127.0.0.%d"),
		WithOpener(SessionOpener(
			session.WithPort(port),
			session.WithSettleDelay(0),
			session.WithBannerTimeout(2*time.Second),
			session.WithCommandTimeout(2*time.Second),
		)),
	)
	require.NoError(t, err)

	report, err := d.Run(context.Background(), []int{1})
	require.NoError(t, err)
	require.Equal(t, 1, report.OK, "%+v", report.Results)

	// the session is closed once Run returns, so the server loop ends
	wg.Wait()
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, lines, 15)
	require.Equal(t, "eemem unprotect", lines[0])
	require.Equal(t, "eemem print", lines[14])
}
