package calibration

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/a2cb/cbhv/pkg/box"
	"github.com/a2cb/cbhv/pkg/session"
)

type scripted struct {
	sent []string
	// answer returns the outcome for cmd; nil means success with an echo.
	answer func(cmd string) *session.Outcome
}

func (s *scripted) SendCommand(ctx context.Context, cmd string) session.Outcome {
	return s.SendCommandTimeout(ctx, cmd, 0)
}

func (s *scripted) SendCommandTimeout(_ context.Context, cmd string, _ time.Duration) session.Outcome {
	s.sent = append(s.sent, cmd)
	if s.answer != nil {
		if out := s.answer(cmd); out != nil {
			return *out
		}
	}
	return session.Outcome{OK: true, Response: "adc " + cmd}
}

func testSettings(t *testing.T) Settings {
	t.Helper()
	return Settings{
		OutputPattern: filepath.Join(t.TempDir(), "out", "karte%03d.txt"),
		RangeMin:      1300,
		RangeMax:      1320,
		Stepping:      10,
	}
}

func fixedClock() time.Time {
	return time.Date(2024, time.March, 7, 9, 5, 3, 0, time.Local)
}

func mustBox(t *testing.T, index int) box.Box {
	t.Helper()
	b, err := box.New(index, box.DefaultHostTemplate)
	require.NoError(t, err)
	return b
}

func TestMeasureWritesOneFilePerCard(t *testing.T) {
	s := testSettings(t)
	m, err := NewMeasurer(s, WithClock(fixedClock))
	require.NoError(t, err)
	cmd := &scripted{}

	res := m.Measure(context.Background(), cmd, mustBox(t, 2))

	require.Equal(t, box.OverallOK, res.Overall)
	require.Equal(t, PhaseDone, res.Phase)
	require.Equal(t, "time 09 05 03 07 03 2024", cmd.sent[0])
	// per card: 2 setpoints * (8 SetVpmF + 1 read_adc)
	require.Len(t, cmd.sent, 1+box.CardsPerBox*2*9)
	require.Equal(t, "SetVpmF 0 0 1300", cmd.sent[1])
	require.Equal(t, "read_adc csv2L 0", cmd.sent[9])

	for card := 6; card <= 10; card++ {
		b, err := os.ReadFile(s.OutputPath(card))
		require.NoError(t, err)
		slot := card - 6
		want := Header + "\n" +
			fmt.Sprintf("adc read_adc csv2L %d\n", slot) +
			fmt.Sprintf("adc read_adc csv2L %d\n", slot)
		require.Equal(t, want, string(b))
	}
}

func TestMeasureTimeFailureIsDead(t *testing.T) {
	m, err := NewMeasurer(testSettings(t))
	require.NoError(t, err)
	cmd := &scripted{answer: func(string) *session.Outcome {
		return &session.Outcome{Failure: session.FailureTimeout}
	}}

	res := m.Measure(context.Background(), cmd, mustBox(t, 1))

	require.Len(t, cmd.sent, 1)
	require.Equal(t, box.OverallDead, res.Overall)
	require.Equal(t, box.StepTime, res.FailedStep)
	require.Equal(t, PhaseError, res.Phase)
}

func TestMeasureReadTimeoutSkipsSetpoint(t *testing.T) {
	s := testSettings(t)
	m, err := NewMeasurer(s)
	require.NoError(t, err)
	failed := false
	cmd := &scripted{answer: func(c string) *session.Outcome {
		if c == "read_adc csv2L 3" && !failed {
			failed = true
			return &session.Outcome{Failure: session.FailureTimeout}
		}
		return nil
	}}

	res := m.Measure(context.Background(), cmd, mustBox(t, 1))

	require.Equal(t, box.OverallPartial, res.Overall)
	require.Equal(t, box.CardSendError, res.CardStatuses()[4])
	b, err := os.ReadFile(s.OutputPath(4))
	require.NoError(t, err)
	require.Equal(t, 1, strings.Count(string(b), "adc read_adc"))
}

func TestMeasureConnectionClosedAbortsBox(t *testing.T) {
	m, err := NewMeasurer(testSettings(t))
	require.NoError(t, err)
	cmd := &scripted{answer: func(c string) *session.Outcome {
		if strings.HasPrefix(c, "SetVpmF 1 ") {
			return &session.Outcome{Failure: session.FailureConnectionClosed}
		}
		return nil
	}}

	res := m.Measure(context.Background(), cmd, mustBox(t, 1))

	require.Equal(t, box.OverallDead, res.Overall)
	require.Equal(t, box.StepMeasure, res.FailedStep)
	require.Len(t, res.Cards, 2)
	require.Equal(t, "SetVpmF 1 0 1300", cmd.sent[len(cmd.sent)-1])
}

func TestMeasureUnwritableOutput(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	s := testSettings(t)
	s.OutputPattern = filepath.Join(blocker, "karte%03d.txt")
	m, err := NewMeasurer(s)
	require.NoError(t, err)
	cmd := &scripted{}

	res := m.Measure(context.Background(), cmd, mustBox(t, 1))

	require.Equal(t, box.OverallPartial, res.Overall)
	require.Equal(t, box.CardsPerBox, res.CountCards(box.CardIOError))
	require.Len(t, cmd.sent, 1)
	require.True(t, strings.HasPrefix(cmd.sent[0], "time "))
}

func TestMeasureCanceledDuringWait(t *testing.T) {
	s := testSettings(t)
	s.WaitingTime = time.Hour
	m, err := NewMeasurer(s)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	res := m.Measure(ctx, &scripted{}, mustBox(t, 1))

	require.Less(t, time.Since(start), 10*time.Second)
	require.Equal(t, box.OverallDead, res.Overall)
	require.Equal(t, session.FailureCanceled, res.Failure)
}

func TestSettings(t *testing.T) {
	s := DefaultSettings()
	require.NoError(t, s.Validate())
	points := s.Setpoints()
	require.Len(t, points, 35)
	require.Equal(t, 1300, points[0])
	require.Equal(t, 1640, points[len(points)-1])
	require.Equal(t, "./cbhv_corr_measuremt/karte016.txt", s.OutputPath(16))

	bad := []Settings{
		{OutputPattern: "k%d", RangeMin: 10, RangeMax: 10, Stepping: 1},
		{OutputPattern: "k%d", RangeMin: 0, RangeMax: 10, Stepping: 0},
		{OutputPattern: "karte.txt", RangeMin: 0, RangeMax: 10, Stepping: 1},
		{OutputPattern: "", RangeMin: 0, RangeMax: 10, Stepping: 1},
	}
	for _, b := range bad {
		require.Error(t, b.Validate(), "%+v", b)
	}
}
