package main

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/a2cb/cbhv/pkg/box"
	"github.com/a2cb/cbhv/pkg/config"
	"github.com/a2cb/cbhv/pkg/fleet"
	"github.com/a2cb/cbhv/pkg/session"
	"github.com/a2cb/cbhv/pkg/version"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	require.Equal(t, fmt.Sprintf("%s %s\n", version.Version, version.GitCommit), out)
}

// serveBox accepts one connection and answers every line with a prompt.
func serveBox(t *testing.T) (port int, received func() []string) {
	t.Helper()
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
		if _, err := c.Write([]byte(">")); err != nil {
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

	return ln.Addr().(*net.TCPAddr).Port, func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), lines...)
	}
}

func writeTestConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "cbhv.yaml")
	content := "settleDelay: 0s\ntimeouts:\n  banner: 2s\n  command: 2s\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestResetCommand(t *testing.T) {
	dir := t.TempDir()
	port, received := serveBox(t)

	out, err := execute(t, "reset",
		"--config", writeTestConfig(t, dir),
		"--lock-file", filepath.Join(dir, "cbhv.lock"),
		"--prefix", "127.0.0.%d",
		"--port", fmt.Sprint(port),
		"-b", "1",
	)
	require.NoError(t, err)

	require.Contains(t, out, "Start connecting to the CBHV boxes")
	require.Contains(t, out, "[ok] 127.0.0.1")
	require.Contains(t, out, "1 ok, 0 partial, 0 dead")
	require.Contains(t, out, "Done!")

	require.Eventually(t, func() bool { return len(received()) == 15 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, "eemem add REG off", received()[11])
}

func TestResetIgnoresInput(t *testing.T) {
	hook := test.NewGlobal()
	defer logrus.StandardLogger().ReplaceHooks(make(logrus.LevelHooks))

	dir := t.TempDir()
	port, received := serveBox(t)

	_, err := execute(t, "reset",
		"--config", writeTestConfig(t, dir),
		"--lock-file", filepath.Join(dir, "cbhv.lock"),
		"--prefix", "127.0.0.%d",
		"--port", fmt.Sprint(port),
		"-b", "1",
		"-i", filepath.Join(dir, "missing.txt"),
	)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(received()) == 15 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, "eemem add M0 0,0,0,0,0,0,0,0", received()[1])

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && strings.Contains(e.Message, "will be ignored") {
			warned = true
		}
	}
	require.True(t, warned)
}

func TestBadPrefix(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "reset",
		"--config", writeTestConfig(t, dir),
		"--lock-file", filepath.Join(dir, "cbhv.lock"),
		"--prefix", "cbhv",
	)
	require.ErrorIs(t, err, box.ErrBadTemplate)

	var out bytes.Buffer
	handleCmdError(&out, pkgerrors.Wrap(box.ErrBadTemplate, "invalid configuration"))
	require.Contains(t, out.String(), `like "cbhv%02d"`)
}

func TestConfigSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "saved.yaml")

	_, err := execute(t, "config", "save", path,
		"--config", writeTestConfig(t, dir),
		"-b", "2,3",
		"--port", "2323",
	)
	require.NoError(t, err)

	f, err := config.NewFile(path)
	require.NoError(t, err)
	require.Equal(t, []int{2, 3}, f.Boxes())
	require.Equal(t, 2323, f.Port())
	require.Equal(t, time.Duration(0), f.SettleDelay())
	require.Equal(t, 2*time.Second, f.CommandTimeout())
	require.Equal(t, 40*time.Second, f.PersistTimeout())

	_, err = execute(t, "config", "save")
	require.Error(t, err)
}

func TestCalibrateSaveConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir)

	// Nothing listens on the port, so the box is dead right away.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	out, err := execute(t, "calibrate",
		"--config", cfgPath,
		"--lock-file", filepath.Join(dir, "cbhv.lock"),
		"--prefix", "127.0.0.%d",
		"--port", fmt.Sprint(port),
		"-b", "1",
		"-o", filepath.Join(dir, "cali"),
		"-f",
		"--range", "1400,1420",
		"-s", "5",
		"--save-config",
	)
	require.NoError(t, err)
	require.Contains(t, out, "0 ok, 0 partial, 1 dead")

	f, err := config.NewFile(cfgPath)
	require.NoError(t, err)
	cal := f.Calibration()
	require.Equal(t, 1400, cal.RangeMin)
	require.Equal(t, 1420, cal.RangeMax)
	require.Equal(t, 5, cal.Stepping)
	require.Equal(t, filepath.Join(dir, "cali", "karte007.txt"), cal.OutputPath(7))
	require.Equal(t, []int{1}, f.Boxes())
}

func TestSetCommandWithoutValues(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "HV_gains_offsets.txt")
	require.NoError(t, os.WriteFile(input, []byte("# no values\n"), 0o644))

	_, err := execute(t, "set",
		"--config", writeTestConfig(t, dir),
		"--lock-file", filepath.Join(dir, "cbhv.lock"),
		"-i", input,
		"-b", "1",
	)
	require.ErrorIs(t, err, fleet.ErrNoCorrections)
}

func TestLockHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cbhv.lock")
	lock, err := acquireLock(path)
	require.NoError(t, err)
	defer func() { _ = lock.Unlock() }()

	_, err = acquireLock(path)
	require.True(t, errors.Is(err, errLocked), "err = %v", err)
}

func TestCheckOutputDir(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, checkOutputDir(dir, false))

	missing := filepath.Join(dir, "a", "b")
	require.Error(t, checkOutputDir(missing, false))
	require.NoError(t, checkOutputDir(missing, true))
	fi, err := os.Stat(missing)
	require.NoError(t, err)
	require.True(t, fi.IsDir())

	file := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	require.Error(t, checkOutputDir(file, true))
}

func TestRenderReport(t *testing.T) {
	b1, _ := box.New(1, box.DefaultHostTemplate)
	b4, _ := box.New(4, box.DefaultHostTemplate)

	ok := box.NewResult(b1, box.ModeApply)
	ok.Phase = box.PhaseVerified
	ok.Cards = []box.CardResult{{Card: 1, Status: box.CardOK}, {Card: 2, Status: box.CardOK}}
	ok.Finish()

	dead := box.NewResult(b4, box.ModeApply)
	dead.Abort(box.StepPersist, session.FailureTimeout)

	out := renderReport(&fleet.Report{
		RunID:   "run-1",
		Results: []box.Result{ok, dead},
		Skipped: []int{5},
		OK:      1,
		Dead:    1,
	})

	require.Contains(t, out, "cbhv01")
	require.Contains(t, out, "2/2 ok")
	require.Contains(t, out, "cbhv04")
	require.Contains(t, out, "persist: timeout")
	require.Contains(t, out, "1 ok, 0 partial, 1 dead, 1 skipped [5]")
	require.Contains(t, out, "run-1")
}
