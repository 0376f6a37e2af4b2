package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ziutek/telnet"
)

// Session is one telnet connection to one box.
//
// A Session is not safe for concurrent use. The connection is released by
// Close, which callers should defer right after a successful Open.
type Session struct {
	host   string
	conn   *telnet.Conn
	config Config
	log    *logrus.Entry

	// last holds the raw bytes of the most recent read, prompt included.
	last []byte
	// broken is set once the connection is known to be unusable.
	broken bool
	// stale is set while the reply to a timed out command is still owed.
	stale bool

	closeOnce sync.Once
	closeErr  error
}

// Open connects to host and drains the login banner up to the first
// prompt, so the reply of the first command is not polluted by banner
// text.
//
// Example:
//
//	s, err := session.Open(ctx, "cbhv01")
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//	out := s.SendCommand(ctx, "eemem print")
func Open(ctx context.Context, host string, opts ...Option) (*Session, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	log := cfg.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("host", host)

	addr := net.JoinHostPort(host, strconv.Itoa(cfg.Port))
	dialer := net.Dialer{Timeout: cfg.DialTimeout}
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectionError{Host: host, Err: err}
	}

	conn, err := telnet.NewConn(raw)
	if err != nil {
		_ = raw.Close()
		return nil, &ConnectionError{Host: host, Err: err}
	}

	s := &Session{
		host:   host,
		conn:   conn,
		config: cfg,
		log:    log,
	}

	if cfg.SettleDelay > 0 {
		t := time.NewTimer(cfg.SettleDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			_ = s.Close()
			return nil, &ConnectionError{Host: host, Err: ctx.Err()}
		case <-t.C:
		}
	}

	out := s.exchange(ctx, "", cfg.BannerTimeout)
	if !out.OK {
		_ = s.Close()
		return nil, &ConnectionError{Host: host, Err: fmt.Errorf("no prompt after connect: %s", out.Failure)}
	}
	s.logResponse(out.Response)
	log.Debug("connected")

	return s, nil
}

// Host returns the host name the session was opened for.
func (s *Session) Host() string {
	return s.host
}

// LastResponse returns the raw text of the most recent read, including the
// prompt. Partial data is kept when a read timed out.
func (s *Session) LastResponse() string {
	return string(s.last)
}

// SendCommand issues cmd and waits for the prompt using the default
// command timeout.
func (s *Session) SendCommand(ctx context.Context, cmd string) Outcome {
	return s.SendCommandTimeout(ctx, cmd, s.config.CommandTimeout)
}

// SendCommandTimeout issues cmd and waits at most timeout for the prompt.
// The terminator is appended if cmd does not already end with it.
func (s *Session) SendCommandTimeout(ctx context.Context, cmd string, timeout time.Duration) Outcome {
	log := s.log.WithField("command", strings.TrimSuffix(cmd, Terminator))

	if s.broken {
		log.Error("connection is closed, command not sent")
		return failure(FailureConnectionClosed)
	}

	if s.stale {
		if out := s.discardLate(ctx, timeout); !out.OK {
			log.WithField("timeout", timeout).Warn("previous reply still pending, command not sent")
			return out
		}
	}

	log.Debug("send")
	if !strings.HasSuffix(cmd, Terminator) {
		cmd += Terminator
	}

	out := s.exchange(ctx, cmd, timeout)
	if out.Failure == FailureTimeout {
		s.stale = true
	}
	switch out.Failure {
	case FailureNone:
		s.logResponse(out.Response)
	case FailureConnectionClosed:
		log.Error("telnet connection closed while sending command")
	case FailureTimeout:
		log.WithField("timeout", timeout).Warn("no prompt received before timeout")
	case FailureCanceled:
		log.Warn("command canceled")
	}

	return out
}

// Close releases the connection. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.broken = true
		s.closeErr = s.conn.Close()
		s.log.Debug("telnet connection closed")
	})
	return s.closeErr
}

// discardLate reads the reply of a timed out command up to its prompt, so
// the next command is not answered with it. It waits at most timeout; on
// failure nothing may be written and the reply stays owed.
func (s *Session) discardLate(ctx context.Context, timeout time.Duration) Outcome {
	out := s.exchange(ctx, "", timeout)
	if !out.OK {
		return out
	}
	s.stale = false
	s.log.WithField("response", out.Response).Debug("discarded late reply")
	return out
}

// exchange writes line (if any) and reads up to the next prompt.
func (s *Session) exchange(ctx context.Context, line string, timeout time.Duration) Outcome {
	if ctx.Err() != nil {
		s.broken = true
		return failure(FailureCanceled)
	}
	if timeout <= 0 {
		timeout = s.config.CommandTimeout
	}

	if err := s.conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return s.classify(ctx, err)
	}

	// A canceled context pulls the deadline in so a blocked read returns.
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetDeadline(time.Now())
	})
	defer stop()

	if line != "" {
		if _, err := s.conn.Write([]byte(line)); err != nil {
			return s.classify(ctx, err)
		}
	}

	buf, err := s.conn.ReadUntil(Prompt)
	s.last = buf
	if err != nil {
		return s.classify(ctx, err)
	}

	return success(clean(buf))
}

func (s *Session) classify(ctx context.Context, err error) Outcome {
	if ctx.Err() != nil {
		s.broken = true
		return failure(FailureCanceled)
	}

	var netErr net.Error
	if errors.Is(err, os.ErrDeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return failure(FailureTimeout)
	}

	s.broken = true
	return failure(FailureConnectionClosed)
}

func (s *Session) logResponse(response string) {
	if response == "" {
		response = "empty"
	}
	s.log.Debugf("telnet response: %s", response)
}

// clean strips the trailing terminator and prompt characters as well as
// surrounding whitespace.
func clean(raw []byte) string {
	return strings.TrimSpace(strings.TrimRight(string(raw), "\r\n"+Prompt))
}
