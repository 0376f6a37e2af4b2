package session

import (
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultPort is the telnet port of the boxes.
	DefaultPort = 23

	// Prompt marks the end of every device response.
	Prompt = ">"

	// Terminator is appended to every command.
	Terminator = "\r\n"
)

// Config holds the session configuration.
type Config struct {
	// Port is the TCP port to dial.
	Port int

	// DialTimeout bounds establishing the TCP connection.
	DialTimeout time.Duration

	// BannerTimeout bounds the initial read up to the first prompt.
	BannerTimeout time.Duration

	// CommandTimeout is used by SendCommand.
	CommandTimeout time.Duration

	// SettleDelay is waited after connecting and before draining the
	// banner. The boxes need a moment before they accept input.
	SettleDelay time.Duration

	// Logger receives debug output of every exchange (optional).
	Logger *logrus.Entry
}

func defaultConfig() Config {
	return Config{
		Port:           DefaultPort,
		DialTimeout:    5 * time.Second,
		BannerTimeout:  10 * time.Second,
		CommandTimeout: 10 * time.Second,
		SettleDelay:    time.Second,
	}
}

// Option is a functional option for configuring a Session.
type Option func(*Config)

// WithPort sets the TCP port. Non-positive values are ignored.
func WithPort(port int) Option {
	return func(c *Config) {
		if port > 0 && port <= 65535 {
			c.Port = port
		}
	}
}

// WithDialTimeout sets the connect timeout.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.DialTimeout = d
		}
	}
}

// WithBannerTimeout sets the timeout for draining the login banner.
func WithBannerTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.BannerTimeout = d
		}
	}
}

// WithCommandTimeout sets the default per-command timeout.
//
// Example:
//
//	s, err := session.Open(ctx, "cbhv01", session.WithCommandTimeout(5*time.Second))
func WithCommandTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.CommandTimeout = d
		}
	}
}

// WithSettleDelay sets the delay between connecting and reading the banner.
// Zero disables it.
func WithSettleDelay(d time.Duration) Option {
	return func(c *Config) {
		if d >= 0 {
			c.SettleDelay = d
		}
	}
}

// WithLogger sets the logger entry used for protocol output.
func WithLogger(l *logrus.Entry) Option {
	return func(c *Config) {
		c.Logger = l
	}
}
