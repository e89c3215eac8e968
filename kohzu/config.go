package kohzu

import (
	"errors"
	"time"

	"github.com/arloliu/go-kohzu/comm"
	"github.com/arloliu/go-kohzu/logger"
)

// Default configuration values for the Manager.
const (
	DefaultResponseTimeout   = 60 * time.Second
	DefaultPollInterval      = 500 * time.Millisecond
	DefaultFastPollInterval  = 100 * time.Millisecond
	DefaultReconnectInterval = 5 * time.Second
	DefaultWriterQueueSize   = comm.DefaultWriterQueueSize
)

// DefaultMovementCommands is the default set of mnemonics that trigger
// operation-lifecycle bookkeeping.
func DefaultMovementCommands() []string {
	return []string{"APS", "MPS", "RPS", "MOV", "JOG"}
}

// ErrConfigNil indicates that a nil Config was provided.
var ErrConfigNil = errors.New("config is nil")

// Config carries the immutable configuration of one Manager.
// Build it with NewConfig; all defaults live there.
type Config struct {
	// host specifies the host of the controller.
	host string

	// port specifies the TCP port number of the controller.
	port int

	// autoReconnect indicates whether the Manager keeps a reconnection loop running.
	// Defaults to true.
	autoReconnect bool

	// reconnectInterval defines the wait between reconnection attempts.
	// Defaults to 5 seconds.
	reconnectInterval time.Duration

	// responseTimeout defines the default bounded wait of synchronous requests.
	// Defaults to 60 seconds.
	responseTimeout time.Duration

	// pollInterval defines the cadence for idle axes.
	// Defaults to 500 milliseconds.
	pollInterval time.Duration

	// fastPollInterval defines the cadence for axes with an outstanding operation.
	// Defaults to 100 milliseconds.
	fastPollInterval time.Duration

	// writerQueueSize defines the capacity of the outbound writer queue.
	// Defaults to 1000.
	writerQueueSize int

	// movementCommands is the set of mnemonics that trigger operation-lifecycle
	// callbacks. Defaults to DefaultMovementCommands.
	movementCommands []string

	// withSTX selects STX framing on outbound lines. Defaults to false.
	withSTX bool

	// logger provides a logger instance for driver events and errors.
	logger logger.Logger
}

// NewConfig creates a Manager configuration with the given controller host, port and
// optional functional options.
//
// It initializes a Config with default values and then applies the provided options.
// Returns an error if any option value is out of range.
func NewConfig(host string, port int, opts ...Option) (*Config, error) {
	cfg := &Config{
		autoReconnect:     true,
		reconnectInterval: DefaultReconnectInterval,
		responseTimeout:   DefaultResponseTimeout,
		pollInterval:      DefaultPollInterval,
		fastPollInterval:  DefaultFastPollInterval,
		writerQueueSize:   DefaultWriterQueueSize,
		movementCommands:  DefaultMovementCommands(),
		logger:            logger.GetLogger(),
	}

	if host == "" {
		return nil, errors.New("host is empty")
	}
	cfg.host = host

	if port < 1 || port > 65535 {
		return nil, errors.New("port is out of range [1, 65535]")
	}
	cfg.port = port

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Host returns the configured controller host.
func (cfg *Config) Host() string { return cfg.host }

// Port returns the configured controller port.
func (cfg *Config) Port() int { return cfg.port }

// Option represents a functional option for configuring a Config.
type Option interface {
	apply(*Config) error
}

type optFunc struct {
	name      string
	applyFunc func(*Config) error
}

func (o *optFunc) apply(cfg *Config) error { return o.applyFunc(cfg) }

func newOptFunc(name string, f func(*Config) error) *optFunc {
	return &optFunc{name: name, applyFunc: f}
}

// WithAutoReconnect enables or disables the Manager's automatic reconnection loop.
//
// The default value is true.
func WithAutoReconnect(val bool) Option {
	return newOptFunc("WithAutoReconnect", func(cfg *Config) error {
		if cfg == nil {
			return ErrConfigNil
		}

		cfg.autoReconnect = val

		return nil
	})
}

// WithReconnectInterval sets the wait between reconnection attempts.
// An error is returned if the interval is outside the range [100ms, 10m].
//
// The default value is 5 seconds.
func WithReconnectInterval(val time.Duration) Option {
	return newOptFunc("WithReconnectInterval", func(cfg *Config) error {
		if cfg == nil {
			return ErrConfigNil
		}

		if val < 100*time.Millisecond || val > 10*time.Minute {
			return errors.New("reconnect interval out of range [100ms, 10m]")
		}
		cfg.reconnectInterval = val

		return nil
	})
}

// WithResponseTimeout sets the default bounded wait of synchronous requests.
// An error is returned if the timeout is outside the range [10ms, 10m].
//
// The default value is 60 seconds.
func WithResponseTimeout(val time.Duration) Option {
	return newOptFunc("WithResponseTimeout", func(cfg *Config) error {
		if cfg == nil {
			return ErrConfigNil
		}

		if val < 10*time.Millisecond || val > 10*time.Minute {
			return errors.New("response timeout out of range [10ms, 10m]")
		}
		cfg.responseTimeout = val

		return nil
	})
}

// WithPollInterval sets the position-read cadence for idle axes.
// An error is returned if the interval is outside the range [50ms, 1m].
//
// The default value is 500 milliseconds.
func WithPollInterval(val time.Duration) Option {
	return newOptFunc("WithPollInterval", func(cfg *Config) error {
		if cfg == nil {
			return ErrConfigNil
		}

		if val < 50*time.Millisecond || val > time.Minute {
			return errors.New("poll interval out of range [50ms, 1m]")
		}
		cfg.pollInterval = val

		return nil
	})
}

// WithFastPollInterval sets the position-read cadence for axes with an outstanding
// operation. An error is returned if the interval is outside the range [10ms, 1m].
//
// The default value is 100 milliseconds.
func WithFastPollInterval(val time.Duration) Option {
	return newOptFunc("WithFastPollInterval", func(cfg *Config) error {
		if cfg == nil {
			return ErrConfigNil
		}

		if val < 10*time.Millisecond || val > time.Minute {
			return errors.New("fast poll interval out of range [10ms, 1m]")
		}
		cfg.fastPollInterval = val

		return nil
	})
}

// WithWriterQueueSize sets the capacity of the outbound writer queue.
// This controls the backpressure level for unsent commands. An error is returned if the
// size is outside the range [1, 100000].
//
// The default value is 1000.
func WithWriterQueueSize(size int) Option {
	return newOptFunc("WithWriterQueueSize", func(cfg *Config) error {
		if cfg == nil {
			return ErrConfigNil
		}

		if size < 1 || size > 100000 {
			return errors.New("writer queue size out of range [1, 100000]")
		}
		cfg.writerQueueSize = size

		return nil
	})
}

// WithMovementCommands replaces the set of mnemonics that trigger operation-lifecycle
// callbacks, so tests can extend it and future commands don't silently escape polling.
//
// The default set is DefaultMovementCommands.
func WithMovementCommands(cmds ...string) Option {
	return newOptFunc("WithMovementCommands", func(cfg *Config) error {
		if cfg == nil {
			return ErrConfigNil
		}

		if len(cmds) == 0 {
			return errors.New("movement command set is empty")
		}
		cfg.movementCommands = append([]string(nil), cmds...)

		return nil
	})
}

// WithSTX enables STX framing on outbound lines for firmware revisions that expect it.
// Inbound STX bytes are always tolerated regardless of this setting.
//
// The default value is false.
func WithSTX(val bool) Option {
	return newOptFunc("WithSTX", func(cfg *Config) error {
		if cfg == nil {
			return ErrConfigNil
		}

		cfg.withSTX = val

		return nil
	})
}

// WithLogger sets the logger used by the Manager and every component it owns.
//
// The default logger is the global logger instance.
func WithLogger(l logger.Logger) Option {
	return newOptFunc("WithLogger", func(cfg *Config) error {
		if cfg == nil {
			return ErrConfigNil
		}

		if l == nil {
			return errors.New("logger is nil")
		}
		cfg.logger = l

		return nil
	})
}
