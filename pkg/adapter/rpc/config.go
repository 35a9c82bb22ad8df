package rpc

import (
	"fmt"
	"time"
)

// Transports accepted by Config.Transport.
const (
	// TransportFD serves a single pre-opened stream socket inherited from
	// the host process. This is how a grain is normally launched.
	TransportFD = "fd"

	// TransportUnix listens on a unix socket path.
	TransportUnix = "unix"

	// TransportTCP listens on a TCP address.
	TransportTCP = "tcp"
)

// DefaultFD is the descriptor a host hands to the grain for its RPC stream.
const DefaultFD = 3

// Config holds configuration parameters for the RPC adapter.
//
// Default values (applied by New if zero):
//   - Transport: fd
//   - FD: 3
//   - MaxMessageSize: 8 MiB
//   - ShutdownTimeout: 10s
//
// IdleTimeout and MaxConnections default to 0 (disabled). The fd transport
// always serves exactly one connection.
type Config struct {
	// Transport selects how the adapter obtains its byte streams.
	Transport string `mapstructure:"transport" validate:"omitempty,oneof=fd unix tcp"`

	// FD is the inherited descriptor used by the fd transport.
	FD int `mapstructure:"fd" validate:"min=0"`

	// Address is the socket path (unix) or host:port (tcp) to listen on.
	Address string `mapstructure:"address"`

	// MaxConnections limits concurrent listener connections. 0 is unlimited.
	MaxConnections int `mapstructure:"max_connections" validate:"min=0"`

	// MaxMessageSize bounds one reassembled RPC message in bytes.
	MaxMessageSize uint32 `mapstructure:"max_message_size"`

	// IdleTimeout closes a connection that sends nothing for this long.
	// 0 disables it.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" validate:"min=0"`

	// ShutdownTimeout bounds the wait for active connections on shutdown,
	// after which they are force-closed.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=0"`

	// RateLimit caps incoming calls per connection.
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig configures per-connection call limiting. A zero rate
// disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond uint `mapstructure:"requests_per_second"`
	Burst             uint `mapstructure:"burst"`
}

const (
	defaultMaxMessageSize  = 8 << 20
	defaultShutdownTimeout = 10 * time.Second
)

// ApplyDefaults fills in zero values.
func (c *Config) ApplyDefaults() {
	if c.Transport == "" {
		c.Transport = TransportFD
	}
	if c.Transport == TransportFD && c.FD == 0 {
		c.FD = DefaultFD
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = defaultMaxMessageSize
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
}

// Validate checks a defaulted configuration.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportFD:
		if c.FD < 0 {
			return fmt.Errorf("invalid fd %d: must be >= 0", c.FD)
		}
	case TransportUnix, TransportTCP:
		if c.Address == "" {
			return fmt.Errorf("%s transport requires an address", c.Transport)
		}
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("invalid MaxConnections %d: must be >= 0", c.MaxConnections)
	}
	if c.IdleTimeout < 0 {
		return fmt.Errorf("invalid IdleTimeout %v: must be >= 0", c.IdleTimeout)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid ShutdownTimeout %v: must be > 0", c.ShutdownTimeout)
	}
	return nil
}
