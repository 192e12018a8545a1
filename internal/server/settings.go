package server

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/kingrea/codeforge/internal/config"
	"github.com/kingrea/codeforge/internal/wire"
)

const (
	// DefaultWriteTimeout bounds a single frame write to a slow client.
	DefaultWriteTimeout = 10 * time.Second
)

// Settings captures runtime configuration for the wire protocol listener.
type Settings struct {
	Host          string
	Port          int
	MaxFrameBytes int
	WriteTimeout  time.Duration
}

// SettingsFromConfig builds Settings from the loaded project config. Env
// overrides were already applied by config.Load.
func SettingsFromConfig(cfg *config.Config) Settings {
	settings := Settings{
		Host:          config.DefaultHost,
		Port:          config.DefaultPort,
		MaxFrameBytes: wire.DefaultMaxFrameBytes,
		WriteTimeout:  DefaultWriteTimeout,
	}
	if cfg != nil {
		raw := cfg.Project.Server
		if host := strings.TrimSpace(raw.Host); host != "" {
			settings.Host = host
		}
		if isValidPort(raw.Port) {
			settings.Port = raw.Port
		}
		if raw.MaxFrameBytes > 0 {
			settings.MaxFrameBytes = raw.MaxFrameBytes
		}
	}
	settings.normalize()
	return settings
}

func (s *Settings) normalize() {
	if s == nil {
		return
	}
	s.Host = strings.TrimSpace(s.Host)
	if s.Host == "" {
		s.Host = config.DefaultHost
	}
	// Port 0 asks the kernel for an ephemeral port.
	if s.Port != 0 && !isValidPort(s.Port) {
		s.Port = config.DefaultPort
	}
	if s.MaxFrameBytes <= 0 {
		s.MaxFrameBytes = wire.DefaultMaxFrameBytes
	}
	if s.WriteTimeout <= 0 {
		s.WriteTimeout = DefaultWriteTimeout
	}
}

// Address returns the TCP bind address in host:port form.
func (s Settings) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

func isValidPort(port int) bool {
	return port > 0 && port <= 65535
}
