package agent

import (
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/danmuck/healthmon/internal/command"
	"github.com/danmuck/healthmon/internal/device"
	"github.com/danmuck/healthmon/internal/health"
	"github.com/danmuck/healthmon/internal/protocol/session"
)

var (
	ErrDeviceIDRequired         = errors.New("agent: device id required")
	ErrServerAddressRequired    = errors.New("agent: server address required")
	ErrDataDirRequired          = errors.New("agent: data dir required")
	ErrSpoolDirRequired         = errors.New("agent: spool dir required")
	ErrInvalidHeartbeatInterval = errors.New("agent: invalid heartbeat interval")
)

const (
	DefaultServerAddress = "localhost:21103"
	DefaultNATSSubject   = "healthmon.updates"
	databaseFile         = "healthmon.db"
)

// ServiceConfig configures the agent runtime.
type ServiceConfig struct {
	DeviceID      int64
	ServerAddress string
	// DataDir holds the queue database.
	DataDir      string
	SpoolDir     string
	SettingsFile string
	// MetricsListen enables the local /metrics listener when set.
	MetricsListen     string
	HeartbeatInterval time.Duration

	Session           session.Config
	MaxCommandRetries int
	CommandPoll       time.Duration
	IgnitionDebounce  time.Duration

	Device device.Config

	InstallCommand []string
	RestartCommand []string
	RestartDelay   time.Duration

	NATSURL     string
	NATSSubject string
	S3Region    string
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		ServerAddress:     DefaultServerAddress,
		DataDir:           filepath.Join("local", "healthmon"),
		SpoolDir:          filepath.Join("local", "healthmon", "events"),
		SettingsFile:      filepath.Join("local", "healthmon", "settings.yaml"),
		HeartbeatInterval: 30 * time.Second,
		Session:           session.DefaultConfig(),
		MaxCommandRetries: command.DefaultMaxRetries,
		CommandPoll:       command.DefaultPollInterval,
		IgnitionDebounce:  health.DefaultIgnitionDebounce,
		Device:            device.DefaultConfig(),
		RestartDelay:      command.DefaultRestartDelay,
		NATSSubject:       DefaultNATSSubject,
	}
}

func (c ServiceConfig) Validate() error {
	if c.DeviceID <= 0 {
		return ErrDeviceIDRequired
	}
	if strings.TrimSpace(c.ServerAddress) == "" {
		return ErrServerAddressRequired
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return ErrDataDirRequired
	}
	if strings.TrimSpace(c.SpoolDir) == "" {
		return ErrSpoolDirRequired
	}
	if c.HeartbeatInterval <= 0 {
		return ErrInvalidHeartbeatInterval
	}
	return nil
}

// DatabasePath is the SQLite file under DataDir.
func (c ServiceConfig) DatabasePath() string {
	return filepath.Join(c.DataDir, databaseFile)
}
