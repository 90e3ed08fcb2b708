package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/healthmon/internal/agent"
)

type fileConfig struct {
	DeviceID          int64    `toml:"device_id"`
	ServerAddress     string   `toml:"server_address"`
	DataDir           string   `toml:"data_dir"`
	SpoolDir          string   `toml:"spool_dir"`
	SettingsFile      string   `toml:"settings_file"`
	MetricsListen     string   `toml:"metrics_listen"`
	HeartbeatInterval string   `toml:"heartbeat_interval"`
	SendInterval      string   `toml:"send_interval"`
	MaxSendRetries    int      `toml:"max_send_retries"`
	MaxCommandRetries int      `toml:"max_command_retries"`
	PollInterval      string   `toml:"poll_interval"`
	IgnitionDebounce  string   `toml:"ignition_debounce"`
	IgnitionFile      string   `toml:"ignition_file"`
	SIMFile           string   `toml:"sim_file"`
	ICCIDFile         string   `toml:"iccid_file"`
	BootCounterFile   string   `toml:"boot_counter_file"`
	VoltageFile       string   `toml:"voltage_file"`
	ExternalMount     string   `toml:"external_mount"`
	InstallCommand    []string `toml:"install_command"`
	RestartCommand    []string `toml:"restart_command"`
	RestartDelay      string   `toml:"restart_delay"`
	NATSURL           string   `toml:"nats_url"`
	NATSSubject       string   `toml:"nats_subject"`
	S3Region          string   `toml:"s3_region"`
}

// loadServiceConfig applies the keys present in path over the agent
// defaults.
func loadServiceConfig(path string) (agent.ServiceConfig, error) {
	cfg := agent.DefaultServiceConfig()
	cfg.Device.AppVersion = version

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return agent.ServiceConfig{}, fmt.Errorf("load healthmon config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return agent.ServiceConfig{}, fmt.Errorf("load healthmon config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("device_id") {
		cfg.DeviceID = raw.DeviceID
	}
	if meta.IsDefined("server_address") {
		cfg.ServerAddress = strings.TrimSpace(raw.ServerAddress)
	}
	if meta.IsDefined("data_dir") {
		cfg.DataDir = strings.TrimSpace(raw.DataDir)
	}
	if meta.IsDefined("spool_dir") {
		cfg.SpoolDir = strings.TrimSpace(raw.SpoolDir)
	}
	if meta.IsDefined("settings_file") {
		cfg.SettingsFile = strings.TrimSpace(raw.SettingsFile)
	}
	if meta.IsDefined("metrics_listen") {
		cfg.MetricsListen = strings.TrimSpace(raw.MetricsListen)
	}
	if meta.IsDefined("max_send_retries") {
		cfg.Session.MaxSendRetries = raw.MaxSendRetries
	}
	if meta.IsDefined("max_command_retries") {
		cfg.MaxCommandRetries = raw.MaxCommandRetries
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"heartbeat_interval", raw.HeartbeatInterval, &cfg.HeartbeatInterval},
		{"send_interval", raw.SendInterval, &cfg.Session.SendInterval},
		{"poll_interval", raw.PollInterval, &cfg.CommandPoll},
		{"ignition_debounce", raw.IgnitionDebounce, &cfg.IgnitionDebounce},
		{"restart_delay", raw.RestartDelay, &cfg.RestartDelay},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return agent.ServiceConfig{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	if meta.IsDefined("ignition_file") {
		cfg.Device.IgnitionFile = strings.TrimSpace(raw.IgnitionFile)
	}
	if meta.IsDefined("sim_file") {
		cfg.Device.SIMFile = strings.TrimSpace(raw.SIMFile)
	}
	if meta.IsDefined("iccid_file") {
		cfg.Device.ICCIDFile = strings.TrimSpace(raw.ICCIDFile)
	}
	if meta.IsDefined("boot_counter_file") {
		cfg.Device.BootCounterFile = strings.TrimSpace(raw.BootCounterFile)
	}
	if meta.IsDefined("voltage_file") {
		cfg.Device.VoltageFile = strings.TrimSpace(raw.VoltageFile)
	}
	if meta.IsDefined("external_mount") {
		cfg.Device.ExternalMount = strings.TrimSpace(raw.ExternalMount)
	}

	if meta.IsDefined("install_command") {
		cfg.InstallCommand = normalizeArgs(raw.InstallCommand)
	}
	if meta.IsDefined("restart_command") {
		cfg.RestartCommand = normalizeArgs(raw.RestartCommand)
	}
	if meta.IsDefined("nats_url") {
		cfg.NATSURL = strings.TrimSpace(raw.NATSURL)
	}
	if meta.IsDefined("nats_subject") {
		cfg.NATSSubject = strings.TrimSpace(raw.NATSSubject)
	}
	if meta.IsDefined("s3_region") {
		cfg.S3Region = strings.TrimSpace(raw.S3Region)
	}

	return cfg, nil
}

func normalizeArgs(in []string) []string {
	out := make([]string, 0, len(in))
	for _, arg := range in {
		v := strings.TrimSpace(arg)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
