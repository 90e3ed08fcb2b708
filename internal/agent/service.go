// Package agent wires the health agent together: durable queues, the
// collector link, delivery, command handling and device events.
package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/danmuck/healthmon/internal/command"
	"github.com/danmuck/healthmon/internal/delivery"
	"github.com/danmuck/healthmon/internal/device"
	"github.com/danmuck/healthmon/internal/effector"
	"github.com/danmuck/healthmon/internal/events"
	"github.com/danmuck/healthmon/internal/health"
	logs "github.com/danmuck/healthmon/internal/logging"
	"github.com/danmuck/healthmon/internal/observability"
	"github.com/danmuck/healthmon/internal/store"
	"github.com/danmuck/healthmon/internal/transport"
)

// Deps overrides the parts of the agent that touch the device. Nil fields
// get the Linux defaults built from the config.
type Deps struct {
	Provider  health.Provider
	Effectors *command.Effectors
}

// Service runs the agent as a standalone process.
type Service struct {
	cfg   ServiceConfig
	runID string

	db       *store.DB
	provider health.Provider
	client   *transport.Client
	link     *link
	inbound  *dispatcher
	coord    *delivery.Coordinator
	engine   *command.Engine
	capturer *health.Capturer
	watcher  *events.Watcher
	nc       *nats.Conn

	restarter command.RestartScheduler

	mu      sync.Mutex
	runCtx  context.Context
	started time.Time
}

// Open validates cfg, opens the queue database and builds every component.
func Open(ctx context.Context, cfg ServiceConfig, deps Deps) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("agent: create data dir: %w", err)
	}
	db, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:      cfg,
		runID:    uuid.NewString(),
		db:       db,
		provider: deps.Provider,
		runCtx:   context.Background(),
	}
	if s.provider == nil {
		dc := cfg.Device
		dc.DeviceID = cfg.DeviceID
		s.provider = device.NewReader(dc)
	}

	var eff command.Effectors
	if deps.Effectors != nil {
		eff = *deps.Effectors
	} else {
		eff = s.defaultEffectors(ctx)
	}
	if eff.RestartDelay <= 0 {
		eff.RestartDelay = cfg.RestartDelay
	}
	s.restarter = eff.Restarter

	s.inbound = &dispatcher{
		commands: db.Commands(),
		ctx:      s.context,
		now:      time.Now,
	}
	if cfg.SettingsFile != "" {
		s.inbound.settings = effector.NewYAMLSettings(cfg.SettingsFile)
	}

	s.client, err = transport.NewClient(transport.Config{
		Address: cfg.ServerAddress,
		Session: cfg.Session,
	}, s.inbound.handle)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.link = &link{client: s.client, inbound: s.inbound}

	s.coord = delivery.NewCoordinator(db.Health(), s.link, s.online, delivery.Config{
		DeviceID:     uint64(cfg.DeviceID),
		SendInterval: cfg.Session.SendInterval,
		MaxRetries:   cfg.Session.MaxSendRetries,
		Backoff:      cfg.Session.Backoff,
	})
	s.inbound.acks = s.coord

	s.engine = command.NewEngine(db.Commands(), conditions{s.provider}, command.Catalog{Effectors: eff}, command.EngineConfig{
		PollInterval: cfg.CommandPoll,
		MaxRetries:   cfg.MaxCommandRetries,
	})
	s.inbound.notify = s.engine.Notify

	s.capturer = health.NewCapturer(s.provider, db.Health(), db.State(), health.CapturerConfig{
		IgnitionDebounce: cfg.IgnitionDebounce,
		Hooks: health.Hooks{
			ConnectivityRestored: func() { s.coord.ConnectivityRestored(s.context()) },
			ContextChanged:       s.engine.Notify,
			Captured: func(r health.Record) {
				observability.RecordSnapshot(r.EventType.String())
			},
		},
	})
	s.watcher = &events.Watcher{Dir: cfg.SpoolDir, Handle: s.capturer.HandleEvent}
	return s, nil
}

func (s *Service) defaultEffectors(ctx context.Context) command.Effectors {
	eff := command.Effectors{
		Rebooter:     effector.UnixRebooter{},
		RestartDelay: s.cfg.RestartDelay,
	}
	if len(s.cfg.InstallCommand) > 0 {
		eff.Installer = effector.ExecInstaller{Command: s.cfg.InstallCommand}
	}
	if len(s.cfg.RestartCommand) > 0 {
		eff.Restarter = &effector.RestartScheduler{Command: s.cfg.RestartCommand}
	}
	if dl, err := effector.NewS3Downloader(ctx, s.cfg.S3Region); err != nil {
		logs.Warnf("agent.Service.defaultEffectors s3 downloader disabled err=%v", err)
	} else {
		eff.Downloader = dl
	}
	if s.cfg.NATSURL != "" {
		nc, err := effector.DialNATS(s.cfg.NATSURL)
		if err != nil {
			logs.Warnf("agent.Service.defaultEffectors update broadcast disabled err=%v", err)
		} else {
			s.nc = nc
			eff.Broadcaster = effector.NATSBroadcaster{Conn: nc, Subject: s.cfg.NATSSubject}
		}
	}
	return eff
}

// Run blocks until SIGINT or SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.RunContext(ctx)
}

// RunContext starts the delivery, command, transport and event loops and
// blocks until ctx ends or a loop fails.
func (s *Service) RunContext(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	s.runCtx = ctx
	s.started = time.Now()
	s.mu.Unlock()

	logs.Infof("agent.Service.RunContext start run_id=%s device_id=%d server=%q", s.runID, s.cfg.DeviceID, s.cfg.ServerAddress)
	if _, err := s.capturer.CheckBoot(ctx); err != nil {
		logs.Errf("agent.Service.RunContext boot check err=%v", err)
	}
	s.client.Start(ctx)

	loopErr := make(chan error, 4)
	var wg sync.WaitGroup
	spawn := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				loopErr <- fmt.Errorf("agent: %s: %w", name, err)
			}
		}()
	}
	spawn("delivery", s.coord.Run)
	spawn("commands", s.engine.Run)
	spawn("events", s.watcher.Run)
	if s.cfg.MetricsListen != "" {
		spawn("metrics", observability.NewServer(s.cfg.MetricsListen, s.status).Run)
	}

	err := s.serve(ctx, loopErr)
	cancel()
	s.client.Close()
	wg.Wait()
	return err
}

func (s *Service) serve(ctx context.Context, loopErr <-chan error) error {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logs.Infof("agent.Service.serve shutdown run_id=%s", s.runID)
			return nil
		case err := <-loopErr:
			logs.Errf("agent.Service.serve loop failed err=%v", err)
			return err
		case <-ticker.C:
			st, err := s.Status(ctx)
			if err != nil {
				logs.Warnf("agent.Service.heartbeat err=%v", err)
				continue
			}
			observability.SetQueueDepth("commands", st.CommandQueue)
			logs.Infof(
				"agent.Service.heartbeat run_id=%s link=%s online=%t health_queue=%d command_queue=%d ack_pending=%t attempts=%d",
				st.RunID,
				st.Link,
				st.Online,
				st.HealthQueue,
				st.CommandQueue,
				st.AckPending,
				st.Attempts,
			)
		}
	}
}

// Close cancels a pending app restart and releases the database and the
// NATS connection. Call it after Run returns.
func (s *Service) Close() error {
	if st, ok := s.restarter.(interface{ Stop() bool }); ok && st.Stop() {
		logs.Infof("agent.Service.Close canceled pending restart")
	}
	if s.nc != nil {
		s.nc.Close()
	}
	return s.db.Close()
}

// HandleEvent captures a snapshot for e as if it came from the spool.
func (s *Service) HandleEvent(ctx context.Context, e health.EventType) error {
	return s.capturer.HandleEvent(ctx, e)
}

// ActiveCommand is the command being handled, if any.
type ActiveCommand struct {
	ID    int64     `json:"id"`
	Kind  string    `json:"kind"`
	State string    `json:"state"`
	Since time.Time `json:"since"`
}

// Status is the agent state reported on /status and the heartbeat.
type Status struct {
	RunID         string         `json:"run_id"`
	DeviceID      int64          `json:"device_id"`
	Uptime        string         `json:"uptime"`
	Link          string         `json:"link"`
	Online        bool           `json:"online"`
	AckPending    bool           `json:"ack_pending"`
	InFlightID    int64          `json:"in_flight_id,omitempty"`
	Attempts      int            `json:"reconnect_attempts"`
	NextDelay     string         `json:"next_delay"`
	HealthQueue   int            `json:"health_queue"`
	CommandQueue  int            `json:"command_queue"`
	ActiveCommand *ActiveCommand `json:"active_command,omitempty"`
}

func (s *Service) Status(ctx context.Context) (Status, error) {
	hq, err := s.db.Health().Count(ctx)
	if err != nil {
		return Status{}, err
	}
	cq, err := s.db.Commands().Count(ctx)
	if err != nil {
		return Status{}, err
	}
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	inFlight, pending := s.coord.InFlight()
	st := Status{
		RunID:        s.runID,
		DeviceID:     s.cfg.DeviceID,
		Link:         s.client.State().String(),
		Online:       s.online(),
		AckPending:   pending,
		InFlightID:   inFlight,
		Attempts:     s.coord.Attempts(),
		NextDelay:    s.coord.Delay().String(),
		HealthQueue:  hq,
		CommandQueue: cq,
	}
	if !started.IsZero() {
		st.Uptime = time.Since(started).Truncate(time.Second).String()
	}
	if snap, ok := s.engine.Active(); ok {
		st.ActiveCommand = &ActiveCommand{
			ID:    snap.Record.ID,
			Kind:  snap.Record.Type,
			State: snap.State.String(),
			Since: snap.Since,
		}
	}
	return st, nil
}

func (s *Service) status(ctx context.Context) (any, error) {
	return s.Status(ctx)
}

func (s *Service) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runCtx
}

func (s *Service) online() bool {
	return s.provider.NetworkStatus().Connected
}

// link is the delivery side of the transport client. A restart also drops
// any partial frame held from the old connection.
type link struct {
	client  *transport.Client
	inbound *dispatcher
}

func (l *link) Send(b []byte) bool {
	return l.client.Send(b)
}

func (l *link) Restart(ctx context.Context) {
	l.inbound.reset()
	l.client.Restart(ctx)
}

type conditions struct {
	p health.Provider
}

func (c conditions) IgnitionOn() bool       { return c.p.IgnitionOn() }
func (c conditions) NetworkConnected() bool { return c.p.NetworkStatus().Connected }
