package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/healthmon/internal/command"
	logs "github.com/danmuck/healthmon/internal/logging"
	"github.com/danmuck/healthmon/internal/observability"
	"github.com/danmuck/healthmon/internal/protocol/frame"
	"github.com/danmuck/healthmon/internal/protocol/message"
)

var ErrNoSettingsStore = errors.New("agent: settings store not configured")

type ackHandler interface {
	HandleAck(ctx context.Context, sequence uint64) (bool, error)
}

type settingsApplier interface {
	Apply(s message.Settings) error
}

type commandSink interface {
	Save(ctx context.Context, c *command.Record) error
}

// dispatcher turns received bytes into frames and routes each decoded
// message. Reads arrive on the transport receive loop.
type dispatcher struct {
	acks     ackHandler
	settings settingsApplier
	commands commandSink
	notify   func()
	ctx      func() context.Context
	now      func() time.Time

	mu  sync.Mutex
	asm frame.Reassembler
}

func (d *dispatcher) handle(data []byte) {
	d.mu.Lock()
	frames := d.asm.Feed(data)
	d.mu.Unlock()

	ctx := d.ctx()
	for _, f := range frames {
		payload, err := frame.Decode(f)
		if err != nil {
			observability.RecordMalformed()
			logs.Warnf("agent.dispatcher.handle frame err=%v", err)
			continue
		}
		if err := d.dispatch(ctx, payload); err != nil {
			logs.Errf("agent.dispatcher.handle err=%v", err)
		}
	}
}

// reset drops a partial frame held from a replaced connection.
func (d *dispatcher) reset() {
	d.mu.Lock()
	d.asm.Reset()
	d.mu.Unlock()
}

func (d *dispatcher) dispatch(ctx context.Context, payload []byte) error {
	in, err := message.Decode(payload)
	if err != nil {
		observability.RecordMalformed()
		return err
	}
	observability.RecordInbound(in.Type.String())

	switch in.Type {
	case message.TypeAck:
		_, err := d.acks.HandleAck(ctx, in.Ack.Sequence)
		return err
	case message.TypeSettings:
		if d.settings == nil {
			return fmt.Errorf("%w: key=%q", ErrNoSettingsStore, in.Settings.Key)
		}
		return d.settings.Apply(*in.Settings)
	case message.TypeCommand:
		rec := command.NewRecord(in.Command.Type.String(), in.Command.Params(), d.now())
		if err := d.commands.Save(ctx, &rec); err != nil {
			return fmt.Errorf("agent: queue command: %w", err)
		}
		logs.Infof("agent.dispatcher.dispatch queued command id=%d kind=%s seq=%d", rec.ID, rec.Type, in.Envelope.Sequence)
		if d.notify != nil {
			d.notify()
		}
		return nil
	default:
		logs.Infof("agent.dispatcher.dispatch ignoring type=%s seq=%d", in.Type, in.Envelope.Sequence)
		return nil
	}
}
