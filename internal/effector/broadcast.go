package effector

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/danmuck/healthmon/internal/command"
	logs "github.com/danmuck/healthmon/internal/logging"
)

// Publisher is the part of a NATS connection the broadcaster uses.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSBroadcaster hands application updates meant for another component
// to it over NATS.
type NATSBroadcaster struct {
	Conn    Publisher
	Subject string
}

// DialNATS connects with reconnects enabled. An unreachable server at
// startup is retried in the background instead of failing.
func DialNATS(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("healthmon"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.RetryOnFailedConnect(true))
	if err != nil {
		return nil, fmt.Errorf("effector: connect nats %s: %w", url, err)
	}
	return nc, nil
}

func (b NATSBroadcaster) BroadcastUpdate(ctx context.Context, u command.UpdateRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("effector: encode update: %w", err)
	}
	if err := b.Conn.Publish(b.Subject, data); err != nil {
		return fmt.Errorf("effector: publish %s: %w", b.Subject, err)
	}
	logs.Infof("effector.NATSBroadcaster.BroadcastUpdate subject=%q file=%q", b.Subject, u.FileName)
	return nil
}
