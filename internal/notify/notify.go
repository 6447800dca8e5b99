// Package notify publishes delivered records and session lifecycle
// alerts to NATS JetStream so downstream consumers can react without
// tailing the archive.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/ifebuche/twifesh/internal/records"
)

// streamSubjects maps JetStream stream names to the subjects twifesh
// publishes on.
var streamSubjects = map[string][]string{
	"TWIFESH_RECORDS": {"twifesh.records.>"},
	"TWIFESH_SYSTEM":  {"twifesh.session.>", "twifesh.system.>"},
}

// Bus is the outbound event fan-out. A nil *Bus is a valid no-op
// publisher, so callers never need to branch on whether NATS is
// configured.
type Bus struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func Connect(ctx context.Context, natsURL string) (*Bus, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			slog.Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	b := &Bus{nc: nc, js: js}
	for stream, subjects := range streamSubjects {
		if err := b.ensureStream(ctx, stream, subjects); err != nil {
			slog.Warn("stream not available, publishing best-effort", "stream", stream, "error", err)
		}
	}
	return b, nil
}

func (b *Bus) ensureStream(ctx context.Context, name string, subjects []string) error {
	_, err := b.js.Stream(ctx, name)
	if err == nil {
		return nil
	}

	_, err = b.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:      name,
		Subjects:  subjects,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", name, err)
	}
	slog.Info("created stream", "stream", name, "subjects", subjects)
	return nil
}

// PublishRecord publishes one delivered record to the records stream.
func (b *Bus) PublishRecord(ctx context.Context, rec records.Record) error {
	if b == nil {
		return nil
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if _, err := b.js.Publish(ctx, "twifesh.records.delivered", data); err != nil {
		return fmt.Errorf("publish record: %w", err)
	}
	return nil
}

// PublishAlert publishes a fire-and-forget lifecycle alert. Alerts use
// core NATS: losing one when nobody is connected is acceptable.
func (b *Bus) PublishAlert(subject string, data []byte) error {
	if b == nil {
		return nil
	}
	return b.nc.Publish(subject, data)
}

func (b *Bus) Close() {
	if b == nil {
		return
	}
	if err := b.nc.Drain(); err != nil {
		slog.Warn("nats drain failed", "error", err)
		b.nc.Close()
	}
}
