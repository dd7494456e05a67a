package eventbus

import (
	"github.com/nats-io/nats.go"

	"github.com/docker/model-ops-coordinator/internal/logging"
)

// NATSBus is the external-broker primary, used when a NATS URL is
// configured, per spec.md §6 and
// original_source/adapters/event_bus_adapter.py's NATS-primary branch.
type NATSBus struct {
	conn *nats.Conn
	log  logging.Logger
}

// DialNATS connects to url. Callers fall back to NewLocalBus if this
// returns an error, mirroring the Python adapter's try/except fallback.
func DialNATS(url string, log logging.Logger) (*NATSBus, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	return &NATSBus{conn: conn, log: log}, nil
}

func (b *NATSBus) Publish(subject string, payload any) error {
	data, err := marshal(payload)
	if err != nil {
		return err
	}
	return b.conn.Publish(subject, data)
}

func (b *NATSBus) Subscribe(subject string, fn func(Event)) (unsubscribe func()) {
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		fn(Event{Subject: subject, Payload: msg.Data})
	})
	if err != nil {
		b.log.WithError(err).WithField("subject", subject).Warn("nats subscribe failed")
		return func() {}
	}
	return func() { _ = sub.Unsubscribe() }
}

func (b *NATSBus) Close() error {
	b.conn.Close()
	return nil
}
