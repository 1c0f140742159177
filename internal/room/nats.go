package room

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// Subject is the NATS subject a room's messages travel on.
func Subject(code string) string {
	return "dominion.room." + code
}

// NatsRelay carries room messages over one NATS subject. A subscription
// receives a single publisher's messages in order.
type NatsRelay struct {
	nc      *nats.Conn
	subject string
	logger  *log.Logger
	owned   bool
}

// DialNats connects to url and returns a relay for the room code.
func DialNats(url, code string, logger *log.Logger) (*NatsRelay, error) {
	opts := []nats.Option{
		nats.Name("dominion-" + code),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2 * time.Second),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	r := NewNatsRelay(nc, code, logger)
	r.owned = true
	return r, nil
}

// NewNatsRelay uses an existing connection. Close leaves it open.
func NewNatsRelay(nc *nats.Conn, code string, logger *log.Logger) *NatsRelay {
	if logger == nil {
		logger = log.Default()
	}
	return &NatsRelay{nc: nc, subject: Subject(code), logger: logger}
}

func (r *NatsRelay) Publish(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", msg.Type, err)
	}
	if err := r.nc.Publish(r.subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", r.subject, err)
	}
	return nil
}

func (r *NatsRelay) Subscribe(fn func(Message)) (func(), error) {
	sub, err := r.nc.Subscribe(r.subject, func(m *nats.Msg) {
		var msg Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			r.logger.Printf("room: drop undecodable message on %s: %v", r.subject, err)
			return
		}
		fn(msg)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", r.subject, err)
	}
	return func() {
		if err := sub.Unsubscribe(); err != nil && err != nats.ErrConnectionClosed {
			r.logger.Printf("room: unsubscribe %s: %v", r.subject, err)
		}
	}, nil
}

// Flush waits until the server has processed everything published so far.
func (r *NatsRelay) Flush() error {
	return r.nc.Flush()
}

// Close drains the connection if the relay dialed it.
func (r *NatsRelay) Close() error {
	if !r.owned {
		return nil
	}
	return r.nc.Drain()
}
