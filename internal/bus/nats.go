package bus

import (
	"context"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Forwarder mirrors every bus event to an external NATS subject so that
// dashboards outside the process can consume the monitor's event stream.
type Forwarder struct {
	conn *nats.Conn
	sub  *Subscription
	done chan struct{}
}

func Forward(ctx context.Context, b *Bus, url string, subject string) (*Forwarder, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	// wait for connection to be clear
	if err := conn.Flush(); err != nil {
		conn.Close()
		return nil, err
	}

	f := &Forwarder{
		conn: conn,
		sub:  b.Subscribe(64),
		done: make(chan struct{}),
	}

	go func() {
		defer close(f.done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-f.sub.Ch:
				if !ok {
					return
				}

				body, err := json.Marshal(ev)
				if err != nil {
					zap.S().Errorw("failed to encode event for nats", "error", err)
					continue
				}

				if err := conn.Publish(fmt.Sprintf("%s.%s", subject, ev.Type), body); err != nil {
					zap.S().Errorw("failed to publish event to nats", "error", err)
				}
			}
		}
	}()

	return f, nil
}

func (f *Forwarder) Close() {
	f.sub.Close()
	<-f.done
	_ = f.conn.Flush()
	f.conn.Close()
}
