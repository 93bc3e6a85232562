package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	natspkg "github.com/nats-io/nats.go"

	logx "firefeed/pkg/logx"
)

// Publisher is the slice of a NATS connection the forwarder uses.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSForwarder mirrors bus events to "{prefix}.{type}" subjects as JSON.
type NATSForwarder struct {
	bus    Bus
	pub    Publisher
	prefix string
	log    logx.Logger
	nc     *natspkg.Conn
}

// DialNATS connects to url and returns a forwarder owning the connection.
func DialNATS(bus Bus, url, prefix string, log logx.Logger) (*NATSForwarder, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("nats url is empty")
	}
	nc, err := natspkg.Connect(url,
		natspkg.Name("firefeed-bot"),
		natspkg.MaxReconnects(-1),
		natspkg.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}
	f := NewNATSForwarder(bus, nc, prefix, log)
	f.nc = nc
	return f, nil
}

func NewNATSForwarder(bus Bus, pub Publisher, prefix string, log logx.Logger) *NATSForwarder {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = "firefeed"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &NATSForwarder{bus: bus, pub: pub, prefix: prefix, log: log}
}

// Subject returns the subject an event type is published to.
func (f *NATSForwarder) Subject(eventType string) string {
	return f.prefix + "." + eventType
}

// Run forwards until ctx ends. Publish failures are logged and skipped.
func (f *NATSForwarder) Run(ctx context.Context) error {
	ch, unsub := f.bus.Subscribe(256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			data, err := json.Marshal(e)
			if err != nil {
				f.log.Warn("event not serializable", logx.String("type", e.Type), logx.Err(err))
				continue
			}
			if err := f.pub.Publish(f.Subject(e.Type), data); err != nil {
				f.log.Warn("nats publish failed", logx.String("type", e.Type), logx.Err(err))
			}
		}
	}
}

// Connected reports the NATS connection state; forwarders built on a bare Publisher are always connected.
func (f *NATSForwarder) Connected() bool {
	if f.nc == nil {
		return true
	}
	return f.nc.Status() == natspkg.CONNECTED
}

func (f *NATSForwarder) Close() {
	if f.nc != nil {
		f.nc.Drain()
	}
}
