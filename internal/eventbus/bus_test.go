package eventbus

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	logx "firefeed/pkg/logx"
)

func TestPublishNeverBlocks(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(1)
	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})

	e := <-ch
	if e.Type != "a" || e.Time.IsZero() {
		t.Fatalf("event=%+v", e)
	}
	if b.Dropped() != 1 {
		t.Fatalf("dropped=%d", b.Dropped())
	}
	unsub()
	unsub()
	b.Publish(Event{Type: "after"})
}

type capturePublisher struct {
	mu   sync.Mutex
	subj []string
	data [][]byte
	got  chan struct{}
}

func (c *capturePublisher) Publish(subject string, data []byte) error {
	c.mu.Lock()
	c.subj = append(c.subj, subject)
	c.data = append(c.data, data)
	c.mu.Unlock()
	select {
	case c.got <- struct{}{}:
	default:
	}
	return nil
}

func TestNATSForwarder(t *testing.T) {
	t.Parallel()

	b := New()
	pub := &capturePublisher{got: make(chan struct{}, 1)}
	f := NewNATSForwarder(b, pub, ".news.", logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.Run(ctx)
	}()

	deadline := time.After(2 * time.Second)
	for {
		b.Publish(Event{Type: TypeDeliverySent, Data: map[string]any{"item_id": "n1"}})
		select {
		case <-pub.got:
		case <-time.After(10 * time.Millisecond):
			continue
		case <-deadline:
			t.Fatalf("nothing forwarded")
		}
		break
	}
	cancel()
	<-done

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if pub.subj[0] != "news.delivery.sent" {
		t.Fatalf("subject=%q", pub.subj[0])
	}
	var e Event
	if err := json.Unmarshal(pub.data[0], &e); err != nil || e.Type != TypeDeliverySent {
		t.Fatalf("payload=%s err=%v", pub.data[0], err)
	}
}
