package mqtt

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"

	"github.com/andresmejia3/facegate/internal/types"
)

// Emitter publishes recognition events at QoS 0, not retained.
type Emitter struct {
	pub   Publisher
	topic string

	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewEmitter returns an emitter for topic.
func NewEmitter(pub Publisher, topic string) *Emitter {
	return &Emitter{pub: pub, topic: topic}
}

// Publish never blocks the caller: delivery is confirmed in the
// background and events are dropped while disconnected.
func (e *Emitter) Publish(ev types.Recognition) {
	if !e.pub.IsConnected() {
		e.dropped.Add(1)
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		e.dropped.Add(1)
		slog.Warn("failed to marshal recognition event", "error", err)
		return
	}

	token := e.pub.Publish(e.topic, 0, false, payload)
	go func() {
		if !token.WaitTimeout(publishTimeout) || token.Error() != nil {
			e.dropped.Add(1)
			slog.Warn("recognition event not delivered", "topic", e.topic, "trace_id", ev.TraceID, "error", token.Error())
			return
		}
		e.published.Add(1)
		slog.Debug("recognition event published", "topic", e.topic, "size", len(payload))
	}()
}

// Stats returns delivered and dropped event counts.
func (e *Emitter) Stats() (published, dropped uint64) {
	return e.published.Load(), e.dropped.Load()
}
