package panel

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/basket/clawdeck/internal/bus"
	"github.com/basket/clawdeck/internal/otel"
	"github.com/basket/clawdeck/internal/persistence"
	"github.com/basket/clawdeck/internal/shared"
)

// Recorder persists bus events into the gateway_events ledger so the
// panel's activity view survives restarts. Payloads are serialized and
// redacted before they hit disk.
type Recorder struct {
	store    *persistence.Store
	eventBus *bus.Bus
	logger   *slog.Logger
	metrics  *otel.Metrics
}

func NewRecorder(store *persistence.Store, eventBus *bus.Bus, logger *slog.Logger, metrics *otel.Metrics) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, eventBus: eventBus, logger: logger, metrics: metrics}
}

// Run consumes events until the context ends. Call in a goroutine.
func (r *Recorder) Run(ctx context.Context) {
	subs := []*bus.Subscription{
		r.eventBus.Subscribe("gateway."),
		r.eventBus.Subscribe("config."),
		r.eventBus.Subscribe("skills."),
		r.eventBus.Subscribe("schedule."),
		r.eventBus.Subscribe(bus.TopicPanelAlert),
	}
	defer func() {
		for _, sub := range subs {
			r.eventBus.Unsubscribe(sub)
		}
	}()

	merged := make(chan bus.Event, 64)
	for _, sub := range subs {
		go func(sub *bus.Subscription) {
			for {
				select {
				case <-ctx.Done():
					return
				case ev := <-sub.Ch():
					select {
					case merged <- ev:
					case <-ctx.Done():
						return
					}
				}
			}
		}(sub)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-merged:
			r.record(ctx, ev)
		}
	}
}

func (r *Recorder) record(ctx context.Context, ev bus.Event) {
	payload := "{}"
	if ev.Payload != nil {
		if data, err := json.Marshal(ev.Payload); err == nil {
			payload = shared.Redact(string(data))
		}
	}
	traceID := ev.TraceID
	if traceID == "" {
		traceID = "-"
	}
	if err := r.store.AppendEvent(ctx, ev.Topic, payload, traceID); err != nil {
		r.logger.Warn("event ledger append failed", "topic", ev.Topic, "error", err)
	}
	r.count(ctx, ev.Topic)
}

func (r *Recorder) count(ctx context.Context, topic string) {
	if r.metrics == nil {
		return
	}
	switch topic {
	case bus.TopicGatewayExited:
		r.metrics.GatewayCrashes.Add(ctx, 1)
	case bus.TopicScheduleFired:
		r.metrics.ScheduleFires.Add(ctx, 1)
	}
}
