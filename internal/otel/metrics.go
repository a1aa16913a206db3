package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all panel metric instruments.
type Metrics struct {
	RequestDuration metric.Float64Histogram
	GatewayStarts   metric.Int64Counter
	GatewayStops    metric.Int64Counter
	GatewayCrashes  metric.Int64Counter
	ForcedKills     metric.Int64Counter
	SpawnFailures   metric.Int64Counter
	ScheduleFires   metric.Int64Counter
	ConfigUpdates   metric.Int64Counter
	WSClients       metric.Int64UpDownCounter
	AuthRejects     metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.RequestDuration, err = meter.Float64Histogram("clawdeck.request.duration",
		metric.WithDescription("Panel API request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.GatewayStarts, err = meter.Int64Counter("clawdeck.gateway.starts",
		metric.WithDescription("Gateway processes started"),
	)
	if err != nil {
		return nil, err
	}

	m.GatewayStops, err = meter.Int64Counter("clawdeck.gateway.stops",
		metric.WithDescription("Gateway processes stopped deliberately"),
	)
	if err != nil {
		return nil, err
	}

	m.GatewayCrashes, err = meter.Int64Counter("clawdeck.gateway.unexpected_exits",
		metric.WithDescription("Gateway processes that exited without a stop request"),
	)
	if err != nil {
		return nil, err
	}

	m.ForcedKills, err = meter.Int64Counter("clawdeck.gateway.forced_kills",
		metric.WithDescription("Stops that escalated past the grace period to SIGKILL"),
	)
	if err != nil {
		return nil, err
	}

	m.SpawnFailures, err = meter.Int64Counter("clawdeck.gateway.spawn_failures",
		metric.WithDescription("Gateway start attempts that failed to spawn"),
	)
	if err != nil {
		return nil, err
	}

	m.ScheduleFires, err = meter.Int64Counter("clawdeck.schedule.fires",
		metric.WithDescription("Scheduled gateway actions fired"),
	)
	if err != nil {
		return nil, err
	}

	m.ConfigUpdates, err = meter.Int64Counter("clawdeck.config.updates",
		metric.WithDescription("Gateway config documents saved through the panel"),
	)
	if err != nil {
		return nil, err
	}

	m.WSClients, err = meter.Int64UpDownCounter("clawdeck.ws.clients",
		metric.WithDescription("Connected websocket clients"),
	)
	if err != nil {
		return nil, err
	}

	m.AuthRejects, err = meter.Int64Counter("clawdeck.auth.rejects",
		metric.WithDescription("Requests rejected by basic auth"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
