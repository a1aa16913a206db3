package channels

import (
	"context"

	"github.com/basket/clawdeck/internal/supervisor"
)

// Channel is a messaging platform integration that mirrors panel
// notifications and accepts gateway control commands.
type Channel interface {
	// Name returns the unique name of the channel (e.g., "telegram").
	Name() string

	// Start begins listening for messages. It blocks until the context is
	// canceled or a fatal error occurs.
	Start(ctx context.Context) error
}

// Controller is the subset of gateway control the channels need. The
// panel server implements it on top of the supervisor.
type Controller interface {
	GatewayStatus() supervisor.Status
	StartGateway(ctx context.Context) error
	StopGateway(ctx context.Context) error
	RestartGateway(ctx context.Context) error
	RecentOutput(n int) []string
}
