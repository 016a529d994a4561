package realtime

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	"go.uber.org/fx"

	"github.com/coursekit/coursekit/internal/config"
)

// Module provides the realtime fan-out domain
var Module = fx.Module("realtime",
	fx.Provide(
		NewRegistry,
		NewVerifierFromConfig,
		NewHandler,
		// Expose the registry behind the Relay interface for job handlers
		fx.Annotate(
			func(r *Registry) Relay { return r },
			fx.As(new(Relay)),
		),
	),
	fx.Invoke(RegisterRoutes),
)

// NewVerifierFromConfig builds the handshake token verifier
func NewVerifierFromConfig(cfg *config.Config, log *slog.Logger) *TokenVerifier {
	if cfg.Realtime.JWTSecret == "" {
		log.Warn("realtime JWT secret not configured, stream handshakes will be rejected")
	}
	return NewTokenVerifier(cfg.Realtime.JWTSecret)
}

// RegisterRoutes registers the realtime routes
func RegisterRoutes(e *echo.Echo, h *Handler) {
	rt := e.Group("/api/realtime")
	rt.GET("/stream", h.HandleStream)
	rt.GET("/connections/count", h.HandleConnectionsCount)
}
