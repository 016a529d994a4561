package payments

import (
	"go.uber.org/fx"
)

// Module provides checkout and the payment gateway webhook
var Module = fx.Module("payments",
	fx.Provide(
		NewHTTPHandler,
		fx.Annotate(
			NewRepository,
			fx.As(new(Enrollments)),
		),
	),
	fx.Invoke(RegisterRoutes),
)
