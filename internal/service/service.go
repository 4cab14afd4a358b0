// Package service exposes the connection registry to operators.
package service

import (
	"ConnGuard/internal/data"

	"github.com/google/wire"
)

// ProviderSet is service providers.
var ProviderSet = wire.NewSet(
	NewConnectionService,
	wire.Bind(new(DependencyChecker), new(*data.Data)),
)
