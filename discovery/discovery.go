package discovery

import (
	"context"

	"github.com/pkg/errors"

	"github.com/mezonai/headerd/config"
)

var (
	ErrNoSeeds           = errors.New("network has no dns seeds")
	ErrNoPeersDiscovered = errors.New("no peers discovered")
)

// Bootstrapper finds an initial set of peers for a network that has no known peers yet.
// Addresses are returned in host:port form.
type Bootstrapper interface {
	Bootstrap(ctx context.Context, params *config.Params) ([]string, error)
}

// BootstrapFunc adapts a plain function to a Bootstrapper.
type BootstrapFunc func(ctx context.Context, params *config.Params) ([]string, error)

func (f BootstrapFunc) Bootstrap(ctx context.Context, params *config.Params) ([]string, error) {
	return f(ctx, params)
}
