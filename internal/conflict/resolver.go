package conflict

import (
	"context"

	"github.com/MikeSquared-Agency/Switchboard/internal/store"
)

// Resolution describes how a conflict was settled without a human.
type Resolution struct {
	Strategy string
	Note     string
}

// Resolver attempts automatic resolution. It receives a snapshot and runs
// without any ledger lock held. Returning an error escalates the conflict.
type Resolver interface {
	Resolve(ctx context.Context, c store.Conflict) (Resolution, error)
}

type ResolverFunc func(ctx context.Context, c store.Conflict) (Resolution, error)

func (f ResolverFunc) Resolve(ctx context.Context, c store.Conflict) (Resolution, error) {
	return f(ctx, c)
}
