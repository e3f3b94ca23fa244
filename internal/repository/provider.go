package repository

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nath-hub/transaction/internal/domain"
	"github.com/nath-hub/transaction/internal/service"
)

var _ service.Store = (*Store)(nil)

// Provider maps a request's environment to its backing store. Sandbox and
// production data live in separate databases; the environment travels with
// each request rather than switching a shared connection.
type Provider struct {
	stores map[domain.Environment]*Store
}

func NewProvider(pools map[domain.Environment]*pgxpool.Pool) *Provider {
	stores := make(map[domain.Environment]*Store, len(pools))
	for env, pool := range pools {
		stores[env] = NewStore(pool)
	}
	return &Provider{stores: stores}
}

// For returns the store for an environment.
func (p *Provider) For(env domain.Environment) (*Store, error) {
	store, ok := p.stores[env]
	if !ok {
		return nil, fmt.Errorf("no database configured for environment %q", env)
	}
	return store, nil
}
