package broker

import (
	"context"
	"fmt"

	"SigRelay/internal/domain/models"
	"SigRelay/internal/domain/repository"
	"SigRelay/pkg/config"
	"SigRelay/pkg/logger"
)

// Router picks the adapter for a signal's account. Account "*" in a
// broker config makes it the fallback for unmapped accounts.
type Router struct {
	byAccount map[string]repository.BrokerAdapter
	fallback  repository.BrokerAdapter
	adapters  []repository.BrokerAdapter
}

// NewRouter builds adapters from broker configs. Bridge adapters dial
// lazily on Connect, so building the router never blocks startup.
func NewRouter(lgr *logger.Logger, cfgs []config.BrokerConfig) (*Router, error) {
	r := &Router{byAccount: make(map[string]repository.BrokerAdapter)}

	for _, bc := range cfgs {
		var adapter repository.BrokerAdapter
		switch bc.Type {
		case "paper":
			adapter = NewPaper(lgr, bc.Name, bc.Paper.FillPrice, bc.Paper.Latency)
		case "bridge":
			adapter = NewBridge(lgr, bc.Name, bc.Bridge.URL, bc.Bridge.ReconnectDelay, bc.Bridge.PingInterval)
		default:
			return nil, fmt.Errorf("broker %q: unknown type %q", bc.Name, bc.Type)
		}
		r.adapters = append(r.adapters, adapter)
		for _, acct := range bc.Accounts {
			if acct == "*" {
				r.fallback = adapter
				continue
			}
			if _, dup := r.byAccount[acct]; dup {
				return nil, fmt.Errorf("account %q mapped to more than one broker", acct)
			}
			r.byAccount[acct] = adapter
		}
	}

	if len(r.adapters) == 0 {
		// always have somewhere to send orders; a lone paper broker keeps
		// dev setups working with an empty brokers section
		paper := NewPaper(lgr, "paper", 0, 0)
		r.adapters = append(r.adapters, paper)
		r.fallback = paper
	}
	return r, nil
}

// NewStaticRouter wraps fixed adapters: explicit account mappings plus a
// fallback. Used when the adapter set is built by hand rather than from
// configuration.
func NewStaticRouter(byAccount map[string]repository.BrokerAdapter, fallback repository.BrokerAdapter) *Router {
	r := &Router{byAccount: make(map[string]repository.BrokerAdapter), fallback: fallback}
	if fallback != nil {
		r.adapters = append(r.adapters, fallback)
	}
	for acct, a := range byAccount {
		r.byAccount[acct] = a
		r.adapters = append(r.adapters, a)
	}
	return r
}

// ForAccount resolves the adapter for an account.
func (r *Router) ForAccount(account string) (repository.BrokerAdapter, error) {
	if a, ok := r.byAccount[account]; ok {
		return a, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, models.PermanentExecError("no broker for account", fmt.Errorf("account %q", account))
}

// Connect dials every adapter that needs a connection.
func (r *Router) Connect(ctx context.Context) error {
	for _, a := range r.adapters {
		if br, ok := a.(*Bridge); ok {
			if err := br.Connect(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// Pollers returns the adapters that confirm fills asynchronously.
func (r *Router) Pollers() []repository.FillPoller {
	var out []repository.FillPoller
	for _, a := range r.adapters {
		if p, ok := a.(repository.FillPoller); ok {
			out = append(out, p)
		}
	}
	return out
}

// Close closes every adapter that holds resources.
func (r *Router) Close() error {
	var first error
	for _, a := range r.adapters {
		if br, ok := a.(*Bridge); ok {
			if err := br.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}
