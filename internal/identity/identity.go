// Package identity resolves the currently authenticated storefront customer
// from a set of unreliable sources. Strategies run in order, first non-empty
// result wins, and every strategy failure is isolated: resolution never
// errors out to "broken", only degrades to "anonymous".
package identity

import (
	"context"

	"go.uber.org/zap"

	"github.com/favloyalty/widgetbridge/internal/hostpage"
	"github.com/favloyalty/widgetbridge/internal/observability"
	"github.com/favloyalty/widgetbridge/model"
)

// Input is everything a strategy may consult.
type Input struct {
	Page   hostpage.Snapshot
	Config model.WidgetConfiguration
}

// Strategy is one way of finding the signed-in customer. A zero identity
// with a nil error means "nothing found here, try the next one".
type Strategy interface {
	Name() string
	Resolve(ctx context.Context, in Input) (model.CustomerIdentity, error)
}

// Resolver runs strategies in order with short-circuit on the first
// authenticated result.
type Resolver struct {
	strategies []Strategy
	logger     *zap.Logger
	metrics    *observability.Metrics
}

// NewResolver creates a resolver over the given strategy chain.
func NewResolver(logger *zap.Logger, metrics *observability.Metrics, strategies ...Strategy) *Resolver {
	return &Resolver{strategies: strategies, logger: logger, metrics: metrics}
}

// DefaultStrategies is the production chain: page globals, embedded JSON,
// data attributes, then the asynchronous GraphQL fallback.
func DefaultStrategies(tokens TokenSource, customers CustomerQuerier) []Strategy {
	return []Strategy{
		GlobalsStrategy{},
		ScriptJSONStrategy{},
		DataAttrStrategy{},
		&GraphQLStrategy{Tokens: tokens, Customers: customers},
	}
}

// Resolve runs the full chain. The returned identity is anonymous when no
// strategy found a customer. The error is non-nil only when no strategy
// succeeded AND at least one failed; callers that distinguish "confirmed
// anonymous" from "could not check" (the sign-out watcher) must treat an
// error as inconclusive, not as a sign-out.
func (r *Resolver) Resolve(ctx context.Context, in Input) (model.CustomerIdentity, error) {
	var lastErr error
	for _, s := range r.strategies {
		id, err := s.Resolve(ctx, in)
		if err != nil {
			// Strategy failures are independent and non-fatal.
			lastErr = err
			r.metrics.RecordIdentityResolution(s.Name(), "error")
			r.logger.Warn("identity strategy failed",
				zap.String("strategy", s.Name()),
				zap.Error(err))
			continue
		}
		if id.Authenticated() {
			r.metrics.RecordIdentityResolution(s.Name(), "resolved")
			r.logger.Info("customer resolved",
				zap.String("strategy", s.Name()),
				zap.String("customerId", id.CustomerID))
			return id, nil
		}
		r.metrics.RecordIdentityResolution(s.Name(), "miss")
	}
	return model.Anonymous(), lastErr
}

// ResolveSync runs only the synchronous page strategies, the zero-cost pass
// taken before the frame exists so the first paint can be optimistic.
func (r *Resolver) ResolveSync(ctx context.Context, in Input) model.CustomerIdentity {
	for _, s := range r.strategies {
		if _, async := s.(*GraphQLStrategy); async {
			continue
		}
		id, err := s.Resolve(ctx, in)
		if err != nil {
			continue
		}
		if id.Authenticated() {
			r.metrics.RecordIdentityResolution(s.Name(), "resolved")
			return id
		}
	}
	return model.Anonymous()
}
