package integration

import (
	"context"
	"errors"

	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/erp/syncengine/internal/infrastructure/resilience"
)

// platformCaller runs platform calls of one connector through its limiter,
// its breaker and the retry helper, in that order
type platformCaller struct {
	limiter resilience.Limiter
	breaker *resilience.CircuitBreaker
	policy  resilience.RetryPolicy
}

func newPlatformCaller(reg *resilience.Registry, connectorID string, policy resilience.RetryPolicy) *platformCaller {
	return &platformCaller{
		limiter: reg.Limiter(connectorID),
		breaker: reg.Breaker(connectorID),
		policy:  policy,
	}
}

// Do calls fn until it succeeds or the retry policy gives up
func (c *platformCaller) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return resilience.Retry(ctx, c.policy, func(ctx context.Context, _ int) error {
		return c.once(ctx, fn)
	})
}

// once is a single limited, breaker-guarded attempt. Permanent platform
// errors are marked so Retry stops.
func (c *platformCaller) once(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := c.limiter.Consume(ctx, 1); err != nil {
		return limiterError(ctx, err)
	}
	return classify(c.breaker.Execute(ctx, fn))
}

// limiterError keeps an unreachable shared limiter retryable; anything else
// the limiter returns (cancellation, a cost it can never grant) ends the call
func limiterError(ctx context.Context, err error) error {
	if ctx.Err() == nil && errors.Is(err, resilience.ErrLimiterUnavailable) {
		return err
	}
	return resilience.Permanent(err)
}

// classify marks errors that retrying cannot fix as permanent
func classify(err error) error {
	if err == nil || resilience.IsPermanent(err) {
		return err
	}
	if isPermanentError(err) || isFatalError(err) {
		return resilience.Permanent(err)
	}
	return err
}

// isPermanentError reports item-level errors that will fail the same way on every attempt
func isPermanentError(err error) bool {
	return errors.Is(err, integration.ErrPlatformEntityNotFound) ||
		errors.Is(err, integration.ErrPlatformInvalidRequest) ||
		errors.Is(err, integration.ErrPlatformInvalidResponse) ||
		errors.Is(err, integration.ErrInvalidPayload) ||
		errors.Is(err, integration.ErrInvalidExternalID) ||
		errors.Is(err, integration.ErrInvalidEntityType) ||
		errors.Is(err, integration.ErrUnsupportedEntityType) ||
		errors.Is(err, integration.ErrMappingConflict)
}

// isFatalError reports errors that make every further call of the queue pointless
func isFatalError(err error) bool {
	return errors.Is(err, integration.ErrPlatformAuthFailed) ||
		errors.Is(err, integration.ErrConnectorNotConfigured)
}

// IsBreakerFailure decides which errors count against a connector's circuit
// breaker: platform unavailability, rate limiting and call timeouts.
func IsBreakerFailure(err error) bool {
	return errors.Is(err, integration.ErrPlatformUnavailable) ||
		errors.Is(err, integration.ErrPlatformRateLimited) ||
		errors.Is(err, context.DeadlineExceeded)
}

// listAll walks every page of a collection through caller
func listAll(ctx context.Context, caller *platformCaller, platform integration.ExternalPlatform, q integration.PageQuery, visit func(*integration.Page) error) error {
	for page := 1; ; page++ {
		q.Page = page
		var result *integration.Page
		err := caller.Do(ctx, func(ctx context.Context) error {
			var err error
			result, err = platform.ListPage(ctx, q)
			return err
		})
		if err != nil {
			return err
		}
		if err := visit(result); err != nil {
			return err
		}
		if !result.HasMore || len(result.Items) == 0 {
			return nil
		}
	}
}
