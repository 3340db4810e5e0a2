package analysis

import (
	"context"
	"time"

	"github.com/sells-group/market-brief/internal/resilience"
)

type guardedCompleter struct {
	inner   Completer
	policy  *resilience.Policy
	timeout time.Duration
}

// GuardCompleter bounds each completion by timeout (covering all retries)
// and runs it under policy. A nil policy disables retries.
func GuardCompleter(c Completer, policy *resilience.Policy, timeout time.Duration) Completer {
	return &guardedCompleter{inner: c, policy: policy, timeout: timeout}
}

func (g *guardedCompleter) Complete(ctx context.Context, system, prompt string) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	return resilience.Call(ctx, g.policy, "complete", func(ctx context.Context) (string, error) {
		return g.inner.Complete(ctx, system, prompt)
	})
}

type timeoutSearcher struct {
	inner   Searcher
	timeout time.Duration
}

// TimeoutSearcher bounds each search by timeout.
func TimeoutSearcher(s Searcher, timeout time.Duration) Searcher {
	return &timeoutSearcher{inner: s, timeout: timeout}
}

func (t *timeoutSearcher) Search(ctx context.Context, query string) (string, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	return t.inner.Search(ctx, query)
}
