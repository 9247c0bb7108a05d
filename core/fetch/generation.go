package fetch

import (
	"context"
	"sync"
)

type scopeCtxKey struct{}

// WithScope ties the fetches made with ctx to one caller view, e.g. a user's dashboard.
// Within a scope, a newer fetch of the same resource and params supersedes the older one.
// Fetches without a scope are never superseded.
func WithScope(ctx context.Context, scope string) context.Context {
	return context.WithValue(ctx, scopeCtxKey{}, scope)
}

// ScopeFromContext returns the scope set by WithScope, if any.
func ScopeFromContext(ctx context.Context) (string, bool) {
	scope, ok := ctx.Value(scopeCtxKey{}).(string)
	return scope, ok && scope != ""
}

// generations tracks the latest generation per fetch key. Starting a new generation cancels the
// previous in-flight one, so a stale response can never overwrite a fresher one.
// Generation numbers are unique across keys, so a key can be forgotten once its latest fetch is over.
type generations struct {
	mu      sync.Mutex
	next    uint64
	latest  map[string]uint64
	cancels map[string]context.CancelFunc
}

func newGenerations() *generations {
	return &generations{
		latest:  make(map[string]uint64),
		cancels: make(map[string]context.CancelFunc),
	}
}

// begin starts a new generation for `key`, cancelling the previous one.
// The returned done func must be called once the fetch is over.
func (g *generations) begin(ctx context.Context, key string) (context.Context, uint64, func()) {
	ctx, cancel := context.WithCancel(ctx)

	g.mu.Lock()
	if prev, ok := g.cancels[key]; ok {
		prev()
	}
	g.next++
	gen := g.next
	g.latest[key] = gen
	g.cancels[key] = cancel
	g.mu.Unlock()

	done := func() {
		g.mu.Lock()
		if g.latest[key] == gen {
			delete(g.latest, key)
			delete(g.cancels, key)
		}
		g.mu.Unlock()
		cancel()
	}
	return ctx, gen, done
}

// current reports whether `gen` is still the latest generation of `key`.
// It must be called before the generation's done func.
func (g *generations) current(key string, gen uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.latest[key] == gen
}

func (g *generations) size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.latest)
}
