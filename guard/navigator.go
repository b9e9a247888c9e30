package guard

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	iam "github.com/chimerakang/jobboard-iam"
	"github.com/chimerakang/jobboard-iam/metrics"
	"github.com/google/uuid"
)

// View is what the renderer shows for a navigation. Guarded content may be
// drawn only when State.Granted().
type View struct {
	NavigationID string
	Path         string
	State        State
	Redirect     string
	Identity     *iam.Identity
}

// Renderer receives views one at a time, in order.
type Renderer interface {
	Render(View)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(View)

// Render calls f.
func (f RendererFunc) Render(v View) { f(v) }

// Navigator runs a guard check per navigation. Starting a navigation
// supersedes the one in flight: its check is cancelled and its result, should
// it still arrive, is discarded.
type Navigator struct {
	guard    *Guard
	renderer Renderer
	ready    <-chan struct{}
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu      sync.Mutex // serializes transitions and renders
	current string
	cancel  context.CancelFunc

	view atomic.Pointer[View]
}

// NavigatorOption configures a Navigator.
type NavigatorOption func(*Navigator)

// WithReady delays every check until ready is closed, e.g. session.Store.Ready().
func WithReady(ready <-chan struct{}) NavigatorOption {
	return func(n *Navigator) { n.ready = ready }
}

// WithNavigatorMetrics counts superseded navigations.
func WithNavigatorMetrics(m *metrics.Metrics) NavigatorOption {
	return func(n *Navigator) { n.metrics = m }
}

// WithNavigatorLogger sets a structured logger.
func WithNavigatorLogger(l *slog.Logger) NavigatorOption {
	return func(n *Navigator) { n.logger = l }
}

// NewNavigator creates a Navigator. r is called with the mutex held and must
// not start navigations itself; follow redirects from another goroutine.
func NewNavigator(g *Guard, r Renderer, opts ...NavigatorOption) *Navigator {
	n := &Navigator{guard: g, renderer: r, logger: slog.Default()}
	for _, o := range opts {
		o(n)
	}
	n.view.Store(&View{State: Unknown})
	return n
}

// Navigation is one call to Navigate.
type Navigation struct {
	ID     string
	Target string

	done     chan struct{}
	decision Decision
	applied  bool
}

// Done is closed when the guard check has finished, applied or not.
func (n *Navigation) Done() <-chan struct{} { return n.done }

// Wait blocks until the check finishes and reports its decision and whether
// it was rendered. A superseded navigation is never applied.
func (n *Navigation) Wait(ctx context.Context) (Decision, bool) {
	select {
	case <-n.done:
		return n.decision, n.applied
	case <-ctx.Done():
		return Decision{Path: n.Target, State: Unknown, Err: ctx.Err()}, false
	}
}

// Current returns the view last rendered.
func (n *Navigator) Current() View {
	return *n.view.Load()
}

// Navigate starts a navigation to target. The Checking view is rendered before
// Navigate returns; the terminal view follows asynchronously.
func (n *Navigator) Navigate(ctx context.Context, target string) *Navigation {
	nav := &Navigation{ID: uuid.NewString(), Target: target, done: make(chan struct{})}
	checkCtx, cancel := context.WithCancel(iam.WithNavigationID(ctx, nav.ID))

	n.mu.Lock()
	if n.cancel != nil {
		n.cancel()
		n.metrics.RecordSuperseded()
	}
	n.current = nav.ID
	n.cancel = cancel
	n.apply(View{NavigationID: nav.ID, Path: target, State: Checking})
	n.mu.Unlock()

	go n.run(checkCtx, cancel, nav)
	return nav
}

func (n *Navigator) run(ctx context.Context, cancel context.CancelFunc, nav *Navigation) {
	defer close(nav.done)
	defer cancel()

	var d Decision
	if n.waitReady(ctx) {
		d = n.guard.Check(ctx, nav.Target)
	} else {
		d = Decision{Path: nav.Target, State: Unknown, Err: ctx.Err()}
	}

	n.mu.Lock()
	latest := n.current == nav.ID
	if latest {
		n.cancel = nil
	}
	applied := latest && ctx.Err() == nil && d.State.Terminal()
	if applied {
		n.apply(View{
			NavigationID: nav.ID,
			Path:         nav.Target,
			State:        d.State,
			Redirect:     d.Redirect,
			Identity:     d.Identity,
		})
	}
	n.mu.Unlock()

	if !applied {
		n.logger.DebugContext(ctx, "discarded stale navigation result",
			"navigation_id", nav.ID, "path", nav.Target, "state", d.State.String())
	}
	nav.decision, nav.applied = d, applied
}

func (n *Navigator) waitReady(ctx context.Context) bool {
	if n.ready == nil {
		return true
	}
	select {
	case <-n.ready:
		return true
	case <-ctx.Done():
		return false
	}
}

// apply stores and renders v; caller holds n.mu.
func (n *Navigator) apply(v View) {
	n.view.Store(&v)
	if n.renderer != nil {
		n.renderer.Render(v)
	}
}
