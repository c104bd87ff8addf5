package shim

import (
	"strings"
	"sync"
)

// Route is one parsed hash-route: a view name plus its path parameters,
// e.g. "#/series/One_Piece/Volume_01" -> {View: "series", Params:
// ["One_Piece", "Volume_01"]}.
type Route struct {
	View   string
	Params []string
}

// Router is the hash-based view router: it parses "#/..."
// fragments and fans route changes out to subscribers. Navigation history
// is a simple stack so Back() behaves like a browser's.
type Router struct {
	mu      sync.Mutex
	current Route
	history []Route
	subs    []func(Route)
}

func NewRouter() *Router {
	return &Router{current: Route{View: "catalog"}}
}

// ParseFragment turns a "#/view/param1/param2" fragment into a Route. An
// empty or bare "#" fragment routes to the default catalog view.
func ParseFragment(fragment string) Route {
	frag := strings.TrimPrefix(fragment, "#")
	frag = strings.Trim(frag, "/")
	if frag == "" {
		return Route{View: "catalog"}
	}
	parts := strings.Split(frag, "/")
	return Route{View: parts[0], Params: parts[1:]}
}

// Fragment renders r back to its "#/..." form.
func (r Route) Fragment() string {
	if len(r.Params) == 0 {
		return "#/" + r.View
	}
	return "#/" + r.View + "/" + strings.Join(r.Params, "/")
}

// Navigate pushes the current route onto history and switches to the
// route parsed from fragment, notifying subscribers.
func (r *Router) Navigate(fragment string) {
	next := ParseFragment(fragment)
	r.mu.Lock()
	r.history = append(r.history, r.current)
	r.current = next
	subs := append([]func(Route){}, r.subs...)
	r.mu.Unlock()
	for _, fn := range subs {
		fn(next)
	}
}

// Back pops one history entry; a no-op at the root.
func (r *Router) Back() {
	r.mu.Lock()
	if len(r.history) == 0 {
		r.mu.Unlock()
		return
	}
	prev := r.history[len(r.history)-1]
	r.history = r.history[:len(r.history)-1]
	r.current = prev
	subs := append([]func(Route){}, r.subs...)
	r.mu.Unlock()
	for _, fn := range subs {
		fn(prev)
	}
}

// Current returns the active route.
func (r *Router) Current() Route {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Subscribe registers fn for every subsequent route change.
func (r *Router) Subscribe(fn func(Route)) {
	r.mu.Lock()
	r.subs = append(r.subs, fn)
	r.mu.Unlock()
}
