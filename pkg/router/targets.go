package router

import (
	"fmt"
	"sync"

	"github.com/gobwas/glob"

	"github.com/b/lessonmate/pkg/protocol"
)

// DefaultHostPattern matches every page of the learning site.
const DefaultHostPattern = "*://*.alura.com.br/*"

// hostMatcher holds the compiled host page pattern. It can be swapped while
// messages are being routed.
type hostMatcher struct {
	mu      sync.RWMutex
	pattern string
	g       glob.Glob
}

func newHostMatcher(pattern string) (*hostMatcher, error) {
	m := &hostMatcher{}
	if err := m.set(pattern); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *hostMatcher) set(pattern string) error {
	if pattern == "" {
		pattern = DefaultHostPattern
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		return fmt.Errorf("compile host pattern %q: %w", pattern, err)
	}
	m.mu.Lock()
	m.pattern = pattern
	m.g = g
	m.mu.Unlock()
	return nil
}

func (m *hostMatcher) match(url string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.g.Match(url)
}

func (m *hostMatcher) String() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pattern
}

// SelectHost picks the host page a command goes to. Among pages whose URL
// matches, an active page with an access time wins, the most recent first;
// otherwise the first match in registration order.
func SelectHost(pages []protocol.Page, match func(url string) bool) (protocol.Page, bool) {
	var (
		first    *protocol.Page
		best     *protocol.Page
		haveBest bool
	)
	for i := range pages {
		p := &pages[i]
		if !match(p.URL) {
			continue
		}
		if first == nil {
			first = p
		}
		if !p.Active || p.LastAccessed.IsZero() {
			continue
		}
		if !haveBest || p.LastAccessed.After(best.LastAccessed) {
			best = p
			haveBest = true
		}
	}
	if haveBest {
		return *best, true
	}
	if first != nil {
		return *first, true
	}
	return protocol.Page{}, false
}
