package window

import "context"

// QueueLen returns the number of callers waiting on the in-flight creation.
func (m *Manager) QueueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

func (m *Manager) RunExclusive(ctx context.Context, op func(context.Context) (*Window, error), done func(*Window, error)) {
	m.runExclusive(ctx, op, done)
}
