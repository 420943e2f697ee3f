package agent

import "sync"

// Ledger tracks in-flight facade requests by request id. Each entry resolves
// at most once; late or unknown replies are reported as not found.
type Ledger struct {
	mu      sync.Mutex
	pending map[string]chan Result
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{pending: make(map[string]chan Result)}
}

// Add registers id and returns the channel its result arrives on.
func (l *Ledger) Add(id string) <-chan Result {
	ch := make(chan Result, 1)
	l.mu.Lock()
	l.pending[id] = ch
	l.mu.Unlock()
	return ch
}

// Resolve delivers r to the waiter for id and forgets the entry.
func (l *Ledger) Resolve(id string, r Result) bool {
	l.mu.Lock()
	ch, ok := l.pending[id]
	delete(l.pending, id)
	l.mu.Unlock()
	if !ok {
		return false
	}
	ch <- r
	return true
}

// Cancel forgets id without resolving it.
func (l *Ledger) Cancel(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.pending[id]
	delete(l.pending, id)
	return ok
}

// Len returns the number of unresolved requests.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}
