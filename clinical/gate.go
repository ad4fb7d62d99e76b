package clinical

import "sync"

// Gate arbitrates between a reconciliation fetch and a save response as the
// source of truth. Each kind holds a one-shot lock: a save sets it, and the
// next fetch for that kind consumes it and skips its overwrite.
type Gate struct {
	mu           sync.Mutex
	lockedBySave map[Kind]bool
}

// NewGate returns a gate with every kind unlocked.
func NewGate() *Gate {
	return &Gate{lockedBySave: make(map[Kind]bool, len(Kinds))}
}

// Lock marks kind as just written by a save.
func (g *Gate) Lock(kind Kind) {
	g.mu.Lock()
	g.lockedBySave[kind] = true
	g.mu.Unlock()
}

// Consume reads the lock for kind and resets it.
func (g *Gate) Consume(kind Kind) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	locked := g.lockedBySave[kind]
	g.lockedBySave[kind] = false
	return locked
}

// Locked peeks at the lock without consuming it.
func (g *Gate) Locked(kind Kind) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lockedBySave[kind]
}
