package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
)

const (
	// LocalRowPrefix marks ids of rows the server has not seen yet.
	LocalRowPrefix = "local-"
	rowIDLength    = 8
)

// capital letters and digits without 0, O, 1 and I
var rowIDAlphabet = []byte("ABCDEFGHJKLMNPQRSTUVWXYZ23456789")

// IDGenerator hands out short ids for rows created before the server has
// seen them. The most recent ids are remembered so none is issued twice.
type IDGenerator struct {
	mu     sync.Mutex
	used   map[string]struct{}
	recent []string // ring of remembered ids, oldest at next
	next   int
}

// NewIDGenerator creates a generator that remembers the last window ids.
func NewIDGenerator(window int) *IDGenerator {
	if window <= 0 {
		window = 100000
	}
	return &IDGenerator{
		used:   make(map[string]struct{}, window),
		recent: make([]string, 0, window),
	}
}

// GenerateID returns a new row id such as "local-K7PZ2QMA".
func (g *IDGenerator) GenerateID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	const maxAttempts = 100
	for attempt := 0; attempt < maxAttempts; attempt++ {
		suffix, err := randomString(rowIDLength)
		if err != nil {
			return "", err
		}
		id := LocalRowPrefix + suffix
		if _, taken := g.used[id]; taken {
			continue
		}
		g.remember(id)
		return id, nil
	}
	return "", fmt.Errorf("no free row id after %d attempts", maxAttempts)
}

func (g *IDGenerator) remember(id string) {
	if len(g.recent) < cap(g.recent) {
		g.recent = append(g.recent, id)
	} else {
		delete(g.used, g.recent[g.next])
		g.recent[g.next] = id
		g.next = (g.next + 1) % len(g.recent)
	}
	g.used[id] = struct{}{}
}

func randomString(n int) (string, error) {
	out := make([]byte, n)
	max := big.NewInt(int64(len(rowIDAlphabet)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = rowIDAlphabet[idx.Int64()]
	}
	return string(out), nil
}
