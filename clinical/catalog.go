package clinical

import "sync"

// Option is one selectable entry of a reference catalog.
type Option struct {
	Value    string `json:"value"`
	Label    string `json:"label"`
	Priority *int   `json:"priority,omitempty"`
}

// Key is the normalized identity of the option.
func (o Option) Key() string {
	return KeyFor(o.Value, o.Label)
}

func (o Option) identity() Identity {
	return Identity{Key: o.Value, Label: o.Label}
}

// row builds a fresh row for the option with the given local id.
func (o Option) row(id string) Row {
	return Row{
		ID:       id,
		Key:      o.Key(),
		Code:     o.Value,
		Label:    o.Label,
		Priority: priorityOr(o.Priority),
	}
}

// Catalog is the lookup list behind a kind's dropdown.
type Catalog struct {
	mu      sync.RWMutex
	options []Option
	index   map[string]int
	loaded  bool
}

// NewCatalog returns an empty, not yet loaded catalog.
func NewCatalog() *Catalog {
	return &Catalog{index: make(map[string]int)}
}

// Replace swaps in a freshly listed set of options.
func (c *Catalog) Replace(options []Option) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.options = c.options[:0]
	c.index = make(map[string]int, len(options))
	for _, o := range options {
		c.addLocked(o)
	}
	c.loaded = true
}

// Add mirrors a new option into the catalog. It reports false if the option is already present.
func (c *Catalog) Add(o Option) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addLocked(o)
}

func (c *Catalog) addLocked(o Option) bool {
	k := o.Key()
	if k == "" {
		return false
	}
	if _, ok := c.index[k]; ok {
		return false
	}
	c.index[k] = len(c.options)
	c.options = append(c.options, o)
	return true
}

// Lookup finds an option by its value or by its label.
func (c *Catalog) Lookup(keyOrLabel string) (Option, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := Normalize(keyOrLabel)
	if i, ok := c.index[n]; ok {
		return c.options[i], true
	}
	for _, o := range c.options {
		if Normalize(o.Label) == n {
			return o, true
		}
	}
	return Option{}, false
}

// Contains reports whether an option with the same code or label exists.
func (c *Catalog) Contains(id Identity) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	want := candidateForms(id)
	for _, o := range c.options {
		if want[Normalize(o.Value)] || want[Normalize(o.Label)] {
			return true
		}
	}
	return false
}

// Options returns a copy of the catalog in listing order.
func (c *Catalog) Options() []Option {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Option, len(c.options))
	copy(out, c.options)
	return out
}

// Loaded reports whether Replace has run at least once.
func (c *Catalog) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}
