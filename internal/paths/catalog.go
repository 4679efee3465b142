// Package paths holds the static registry of triangular paths. Paths are
// validated once at load and never mutated afterwards, so the catalog is
// safe for concurrent reads without locking.
package paths

import (
	"fmt"
	"sort"

	"github.com/ARB4ME/arb4me-unified-sub000/internal/config"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/exchange/common"
)

// SetAll is the sentinel set name resolving to the union of all sets.
const SetAll = "ALL"

// Leg is one third of a triangular cycle: a buy or sell on a single pair.
// Base/Quote are resolved from the pair table at load time.
type Leg struct {
	Pair  string
	Base  string
	Quote string
	Side  common.Side
}

// Input returns the currency this leg spends.
func (l Leg) Input() string {
	if l.Side == common.Buy {
		return l.Quote
	}
	return l.Base
}

// Output returns the currency this leg produces.
func (l Leg) Output() string {
	if l.Side == common.Buy {
		return l.Base
	}
	return l.Quote
}

// Path is an immutable triangular path definition.
type Path struct {
	ID            string
	StartCurrency string
	Legs          [3]Leg
}

// UnknownSetError is returned by GetPaths for an unrecognized set name.
type UnknownSetError struct {
	Set string
}

func (e *UnknownSetError) Error() string { return fmt.Sprintf("unknown path set %q", e.Set) }

// UnknownPathError is returned by PathByID for an unrecognized path id.
type UnknownPathError struct {
	ID string
}

func (e *UnknownPathError) Error() string { return fmt.Sprintf("unknown path %q", e.ID) }

type Catalog struct {
	sets  map[string][]Path
	byID  map[string]Path
	pairs map[string]config.Pair
}

// NewCatalog builds and validates the catalog from configuration.
// A malformed path is a configuration bug and fails the whole load.
func NewCatalog(pairs []config.Pair, sets map[string][]config.Path) (*Catalog, error) {
	c := &Catalog{
		sets:  make(map[string][]Path, len(sets)),
		byID:  make(map[string]Path),
		pairs: make(map[string]config.Pair, len(pairs)),
	}
	for _, p := range pairs {
		if p.Symbol == "" || p.Base == "" || p.Quote == "" {
			return nil, fmt.Errorf("pair %+v: symbol, base and quote are all required", p)
		}
		c.pairs[p.Symbol] = p
	}
	for set, defs := range sets {
		if set == SetAll {
			return nil, fmt.Errorf("path set name %q is reserved", SetAll)
		}
		for _, def := range defs {
			path, err := c.buildPath(def)
			if err != nil {
				return nil, fmt.Errorf("path set %s: %w", set, err)
			}
			if _, dup := c.byID[path.ID]; dup {
				return nil, fmt.Errorf("duplicate path id %q", path.ID)
			}
			c.byID[path.ID] = path
			c.sets[set] = append(c.sets[set], path)
		}
	}
	return c, nil
}

func (c *Catalog) buildPath(def config.Path) (Path, error) {
	if def.ID == "" {
		return Path{}, fmt.Errorf("path with empty id")
	}
	if len(def.Legs) != 3 {
		return Path{}, fmt.Errorf("path %s: expected 3 legs, got %d", def.ID, len(def.Legs))
	}
	var legs [3]Leg
	for i, l := range def.Legs {
		pair, ok := c.pairs[l.Pair]
		if !ok {
			return Path{}, fmt.Errorf("path %s leg %d: pair %q not in pair table", def.ID, i+1, l.Pair)
		}
		var side common.Side
		switch l.Side {
		case "buy":
			side = common.Buy
		case "sell":
			side = common.Sell
		default:
			return Path{}, fmt.Errorf("path %s leg %d: side must be buy or sell, got %q", def.ID, i+1, l.Side)
		}
		legs[i] = Leg{Pair: pair.Symbol, Base: pair.Base, Quote: pair.Quote, Side: side}
	}
	// the legs must chain into a closed currency cycle
	start := legs[0].Input()
	cur := start
	for i, leg := range legs {
		if leg.Input() != cur {
			return Path{}, fmt.Errorf("path %s leg %d: expects input %s but previous leg produces %s", def.ID, i+1, leg.Input(), cur)
		}
		cur = leg.Output()
	}
	if cur != start {
		return Path{}, fmt.Errorf("path %s: cycle ends in %s, not start currency %s", def.ID, cur, start)
	}
	return Path{ID: def.ID, StartCurrency: start, Legs: legs}, nil
}

// GetPaths returns all paths in a named set, or the union of all sets for
// SetAll, in a stable order.
func (c *Catalog) GetPaths(set string) ([]Path, error) {
	if set == SetAll {
		out := make([]Path, 0, len(c.byID))
		for _, p := range c.byID {
			out = append(out, p)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return out, nil
	}
	ps, ok := c.sets[set]
	if !ok {
		return nil, &UnknownSetError{Set: set}
	}
	out := make([]Path, len(ps))
	copy(out, ps)
	return out, nil
}

// PathByID looks up a single path.
func (c *Catalog) PathByID(id string) (Path, error) {
	p, ok := c.byID[id]
	if !ok {
		return Path{}, &UnknownPathError{ID: id}
	}
	return p, nil
}

// SetNames lists the configured set names, sorted.
func (c *Catalog) SetNames() []string {
	out := make([]string, 0, len(c.sets))
	for name := range c.sets {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// AllPairs returns the deduplicated pair symbols the given paths need
// order books for, sorted for deterministic fetch order.
func AllPairs(paths []Path) []string {
	seen := make(map[string]struct{})
	for _, p := range paths {
		for _, leg := range p.Legs {
			seen[leg.Pair] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
