// Package classify maps subjects to category labels.
//
// Resolution order: user override, exact table, regex patterns, one retry on
// the parent domain, then "other". Classification is deterministic and fully
// local; no lookup touches the network.
package classify

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/cadence/internal/subject"
)

// DefaultCategory is returned when nothing matches.
const DefaultCategory = "other"

// OverrideStore persists the user-defined subject -> category map.
type OverrideStore interface {
	SetOverride(ctx context.Context, subject, category string) error
	DeleteOverride(ctx context.Context, subject string) error
	AllOverrides(ctx context.Context) (map[string]string, error)
}

// Classifier resolves subjects to categories. Overrides are held in memory
// and written through to the store on every mutation.
type Classifier struct {
	mu        sync.RWMutex
	overrides map[string]string
	extra     *RulesFile
	extraPats []patternRule
	store     OverrideStore
}

// New creates a Classifier, loading persisted overrides from store and
// optional extra rules. Both may be nil/empty.
func New(ctx context.Context, store OverrideStore, extra *RulesFile) (*Classifier, error) {
	c := &Classifier{
		overrides: make(map[string]string),
		store:     store,
	}

	if store != nil {
		overrides, err := store.AllOverrides(ctx)
		if err != nil {
			return nil, fmt.Errorf("load overrides: %w", err)
		}
		c.overrides = overrides
	}

	if extra != nil {
		c.extra = extra
		for _, p := range extra.Patterns {
			re, err := regexp.Compile(p.Pattern)
			if err != nil {
				log.Warn().Str("pattern", p.Pattern).Err(err).Msg("Skipping invalid rules pattern")
				continue
			}
			c.extraPats = append(c.extraPats, patternRule{category: p.Category, re: re})
		}
	}

	return c, nil
}

// Classify resolves a subject to its category.
func (c *Classifier) Classify(subj string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.resolve(subj, true)
}

// resolve runs the resolution chain; retryParent permits a single recursive
// step onto the parent domain.
func (c *Classifier) resolve(subj string, retryParent bool) string {
	if cat, ok := c.overrides[subj]; ok {
		return cat
	}
	if c.extra != nil {
		if cat, ok := c.extra.Exact[subj]; ok {
			return cat
		}
	}
	if cat, ok := exactCategories[subj]; ok {
		return cat
	}
	for _, r := range c.extraPats {
		if r.re.MatchString(subj) {
			return r.category
		}
	}
	for _, r := range patternRules {
		if r.re.MatchString(subj) {
			return r.category
		}
	}
	if retryParent {
		if parent := subject.MainDomain(subj); parent != subj {
			return c.resolve(parent, false)
		}
	}
	return DefaultCategory
}

// SetOverride records a user category override and persists it immediately.
func (c *Classifier) SetOverride(ctx context.Context, subj, category string) error {
	if c.store != nil {
		if err := c.store.SetOverride(ctx, subj, category); err != nil {
			return fmt.Errorf("persist override: %w", err)
		}
	}
	c.mu.Lock()
	c.overrides[subj] = category
	c.mu.Unlock()

	log.Debug().Str("subject", subj).Str("category", category).Msg("Category override set")
	return nil
}

// ClearOverride removes a user override and persists the removal immediately.
func (c *Classifier) ClearOverride(ctx context.Context, subj string) error {
	if c.store != nil {
		if err := c.store.DeleteOverride(ctx, subj); err != nil {
			return fmt.Errorf("remove override: %w", err)
		}
	}
	c.mu.Lock()
	delete(c.overrides, subj)
	c.mu.Unlock()

	log.Debug().Str("subject", subj).Msg("Category override cleared")
	return nil
}

// Overrides returns a copy of the current override map.
func (c *Classifier) Overrides() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.overrides))
	for k, v := range c.overrides {
		out[k] = v
	}
	return out
}
