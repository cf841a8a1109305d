// Package search answers interactive coin queries against a catalog
// snapshot. Matching is a linear scan with one compiled, escaped,
// case-insensitive pattern; results keep catalog order and never exceed
// the caller's limit.
package search

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/seenimoa/coinsentinel/internal/catalog"
	"github.com/seenimoa/coinsentinel/pkg/models"
	"github.com/seenimoa/coinsentinel/pkg/utils"
)

// Mode selects how the query is applied to catalog entries.
type Mode int

const (
	// ModeSubstring matches the text anywhere in id, name or symbol.
	ModeSubstring Mode = iota
	// ModePrefix matches the text at the start of the id only.
	ModePrefix
)

func (m Mode) String() string {
	switch m {
	case ModePrefix:
		return "prefix"
	case ModeSubstring:
		return "substring"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode parses "prefix" or "substring" (case-insensitive).
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "prefix":
		return ModePrefix, nil
	case "substring":
		return ModeSubstring, nil
	default:
		return ModeSubstring, fmt.Errorf("unknown search mode %q (want prefix or substring)", s)
	}
}

// Query is one search request. Text is raw user input.
type Query struct {
	Text string
	Mode Mode
}

// Options tunes ordering.
type Options struct {
	// RankExact groups results into tiers: exact id/symbol/name matches,
	// then prefix matches, then the rest. Catalog order is kept within a
	// tier.
	RankExact bool
}

// Pattern compiles the escaped, case-insensitive pattern for q.
// Metacharacters in the text are always matched literally.
func Pattern(q Query) (*regexp.Regexp, error) {
	text := utils.NormalizeQuery(q.Text)
	if text == "" {
		return nil, fmt.Errorf("empty query")
	}
	expr := "(?i)" + regexp.QuoteMeta(text)
	if q.Mode == ModePrefix {
		expr = "(?i)^" + regexp.QuoteMeta(text)
	}
	return regexp.Compile(expr)
}

// Search returns up to limit entries of snap matching q, in catalog order.
// An empty query, a non-positive limit or a nil snapshot yield an empty
// result, never every entry.
func Search(snap *catalog.Snapshot, q Query, limit int) []models.CatalogEntry {
	return SearchWithOptions(snap, q, limit, Options{})
}

// SearchWithOptions is Search with ordering options.
func SearchWithOptions(snap *catalog.Snapshot, q Query, limit int, opts Options) []models.CatalogEntry {
	if limit <= 0 || snap.Len() == 0 {
		return []models.CatalogEntry{}
	}
	re, err := Pattern(q)
	if err != nil {
		return []models.CatalogEntry{}
	}
	match := matcher(re, q.Mode)

	if !opts.RankExact {
		out := make([]models.CatalogEntry, 0, min(limit, 16))
		for _, e := range snap.Entries() {
			if match(e) {
				out = append(out, e)
				if len(out) == limit {
					break
				}
			}
		}
		return out
	}
	return ranked(snap.Entries(), match, strings.ToLower(utils.NormalizeQuery(q.Text)), limit)
}

func matcher(re *regexp.Regexp, mode Mode) func(models.CatalogEntry) bool {
	if mode == ModePrefix {
		return func(e models.CatalogEntry) bool { return re.MatchString(e.ID) }
	}
	return func(e models.CatalogEntry) bool {
		return re.MatchString(e.ID) || re.MatchString(e.Name) || re.MatchString(e.Symbol)
	}
}

const (
	tierExact = iota
	tierPrefix
	tierOther
	numTiers
)

// ranked scans the whole snapshot since a later exact match outranks an
// earlier partial one. Each tier holds at most limit entries.
func ranked(entries []models.CatalogEntry, match func(models.CatalogEntry) bool, lower string, limit int) []models.CatalogEntry {
	var tiers [numTiers][]models.CatalogEntry
	for _, e := range entries {
		if !match(e) {
			continue
		}
		t := tierOf(e, lower)
		if len(tiers[t]) < limit {
			tiers[t] = append(tiers[t], e)
		}
		if t == tierExact && len(tiers[tierExact]) == limit {
			break
		}
	}
	out := make([]models.CatalogEntry, 0, limit)
	for _, tier := range tiers {
		for _, e := range tier {
			if len(out) == limit {
				return out
			}
			out = append(out, e)
		}
	}
	return out
}

func tierOf(e models.CatalogEntry, lower string) int {
	id, name, sym := e.ID, strings.ToLower(e.Name), strings.ToLower(e.Symbol)
	switch {
	case id == lower || sym == lower || name == lower:
		return tierExact
	case strings.HasPrefix(id, lower) || strings.HasPrefix(sym, lower) || strings.HasPrefix(name, lower):
		return tierPrefix
	default:
		return tierOther
	}
}
