// Package flags loads the static dataset of documented token incidents
// (rug pulls, exit scams, exploits) and looks records up by symbol.
package flags

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/seenimoa/coinsentinel/pkg/models"
	"github.com/seenimoa/coinsentinel/pkg/utils"
)

// ErrMalformed is returned when the dataset is not a JSON array of objects.
var ErrMalformed = errors.New("flagged-token dataset malformed")

// Dataset is immutable after Parse and safe for concurrent lookups.
type Dataset struct {
	bySymbol map[string]models.FlaggedToken
	records  int
}

// Empty returns a dataset with no records.
func Empty() *Dataset {
	return &Dataset{bySymbol: map[string]models.FlaggedToken{}}
}

// Load reads the dataset at path. An empty path yields an empty dataset.
func Load(path string) (*Dataset, error) {
	if strings.TrimSpace(path) == "" {
		return Empty(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open flagged-token dataset: %w", err)
	}
	defer f.Close()
	d, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

// Parse decodes a JSON array of records. Values are read leniently: a
// numeric FundsLost or a "true" string for wasRekt are accepted. Records
// without a Symbol are skipped. When several records share a symbol the
// first one wins, except that a rug-pull record replaces a clean one.
func Parse(r io.Reader) (*Dataset, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read flagged-token dataset: %w", err)
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrMalformed)
	}
	root := gjson.ParseBytes(data)
	if !root.IsArray() {
		return nil, fmt.Errorf("%w: expected array, got %s", ErrMalformed, root.Type)
	}

	d := Empty()
	var bad error
	root.ForEach(func(_ gjson.Result, v gjson.Result) bool {
		if !v.IsObject() {
			bad = fmt.Errorf("%w: record %d is not an object", ErrMalformed, d.records)
			return false
		}
		d.records++
		rec := models.FlaggedToken{
			Symbol:          strings.TrimSpace(v.Get("Symbol").String()),
			WasRekt:         v.Get("wasRekt").Bool(),
			Category:        v.Get("Category").String(),
			TypeOfIssue:     v.Get("TypeOfIssue").String(),
			FundsLost:       v.Get("FundsLost").String(),
			Date:            v.Get("Date").String(),
			Chain:           v.Get("Chain").String(),
			ContractChain:   v.Get("ContractChain").String(),
			ContractAddress: v.Get("ContractAddress").String(),
		}
		key := utils.NormalizeSymbol(rec.Symbol)
		if key == "" {
			return true
		}
		if prev, ok := d.bySymbol[key]; ok && (prev.WasRekt || !rec.WasRekt) {
			return true
		}
		d.bySymbol[key] = rec
		return true
	})
	if bad != nil {
		return nil, bad
	}
	return d, nil
}

// Lookup returns the record for symbol, matched case-insensitively.
func (d *Dataset) Lookup(symbol string) (*models.FlaggedToken, bool) {
	if d == nil {
		return nil, false
	}
	rec, ok := d.bySymbol[utils.NormalizeSymbol(symbol)]
	if !ok {
		return nil, false
	}
	return &rec, true
}

// Len returns the number of distinct symbols.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.bySymbol)
}

// Records returns how many records were read, including duplicates and
// records without a symbol.
func (d *Dataset) Records() int {
	if d == nil {
		return 0
	}
	return d.records
}
