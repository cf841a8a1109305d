package flags

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleDataset = `[
  {"Symbol":"SQUID","wasRekt":true,"Category":"Rug Pull","TypeOfIssue":"Exit Scam","FundsLost":"$3,380,000","Date":"2021-11-01","Chain":"BSC","ContractChain":"BSC","ContractAddress":"0x87230146e138d3f296a9a77e497a2a83012e9bc5"},
  {"Symbol":"safemoon","wasRekt":"true","TypeOfIssue":"Exploit","FundsLost":8900000},
  {"Symbol":"BTC","wasRekt":false},
  {"Symbol":"","wasRekt":true},
  {"Symbol":"btc","wasRekt":true,"TypeOfIssue":"Impersonation"},
  {"Symbol":"SQUID","wasRekt":false}
]`

func TestParseAndLookup(t *testing.T) {
	d, err := Parse(strings.NewReader(sampleDataset))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if d.Len() != 3 {
		t.Errorf("Len = %d, want 3", d.Len())
	}
	if d.Records() != 6 {
		t.Errorf("Records = %d, want 6", d.Records())
	}

	rec, ok := d.Lookup("squid")
	if !ok {
		t.Fatal("expected SQUID record")
	}
	if !rec.WasRekt || rec.TypeOfIssue != "Exit Scam" || rec.Chain != "BSC" {
		t.Errorf("SQUID record = %+v", rec)
	}
}

func TestParseLenientValues(t *testing.T) {
	d, err := Parse(strings.NewReader(sampleDataset))
	if err != nil {
		t.Fatal(err)
	}
	rec, ok := d.Lookup("SAFEMOON")
	if !ok {
		t.Fatal("expected SAFEMOON record")
	}
	if !rec.WasRekt {
		t.Error(`"true" string should decode as a rug pull`)
	}
	if rec.FundsLost != "8900000" {
		t.Errorf("FundsLost = %q, want 8900000", rec.FundsLost)
	}
}

func TestParseRektReplacesClean(t *testing.T) {
	d, _ := Parse(strings.NewReader(sampleDataset))
	rec, _ := d.Lookup("BTC")
	if !rec.WasRekt || rec.TypeOfIssue != "Impersonation" {
		t.Errorf("later rug-pull record should replace the clean one: %+v", rec)
	}
	rec, _ = d.Lookup("SQUID")
	if !rec.WasRekt {
		t.Error("a later clean record must not replace a rug-pull record")
	}
}

func TestLookupMiss(t *testing.T) {
	d, _ := Parse(strings.NewReader(sampleDataset))
	if _, ok := d.Lookup("DOGE"); ok {
		t.Error("DOGE should not be flagged")
	}
	var nilSet *Dataset
	if _, ok := nilSet.Lookup("SQUID"); ok || nilSet.Len() != 0 {
		t.Error("nil dataset should be empty")
	}
}

func TestParseMalformed(t *testing.T) {
	for _, in := range []string{`{"Symbol":"X"}`, `not json`, `[1,2]`, ``} {
		if _, err := Parse(strings.NewReader(in)); !errors.Is(err, ErrMalformed) {
			t.Errorf("Parse(%q): expected ErrMalformed, got %v", in, err)
		}
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	if err := os.WriteFile(path, []byte(sampleDataset), 0o644); err != nil {
		t.Fatal(err)
	}
	d, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, ok := d.Lookup("squid"); !ok {
		t.Error("expected SQUID after Load")
	}
}

func TestLoadEmptyPath(t *testing.T) {
	d, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") failed: %v", err)
	}
	if d.Len() != 0 {
		t.Errorf("Len = %d, want 0", d.Len())
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}
