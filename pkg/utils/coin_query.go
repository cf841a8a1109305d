package utils

import (
	"strings"
)

// NormalizeQuery prepares raw search-box text for matching: whitespace is
// trimmed and a leading "$" (common when pasting tickers) is dropped when
// something follows it. A lone "$" is kept so it can be matched literally.
// Case is preserved; matching is case-insensitive.
func NormalizeQuery(text string) string {
	text = strings.TrimSpace(text)
	if rest, ok := strings.CutPrefix(text, "$"); ok {
		if rest = strings.TrimSpace(rest); rest != "" {
			return rest
		}
	}
	return text
}

// NormalizeCoinID turns free text into a catalog-style identifier:
// lowercased, trimmed, "$" prefix removed and inner whitespace runs joined
// with "-" ("Shiba Inu" -> "shiba-inu").
func NormalizeCoinID(text string) string {
	text = strings.ToLower(NormalizeQuery(text))
	return strings.Join(strings.Fields(text), "-")
}

// NormalizeSymbol uppercases a ticker symbol for dataset lookups.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(NormalizeQuery(symbol))
}

// IsCoinID reports whether s looks like a provider coin identifier:
// non-empty and made only of lowercase letters, digits, '-', '_' and '.'.
func IsCoinID(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.':
		default:
			return false
		}
	}
	return true
}
