// Package models defines the core data structures shared by the catalog,
// search, resolution and risk components of coinsentinel.
package models

// CatalogEntry is one coin as published by the upstream catalog provider.
// Entries are immutable once fetched.
type CatalogEntry struct {
	ID     string `json:"id"`     // e.g., "dogecoin"; unique, lowercase, provider-assigned
	Name   string `json:"name"`   // e.g., "Dogecoin"
	Symbol string `json:"symbol"` // e.g., "doge"; not unique across the catalog
}

// CoinStats is the market snapshot rendered for a resolved coin.
// Numeric fields are zero when the upstream payload omits them.
type CoinStats struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	MarketCap float64 `json:"marketCap"`
	Volume24h float64 `json:"volume24h"`
	High24h   float64 `json:"high24h"`
	Low24h    float64 `json:"low24h"`
	Currency  string  `json:"currency,omitempty"` // quote currency, e.g., "usd"
}
