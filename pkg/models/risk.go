package models

// RiskLabel is the human-readable risk band derived from a score.
type RiskLabel string

const (
	RiskLow    RiskLabel = "Low Risk"
	RiskMedium RiskLabel = "Medium Risk"
	RiskHigh   RiskLabel = "High Risk"
)

// RiskAssessment is the scam-risk verdict for a coin.
type RiskAssessment struct {
	Score   int       `json:"score"` // 0-100
	Label   RiskLabel `json:"label"`
	Flagged bool      `json:"flagged"`          // true when a documented rug pull forced the score
	Reason  string    `json:"reason,omitempty"` // e.g., "flagged rug pull: Exit Scam"
}

// FlaggedToken is one record of the static known-incident dataset.
// Field names follow the dataset's JSON keys.
type FlaggedToken struct {
	Symbol          string `json:"Symbol"`
	WasRekt         bool   `json:"wasRekt"`
	Category        string `json:"Category,omitempty"`
	TypeOfIssue     string `json:"TypeOfIssue,omitempty"`
	FundsLost       string `json:"FundsLost,omitempty"`
	Date            string `json:"Date,omitempty"`
	Chain           string `json:"Chain,omitempty"`
	ContractChain   string `json:"ContractChain,omitempty"`
	ContractAddress string `json:"ContractAddress,omitempty"`
}
