// Package risk maps coin market statistics to a scam-risk assessment.
//
// The score itself comes from a pluggable Strategy; the label partition and
// the known-incident override are fixed:
//
//	score > 60  High Risk
//	score > 30  Medium Risk
//	otherwise   Low Risk
//
// A symbol documented as a rug pull always scores MaxScore.
package risk

import (
	"fmt"

	"github.com/seenimoa/coinsentinel/pkg/models"
)

// Score bounds and band thresholds.
const (
	MinScore        = 0
	MaxScore        = 100
	HighThreshold   = 60
	MediumThreshold = 30
)

// DefaultBaseline is the score the placeholder strategy assigns.
const DefaultBaseline = 10

// Strategy computes a raw score from market statistics. It must be
// deterministic; results are clamped to [MinScore, MaxScore].
type Strategy func(stats models.CoinStats) int

// Fixed returns a strategy that scores every coin n.
func Fixed(n int) Strategy {
	return func(models.CoinStats) int { return n }
}

// Scorer is safe for concurrent use if its Strategy is.
type Scorer struct {
	strategy Strategy
}

// New creates a Scorer. A nil strategy means Fixed(DefaultBaseline).
func New(strategy Strategy) *Scorer {
	if strategy == nil {
		strategy = Fixed(DefaultBaseline)
	}
	return &Scorer{strategy: strategy}
}

// Score assesses stats. When flag records a rug pull for the same coin the
// score is forced to MaxScore regardless of the strategy.
func (s *Scorer) Score(stats models.CoinStats, flag *models.FlaggedToken) models.RiskAssessment {
	if flag != nil && flag.WasRekt {
		return models.RiskAssessment{
			Score:   MaxScore,
			Label:   Label(MaxScore),
			Flagged: true,
			Reason:  flagReason(flag),
		}
	}
	score := Clamp(s.strategy(stats))
	return models.RiskAssessment{Score: score, Label: Label(score)}
}

// Label returns the band for score.
func Label(score int) models.RiskLabel {
	switch {
	case score > HighThreshold:
		return models.RiskHigh
	case score > MediumThreshold:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}

// Clamp bounds score to [MinScore, MaxScore].
func Clamp(score int) int {
	return max(MinScore, min(MaxScore, score))
}

func flagReason(flag *models.FlaggedToken) string {
	switch {
	case flag.TypeOfIssue != "" && flag.FundsLost != "":
		return fmt.Sprintf("flagged rug pull: %s (funds lost: %s)", flag.TypeOfIssue, flag.FundsLost)
	case flag.TypeOfIssue != "":
		return "flagged rug pull: " + flag.TypeOfIssue
	default:
		return "flagged rug pull"
	}
}
