package appraisal

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Strategy selects how adjustment factors combine into a quality score.
type Strategy string

const (
	// StrategyMean averages the factors. Used by the basic price guide.
	StrategyMean Strategy = "mean"
	// StrategyProduct multiplies the factors. Used by the detailed price guide.
	StrategyProduct Strategy = "product"
)

// ParseStrategy maps a config value to a Strategy. Empty selects def.
func ParseStrategy(s string, def Strategy) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return def, nil
	case StrategyMean:
		return StrategyMean, nil
	case StrategyProduct:
		return StrategyProduct, nil
	default:
		return "", eris.Errorf("appraisal: unknown quality strategy %q (want mean or product)", s)
	}
}

// Compose combines factor values. An empty list is neutral.
func (s Strategy) Compose(factors []Factor) float64 {
	if len(factors) == 0 {
		return 1.0
	}
	switch s {
	case StrategyProduct:
		q := 1.0
		for _, f := range factors {
			q *= f.Value
		}
		return q
	default:
		sum := 0.0
		for _, f := range factors {
			sum += f.Value
		}
		return sum / float64(len(factors))
	}
}
