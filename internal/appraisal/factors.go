package appraisal

import (
	"fmt"
	"math"
	"strings"
)

// Factor is one multiplicative adjustment applied to the base multiple.
type Factor struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Note  string  `json:"note"`
}

// Factor names.
const (
	FactorState      = "state"
	FactorYears      = "years"
	FactorMargin     = "margin"
	FactorManagement = "management"
	FactorLease      = "lease"
	FactorRent       = "rent"
	FactorFranchise  = "franchise"
	FactorLiquor     = "liquor_licence"
	FactorGaming     = "gaming_licence"
	FactorStaff      = "staff"
	FactorSentiment  = "reason_for_sale"
)

// neutralBand is how far a factor may sit from 1.0 before it is explained.
const neutralBand = 0.02

// step is one rung of a threshold ladder: values at or above min map to value.
type step struct {
	min   float64
	value float64
}

// ladder returns the value of the first rung whose min is <= v, or floor.
func ladder(v float64, rungs []step, floor float64) float64 {
	for _, r := range rungs {
		if v >= r.min {
			return r.value
		}
	}
	return floor
}

var (
	basicYearsLadder  = []step{{10, 1.05}, {5, 1.00}, {3, 0.95}, {2, 0.90}, {1, 0.85}}
	detailYearsLadder = []step{{10, 1.05}, {5, 1.00}, {2, 0.95}}
	leaseLadder       = []step{{10, 1.05}, {5, 1.00}, {2, 0.90}}

	hospitalityMargins = []step{{0.20, 1.10}, {0.15, 1.05}, {0.10, 1.00}, {0.05, 0.90}}
	standardMargins    = []step{{0.30, 1.10}, {0.20, 1.05}, {0.12, 1.00}, {0.06, 0.90}}
)

func stateFactor(code string, value float64) Factor {
	label := strings.ToUpper(strings.TrimSpace(code))
	if label == "" {
		label = "unspecified"
	}
	return Factor{Name: FactorState, Value: value, Note: fmt.Sprintf("State economic conditions (%s)", label)}
}

func basicYearsFactor(years float64) Factor {
	return Factor{
		Name:  FactorYears,
		Value: ladder(years, basicYearsLadder, 0.80),
		Note:  fmt.Sprintf("Trading history of %s", yearsLabel(years)),
	}
}

func detailedYearsFactor(years float64) Factor {
	return Factor{
		Name:  FactorYears,
		Value: ladder(years, detailYearsLadder, 0.85),
		Note:  fmt.Sprintf("Trading history of %s", yearsLabel(years)),
	}
}

// margin returns profit/revenue, or 0 when revenue is not positive.
func margin(revenue, profit float64) float64 {
	if revenue <= 0 {
		return 0
	}
	return profit / revenue
}

func marginFactor(revenue, profit float64, hospitality bool) Factor {
	m := margin(revenue, profit)
	rungs := standardMargins
	if hospitality {
		rungs = hospitalityMargins
	}
	v := ladder(m, rungs, 0.80)
	quality := "Average"
	switch {
	case v > 1:
		quality = "Strong"
	case v < 1:
		quality = "Weak"
	}
	return Factor{Name: FactorMargin, Value: v, Note: fmt.Sprintf("%s profit margin (%.1f%%)", quality, m*100)}
}

func managementFactor(ownerOperated bool) Factor {
	if ownerOperated {
		return Factor{Name: FactorManagement, Value: 0.95, Note: "Owner-operated, buyer takes on the owner's role"}
	}
	return Factor{Name: FactorManagement, Value: 1.05, Note: "Under management, runs without the owner"}
}

func leaseFactor(yearsRemaining float64) Factor {
	return Factor{
		Name:  FactorLease,
		Value: ladder(yearsRemaining, leaseLadder, 0.80),
		Note:  fmt.Sprintf("Lease with %s remaining", yearsLabel(yearsRemaining)),
	}
}

func rentFactor(annualRent, revenue float64) Factor {
	ratio := annualRent / revenue
	v := 1.00
	switch {
	case ratio > 0.15:
		v = 0.85
	case ratio > 0.10:
		v = 0.95
	case ratio < 0.05:
		v = 1.05
	}
	return Factor{Name: FactorRent, Value: v, Note: fmt.Sprintf("Rent at %.1f%% of revenue", ratio*100)}
}

func franchiseFactor(brand string, feePct float64) Factor {
	label := "Franchise"
	if b := strings.TrimSpace(brand); b != "" {
		label = fmt.Sprintf("Franchise (%s)", b)
	}
	if feePct > 8 {
		return Factor{Name: FactorFranchise, Value: 0.90, Note: fmt.Sprintf("%s with %.1f%% fee burden", label, feePct)}
	}
	return Factor{Name: FactorFranchise, Value: 0.95, Note: label + " obligations"}
}

func staffFactor(fullTime, partTime float64) Factor {
	fte := fullTime + 0.5*partTime
	v := 1.00
	switch {
	case fte <= 0:
		v = 0.95
	case fte >= 10:
		v = 1.05
	}
	return Factor{Name: FactorStaff, Value: v, Note: fmt.Sprintf("Staffing of %.1f FTE", fte)}
}

var (
	positiveReasons = []string{"retire", "retiring", "retirement", "health", "family", "relocat"}
	negativeReasons = []string{"declin", "competition", "losing", "struggl", "lease ending"}
)

// sentimentFactor reads the stated reason for sale. Negative signals win
// when both kinds appear.
func sentimentFactor(reason string) (Factor, bool) {
	r := strings.ToLower(strings.TrimSpace(reason))
	if r == "" {
		return Factor{}, false
	}
	for _, kw := range negativeReasons {
		if strings.Contains(r, kw) {
			return Factor{Name: FactorSentiment, Value: 0.90, Note: "Reason for sale suggests trading pressure"}, true
		}
	}
	for _, kw := range positiveReasons {
		if strings.Contains(r, kw) {
			return Factor{Name: FactorSentiment, Value: 1.02, Note: "Personal reason for sale"}, true
		}
	}
	return Factor{Name: FactorSentiment, Value: 1.00, Note: "Reason for sale"}, true
}

// explain renders the factors that moved the price beyond the neutral band.
func explain(factors []Factor) []string {
	out := make([]string, 0, len(factors))
	for _, f := range factors {
		if math.Abs(f.Value-1) <= neutralBand {
			continue
		}
		out = append(out, fmt.Sprintf("%s: %+.0f%%", f.Note, (f.Value-1)*100))
	}
	return out
}

func yearsLabel(y float64) string {
	if y == 1 {
		return "1 year"
	}
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.1f", y), "0"), ".") + " years"
}
