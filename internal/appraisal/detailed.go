package appraisal

import (
	"math"

	"go.uber.org/zap"

	"github.com/ownerexit/ownerexit-cli/internal/apperr"
)

// DetailedInput extends BasicInput with the operational detail collected by
// the signed-in price guide.
type DetailedInput struct {
	BasicInput

	PlantEquipment      Number `json:"plantEquipment"`
	StockInventory      Number `json:"stockInventory"`
	IsFranchise         bool   `json:"isFranchise"`
	FranchiseBrand      string `json:"franchiseBrand,omitempty"`
	FranchiseFee        Number `json:"franchiseFee"` // percent of revenue
	EmployeesFT         Number `json:"employeesFT"`
	EmployeesPT         Number `json:"employeesPT"`
	HasLease            bool   `json:"hasLease"`
	LeaseYearsRemaining Number `json:"leaseYearsRemaining"`
	MonthlyRent         Number `json:"monthlyRent"`
	HasLiquorLicense    bool   `json:"hasLiquorLicense"`
	HasGamingLicense    bool   `json:"hasGamingLicense"`
	ReasonForSale       string `json:"reasonForSale,omitempty"`
}

// Validate checks the basic fields plus the non-negative detail amounts.
func (in DetailedInput) Validate() error {
	if err := in.BasicInput.Validate(); err != nil {
		return err
	}
	nonNegative := []struct {
		field string
		n     Number
	}{
		{"plantEquipment", in.PlantEquipment},
		{"stockInventory", in.StockInventory},
		{"franchiseFee", in.FranchiseFee},
		{"employeesFT", in.EmployeesFT},
		{"employeesPT", in.EmployeesPT},
		{"leaseYearsRemaining", in.LeaseYearsRemaining},
		{"monthlyRent", in.MonthlyRent},
	}
	bounded := make(map[string]Number, len(nonNegative))
	for _, f := range nonNegative {
		if f.n.Value < 0 {
			return apperr.Validation(f.field, f.field+" must not be negative")
		}
		bounded[f.field] = f.n
	}
	return checkBounds(bounded)
}

// Goodwill is the intangible share of the price range.
type Goodwill struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// AssetBreakdown splits the price into goodwill and tangible assets.
type AssetBreakdown struct {
	Goodwill       Goodwill `json:"goodwill"`
	PlantEquipment float64  `json:"plantEquipment"`
	Stock          float64  `json:"stock"`
}

// DetailedResult is a detailed price-guide estimate.
type DetailedResult struct {
	Result
	AssetBreakdown AssetBreakdown `json:"assetBreakdown"`
}

// EstimateDetailed computes the detailed price guide.
func (c *Calculator) EstimateDetailed(in DetailedInput) (*DetailedResult, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	revenue := in.AnnualRevenue.Value
	profit := in.AnnualProfit.Value
	years := in.YearsOperating.Or(0)
	ind, known := c.tables.Industry(in.Industry)

	factors := []Factor{
		stateFactor(in.State, c.tables.StateFactor(in.State)),
		detailedYearsFactor(years),
		managementFactor(in.IsOwnerOperated()),
	}
	if in.HasLease && in.LeaseYearsRemaining.Set {
		factors = append(factors, leaseFactor(in.LeaseYearsRemaining.Value))
	}
	if rent := in.MonthlyRent.Or(0) * 12; rent > 0 && revenue > 0 {
		factors = append(factors, rentFactor(rent, revenue))
	}
	if in.IsFranchise {
		factors = append(factors, franchiseFactor(in.FranchiseBrand, in.FranchiseFee.Or(0)))
	}
	if in.HasLiquorLicense {
		factors = append(factors, Factor{Name: FactorLiquor, Value: 1.05, Note: "Liquor licence included"})
	}
	if in.HasGamingLicense {
		factors = append(factors, Factor{Name: FactorGaming, Value: 1.10, Note: "Gaming licence included"})
	}
	if in.EmployeesFT.Set || in.EmployeesPT.Set {
		factors = append(factors, staffFactor(in.EmployeesFT.Or(0), in.EmployeesPT.Or(0)))
	}
	factors = append(factors, marginFactor(revenue, profit, ind.Hospitality))
	if f, ok := sentimentFactor(in.ReasonForSale); ok {
		factors = append(factors, f)
	}

	res := c.price(ind, known, factors, c.detailed, revenue, profit, years)
	if !res.finite() {
		return nil, errNotFinite
	}
	plant := in.PlantEquipment.Or(0)
	stock := in.StockInventory.Or(0)

	out := &DetailedResult{
		Result: *res,
		AssetBreakdown: AssetBreakdown{
			Goodwill: Goodwill{
				Low:  math.Max(0, res.PriceRange.Low-plant-stock),
				High: math.Max(0, res.PriceRange.High-plant-stock),
			},
			PlantEquipment: plant,
			Stock:          stock,
		},
	}

	zap.L().Debug("appraisal: detailed estimate computed",
		zap.String("industry", ind.Key),
		zap.Int("factors", len(factors)),
		zap.Float64("quality", res.Multiples.QualityScore),
		zap.Float64("mid", res.PriceRange.Mid),
		zap.Float64("goodwill_high", out.AssetBreakdown.Goodwill.High),
	)
	return out, nil
}
