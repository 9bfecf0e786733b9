// Package refdata holds the static reference tables shared by the price-guide
// calculators: industry multiples, state economic factors and ANZSIC-keyed
// expense benchmarks by revenue bracket.
package refdata

import (
	_ "embed"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed tables.yaml
var embeddedTables []byte

// OtherIndustry is the fallback row used for unrecognised industries.
const OtherIndustry = "Other"

// Revenue brackets used to key benchmark bands.
const (
	BracketSmall  = "$0-$200K"
	BracketMedium = "$200K-$500K"
	BracketLarge  = "$500K-$2M"
)

// Benchmark metric names.
const (
	MetricCostOfSales  = "cost_of_sales"
	MetricLabour       = "labour"
	MetricRent         = "rent"
	MetricEBITDAMargin = "ebitda_margin"
)

// Range is a low/avg/high triple of EBITDA multiples.
type Range struct {
	Low  float64 `yaml:"low" json:"low"`
	Avg  float64 `yaml:"avg" json:"avg"`
	High float64 `yaml:"high" json:"high"`
}

// PriceBand is the span of sale prices typically seen for an industry.
type PriceBand struct {
	Low  float64 `yaml:"low" json:"low"`
	High float64 `yaml:"high" json:"high"`
}

// IndustryMultiple is one row of the industry table.
type IndustryMultiple struct {
	Key          string    `yaml:"key" json:"key"`
	ANZSIC       string    `yaml:"anzsic" json:"anzsic"`
	Division     string    `yaml:"division" json:"division"`
	Hospitality  bool      `yaml:"hospitality" json:"hospitality"`
	Aliases      []string  `yaml:"aliases" json:"-"`
	EBITDA       Range     `yaml:"ebitda" json:"ebitda"`
	RevenueAvg   float64   `yaml:"revenue_multiple" json:"revenueMultiple"`
	TypicalPrice PriceBand `yaml:"typical_price" json:"typicalPrice"`
}

// Band is a three-tier benchmark reference expressed as percentages of revenue.
// In YAML it is written as a [low, mid, high] sequence.
type Band struct {
	Low  float64 `json:"low"`
	Mid  float64 `json:"mid"`
	High float64 `json:"high"`
}

// UnmarshalYAML decodes a [low, mid, high] sequence.
func (b *Band) UnmarshalYAML(node *yaml.Node) error {
	var vals []float64
	if err := node.Decode(&vals); err != nil {
		return eris.Wrap(err, "refdata: decode band")
	}
	if len(vals) != 3 {
		return eris.Errorf("refdata: band at line %d has %d values, want 3", node.Line, len(vals))
	}
	b.Low, b.Mid, b.High = vals[0], vals[1], vals[2]
	return nil
}

// BenchmarkSet maps a metric name to its band.
type BenchmarkSet map[string]Band

type document struct {
	Version    string                             `yaml:"version"`
	Industries []IndustryMultiple                 `yaml:"industries"`
	States     map[string]float64                 `yaml:"states"`
	Benchmarks map[string]map[string]BenchmarkSet `yaml:"benchmarks"`
}

// Tables is the parsed, validated reference data. It is read-only after
// construction and safe for concurrent use.
type Tables struct {
	version    string
	industries map[string]IndustryMultiple // lower-cased key -> row
	lookup     map[string]string           // lower-cased key or alias -> canonical key
	states     map[string]float64
	benchmarks map[string]map[string]BenchmarkSet
}

var (
	defaultOnce   sync.Once
	defaultTables *Tables
	defaultErr    error
)

// Default returns the embedded reference tables, parsed once.
func Default() (*Tables, error) {
	defaultOnce.Do(func() {
		defaultTables, defaultErr = Parse(embeddedTables)
	})
	return defaultTables, defaultErr
}

// LoadFile parses reference tables from a YAML file with the embedded schema.
func LoadFile(path string) (*Tables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "refdata: read %s", path)
	}
	return Parse(data)
}

// Parse decodes and validates a reference-data document.
func Parse(data []byte) (*Tables, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrap(err, "refdata: parse tables")
	}

	t := &Tables{
		version:    doc.Version,
		industries: make(map[string]IndustryMultiple, len(doc.Industries)),
		lookup:     make(map[string]string),
		states:     make(map[string]float64, len(doc.States)),
		benchmarks: doc.Benchmarks,
	}

	for _, ind := range doc.Industries {
		if ind.Key == "" {
			return nil, eris.New("refdata: industry with empty key")
		}
		if !(ind.EBITDA.Low <= ind.EBITDA.Avg && ind.EBITDA.Avg <= ind.EBITDA.High) {
			return nil, eris.Errorf("refdata: industry %q multiples out of order (%.2f, %.2f, %.2f)",
				ind.Key, ind.EBITDA.Low, ind.EBITDA.Avg, ind.EBITDA.High)
		}
		k := normalize(ind.Key)
		if _, dup := t.industries[k]; dup {
			return nil, eris.Errorf("refdata: duplicate industry %q", ind.Key)
		}
		t.industries[k] = ind
		t.lookup[k] = k
		for _, a := range ind.Aliases {
			t.lookup[normalize(a)] = k
		}
	}
	if _, ok := t.industries[normalize(OtherIndustry)]; !ok {
		return nil, eris.Errorf("refdata: %q industry row is required", OtherIndustry)
	}

	for code, f := range doc.States {
		t.states[strings.ToUpper(strings.TrimSpace(code))] = f
	}

	for ind, brackets := range doc.Benchmarks {
		for bracket, set := range brackets {
			for metric, b := range set {
				if !(b.Low <= b.Mid && b.Mid <= b.High) {
					return nil, eris.Errorf("refdata: benchmark %s/%s/%s out of order", ind, bracket, metric)
				}
			}
		}
	}

	return t, nil
}

// Version returns the data version string.
func (t *Tables) Version() string { return t.version }

// Industry resolves name (key or alias, case-insensitive) to its row. Unknown
// names resolve to the Other row with ok=false.
func (t *Tables) Industry(name string) (IndustryMultiple, bool) {
	if k, ok := t.lookup[normalize(name)]; ok {
		return t.industries[k], true
	}
	return t.industries[normalize(OtherIndustry)], false
}

// StateFactor returns the economic adjustment for an Australian state code.
// Unknown or empty codes are neutral.
func (t *Tables) StateFactor(code string) float64 {
	if f, ok := t.states[strings.ToUpper(strings.TrimSpace(code))]; ok {
		return f
	}
	return 1.0
}

// States returns the known state codes in sorted order.
func (t *Tables) States() []string {
	codes := make([]string, 0, len(t.states))
	for c := range t.states {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}

// Benchmark returns the band set for an industry key and revenue bracket,
// falling back to the Other industry. ok is false when neither has the bracket.
func (t *Tables) Benchmark(industryKey, bracket string) (BenchmarkSet, bool) {
	if set, ok := t.benchmarks[industryKey][bracket]; ok {
		return set, true
	}
	set, ok := t.benchmarks[OtherIndustry][bracket]
	return set, ok
}

// Industries returns every industry row sorted by key.
func (t *Tables) Industries() []IndustryMultiple {
	out := make([]IndustryMultiple, 0, len(t.industries))
	for _, ind := range t.industries {
		out = append(out, ind)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// RevenueBracket selects the benchmark bracket for an annual revenue.
func RevenueBracket(revenue float64) string {
	switch {
	case revenue < 200_000:
		return BracketSmall
	case revenue < 500_000:
		return BracketMedium
	default:
		return BracketLarge
	}
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
