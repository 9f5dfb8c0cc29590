package opt

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Scenario holds the unit price constants of one deployment. The cost model
// and constraint builder read every constant from here.
type Scenario struct {
	Name string `yaml:"name" json:"name"`

	// LandDivisor turns a site's land cost into a per-charger daily figure.
	LandDivisor float64 `yaml:"landDivisor" json:"landDivisor"`
	FixedA      float64 `yaml:"fixedA" json:"fixedA"`
	FixedB      float64 `yaml:"fixedB" json:"fixedB"`
	RateA       float64 `yaml:"rateA" json:"rateA"`
	RateB       float64 `yaml:"rateB" json:"rateB"`
	// ActivationCost is charged once per activated (demand, site) pair.
	ActivationCost float64 `yaml:"activationCost" json:"activationCost"`

	AmortA      float64 `yaml:"amortA" json:"amortA"`
	AmortB      float64 `yaml:"amortB" json:"amortB"`
	HorizonDays float64 `yaml:"horizonDays" json:"horizonDays"`
	ThroughputA float64 `yaml:"throughputA" json:"throughputA"`
	ThroughputB float64 `yaml:"throughputB" json:"throughputB"`

	MaxPerType  int  `yaml:"maxPerType" json:"maxPerType"`
	EnforceSlot bool `yaml:"enforceSlot" json:"enforceSlot"`
}

const (
	ScenarioBaseline      = "baseline"
	ScenarioDistrictBatch = "district-batch"
)

var presets = map[string]Scenario{
	ScenarioBaseline: {
		Name:        ScenarioBaseline,
		LandDivisor: 14600,
		FixedA:      439621,
		FixedB:      2173018,
		RateA:       38868,
		RateB:       212005,
		AmortA:      21349,
		AmortB:      90784,
		HorizonDays: 3650,
		ThroughputA: 52.8,
		ThroughputB: 288,
		MaxPerType:  6,
	},
	ScenarioDistrictBatch: {
		Name:        ScenarioDistrictBatch,
		LandDivisor: 14600,
		FixedA:      362359,
		FixedB:      1751600,
		RateA:       4871,
		RateB:       26571,
		AmortA:      21349,
		AmortB:      90784,
		HorizonDays: 3650,
		ThroughputA: 224.4 * 0.2,
		ThroughputB: 1224 * 0.2,
		MaxPerType:  6,
		EnforceSlot: true,
	},
}

// Preset returns a named built-in scenario.
func Preset(name string) (Scenario, bool) {
	s, ok := presets[name]
	return s, ok
}

// Presets lists the built-in scenarios ordered by name.
func Presets() []Scenario {
	out := make([]Scenario, 0, len(presets))
	for _, s := range presets {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Validate rejects constants that would make the model meaningless.
func (s Scenario) Validate() error {
	switch {
	case s.LandDivisor <= 0:
		return fmt.Errorf("scenario %q: landDivisor must be positive", s.Name)
	case s.HorizonDays <= 0:
		return fmt.Errorf("scenario %q: horizonDays must be positive", s.Name)
	case s.MaxPerType < 1:
		return fmt.Errorf("scenario %q: maxPerType must be at least 1", s.Name)
	case s.FixedA < 0 || s.FixedB < 0 || s.RateA < 0 || s.RateB < 0 || s.ActivationCost < 0:
		return fmt.Errorf("scenario %q: cost constants must be non-negative", s.Name)
	case s.AmortA < 0 || s.AmortB < 0 || s.ThroughputA < 0 || s.ThroughputB < 0:
		return fmt.Errorf("scenario %q: amortization and throughput must be non-negative", s.Name)
	}
	return nil
}

// LoadScenario reads a YAML scenario file. A `base` key names a preset whose
// values fill every field the file leaves out.
func LoadScenario(path string) (Scenario, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, err
	}
	return ParseScenario(b)
}

// ParseScenario decodes YAML scenario bytes; see LoadScenario.
func ParseScenario(b []byte) (Scenario, error) {
	var head struct {
		Base string `yaml:"base"`
	}
	if err := yaml.Unmarshal(b, &head); err != nil {
		return Scenario{}, fmt.Errorf("scenario: %w", err)
	}
	var s Scenario
	if head.Base != "" {
		p, ok := Preset(head.Base)
		if !ok {
			return Scenario{}, fmt.Errorf("scenario: unknown base %q", head.Base)
		}
		s = p
	}
	if err := yaml.Unmarshal(b, &s); err != nil {
		return Scenario{}, fmt.Errorf("scenario: %w", err)
	}
	if s.Name == "" {
		s.Name = "custom"
	}
	if s.MaxPerType == 0 {
		s.MaxPerType = 6
	}
	return s, s.Validate()
}
