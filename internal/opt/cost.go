package opt

import (
	"evsiting/internal/geo"
	"evsiting/internal/model"
)

// PairCost holds the objective coefficients of one (demand j, site i) pair.
// The pair contributes
//
//	(LandA+FixedA+TransportA)·xA·b + (LandB+FixedB+TransportB)·xB·b + Activation·b
//
// where Land is the same per charger for both types.
type PairCost struct {
	Land       float64
	FixedA     float64
	FixedB     float64
	TransportA float64
	TransportB float64
	Activation float64
	DistanceKm float64
}

// CoefA is the multiplier of xA·b.
func (c PairCost) CoefA() float64 { return c.Land + c.FixedA + c.TransportA }

// CoefB is the multiplier of xB·b.
func (c PairCost) CoefB() float64 { return c.Land + c.FixedB + c.TransportB }

// CostModel prices pairs under one scenario.
type CostModel struct {
	Scenario Scenario
}

func NewCostModel(s Scenario) CostModel { return CostModel{Scenario: s} }

// Pair returns the cost terms of serving p from s.
func (m CostModel) Pair(s model.CandidateSite, p model.DemandPoint) PairCost {
	d := geo.Haversine(s.Lat, s.Lon, p.Lat, p.Lon)
	w := p.EffectiveWeight()
	sc := m.Scenario
	return PairCost{
		Land:       s.LandCost / sc.LandDivisor,
		FixedA:     sc.FixedA,
		FixedB:     sc.FixedB,
		TransportA: sc.RateA * d * w,
		TransportB: sc.RateB * d * w,
		Activation: sc.ActivationCost,
		DistanceKm: d,
	}
}

// Breakdown splits an objective value into its land, fixed and transport
// parts.
type Breakdown struct {
	Land      float64 `json:"land"`
	Fixed     float64 `json:"fixed"`
	Transport float64 `json:"transport"`
}

// Total is the sum of the three parts.
func (b Breakdown) Total() float64 { return b.Land + b.Fixed + b.Transport }

// Breakdown prices a realized plan. Matrices are indexed [j][i] over the
// given demand points and sites.
func (m CostModel) Breakdown(sites []model.CandidateSite, demand []model.DemandPoint, xa, xb, b [][]int) Breakdown {
	var out Breakdown
	for j, p := range demand {
		for i, s := range sites {
			if b[j][i] == 0 {
				continue
			}
			c := m.Pair(s, p)
			a, bb := float64(xa[j][i]), float64(xb[j][i])
			out.Land += c.Land * (a + bb)
			out.Fixed += c.FixedA*a + c.FixedB*bb + c.Activation
			out.Transport += c.TransportA*a + c.TransportB*bb
		}
	}
	return out
}
