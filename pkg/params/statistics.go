package params

import "math"

// Statistics maps a normalized electrochemical potential η to an occupation
// fraction F(η). Excess returns g(η) = η - ln F(η) and its derivative, which
// vanish for Boltzmann statistics.
type Statistics interface {
	Name() string
	F(eta float64) float64
	DF(eta float64) float64
	Excess(eta float64) (g, dg float64)
	// Inverse returns η with F(η) = y, for y inside the range of F.
	Inverse(y float64) float64
}

type Boltzmann struct{}

func (Boltzmann) Name() string { return "boltzmann" }
func (Boltzmann) F(eta float64) float64 { return math.Exp(eta) }
func (Boltzmann) DF(eta float64) float64 { return math.Exp(eta) }
func (Boltzmann) Excess(float64) (float64, float64) { return 0, 0 }
func (Boltzmann) Inverse(y float64) float64 { return math.Log(y) }

// FermiDiracMinusOne saturates at 1; used for mobile ions on a finite lattice.
type FermiDiracMinusOne struct{}

func (FermiDiracMinusOne) Name() string { return "fermi-dirac-minus-one" }

func (FermiDiracMinusOne) F(eta float64) float64 {
	return 1 / (math.Exp(-eta) + 1)
}

func (s FermiDiracMinusOne) DF(eta float64) float64 {
	f := s.F(eta)
	return f * (1 - f)
}

func (s FermiDiracMinusOne) Excess(eta float64) (float64, float64) {
	if eta > 35 {
		return eta + math.Exp(-eta), s.F(eta)
	}
	return math.Log1p(math.Exp(eta)), s.F(eta)
}

func (FermiDiracMinusOne) Inverse(y float64) float64 {
	return math.Log(y / (1 - y))
}

// Blakemore approximates Fermi-Dirac 1/2 statistics for moderate degeneracy.
type Blakemore struct {
	Gamma float64 // 0 means 0.27
}

func (Blakemore) Name() string { return "blakemore" }

func (s Blakemore) gamma() float64 {
	if s.Gamma == 0 {
		return 0.27
	}
	return s.Gamma
}

func (s Blakemore) F(eta float64) float64 {
	return 1 / (math.Exp(-eta) + s.gamma())
}

func (s Blakemore) DF(eta float64) float64 {
	f := s.F(eta)
	return f * (1 - s.gamma()*f)
}

func (s Blakemore) Excess(eta float64) (float64, float64) {
	gam := s.gamma()
	if eta > 35 {
		return eta + math.Log(gam) + math.Exp(-eta)/gam, gam * s.F(eta)
	}
	return math.Log1p(gam * math.Exp(eta)), gam * s.F(eta)
}

func (s Blakemore) Inverse(y float64) float64 {
	return -math.Log(1/y - s.gamma())
}

// StatisticsByName resolves the names accepted in device decks.
func StatisticsByName(name string) (Statistics, bool) {
	switch name {
	case "", "boltzmann":
		return Boltzmann{}, true
	case "fermi-dirac-minus-one", "fd-1":
		return FermiDiracMinusOne{}, true
	case "blakemore":
		return Blakemore{}, true
	}
	return nil, false
}
