package model

import (
	"math"

	"github.com/edp1096/toy-drift/pkg/params"
)

// Edge is the input of a flux scheme: one species along a directed edge k -> l
// inside a single region.
type Edge struct {
	H          float64 // edge length
	Mobility   float64
	UT         float64
	Charge     float64
	DOS        float64
	BandEdge   float64
	Statistics params.Statistics

	PsiK, PhiK float64
	PsiL, PhiL float64
}

// Partial derivative order of FluxScheme.Flux.
const (
	DPsiK = iota
	DPhiK
	DPsiL
	DPhiL
)

// FluxScheme discretizes the particle flux from k to l (m^-2 s^-1) and
// returns its derivatives with respect to ψ_k, φ_k, ψ_l, φ_l.
type FluxScheme interface {
	Name() string
	Flux(e *Edge) (float64, [4]float64)
}

func (e *Edge) etas() (float64, float64) {
	return Eta(e.Charge, e.BandEdge, e.UT, e.PsiK, e.PhiK), Eta(e.Charge, e.BandEdge, e.UT, e.PsiL, e.PhiL)
}

// ScharfetterGummel is the classic exponentially fitted scheme applied to
// densities, exact for Boltzmann statistics with a linear potential.
type ScharfetterGummel struct{}

func (ScharfetterGummel) Name() string { return "scharfetter-gummel" }

func (ScharfetterGummel) Flux(e *Edge) (float64, [4]float64) {
	return fittedFlux(e, false)
}

// ExcessChemicalPotential (Sedan scheme) adds the jump of g(η) = η - ln F(η)
// to the Bernoulli argument, generalizing Scharfetter-Gummel to saturating
// statistics.
type ExcessChemicalPotential struct{}

func (ExcessChemicalPotential) Name() string { return "excess-chemical-potential" }

func (ExcessChemicalPotential) Flux(e *Edge) (float64, [4]float64) {
	return fittedFlux(e, true)
}

func fittedFlux(e *Edge, excess bool) (float64, [4]float64) {
	z, ut := e.Charge, e.UT
	d := e.Mobility * ut / e.H

	etaK, etaL := e.etas()
	nk, _, dnk := Density(e.Statistics, z, e.DOS, e.BandEdge, ut, e.PsiK, e.PhiK)
	nl, _, dnl := Density(e.Statistics, z, e.DOS, e.BandEdge, ut, e.PsiL, e.PhiL)

	q := z * (e.PsiL - e.PsiK) / ut
	var dq [4]float64
	dq[DPsiK] = -z / ut
	dq[DPsiL] = z / ut

	if excess {
		gk, dgk := e.Statistics.Excess(etaK)
		gl, dgl := e.Statistics.Excess(etaL)
		q += gl - gk
		// dη/dφ = z/U_T, dη/dψ = -z/U_T
		dq[DPhiK] -= dgk * z / ut
		dq[DPsiK] += dgk * z / ut
		dq[DPhiL] += dgl * z / ut
		dq[DPsiL] -= dgl * z / ut
	}

	bp, dbp := Bernoulli(q)
	bm, dbm := Bernoulli(-q)

	f := d * (bp*nk - bm*nl)
	dfdq := d * (dbp*nk + dbm*nl)
	dfdnk := d * bp
	dfdnl := -d * bm

	var df [4]float64
	df[DPsiK] = -dfdnk*dnk + dfdq*dq[DPsiK]
	df[DPhiK] = dfdnk*dnk + dfdq*dq[DPhiK]
	df[DPsiL] = -dfdnl*dnl + dfdq*dq[DPsiL]
	df[DPhiL] = dfdnl*dnl + dfdq*dq[DPhiL]
	return f, df
}

// DiffusionEnhanced scales the Bernoulli argument with the logarithmic mean of
// F/F' along the edge.
type DiffusionEnhanced struct{}

func (DiffusionEnhanced) Name() string { return "diffusion-enhanced" }

func (s DiffusionEnhanced) Flux(e *Edge) (float64, [4]float64) {
	return s.value(e), numericalDerivatives(e, s.value)
}

func (DiffusionEnhanced) value(e *Edge) float64 {
	z, ut := e.Charge, e.UT
	d := e.Mobility * ut / e.H

	etaK, etaL := e.etas()
	gk, dgk := e.Statistics.Excess(etaK)
	gl, dgl := e.Statistics.Excess(etaL)
	lnFk, lnFl := etaK-gk, etaL-gl

	var ghat float64
	if math.Abs(lnFl-lnFk) < 1e-10 {
		// d lnF/dη = 1 - g'
		ghat = 2 / ((1 - dgk) + (1 - dgl))
	} else {
		ghat = (etaL - etaK) / (lnFl - lnFk)
	}

	nk := e.DOS * e.Statistics.F(etaK)
	nl := e.DOS * e.Statistics.F(etaL)
	q := z * (e.PsiL - e.PsiK) / ut / ghat

	bp, _ := Bernoulli(q)
	bm, _ := Bernoulli(-q)
	return d * ghat * (bp*nk - bm*nl)
}

// numericalDerivatives differentiates a flux value by central differences in
// each of the four potentials.
func numericalDerivatives(e *Edge, value func(*Edge) float64) [4]float64 {
	h := 1e-6 * e.UT
	var df [4]float64
	vars := [4]*float64{&e.PsiK, &e.PhiK, &e.PsiL, &e.PhiL}
	for i, v := range vars {
		orig := *v
		*v = orig + h
		fp := value(e)
		*v = orig - h
		fm := value(e)
		*v = orig
		df[i] = (fp - fm) / (2 * h)
	}
	return df
}

// SchemeByName resolves the flux scheme names accepted in device decks.
func SchemeByName(name string) (FluxScheme, bool) {
	switch name {
	case "", "scharfetter-gummel", "sg":
		return ScharfetterGummel{}, true
	case "excess-chemical-potential", "sedan":
		return ExcessChemicalPotential{}, true
	case "diffusion-enhanced":
		return DiffusionEnhanced{}, true
	}
	return nil, false
}
