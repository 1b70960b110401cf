package model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edp1096/toy-drift/internal/consts"
	"github.com/edp1096/toy-drift/pkg/params"
)

var ut = consts.ThermalVoltage(300)

func TestBernoulli(t *testing.T) {
	for _, x := range []float64{-80, -12, -1, -0.02, -0.009, -1e-6, 0, 1e-6, 0.009, 0.02, 1, 12, 80} {
		b, db := Bernoulli(x)
		if x == 0 {
			assert.Equal(t, 1.0, b)
			assert.Equal(t, -0.5, db)
			continue
		}
		want := x / math.Expm1(x)
		assert.InEpsilon(t, want, b, 1e-12, "x=%g", x)

		const h = 1e-5
		bp, _ := Bernoulli(x + h)
		bm, _ := Bernoulli(x - h)
		assert.InDelta(t, (bp-bm)/(2*h), db, 1e-7, "x=%g", x)
	}

	b, db := Bernoulli(800)
	assert.Zero(t, b)
	assert.False(t, math.IsNaN(db))

	// B(-x) = B(x) + x
	b1, _ := Bernoulli(3.7)
	b2, _ := Bernoulli(-3.7)
	assert.InDelta(t, b1+3.7, b2, 1e-12)
}

func electronEdge(st params.Statistics) *Edge {
	return &Edge{
		H:          1e-8,
		Mobility:   0.85,
		UT:         ut,
		Charge:     -1,
		DOS:        4.35e23,
		BandEdge:   1.424,
		Statistics: st,
		PsiK:       1.30, PhiK: 0.02,
		PsiL: 1.33, PhiL: -0.01,
	}
}

func ionEdge() *Edge {
	return &Edge{
		H:          1e-9,
		Mobility:   1e-14,
		UT:         ut,
		Charge:     1,
		DOS:        1e27,
		BandEdge:   -0.1,
		Statistics: params.FermiDiracMinusOne{},
		PsiK:       0.05, PhiK: 0.02,
		PsiL: 0.04, PhiL: 0.03,
	}
}

func TestFluxDerivatives(t *testing.T) {
	schemes := []FluxScheme{ScharfetterGummel{}, ExcessChemicalPotential{}, DiffusionEnhanced{}}
	edges := map[string]func() *Edge{
		"electron boltzmann": func() *Edge { return electronEdge(params.Boltzmann{}) },
		"electron blakemore": func() *Edge { return electronEdge(params.Blakemore{}) },
		"ion fd-1":           ionEdge,
	}

	for _, s := range schemes {
		for name, mk := range edges {
			t.Run(s.Name()+"/"+name, func(t *testing.T) {
				e := mk()
				f, df := s.Flux(e)
				require.False(t, math.IsNaN(f))

				want := numericalDerivatives(e, func(e *Edge) float64 {
					v, _ := s.Flux(e)
					return v
				})
				for i := range df {
					scale := math.Max(math.Abs(want[i]), 1e-12*math.Abs(f)/ut)
					assert.InDelta(t, want[i], df[i], 1e-4*scale+1e-30, "derivative %d", i)
				}
			})
		}
	}
}

func TestFluxVanishesAtEqualQuasiFermi(t *testing.T) {
	schemes := []FluxScheme{ScharfetterGummel{}, ExcessChemicalPotential{}, DiffusionEnhanced{}}
	for _, s := range schemes {
		e := electronEdge(params.Boltzmann{})
		e.PhiL = e.PhiK
		f, _ := s.Flux(e)
		nk, _, _ := Density(e.Statistics, e.Charge, e.DOS, e.BandEdge, ut, e.PsiK, e.PhiK)
		scale := e.Mobility * ut / e.H * nk
		assert.InDelta(t, 0, f/scale, 1e-10, s.Name())
	}

	// the Sedan correction keeps detailed balance for saturating statistics
	e := ionEdge()
	e.PhiL = e.PhiK
	e.PsiL = e.PsiK - 0.2
	f, _ := ExcessChemicalPotential{}.Flux(e)
	scale := e.Mobility * ut / e.H * e.DOS
	assert.InDelta(t, 0, f/scale, 1e-10)
}

func TestFluxLowFieldLimit(t *testing.T) {
	// Boltzmann electrons with no potential drop: pure central-difference diffusion
	for _, dpsi := range []float64{1e-3, 1e-5, 1e-8} {
		e := electronEdge(params.Boltzmann{})
		e.PsiL = e.PsiK + dpsi
		f, _ := ScharfetterGummel{}.Flux(e)

		nk, _, _ := Density(e.Statistics, e.Charge, e.DOS, e.BandEdge, ut, e.PsiK, e.PhiK)
		nl, _, _ := Density(e.Statistics, e.Charge, e.DOS, e.BandEdge, ut, e.PsiL, e.PhiL)
		diffusion := e.Mobility * ut / e.H * (nk - nl)

		// first-order drift correction is Q (nk + nl) / 2
		relErr := math.Abs(f-diffusion) / math.Abs(diffusion)
		assert.Less(t, relErr, 2*dpsi/ut, "dpsi=%g", dpsi)
	}
}

func TestBulkRecombination(t *testing.T) {
	tbl := &params.Table{Temperature: 300}
	c := params.Carrier{DOS: 4.35e23, BandEdge: 1.424}
	v := params.Carrier{DOS: 9.14e24, BandEdge: 0}
	rec := &params.Recombination{
		Radiative: 1e-16, TauN: 1e-9, TauP: 2e-9,
		HasTrapLevel: true, TrapLevel: 0.7,
		AugerN: 1e-41, AugerP: 1e-41,
	}

	ni2 := tbl.IntrinsicSquared(c, v)
	ni := math.Sqrt(ni2)

	// zero at mass-action equilibrium
	r := BulkRecombination(tbl, rec, c, v, 1e3*ni, ni/1e3)
	assert.InDelta(t, 0, r.R, 1e-9*math.Abs(r.DA*ni))

	n, p := 1e21, 3e20
	r = BulkRecombination(tbl, rec, c, v, n, p)
	assert.Greater(t, r.R, 0.0)

	hn, hp := 1e-6*n, 1e-6*p
	rnp := BulkRecombination(tbl, rec, c, v, n+hn, p).R
	rnm := BulkRecombination(tbl, rec, c, v, n-hn, p).R
	rpp := BulkRecombination(tbl, rec, c, v, n, p+hp).R
	rpm := BulkRecombination(tbl, rec, c, v, n, p-hp).R
	assert.InEpsilon(t, (rnp-rnm)/(2*hn), r.DA, 1e-6)
	assert.InEpsilon(t, (rpp-rpm)/(2*hp), r.DB, 1e-6)

	assert.Zero(t, BulkRecombination(tbl, nil, c, v, n, p).R)
}

func TestSurfaceRates(t *testing.T) {
	tbl := &params.Table{Temperature: 300}
	c := params.Carrier{DOS: 4.35e23, BandEdge: 1.424}
	v := params.Carrier{DOS: 9.14e24, BandEdge: 0}

	assert.Zero(t, SurfaceRecombination(tbl, c, v, 0, 1e3, 1, 1, 1e20, 1e20).R)
	r := SurfaceRecombination(tbl, c, v, 1e3, 1e3, 1e10, 1e10, 1e20, 1e20)
	assert.InEpsilon(t, 1e3*(1e40-tbl.IntrinsicSquared(c, v))/(2e20+2e10), r.R, 1e-12)

	cr := ContactRecombination(1e5, 2e20, 1e20)
	assert.Equal(t, 1e25, cr.R)
	assert.Equal(t, 1e5, cr.DA)
}

func TestInterfaceReactionBalance(t *testing.T) {
	is := &params.InterfaceSpecies{Charge: 1, DOS: 1e18, BandEdge: -0.2, Rate: 1e-2, Statistics: params.Boltzmann{}}
	bulk := params.Carrier{DOS: 1e27, BandEdge: -0.1}

	psi, phi := 0.3, 0.05
	nb, _, _ := Density(params.Boltzmann{}, 1, bulk.DOS, bulk.BandEdge, ut, psi, phi)
	nif, _, _ := Density(is.Statistics, is.Charge, is.DOS, is.BandEdge, ut, psi, phi)

	r := InterfaceReaction(is, bulk, ut, nb, nif)
	assert.InDelta(t, 0, r.R/(is.Rate*nb), 1e-12)

	// excess bulk density drives ions into the interface
	r = InterfaceReaction(is, bulk, ut, 2*nb, nif)
	assert.Greater(t, r.R, 0.0)
	assert.Equal(t, is.Rate, r.DA)
	assert.Less(t, r.DB, 0.0)
}

func TestExchangeAcrossHeterojunction(t *testing.T) {
	a := params.Carrier{DOS: 2.2e24, BandEdge: 0.4}
	b := params.Carrier{DOS: 4.35e23, BandEdge: 0.5}

	psi, phi := 0.1, -0.2
	na, _, _ := Density(params.Boltzmann{}, -1, a.DOS, a.BandEdge, ut, psi, phi)
	nb, _, _ := Density(params.Boltzmann{}, -1, b.DOS, b.BandEdge, ut, psi, phi)

	r := Exchange(1e5, -1, ut, a, b, na, nb)
	assert.InDelta(t, 0, r.R/(1e5*na), 1e-12)

	r = Exchange(1e5, -1, ut, a, b, na, nb/2)
	assert.Greater(t, r.R, 0.0)
}

func TestSchemeByName(t *testing.T) {
	s, ok := SchemeByName("sedan")
	require.True(t, ok)
	assert.Equal(t, "excess-chemical-potential", s.Name())
	_, ok = SchemeByName("upwind")
	assert.False(t, ok)
}
