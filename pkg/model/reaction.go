package model

import (
	"math"

	"github.com/edp1096/toy-drift/pkg/params"
)

// Rate is a reaction rate with its partial derivatives with respect to the two
// densities it depends on.
type Rate struct {
	R  float64
	DA float64 // ∂R/∂(first density)
	DB float64 // ∂R/∂(second density)
}

func (r *Rate) add(o Rate) {
	r.R += o.R
	r.DA += o.DA
	r.DB += o.DB
}

// BulkRecombination returns the net recombination rate (m^-3 s^-1) for
// electron density n and hole density p: SRH + radiative + Auger.
// DA is ∂R/∂n and DB is ∂R/∂p.
func BulkRecombination(tbl *params.Table, rec *params.Recombination, c, v params.Carrier, n, p float64) Rate {
	var rate Rate
	if rec == nil {
		return rate
	}

	ni2 := tbl.IntrinsicSquared(c, v)
	excess := n*p - ni2

	if rec.SRH() {
		nt, pt := tbl.TrapDensities(rec, c, v)
		rate.add(srh(excess, n, p, nt, pt, rec.TauN, rec.TauP))
	}

	if rec.Radiative > 0 {
		rate.add(Rate{
			R:  rec.Radiative * excess,
			DA: rec.Radiative * p,
			DB: rec.Radiative * n,
		})
	}

	if rec.AugerN > 0 || rec.AugerP > 0 {
		a := rec.AugerN*n + rec.AugerP*p
		rate.add(Rate{
			R:  a * excess,
			DA: rec.AugerN*excess + a*p,
			DB: rec.AugerP*excess + a*n,
		})
	}
	return rate
}

// srh is (np - ni^2) / (τp (n + nt) + τn (p + pt)).
func srh(excess, n, p, nt, pt, tauN, tauP float64) Rate {
	den := tauP*(n+nt) + tauN*(p+pt)
	if den <= 0 {
		return Rate{}
	}
	r := excess / den
	return Rate{
		R:  r,
		DA: p/den - r*tauP/den,
		DB: n/den - r*tauN/den,
	}
}

// SurfaceRecombination is the interface analogue of SRH with lifetimes
// replaced by inverse surface velocities (m^-2 s^-1). Zero unless both
// velocities are positive.
func SurfaceRecombination(tbl *params.Table, c, v params.Carrier, sn, sp, nt, pt, n, p float64) Rate {
	if sn <= 0 || sp <= 0 {
		return Rate{}
	}
	excess := n*p - tbl.IntrinsicSquared(c, v)
	return srh(excess, n, p, nt, pt, 1/sn, 1/sp)
}

// ContactRecombination is the carrier outflow S (n - n0) through a surface
// contact. DA is ∂R/∂n.
func ContactRecombination(s, n, n0 float64) Rate {
	return Rate{R: s * (n - n0), DA: s}
}

// Exchange is the rate k (n_a - ρ n_b) between two populations a and b of
// charge number z, with ρ = (N_a/N_b) exp(z(E_a - E_b)/U_T) so that it
// vanishes when both share one quasi-Fermi potential under Boltzmann
// statistics. DA is ∂R/∂n_a and DB is ∂R/∂n_b.
func Exchange(k, z, ut float64, a, b params.Carrier, na, nb float64) Rate {
	rho := a.DOS / b.DOS * math.Exp(z*(a.BandEdge-b.BandEdge)/ut)
	return Rate{
		R:  k * (na - rho*nb),
		DA: k,
		DB: -k * rho,
	}
}

// InterfaceReaction is the exchange rate from a bulk ion to its interface
// species. DA is ∂R/∂n_b and DB is ∂R/∂n_if.
func InterfaceReaction(is *params.InterfaceSpecies, bulk params.Carrier, ut, nb, nif float64) Rate {
	return Exchange(is.Rate, is.Charge, ut, bulk, params.Carrier{DOS: is.DOS, BandEdge: is.BandEdge}, nb, nif)
}
