package model

import "github.com/edp1096/toy-drift/pkg/params"

// Eta is the normalized electrochemical potential z(φ - ψ + E)/U_T.
func Eta(z, bandEdge, ut, psi, phi float64) float64 {
	return z * (phi - psi + bandEdge) / ut
}

// Density evaluates n = N F(η) and its partial derivatives with respect to ψ and φ.
func Density(st params.Statistics, z, dos, bandEdge, ut, psi, phi float64) (n, dnPsi, dnPhi float64) {
	eta := Eta(z, bandEdge, ut, psi, phi)
	n = dos * st.F(eta)
	dnPhi = dos * st.DF(eta) * z / ut
	return n, -dnPhi, dnPhi
}
