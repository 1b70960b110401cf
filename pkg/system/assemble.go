package system

import (
	"github.com/edp1096/toy-drift/internal/consts"
	"github.com/edp1096/toy-drift/pkg/matrix"
	"github.com/edp1096/toy-drift/pkg/mesh"
	"github.com/edp1096/toy-drift/pkg/model"
	"github.com/edp1096/toy-drift/pkg/params"
)

// Embedding holds the continuation factors in [0, 1] that scale the terms
// switched off at the start of an equilibrium solve.
type Embedding struct {
	IonCharge         float64 // mobile ion and interface charge in Poisson
	InterfaceReaction float64 // interface reaction seen by the bulk ion rows
	Generation        float64 // photogeneration
}

func FullEmbedding() Embedding {
	return Embedding{IonCharge: 1, InterfaceReaction: 1, Generation: 1}
}

// Step carries everything Assemble needs besides the unknowns.
type Step struct {
	Embedding Embedding

	// Coeffs are backward-difference coefficients of the storage term,
	// Coeffs[0] multiplying the current density and Coeffs[i+1] the density
	// of History[i]. A stationary step leaves both empty.
	Coeffs  []float64
	History [][]float64
}

func (st Step) Transient() bool {
	return len(st.Coeffs) > 0
}

// storage evaluates Σ_i c_i n_i over the history and returns it with c_0.
func (st Step) storage(n float64, hist func(prev []float64) float64) (float64, float64) {
	c0 := st.Coeffs[0]
	v := c0 * n
	for i, prev := range st.History {
		if i+1 >= len(st.Coeffs) {
			break
		}
		v += st.Coeffs[i+1] * hist(prev)
	}
	return v, c0
}

// Assemble evaluates the residual and Jacobian at u into jac. Contact rows
// are replaced by Dirichlet rows and, in stationary steps, one row per mobile
// ion component by conservation of its total number.
func (s *System) Assemble(u []float64, step Step, jac *matrix.Jacobian) {
	s.assemble(u, step, jac, false)
}

// assemble with raw set keeps the balance rows of contact nodes and skips
// contact outflow, which is what the terminal current integrates.
func (s *System) assemble(u []float64, step Step, jac *matrix.Jacobian, raw bool) {
	jac.Reset()
	s.assembleEdges(u, jac)
	s.assembleNodes(u, step, jac)
	s.assembleBoundaries(u, step, jac, raw)
	if raw {
		return
	}

	s.dirichletRows(func(row int, v float64) {
		jac.SetDirichlet(row, u[row], v)
	})
	if !step.Transient() {
		for i := range s.ions {
			s.ionConservation(u, &s.ions[i], jac)
		}
	}
}

// ionConservation sets Σ V (n - C) + Σ (n_if - C_if) = 0 over a component.
func (s *System) ionConservation(u []float64, comp *ionComponent, jac *matrix.Jacobian) {
	row := comp.row
	jac.ClearRow(row)

	for _, mb := range comp.members {
		rid, _ := s.mesh.SideRegion(mb.node, mb.side)
		c, _ := s.tbl.Region(rid).Carrier(comp.species)
		pk := s.psi[mb.node]
		vol := s.mesh.HalfVolume(mb.node, mb.side)

		n, dnPsi, dnPhi := s.density(comp.species, c, u[pk], u[mb.row])
		jac.AddResidual(row, vol*(n-c.Doping))
		jac.Add(row, pk, vol*dnPsi)
		jac.Add(row, mb.row, vol*dnPhi)
	}

	for _, k := range comp.ifaces {
		bid, _ := s.mesh.NodeBoundary(k)
		is := s.tbl.Boundary(bid).Interface
		pk, irow := s.psi[k], s.iface[k]

		nif, dfPsi, dfPhi := model.Density(is.Statistics, is.Charge, is.DOS, is.BandEdge, s.ut, u[pk], u[irow])
		jac.AddResidual(row, nif-is.Doping)
		jac.Add(row, pk, dfPsi)
		jac.Add(row, irow, dfPhi)
	}
}

func (s *System) assembleEdges(u []float64, jac *matrix.Jacobian) {
	m := s.mesh
	for e := 0; e < m.NumEdges(); e++ {
		k, l := e, e+1
		h := m.EdgeLength(e)
		r := s.tbl.Region(m.CellRegion(e))
		pk, pl := s.psi[k], s.psi[l]

		// Poisson
		g := consts.EPSILON0 * r.Dielectric / h
		d := g * (u[pk] - u[pl])
		jac.AddResidual(pk, d)
		jac.Add(pk, pk, g)
		jac.Add(pk, pl, -g)
		jac.AddResidual(pl, -d)
		jac.Add(pl, pl, g)
		jac.Add(pl, pk, -g)

		for i, info := range s.tbl.Species {
			sp := params.Species(i)
			c, ok := r.Carrier(sp)
			if !ok {
				continue
			}
			ik, il := s.index[sp][k][mesh.Right], s.index[sp][l][mesh.Left]

			edge := model.Edge{
				H:          h,
				Mobility:   c.Mobility,
				UT:         s.ut,
				Charge:     info.Charge,
				DOS:        c.DOS,
				BandEdge:   c.BandEdge,
				Statistics: info.Statistics,
				PsiK:       u[pk],
				PhiK:       u[ik],
				PsiL:       u[pl],
				PhiL:       u[il],
			}
			f, df := s.flux.Flux(&edge)

			cols := [4]int{pk, ik, pl, il}
			jac.AddResidual(ik, f)
			jac.AddResidual(il, -f)
			for j, col := range cols {
				jac.Add(ik, col, df[j])
				jac.Add(il, col, -df[j])
			}
		}
	}
}

func (s *System) assembleNodes(u []float64, step Step, jac *matrix.Jacobian) {
	m := s.mesh
	electrons, hasN := s.tbl.ByRole(params.Electron)
	holes, hasP := s.tbl.ByRole(params.Hole)

	for k := 0; k < m.NumNodes(); k++ {
		pk := s.psi[k]
		psi := u[pk]

		for _, side := range []mesh.Side{mesh.Left, mesh.Right} {
			rid, ok := m.SideRegion(k, side)
			if !ok {
				continue
			}
			r := s.tbl.Region(rid)
			vol := m.HalfVolume(k, side)

			for i, info := range s.tbl.Species {
				sp := params.Species(i)
				c, ok := r.Carrier(sp)
				if !ok {
					continue
				}
				row := s.index[sp][k][side]
				n, dnPsi, dnPhi := s.density(sp, c, psi, u[row])

				lambda := 1.0
				if info.Role == params.Ion {
					lambda = step.Embedding.IonCharge
				}
				qz := consts.CHARGE * info.Charge * vol * lambda
				jac.AddResidual(pk, -qz*(n-c.Doping))
				jac.Add(pk, pk, -qz*dnPsi)
				jac.Add(pk, row, -qz*dnPhi)

				if step.Transient() {
					v, c0 := step.storage(n, func(prev []float64) float64 {
						nh, _, _ := s.density(sp, c, prev[pk], prev[row])
						return nh
					})
					jac.AddResidual(row, vol*v)
					jac.Add(row, pk, vol*c0*dnPsi)
					jac.Add(row, row, vol*c0*dnPhi)
				}
			}

			if hasN && hasP && (r.Recombination != nil || r.Generation != 0) {
				in, ip := s.index[electrons][k][side], s.index[holes][k][side]
				cn, _ := r.Carrier(electrons)
				cp, _ := r.Carrier(holes)
				n, dnPsi, dnPhi := s.density(electrons, cn, psi, u[in])
				p, dpPsi, dpPhi := s.density(holes, cp, psi, u[ip])

				rate := model.BulkRecombination(s.tbl, r.Recombination, cn, cp, n, p)
				gen := r.Generation * step.Embedding.Generation
				for _, row := range [2]int{in, ip} {
					jac.AddResidual(row, vol*(rate.R-gen))
					jac.Add(row, pk, vol*(rate.DA*dnPsi+rate.DB*dpPsi))
					jac.Add(row, in, vol*rate.DA*dnPhi)
					jac.Add(row, ip, vol*rate.DB*dpPhi)
				}
			}
		}
	}
}

func (s *System) assembleBoundaries(u []float64, step Step, jac *matrix.Jacobian, raw bool) {
	if !raw {
		for _, c := range s.contacts {
			pk := s.psi[c.node]
			for _, sc := range c.outflow {
				n, dnPsi, dnPhi := s.density(sc.species, sc.carrier, u[pk], u[sc.row])
				rate := model.ContactRecombination(sc.velocity, n, sc.n0)
				jac.AddResidual(sc.row, rate.R)
				jac.Add(sc.row, pk, rate.DA*dnPsi)
				jac.Add(sc.row, sc.row, rate.DA*dnPhi)
			}
		}
	}

	for _, b := range s.mesh.Boundaries() {
		bnd := s.tbl.Boundary(b.ID)
		switch bnd.Kind {
		case params.InterfaceRecombination:
			s.interfaceRecombination(u, b, bnd, jac)
		case params.IonicInterface:
			s.ionicInterface(u, step, b, bnd, jac)
		}
		if len(bnd.Transfer) > 0 {
			s.interfaceTransfer(u, b, bnd, jac)
		}
	}
}

func (s *System) sideCarrier(boundaryID int, sp params.Species, k int) (int, params.Carrier, bool) {
	side, ok := s.nodeSide(sp, k)
	if !ok {
		return -1, params.Carrier{}, false
	}
	rid, _ := s.mesh.SideRegion(k, side)
	c, _ := s.tbl.SurfaceCarrier(boundaryID, rid, sp)
	return s.index[sp][k][side], c, true
}

func (s *System) interfaceRecombination(u []float64, b mesh.Boundary, bnd *params.Boundary, jac *matrix.Jacobian) {
	electrons, _ := s.tbl.ByRole(params.Electron)
	holes, _ := s.tbl.ByRole(params.Hole)

	in, cn, okN := s.sideCarrier(b.ID, electrons, b.Node)
	ip, cp, okP := s.sideCarrier(b.ID, holes, b.Node)
	if !okN || !okP {
		return
	}

	pk := s.psi[b.Node]
	n, dnPsi, dnPhi := s.density(electrons, cn, u[pk], u[in])
	p, dpPsi, dpPhi := s.density(holes, cp, u[pk], u[ip])

	rate := model.SurfaceRecombination(s.tbl, cn, cp, bnd.Velocity[electrons], bnd.Velocity[holes], bnd.TrapN, bnd.TrapP, n, p)
	for _, row := range [2]int{in, ip} {
		jac.AddResidual(row, rate.R)
		jac.Add(row, pk, rate.DA*dnPsi+rate.DB*dpPsi)
		jac.Add(row, in, rate.DA*dnPhi)
		jac.Add(row, ip, rate.DB*dpPhi)
	}
}

// ionicInterface couples a bulk ion to the interface species of the node.
// The bulk row sees the reaction scaled by the embedding; the interface row
// always carries the full rate so it stays determined at λ = 0.
func (s *System) ionicInterface(u []float64, step Step, b mesh.Boundary, bnd *params.Boundary, jac *matrix.Jacobian) {
	is := bnd.Interface
	irow := s.iface[b.Node]
	row, cb, ok := s.sideCarrier(b.ID, is.Bulk, b.Node)
	if !ok || irow < 0 {
		return
	}

	pk := s.psi[b.Node]
	nb, dbPsi, dbPhi := s.density(is.Bulk, cb, u[pk], u[row])
	nif, dfPsi, dfPhi := model.Density(is.Statistics, is.Charge, is.DOS, is.BandEdge, s.ut, u[pk], u[irow])

	rate := model.InterfaceReaction(is, cb, s.ut, nb, nif)
	dPsi := rate.DA*dbPsi + rate.DB*dfPsi

	lambda := step.Embedding.InterfaceReaction
	jac.AddResidual(row, lambda*rate.R)
	jac.Add(row, pk, lambda*dPsi)
	jac.Add(row, row, lambda*rate.DA*dbPhi)
	jac.Add(row, irow, lambda*rate.DB*dfPhi)

	jac.AddResidual(irow, -rate.R)
	jac.Add(irow, pk, -dPsi)
	jac.Add(irow, row, -rate.DA*dbPhi)
	jac.Add(irow, irow, -rate.DB*dfPhi)

	if step.Transient() {
		v, c0 := step.storage(nif, func(prev []float64) float64 {
			return is.DOS * is.Statistics.F(model.Eta(is.Charge, is.BandEdge, s.ut, prev[pk], prev[irow]))
		})
		jac.AddResidual(irow, v)
		jac.Add(irow, pk, c0*dfPsi)
		jac.Add(irow, irow, c0*dfPhi)
	}

	qz := consts.CHARGE * is.Charge * step.Embedding.IonCharge
	jac.AddResidual(pk, -qz*(nif-is.Doping))
	jac.Add(pk, pk, -qz*dfPsi)
	jac.Add(pk, irow, -qz*dfPhi)
}

// interfaceTransfer exchanges a split species between the two sides of an
// inner node.
func (s *System) interfaceTransfer(u []float64, b mesh.Boundary, bnd *params.Boundary, jac *matrix.Jacobian) {
	k := b.Node
	pk := s.psi[k]
	for i, info := range s.tbl.Species {
		sp := params.Species(i)
		v := bnd.Transfer[sp]
		il, ir := s.index[sp][k][mesh.Left], s.index[sp][k][mesh.Right]
		if v <= 0 || il < 0 || ir < 0 || il == ir {
			continue
		}
		rl, _ := s.mesh.SideRegion(k, mesh.Left)
		rr, _ := s.mesh.SideRegion(k, mesh.Right)
		cl, _ := s.tbl.Region(rl).Carrier(sp)
		cr, _ := s.tbl.Region(rr).Carrier(sp)

		nl, dlPsi, dlPhi := s.density(sp, cl, u[pk], u[il])
		nr, drPsi, drPhi := s.density(sp, cr, u[pk], u[ir])
		rate := model.Exchange(v, info.Charge, s.ut, cl, cr, nl, nr)
		dPsi := rate.DA*dlPsi + rate.DB*drPsi

		jac.AddResidual(il, rate.R)
		jac.Add(il, pk, dPsi)
		jac.Add(il, il, rate.DA*dlPhi)
		jac.Add(il, ir, rate.DB*drPhi)

		jac.AddResidual(ir, -rate.R)
		jac.Add(ir, pk, -dPsi)
		jac.Add(ir, il, -rate.DA*dlPhi)
		jac.Add(ir, ir, -rate.DB*drPhi)
	}
}
