// Package symmetry implements the symmetry group enumerator external
// collaborator of §1: a pure `name -> []mat.Matrix3x3` constructor plus a
// fundamental-domain membership test, grounded on the teacher's tagged-
// variant package style (pkg/core/math/control/kinematics/wheels ships one
// file per drive topology, each exposing the same small surface) and on
// mat.Matrix3x3's RotationX/Y/Z constructors.
//
// Point groups with more than a handful of elements (T, O, I) are built by
// closure over a small generator set rather than hand-enumerated, which is
// the standard way these groups are constructed and keeps the enumerator a
// pure function of the generator list instead of a table of magic matrices.
package symmetry

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/chewxy/math32"

	"github.com/itohio/cryoem/pkg/core/math/mat"
	"github.com/itohio/cryoem/pkg/core/math/vec"
)

// Group is a finite point group of proper rotations: the symmetry operator
// set of §4 ("Build the symmetry operator table from a symbolic group
// name").
type Group struct {
	name     string
	ops      []mat.Matrix3x3
	nFold    int  // rotational order about the principal (Z) axis
	dihedral bool // has perpendicular 2-fold axes (Dn / CnV families)
}

// Name returns the group's canonical symbol.
func (g *Group) Name() string { return g.name }

// Operators returns the group's rotation matrices.
func (g *Group) Operators() []mat.Matrix3x3 { return g.ops }

// Order is the number of distinct operators.
func (g *Group) Order() int { return len(g.ops) }

// New builds the operator table for a symbolic group name: C1, C2, ...,
// C2V, C3V, ..., D2, D3, ..., T, O, I.
func New(name string) (*Group, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	if upper == "" {
		return nil, fmt.Errorf("symmetry: empty group name")
	}

	switch upper {
	case "T":
		return &Group{name: upper, ops: closure(tetrahedralGenerators(), 12)}, nil
	case "O":
		return &Group{name: upper, ops: closure(octahedralGenerators(), 24)}, nil
	case "I":
		return &Group{name: upper, ops: closure(icosahedralGenerators(), 60)}, nil
	}

	if upper[0] != 'C' && upper[0] != 'D' {
		return nil, fmt.Errorf("symmetry: unknown group %q", name)
	}
	kind := upper[0]
	rest := upper[1:]
	dihedral := kind == 'D'
	if kind == 'C' && strings.HasSuffix(rest, "V") {
		dihedral = true
		rest = strings.TrimSuffix(rest, "V")
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 1 {
		return nil, fmt.Errorf("symmetry: unknown group %q", name)
	}

	gens := []mat.Matrix3x3{mat.RotationZ(2 * math32.Pi / float32(n))}
	if dihedral {
		gens = append(gens, mat.RotationX(math32.Pi))
	}
	ops := closure(gens, 2*n)
	return &Group{name: upper, ops: ops, nFold: n, dihedral: dihedral}, nil
}

// InFundamentalDomain reports whether Euler angles (phi, theta) — in the
// ZYZ convention vec.Quaternion.Euler produces — already lie in this
// group's fundamental domain.
//
// For the cyclic/dihedral families this is the closed-form wedge
// `phi in [0, 2*pi/n)`, further halved in theta to `[0, pi/2]` when the
// group has perpendicular 2-fold axes. For the cubic/icosahedral families,
// membership is defined by Fold: a pose is in the fundamental domain iff
// Fold leaves it unchanged (no operator produces a pose with smaller phi,
// or equal phi and smaller theta).
func (g *Group) InFundamentalDomain(phi, theta float32) bool {
	if g.nFold > 0 {
		wedge := 2 * math32.Pi / float32(g.nFold)
		phi = wrap(phi, 2*math32.Pi)
		if phi < 0 || phi >= wedge {
			return false
		}
		if g.dihedral && (theta < 0 || theta > math32.Pi/2) {
			return false
		}
		return true
	}
	q := vec.QuaternionFromEuler(phi, theta, 0)
	folded, _, _ := g.Fold(q)
	return quaternionsClose(q, folded)
}

// Fold maps a quaternion into this group's fundamental domain: for every
// operator R in the group, compute R applied to q and keep the one whose
// Euler (phi, theta) is lexicographically smallest (phi first, then
// theta), matching the convention that the fundamental domain is the wedge
// nearest phi=0, theta=0. For groups with perpendicular 2-fold axes, a
// candidate with theta in [0, pi/2] always wins over one with theta above
// pi/2, so the result lies in the half-wedge InFundamentalDomain accepts.
func (g *Group) Fold(q vec.Quaternion) (folded vec.Quaternion, phi, theta float32) {
	var best vec.Quaternion
	var bestPhi, bestTheta float32
	first := true
	for _, op := range g.ops {
		rq := rotationToQuaternion(op)
		cand := rq.Product(q)
		cPhi, cTheta, _ := cand.Euler()
		cPhi = wrap(cPhi, 2*math32.Pi)
		better := first || cPhi < bestPhi-1e-6 || (math32.Abs(cPhi-bestPhi) < 1e-6 && cTheta < bestTheta)
		if g.dihedral && !first {
			if cUpper, bUpper := cTheta <= math32.Pi/2, bestTheta <= math32.Pi/2; cUpper != bUpper {
				better = cUpper
			}
		}
		if better {
			best, bestPhi, bestTheta = cand, cPhi, cTheta
			first = false
		}
	}
	return best, bestPhi, bestTheta
}

func quaternionsClose(a, b vec.Quaternion) bool {
	const tol = 1e-4
	d := a.Dot(b)
	return math32.Abs(math32.Abs(d)-1) < tol
}

func wrap(a, period float32) float32 {
	for a < 0 {
		a += period
	}
	for a >= period {
		a -= period
	}
	return a
}

func rotationToQuaternion(m mat.Matrix3x3) vec.Quaternion {
	return vec.QuaternionFromMatrix3x3(m)
}

// closure generates the group of rotation matrices reachable from the
// identity by repeated right-multiplication by gens, deduplicated to
// within floating-point tolerance. hint sizes the initial map but is not a
// hard cap.
func closure(gens []mat.Matrix3x3, hint int) []mat.Matrix3x3 {
	seen := make(map[string]mat.Matrix3x3, hint*2)
	id := mat.Identity3x3()
	seen[matrixKey(id)] = id
	queue := []mat.Matrix3x3{id}

	const maxElements = 240 // generous safety cap, well above the largest point group (I, order 60)
	for len(queue) > 0 && len(seen) < maxElements {
		cur := queue[0]
		queue = queue[1:]
		for _, g := range gens {
			next := cur.Mul(g)
			k := matrixKey(next)
			if _, ok := seen[k]; !ok {
				seen[k] = next
				queue = append(queue, next)
			}
		}
	}

	out := make([]mat.Matrix3x3, 0, len(seen))
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, seen[k])
	}
	return out
}

func matrixKey(m mat.Matrix3x3) string {
	var b strings.Builder
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			v := m[i][j]
			if math32.Abs(v) < 5e-5 {
				v = 0 // -0.0000 and 0.0000 must share one key
			}
			fmt.Fprintf(&b, "%.4f,", v)
		}
	}
	return b.String()
}

func axisAngle(axis vec.Vec3, angle float32) mat.Matrix3x3 {
	a := axis.Normal()
	x, y, z := a[0], a[1], a[2]
	c := math32.Cos(angle)
	s := math32.Sin(angle)
	t := 1 - c
	return mat.Matrix3x3{
		{t*x*x + c, t*x*y - s*z, t*x*z + s*y},
		{t*x*y + s*z, t*y*y + c, t*y*z - s*x},
		{t*x*z - s*y, t*y*z + s*x, t*z*z + c},
	}
}

func tetrahedralGenerators() []mat.Matrix3x3 {
	return []mat.Matrix3x3{
		mat.RotationZ(math32.Pi),
		mat.RotationX(math32.Pi),
		axisAngle(vec.NewVec3(1, 1, 1), 2*math32.Pi/3),
	}
}

func octahedralGenerators() []mat.Matrix3x3 {
	return []mat.Matrix3x3{
		mat.RotationZ(math32.Pi / 2),
		axisAngle(vec.NewVec3(1, 1, 1), 2*math32.Pi/3),
		axisAngle(vec.NewVec3(1, 1, 0), math32.Pi),
	}
}

func icosahedralGenerators() []mat.Matrix3x3 {
	phi := (1 + math32.Sqrt(5)) / 2
	return []mat.Matrix3x3{
		axisAngle(vec.NewVec3(0, 1, phi), 2*math32.Pi/5),
		axisAngle(vec.NewVec3(1, 0, 0), math32.Pi),
		axisAngle(vec.NewVec3(0, 1, 0), math32.Pi),
	}
}
