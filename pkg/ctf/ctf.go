// Package ctf implements the CTF evaluator external collaborator of §1: a
// small state struct carrying the microscope/particle parameters, with an
// Evaluate method producing the oscillatory Fourier-space contrast transfer
// function. Grounded on the teacher's small single-purpose state-plus-
// options evaluator shape (pkg/core/math/filter/ahrs's MahonyAHRS: a struct
// of scalar parameters with a Calculate/Evaluate-style method, constructed
// once and reused across calls).
//
// Parameter estimation is explicitly out of scope per spec.md's Non-goals;
// this package only evaluates CTF(s, theta) from already-known parameters.
package ctf

import "github.com/chewxy/math32"

// Attr is the per-particle/per-micrograph CTF attribute tuple §4 describes
// images being constructed from: (voltage, defocusU, defocusV,
// defocusAngle, Cs). Voltage is in volts, defoci in Angstroms, defocusAngle
// in radians, Cs (spherical aberration) in millimeters.
type Attr struct {
	Voltage      float32
	DefocusU     float32
	DefocusV     float32
	DefocusAngle float32
	Cs           float32
	// AmplitudeContrast is the fraction of amplitude-contrast mixed into
	// the otherwise pure phase-contrast transfer function. Defaults to 0
	// (pure phase contrast) when left zero.
	AmplitudeContrast float32
}

// CTF holds a resolved evaluator for one Attr plus the physical constants
// (electron wavelength) derived from it once at construction.
type CTF struct {
	attr   Attr
	lambda float32 // electron wavelength, Angstroms
}

// New resolves an evaluator for the given attributes.
func New(a Attr) *CTF {
	return &CTF{attr: a, lambda: wavelength(a.Voltage)}
}

// wavelength computes the relativistic electron wavelength in Angstroms
// from the accelerating voltage in volts.
func wavelength(voltageV float32) float32 {
	v := voltageV
	return 12.2639 / math32.Sqrt(v+0.97845e-6*v*v)
}

// Evaluate returns the real-valued CTF at spatial frequency magnitude s
// (1/Angstrom) and azimuth angle theta (radians), following the standard
// astigmatic defocus model:
//
//	Δf(theta) = 0.5(Du+Dv) + 0.5(Du-Dv)cos(2(theta - defocusAngle))
//	gamma(s)  = 2π( -0.5 Δf λ s² + 0.25 Cs λ³ s⁴ )
//	CTF(s)    = -( sqrt(1-A²) sin(gamma) + A cos(gamma) )
//
// with Cs converted from millimeters to Angstroms internally.
func (c *CTF) Evaluate(s, theta float32) float32 {
	a := c.attr
	csAngstrom := a.Cs * 1e7
	dTheta := theta - a.DefocusAngle
	defocus := 0.5*(a.DefocusU+a.DefocusV) + 0.5*(a.DefocusU-a.DefocusV)*math32.Cos(2*dTheta)

	s2 := s * s
	s4 := s2 * s2
	lambda := c.lambda
	gamma := 2 * math32.Pi * (-0.5*defocus*lambda*s2 + 0.25*csAngstrom*lambda*lambda*lambda*s4)

	amp := a.AmplitudeContrast
	phaseTerm := math32.Sqrt(1-amp*amp) * math32.Sin(gamma)
	ampTerm := amp * math32.Cos(gamma)
	return -(phaseTerm + ampTerm)
}

// EvaluateGrid fills a (N/2+1) x N half-spectrum buffer with CTF values at
// each centered frequency, given pixel size (Angstrom/pixel) and box side N.
// The layout matches pkg/reconimage.Image's Fourier half-spectrum, so the
// result can be copied straight into an Image via ResetFourier+raw access.
func (c *CTF) EvaluateGrid(n int, pixelSize float32) []complex64 {
	half := n/2 + 1
	out := make([]complex64, half*n)
	for row := 0; row < n; row++ {
		v := row
		if v > n/2 {
			v -= n
		}
		for col := 0; col < half; col++ {
			u := col
			sx := float32(u) / (float32(n) * pixelSize)
			sy := float32(v) / (float32(n) * pixelSize)
			s := math32.Sqrt(sx*sx + sy*sy)
			theta := math32.Atan2(sy, sx)
			out[row*half+col] = complex(c.Evaluate(s, theta), 0)
		}
	}
	return out
}
