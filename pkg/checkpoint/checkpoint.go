// Package checkpoint implements the resumable optimiser state that
// cmd/reconstruct writes once, after the run loop ends: the current
// reference volume, the sigma noise table, and the resolution state
// machine's cutoff fields.
//
// Grounded on the teacher's generated-message idiom
// (pkg/robot/kinematics/types.pb.go: a plain struct plus hand-rolled
// Marshal/Unmarshal), adapted here to google.golang.org/protobuf's
// encoding/protowire primitives rather than gogo/protobuf's generated
// varint code, since protoc cannot be invoked in this build and protowire
// is the one part of the real protobuf module built for exactly this:
// hand-writing wire-compatible encode/decode without a .proto compile
// step.
package checkpoint

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/itohio/cryoem/pkg/model"
	"github.com/itohio/cryoem/pkg/reconimage"
)

// field numbers, stable across versions of this message.
const (
	fieldN           = 1
	fieldPF          = 2
	fieldRefReal     = 3
	fieldRefImag     = 4
	fieldSigmaGroups = 5
	fieldSigmaShells = 6
	fieldSigma       = 7
	fieldR           = 8
	fieldRU          = 9
	fieldRT          = 10
	fieldRPrev       = 11
	fieldSearchPhase = 12
	fieldIteration   = 13
)

// Checkpoint is the resumable state of one optimiser run.
type Checkpoint struct {
	N  int32
	PF int32

	// RefReal/RefImag are the reference volume's half-spectrum, flattened
	// in the same (plane*n+row)*half+col order as reconimage.Volume.
	RefReal []float32
	RefImag []float32

	SigmaGroups int32
	SigmaShells int32
	Sigma       []float32 // row-major, SigmaGroups x SigmaShells

	R, RU, RT, RPrev float32
	SearchPhase      model.SearchType
	Iteration        int32
}

// FromReference splits a reference Volume's half-spectrum into the
// checkpoint's RefReal/RefImag slices (protobuf has no native complex
// type, so the two rails are stored separately and zipped back together
// by ToReference).
func (c *Checkpoint) FromReference(ref *reconimage.Volume, pf int) {
	data := ref.FourierData()
	c.N = int32(ref.N())
	c.PF = int32(pf)
	c.RefReal = make([]float32, len(data))
	c.RefImag = make([]float32, len(data))
	for i, v := range data {
		c.RefReal[i] = real(v)
		c.RefImag[i] = imag(v)
	}
}

// ToReference rebuilds a reference Volume from the checkpoint's stored
// half-spectrum.
func (c *Checkpoint) ToReference() (*reconimage.Volume, error) {
	if len(c.RefReal) != len(c.RefImag) {
		return nil, fmt.Errorf("checkpoint: mismatched reference rails: %d real vs %d imag", len(c.RefReal), len(c.RefImag))
	}
	vol := reconimage.NewVolume(int(c.N))
	vol.ResetFourier()
	data := vol.FourierData()
	if len(data) != len(c.RefReal) {
		return nil, fmt.Errorf("checkpoint: reference length %d does not match side %d", len(c.RefReal), c.N)
	}
	for i := range data {
		data[i] = complex(c.RefReal[i], c.RefImag[i])
	}
	return vol, nil
}

// FromModel copies a resolution state machine's cutoff fields into c.
func (c *Checkpoint) FromModel(m *model.Model, iteration int) {
	c.R, c.RU, c.RT, c.RPrev = m.R, m.RU, m.RT, m.RPrev
	c.SearchPhase = m.SearchPhase
	c.Iteration = int32(iteration)
}

// Marshal encodes c to protobuf wire format.
func (c *Checkpoint) Marshal() ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, fieldN, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.N))
	b = protowire.AppendTag(b, fieldPF, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.PF))

	b = appendFloats(b, fieldRefReal, c.RefReal)
	b = appendFloats(b, fieldRefImag, c.RefImag)

	b = protowire.AppendTag(b, fieldSigmaGroups, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.SigmaGroups))
	b = protowire.AppendTag(b, fieldSigmaShells, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.SigmaShells))
	b = appendFloats(b, fieldSigma, c.Sigma)

	b = appendFloat(b, fieldR, c.R)
	b = appendFloat(b, fieldRU, c.RU)
	b = appendFloat(b, fieldRT, c.RT)
	b = appendFloat(b, fieldRPrev, c.RPrev)

	b = protowire.AppendTag(b, fieldSearchPhase, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.SearchPhase))
	b = protowire.AppendTag(b, fieldIteration, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.Iteration))
	return b, nil
}

func appendFloat(b []byte, field protowire.Number, v float32) []byte {
	b = protowire.AppendTag(b, field, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, math.Float32bits(v))
}

func appendFloats(b []byte, field protowire.Number, values []float32) []byte {
	for _, v := range values {
		b = appendFloat(b, field, v)
	}
	return b
}

// Unmarshal decodes b into c, overwriting its fields.
func (c *Checkpoint) Unmarshal(b []byte) error {
	*c = Checkpoint{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("checkpoint: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("checkpoint: bad varint: %w", protowire.ParseError(n))
			}
			b = b[n:]
			switch protowire.Number(num) {
			case fieldN:
				c.N = int32(v)
			case fieldPF:
				c.PF = int32(v)
			case fieldSigmaGroups:
				c.SigmaGroups = int32(v)
			case fieldSigmaShells:
				c.SigmaShells = int32(v)
			case fieldSearchPhase:
				c.SearchPhase = model.SearchType(v)
			case fieldIteration:
				c.Iteration = int32(v)
			}
		case protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return fmt.Errorf("checkpoint: bad fixed32: %w", protowire.ParseError(n))
			}
			b = b[n:]
			f := math.Float32frombits(v)
			switch protowire.Number(num) {
			case fieldRefReal:
				c.RefReal = append(c.RefReal, f)
			case fieldRefImag:
				c.RefImag = append(c.RefImag, f)
			case fieldSigma:
				c.Sigma = append(c.Sigma, f)
			case fieldR:
				c.R = f
			case fieldRU:
				c.RU = f
			case fieldRT:
				c.RT = f
			case fieldRPrev:
				c.RPrev = f
			}
		default:
			n := protowire.ConsumeFieldValue(protowire.Number(num), typ, b)
			if n < 0 {
				return fmt.Errorf("checkpoint: bad field value: %w", protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return nil
}
