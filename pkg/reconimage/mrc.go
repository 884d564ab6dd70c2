package reconimage

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// mrcHeader is the fixed 1024-byte MRC-family header, exposed only at
// the fields this engine reads/writes: side lengths and mode. Full MRC
// metadata (origin, cell, labels, extended headers) is out of scope per
// spec.md's Non-goal on "on-disk image container formats" — this is the
// minimal boundary needed to get real-valued pixel data in and out.
//
// No library in the retrieved example corpus models scientific volume
// containers (the teacher's gocv dependency targets camera/video frames,
// dropped per DESIGN.md); encoding/binary is used directly as the
// deliberate, justified stdlib leaf for this one boundary.
type mrcHeader struct {
	NCol, NRow, NSlc int32
	Mode             int32 // 2 == float32
}

const mrcHeaderBytes = 1024

// ReadMRC reads an MRC-family volume/image file containing float32
// pixel/voxel data. Header and data are always decoded as little-endian,
// whatever the host's byte order. name may additionally carry a
// "k@path" slice selector per §6's database Name contract; ReadMRC itself
// only understands plain paths — slice selection is resolved by the caller
// (pkg/db) before the file is opened.
func ReadMRC(path string) (data []float32, nCol, nRow, nSlc int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, 0, 0, fmt.Errorf("reconimage: open %s: %w", path, err)
	}
	defer f.Close()

	var hdr mrcHeader
	if err := binary.Read(f, binary.LittleEndian, &hdr); err != nil {
		return nil, 0, 0, 0, fmt.Errorf("reconimage: read header %s: %w", path, err)
	}
	if hdr.Mode != 2 {
		return nil, 0, 0, 0, fmt.Errorf("reconimage: %s: unsupported mode %d (only float32 mode 2 is supported)", path, hdr.Mode)
	}
	if _, err := f.Seek(mrcHeaderBytes, io.SeekStart); err != nil {
		return nil, 0, 0, 0, fmt.Errorf("reconimage: seek past header %s: %w", path, err)
	}

	n := int(hdr.NCol) * int(hdr.NRow) * int(hdr.NSlc)
	data = make([]float32, n)
	if err := binary.Read(f, binary.LittleEndian, data); err != nil {
		return nil, 0, 0, 0, fmt.Errorf("reconimage: read data %s: %w", path, err)
	}
	return data, int(hdr.NCol), int(hdr.NRow), int(hdr.NSlc), nil
}

// WriteMRC writes a float32 volume/image to an MRC-family file.
func WriteMRC(path string, data []float32, nCol, nRow, nSlc int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("reconimage: create %s: %w", path, err)
	}
	defer f.Close()

	hdr := mrcHeader{NCol: int32(nCol), NRow: int32(nRow), NSlc: int32(nSlc), Mode: 2}
	if err := binary.Write(f, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("reconimage: write header %s: %w", path, err)
	}
	pad := make([]byte, mrcHeaderBytes-16)
	if _, err := f.Write(pad); err != nil {
		return fmt.Errorf("reconimage: pad header %s: %w", path, err)
	}
	if err := binary.Write(f, binary.LittleEndian, data); err != nil {
		return fmt.Errorf("reconimage: write data %s: %w", path, err)
	}
	return nil
}

// LoadImage reads a 2D MRC file into a real-space Image of side n,
// returning an error if the on-disk dimensions mismatch n (spec.md §4.5
// "An image whose on-disk dimensions mismatch para.size is fatal").
func LoadImage(path string, n int) (*Image, error) {
	data, nCol, nRow, nSlc, err := ReadMRC(path)
	if err != nil {
		return nil, err
	}
	if nCol != n || nRow != n || nSlc != 1 {
		return nil, fmt.Errorf("reconimage: %s: size mismatch, got %dx%dx%d want %dx%dx1", path, nCol, nRow, nSlc, n, n)
	}
	im := NewImage(n)
	im.ResetReal()
	copy(im.RealData(), data)
	return im, nil
}

// LoadImageSlice reads slice index `slice` (0-based) out of a multi-image
// MRC stack of side n, per §6's "k@path" Name contract (pkg/db resolves
// the "k@" prefix to a 0-based slice before calling this).
func LoadImageSlice(path string, n, slice int) (*Image, error) {
	data, nCol, nRow, nSlc, err := ReadMRC(path)
	if err != nil {
		return nil, err
	}
	if nCol != n || nRow != n {
		return nil, fmt.Errorf("reconimage: %s: size mismatch, got %dx%dx%d want %dx%dxN", path, nCol, nRow, nSlc, n, n)
	}
	if slice < 0 || slice >= nSlc {
		return nil, fmt.Errorf("reconimage: %s: slice %d out of range [0,%d)", path, slice, nSlc)
	}
	im := NewImage(n)
	im.ResetReal()
	planeLen := n * n
	copy(im.RealData(), data[slice*planeLen:(slice+1)*planeLen])
	return im, nil
}

// LoadVolume reads a 3D MRC file into a real-space Volume of side n.
func LoadVolume(path string, n int) (*Volume, error) {
	data, nCol, nRow, nSlc, err := ReadMRC(path)
	if err != nil {
		return nil, err
	}
	if nCol != n || nRow != n || nSlc != n {
		return nil, fmt.Errorf("reconimage: %s: size mismatch, got %dx%dx%d want %dx%dx%d", path, nCol, nRow, nSlc, n, n, n)
	}
	vl := NewVolume(n)
	vl.ResetReal()
	copy(vl.RealData(), data)
	return vl, nil
}
