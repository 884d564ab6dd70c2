// Package db implements §6's read-only particle database adapter:
// micrographs and particles tables, queried by prepared statements, over
// a pure-Go sqlite driver (consistent with dropping the teacher's CGO
// deps gocv/tflite — modernc.org/sqlite needs no cgo either).
//
// Grounded on the teacher's small-struct-plus-prepared-statement query
// style (pkg/core/transport packages open a resource once in a
// constructor and expose narrow typed accessor methods).
package db

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/itohio/cryoem/pkg/reconimage"
)

// Micrograph is a row of the micrographs table.
type Micrograph struct {
	ID      int64
	Voltage float32
	Cs      float32
}

// Particle is a row of the particles table.
type Particle struct {
	ID           int64
	Name         string
	GroupID      int64
	MicrographID int64
	DefocusU     float32
	DefocusV     float32
	DefocusAngle float32
}

// DB is a read-only handle over the particle database of §6.
type DB struct {
	conn *sql.DB

	stmtMicrograph *sql.Stmt
	stmtParticle   *sql.Stmt
	stmtAllIDs     *sql.Stmt
}

// Open opens the sqlite-backed particle database at path and prepares the
// statements the optimiser needs.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("db: open %s: %w", path, err)
	}
	d := &DB{conn: conn}

	d.stmtMicrograph, err = conn.Prepare(`SELECT ID, Voltage, Cs FROM micrographs WHERE ID = ?`)
	if err != nil {
		return nil, fmt.Errorf("db: prepare micrograph query: %w", err)
	}
	d.stmtParticle, err = conn.Prepare(`SELECT ID, Name, GroupID, micrographID, DefocusU, DefocusV, DefocusAngle FROM particles WHERE ID = ?`)
	if err != nil {
		return nil, fmt.Errorf("db: prepare particle query: %w", err)
	}
	d.stmtAllIDs, err = conn.Prepare(`SELECT ID FROM particles ORDER BY ID`)
	if err != nil {
		return nil, fmt.Errorf("db: prepare particle ID query: %w", err)
	}
	return d, nil
}

// Close releases the underlying connection.
func (d *DB) Close() error { return d.conn.Close() }

// AllParticleIDs returns every particle ID in ascending order, the set
// §4.5's initialisation broadcasts and scatters across hemispheres.
func (d *DB) AllParticleIDs() ([]int64, error) {
	rows, err := d.stmtAllIDs.Query()
	if err != nil {
		return nil, fmt.Errorf("db: query particle IDs: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("db: scan particle ID: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Particle loads particle row id. A missing row is fatal per §7's "missing
// database row is fatal" taxonomy.
func (d *DB) Particle(id int64) (Particle, error) {
	var p Particle
	err := d.stmtParticle.QueryRow(id).Scan(&p.ID, &p.Name, &p.GroupID, &p.MicrographID, &p.DefocusU, &p.DefocusV, &p.DefocusAngle)
	if err == sql.ErrNoRows {
		return p, fmt.Errorf("db: particle %d: %w", id, errNotFound)
	}
	if err != nil {
		return p, fmt.Errorf("db: particle %d: %w", id, err)
	}
	return p, nil
}

// Micrograph loads micrograph row id.
func (d *DB) Micrograph(id int64) (Micrograph, error) {
	var m Micrograph
	err := d.stmtMicrograph.QueryRow(id).Scan(&m.ID, &m.Voltage, &m.Cs)
	if err == sql.ErrNoRows {
		return m, fmt.Errorf("db: micrograph %d: %w", id, errNotFound)
	}
	if err != nil {
		return m, fmt.Errorf("db: micrograph %d: %w", id, err)
	}
	return m, nil
}

var errNotFound = fmt.Errorf("row not found")

// ParseName resolves §6's Name contract: either a plain path (hasSlice
// false), or a "k@path" selector naming 1-based slice k of a multi-image
// file (hasSlice true, slice 0-based).
func ParseName(name string) (path string, slice int, hasSlice bool, err error) {
	idx := strings.Index(name, "@")
	if idx < 0 {
		return name, 0, false, nil
	}
	kPart, pathPart := name[:idx], name[idx+1:]
	k, err := strconv.Atoi(kPart)
	if err != nil {
		return "", 0, false, fmt.Errorf("db: invalid slice selector %q: %w", name, err)
	}
	if k < 1 {
		return "", 0, false, fmt.Errorf("db: invalid slice selector %q: slice must be >= 1", name)
	}
	return pathPart, k - 1, true, nil
}

// LoadParticleImage resolves p.Name per the Name contract and loads the
// corresponding image of side n.
func LoadParticleImage(p Particle, n int) (*reconimage.Image, error) {
	path, slice, hasSlice, err := ParseName(p.Name)
	if err != nil {
		return nil, err
	}
	if hasSlice {
		return reconimage.LoadImageSlice(path, n, slice)
	}
	return reconimage.LoadImage(path, n)
}
