// Package config loads and validates the parameter document that drives
// Mesh construction, grounded on original_source/src/mesh.cpp's
// ParameterInput access pattern (pin->GetReal/GetOrAddInteger) and on
// the typed-struct-populated-from-a-parsed-document style of inp/sim.go
// (PaddySchmidt-gofem, teacher pack).
package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/notargets/meshforest/blocktree"
)

// Error names the offending key so a caller can report precisely what
// in the document was wrong; config.Load never returns a partially
// valid MeshConfig alongside an error.
type Error struct {
	Key string
	Msg string
}

func (e *Error) Error() string {
	if e.Key == "" {
		return e.Msg
	}
	return fmt.Sprintf("config: %s: %s", e.Key, e.Msg)
}

// RefinementKind selects between a fixed (static) mesh and one driven by
// a RefinementFlag callback (adaptive).
type RefinementKind int

const (
	RefinementStatic RefinementKind = iota
	RefinementAdaptive
)

// StaticRegion is one `refinement.*` block: a rectangular region that
// mesh construction refines down to Level. Nothing keeps it at that
// level afterwards.
type StaticRegion struct {
	X1Min, X1Max float64
	X2Min, X2Max float64
	X3Min, X3Max float64
	Level        int
}

// MeshConfig is the fully validated parameter set Mesh construction
// consumes.
type MeshConfig struct {
	StartTime float64
	Tlim      float64
	CFLNumber float64
	Nlim      int

	Nx1, Nx2, Nx3    int
	X1Min, X1Max     float64
	X2Min, X2Max     float64
	X3Min, X3Max     float64
	X1Rat, X2Rat, X3Rat float64
	Bcs              [6]blocktree.BoundaryKind

	BlockNx1, BlockNx2, BlockNx3 int

	Refinement RefinementKind
	NumLevel   int
	Regions    []StaticRegion

	NumThreads int
}

// Dim reports the mesh's spatial dimensionality, inferred the same way
// validate does: 1 unless nx2>1, 2 unless nx3>1 too.
func (c *MeshConfig) Dim() int {
	dim := 1
	if c.Nx2 > 1 {
		dim = 2
	}
	if c.Nx3 > 1 {
		dim = 3
	}
	return dim
}

// raw is the flat key/value view of the parsed document before typed
// validation; sections are not nested, matching the flat "section.key"
// addressing of original_source's ParameterInput.
type raw struct {
	values   map[string]string
	regions  []map[string]string
}

// Load parses the fixed-width text parameter document (`<section>`
// headers, `key = value` lines, terminated by a `<par_end>` marker) and
// validates it into a MeshConfig. Checkpoint files embed this same
// header ahead of their binary payload.
func Load(r io.Reader) (*MeshConfig, error) {
	doc, err := parse(r)
	if err != nil {
		return nil, err
	}
	return validate(doc)
}

func parse(r io.Reader) (*raw, error) {
	doc := &raw{values: make(map[string]string)}
	scanner := bufio.NewScanner(r)
	section := ""
	var curRegion map[string]string

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == "<par_end>" {
			break
		}
		if strings.HasPrefix(line, "<") && strings.HasSuffix(line, ">") {
			section = strings.TrimSuffix(strings.TrimPrefix(line, "<"), ">")
			if strings.HasPrefix(section, "refinement") {
				curRegion = make(map[string]string)
				doc.regions = append(doc.regions, curRegion)
			} else {
				curRegion = nil
			}
			continue
		}
		eq := strings.Index(line, "=")
		if eq < 0 {
			return nil, &Error{Msg: fmt.Sprintf("malformed line %q", line)}
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if section == "" {
			return nil, &Error{Key: key, Msg: "key appears before any <section> header"}
		}
		full := section + "." + key
		if curRegion != nil {
			curRegion[key] = val
		} else {
			doc.values[full] = val
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return doc, nil
}

func (d *raw) getReal(key string, required bool, def float64) (float64, error) {
	v, ok := d.values[key]
	if !ok {
		if required {
			return 0, &Error{Key: key, Msg: "required real parameter missing"}
		}
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, &Error{Key: key, Msg: "not a real number"}
	}
	return f, nil
}

func (d *raw) getInt(key string, required bool, def int) (int, error) {
	v, ok := d.values[key]
	if !ok {
		if required {
			return 0, &Error{Key: key, Msg: "required integer parameter missing"}
		}
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &Error{Key: key, Msg: "not an integer"}
	}
	return n, nil
}

func (d *raw) getString(key string, def string) string {
	if v, ok := d.values[key]; ok {
		return v
	}
	return def
}

func parseBoundaryKind(key, v string) (blocktree.BoundaryKind, error) {
	switch v {
	case "reflecting":
		return blocktree.BoundaryReflecting, nil
	case "outflow":
		return blocktree.BoundaryOutflow, nil
	case "periodic":
		return blocktree.BoundaryPeriodic, nil
	case "user":
		return blocktree.BoundaryUser, nil
	case "polar":
		return blocktree.BoundaryPolar, nil
	default:
		return 0, &Error{Key: key, Msg: fmt.Sprintf("unknown boundary kind %q", v)}
	}
}

func validate(d *raw) (*MeshConfig, error) {
	var cfg MeshConfig
	var err error

	if cfg.StartTime, err = d.getReal("time.start_time", false, 0); err != nil {
		return nil, err
	}
	if cfg.Tlim, err = d.getReal("time.tlim", true, 0); err != nil {
		return nil, err
	}
	if cfg.CFLNumber, err = d.getReal("time.cfl_number", true, 0); err != nil {
		return nil, err
	}
	if cfg.Nlim, err = d.getInt("time.nlim", false, -1); err != nil {
		return nil, err
	}

	if cfg.Nx1, err = d.getInt("mesh.nx1", true, 0); err != nil {
		return nil, err
	}
	if cfg.Nx2, err = d.getInt("mesh.nx2", false, 1); err != nil {
		return nil, err
	}
	if cfg.Nx3, err = d.getInt("mesh.nx3", false, 1); err != nil {
		return nil, err
	}
	if cfg.Nx1 < 4 {
		return nil, &Error{Key: "mesh.nx1", Msg: "must be >= 4"}
	}
	if cfg.Nx2 == 1 && cfg.Nx3 > 1 {
		return nil, &Error{Key: "mesh.nx3", Msg: "nx3>1 requires nx2>1 (no 1D-then-3D skip)"}
	}

	dim := 1
	if cfg.Nx2 > 1 {
		dim = 2
	}
	if cfg.Nx3 > 1 {
		dim = 3
	}
	maxCFL := 1.0
	if dim >= 2 {
		maxCFL = 0.5
	}
	if cfg.CFLNumber <= 0 || cfg.CFLNumber > maxCFL {
		return nil, &Error{Key: "time.cfl_number", Msg: fmt.Sprintf("must be in (0,%.1f] for a %d-D mesh", maxCFL, dim)}
	}

	if cfg.X1Min, err = d.getReal("mesh.x1min", true, 0); err != nil {
		return nil, err
	}
	if cfg.X1Max, err = d.getReal("mesh.x1max", true, 0); err != nil {
		return nil, err
	}
	if cfg.X1Max <= cfg.X1Min {
		return nil, &Error{Key: "mesh.x1max", Msg: "must be > mesh.x1min"}
	}
	if cfg.X1Rat, err = d.getReal("mesh.x1rat", false, 1); err != nil {
		return nil, err
	}
	if cfg.X1Rat < 0.9 || cfg.X1Rat > 1.1 {
		return nil, &Error{Key: "mesh.x1rat", Msg: "must lie in [0.9,1.1]"}
	}

	if dim >= 2 {
		if cfg.X2Min, err = d.getReal("mesh.x2min", true, 0); err != nil {
			return nil, err
		}
		if cfg.X2Max, err = d.getReal("mesh.x2max", true, 0); err != nil {
			return nil, err
		}
		if cfg.X2Max <= cfg.X2Min {
			return nil, &Error{Key: "mesh.x2max", Msg: "must be > mesh.x2min"}
		}
	}
	if cfg.X2Rat, err = d.getReal("mesh.x2rat", false, 1); err != nil {
		return nil, err
	}
	if cfg.X2Rat < 0.9 || cfg.X2Rat > 1.1 {
		return nil, &Error{Key: "mesh.x2rat", Msg: "must lie in [0.9,1.1]"}
	}

	if dim >= 3 {
		if cfg.X3Min, err = d.getReal("mesh.x3min", true, 0); err != nil {
			return nil, err
		}
		if cfg.X3Max, err = d.getReal("mesh.x3max", true, 0); err != nil {
			return nil, err
		}
		if cfg.X3Max <= cfg.X3Min {
			return nil, &Error{Key: "mesh.x3max", Msg: "must be > mesh.x3min"}
		}
	}
	if cfg.X3Rat, err = d.getReal("mesh.x3rat", false, 1); err != nil {
		return nil, err
	}
	if cfg.X3Rat < 0.9 || cfg.X3Rat > 1.1 {
		return nil, &Error{Key: "mesh.x3rat", Msg: "must lie in [0.9,1.1]"}
	}

	bcKeys := [6]string{"mesh.ix1_bc", "mesh.ox1_bc", "mesh.ix2_bc", "mesh.ox2_bc", "mesh.ix3_bc", "mesh.ox3_bc"}
	for i, k := range bcKeys {
		v := d.getString(k, "outflow")
		bc, err := parseBoundaryKind(k, v)
		if err != nil {
			return nil, err
		}
		cfg.Bcs[i] = bc
	}

	if cfg.BlockNx1, err = d.getInt("meshblock.nx1", true, 0); err != nil {
		return nil, err
	}
	if cfg.BlockNx2, err = d.getInt("meshblock.nx2", false, 1); err != nil {
		return nil, err
	}
	if cfg.BlockNx3, err = d.getInt("meshblock.nx3", false, 1); err != nil {
		return nil, err
	}
	if err := checkBlockSize("meshblock.nx1", cfg.BlockNx1, cfg.Nx1); err != nil {
		return nil, err
	}
	if dim >= 2 {
		if err := checkBlockSize("meshblock.nx2", cfg.BlockNx2, cfg.Nx2); err != nil {
			return nil, err
		}
	}
	if dim >= 3 {
		if err := checkBlockSize("meshblock.nx3", cfg.BlockNx3, cfg.Nx3); err != nil {
			return nil, err
		}
	}

	switch d.getString("mesh.refinement", "static") {
	case "static":
		cfg.Refinement = RefinementStatic
	case "adaptive":
		cfg.Refinement = RefinementAdaptive
		if cfg.NumLevel, err = d.getInt("mesh.numlevel", true, 0); err != nil {
			return nil, err
		}
	default:
		return nil, &Error{Key: "mesh.refinement", Msg: "must be \"static\" or \"adaptive\""}
	}

	if cfg.NumThreads, err = d.getInt("mesh.num_threads", false, 1); err != nil {
		return nil, err
	}
	if cfg.NumThreads < 1 {
		return nil, &Error{Key: "mesh.num_threads", Msg: "must be >= 1"}
	}

	for i, rmap := range d.regions {
		region, err := parseRegion(i, rmap, cfg)
		if err != nil {
			return nil, err
		}
		cfg.Regions = append(cfg.Regions, region)
	}

	return &cfg, nil
}

func checkBlockSize(key string, blockN, meshN int) error {
	if meshN == 1 {
		return nil
	}
	if blockN < 4 {
		return &Error{Key: key, Msg: "must be >= 4 on a non-degenerate axis"}
	}
	if meshN%blockN != 0 {
		return &Error{Key: key, Msg: "must evenly divide the corresponding mesh extent"}
	}
	return nil
}

func parseRegion(idx int, m map[string]string, cfg MeshConfig) (StaticRegion, error) {
	get := func(key string) (float64, error) {
		v, ok := m[key]
		if !ok {
			return 0, &Error{Key: fmt.Sprintf("refinement[%d].%s", idx, key), Msg: "missing"}
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, &Error{Key: fmt.Sprintf("refinement[%d].%s", idx, key), Msg: "not a real number"}
		}
		return f, nil
	}
	var r StaticRegion
	var err error
	if r.X1Min, err = get("x1min"); err != nil {
		return r, err
	}
	if r.X1Max, err = get("x1max"); err != nil {
		return r, err
	}
	if r.X2Min, err = get("x2min"); err != nil {
		return r, err
	}
	if r.X2Max, err = get("x2max"); err != nil {
		return r, err
	}
	if r.X3Min, err = get("x3min"); err != nil {
		return r, err
	}
	if r.X3Max, err = get("x3max"); err != nil {
		return r, err
	}
	lvl, err := strconv.Atoi(m["level"])
	if err != nil || lvl < 1 {
		return r, &Error{Key: fmt.Sprintf("refinement[%d].level", idx), Msg: "must be an integer >= 1"}
	}
	r.Level = lvl

	if r.X1Min < cfg.X1Min || r.X1Max > cfg.X1Max || r.X2Min < cfg.X2Min || r.X2Max > cfg.X2Max ||
		r.X3Min < cfg.X3Min || r.X3Max > cfg.X3Max {
		return r, &Error{Key: fmt.Sprintf("refinement[%d]", idx), Msg: "region must lie within the mesh extent"}
	}
	return r, nil
}
