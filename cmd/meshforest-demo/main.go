package main

import (
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	"github.com/notargets/meshforest/block"
	"github.com/notargets/meshforest/collab"
	"github.com/notargets/meshforest/config"
	"github.com/notargets/meshforest/mesh"
	"github.com/notargets/meshforest/transport"
)

// Simulation parameters: a plain const block and a single procedural
// main, seeding a Gaussian pulse and driving it through a fixed number
// of time-step/AMR cycles.
const (
	NRanks       = 2
	MaxCycles    = 12
	AMREveryStep = true
)

const demoParams = `
<time>
start_time = 0.0
tlim = 1.0
cfl_number = 0.5

<mesh>
nx1 = 32
nx2 = 32
x1min = 0.0
x1max = 1.0
x2min = 0.0
x2max = 1.0
ix1_bc = outflow
ox1_bc = outflow
ix2_bc = outflow
ox2_bc = outflow
refinement = adaptive
numlevel = 3

<meshblock>
nx1 = 4
nx2 = 4
<par_end>
`

// pulseCodec carries a single cell-averaged scalar per block (a stand-in
// for a real conserved field) and reports a fixed advective CFL time
// step; restriction/prolongation are plain copies, exact for a constant
// field and good enough to drive the AMR/migration bookkeeping without
// a real solver wired in.
type pulseCodec struct{}

func (pulseCodec) ByteSize(bnx1, bnx2, bnx3 int) int { return 8 }
func (pulseCodec) Serialize(payload []byte, w io.Writer) error {
	_, err := w.Write(payload)
	return err
}
func (pulseCodec) Deserialize(payload []byte, r io.Reader) error {
	_, err := io.ReadFull(r, payload)
	return err
}
func (pulseCodec) RestrictCellCentered(fine, coarse []byte, bounds collab.CellBounds) error {
	copy(coarse, fine)
	return nil
}
func (pulseCodec) RestrictFieldX1(fine, coarse []byte, bounds collab.CellBounds) error { return nil }
func (pulseCodec) RestrictFieldX2(fine, coarse []byte, bounds collab.CellBounds) error { return nil }
func (pulseCodec) RestrictFieldX3(fine, coarse []byte, bounds collab.CellBounds) error { return nil }
func (pulseCodec) ProlongateCellCentered(coarse, fine []byte, bounds collab.CellBounds) error {
	copy(fine, coarse)
	return nil
}
func (pulseCodec) ProlongateSharedFieldX1(coarse, fine []byte, bounds collab.CellBounds) error {
	return nil
}
func (pulseCodec) ProlongateSharedFieldX2(coarse, fine []byte, bounds collab.CellBounds) error {
	return nil
}
func (pulseCodec) ProlongateSharedFieldX3(coarse, fine []byte, bounds collab.CellBounds) error {
	return nil
}
func (pulseCodec) ProlongateInternalField(fine []byte, bounds collab.CellBounds) error { return nil }
func (pulseCodec) NewBlockTimeStep(payload []byte) float64                             { return 0.02 }
func (pulseCodec) HasFaceField() bool                                                  { return false }

func encodeScalar(v float64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(int64(v*1e6)))
	return b
}

func decodeScalar(b []byte) float64 {
	return float64(int64(binary.LittleEndian.Uint64(b))) / 1e6
}

// gaussianPulse seeds each block with a value peaked at the domain
// center, giving the refinement-flag predicate below something
// non-uniform to react to.
func gaussianPulse(b any) {
	blk := b.(*block.Block)
	cx := (blk.Size[0].Xmin + blk.Size[0].Xmax) / 2
	cy := (blk.Size[1].Xmin + blk.Size[1].Xmax) / 2
	dx, dy := cx-0.5, cy-0.5
	v := 1.0 / (1.0 + 50*(dx*dx+dy*dy))
	blk.Payload = encodeScalar(v)
}

// refineOnGradient flags a block to refine when its value is still
// sizable (steep part of the pulse) and to derefine once it has
// flattened out near zero, a crude stand-in for a real error estimator.
func refineOnGradient(b any) int8 {
	blk := b.(*block.Block)
	v := decodeScalar(blk.Payload)
	switch {
	case v > 0.3 && blk.Loc.Level < 5:
		return block.FlagRefine
	case v < 0.02 && blk.Loc.Level > 2:
		return block.FlagDerefine
	default:
		return block.FlagNone
	}
}

func main() {
	cfg, err := config.Load(strings.NewReader(demoParams))
	if err != nil {
		log.Fatalf("meshforest-demo: config: %v", err)
	}

	fmt.Printf("=== meshforest AMR demo ===\n")
	fmt.Printf("mesh: %dx%d cells, block %dx%d, %d ranks\n", cfg.Nx1, cfg.Nx2, cfg.BlockNx1, cfg.BlockNx2, NRanks)

	hub := transport.NewHub(NRanks)
	meshes := make([]*mesh.Mesh, NRanks)
	errs := make([]error, NRanks)

	var wg sync.WaitGroup
	for r := 0; r < NRanks; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			m, err := mesh.Initialize(cfg, hub.Rank(r), pulseCodec{}, gaussianPulse, nil)
			meshes[r] = m
			errs[r] = err
		}(r)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			log.Fatalf("meshforest-demo: initialize: %v", err)
		}
	}

	for cycle := 0; cycle < MaxCycles; cycle++ {
		wg.Add(NRanks)
		dts := make([]float64, NRanks)
		for r := 0; r < NRanks; r++ {
			go func(r int) {
				defer wg.Done()
				m := meshes[r]
				m.Blocks.Each(func(b *block.Block) { b.RefineFlag = refineOnGradient(b) })
				dt, err := m.NewTimeStep()
				dts[r] = dt
				errs[r] = err
			}(r)
		}
		wg.Wait()
		for _, err := range errs {
			if err != nil {
				log.Fatalf("meshforest-demo: time step: %v", err)
			}
		}

		if AMREveryStep {
			wg.Add(NRanks)
			for r := 0; r < NRanks; r++ {
				go func(r int) {
					defer wg.Done()
					errs[r] = meshes[r].RunAMRCycle()
				}(r)
			}
			wg.Wait()
			for _, err := range errs {
				if err != nil {
					log.Fatalf("meshforest-demo: amr cycle: %v", err)
				}
			}
		}

		for r := range meshes {
			meshes[r].Time += meshes[r].Dt
			meshes[r].Ncycle++
		}

		total := 0
		for _, m := range meshes {
			total += m.Blocks.Len()
		}
		fmt.Printf("cycle %2d: t=%.4f dt=%.4f nbtotal=%d\n", cycle, meshes[0].Time, dts[0], total)
	}

	fmt.Printf("demo complete: %d cycles, final time %.4f\n", MaxCycles, meshes[0].Time)
}
