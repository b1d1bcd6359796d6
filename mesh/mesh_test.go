package mesh

import (
	"bytes"
	"encoding/binary"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/meshforest/block"
	"github.com/notargets/meshforest/checkpoint"
	"github.com/notargets/meshforest/collab"
	"github.com/notargets/meshforest/config"
	"github.com/notargets/meshforest/transport"
)

// scalarCodec is a minimal StateCodec whose payload is a single float64
// (the cell average) plus a fixed per-block dt, used the same way
// across this module's package tests.
type scalarCodec struct{ dt float64 }

func (c scalarCodec) ByteSize(bnx1, bnx2, bnx3 int) int { return 8 }
func (c scalarCodec) Serialize(payload []byte, w io.Writer) error {
	_, err := w.Write(payload)
	return err
}
func (c scalarCodec) Deserialize(payload []byte, r io.Reader) error {
	_, err := io.ReadFull(r, payload)
	return err
}
func (c scalarCodec) RestrictCellCentered(fine, coarse []byte, bounds collab.CellBounds) error {
	copy(coarse, fine)
	return nil
}
func (c scalarCodec) RestrictFieldX1(fine, coarse []byte, bounds collab.CellBounds) error { return nil }
func (c scalarCodec) RestrictFieldX2(fine, coarse []byte, bounds collab.CellBounds) error { return nil }
func (c scalarCodec) RestrictFieldX3(fine, coarse []byte, bounds collab.CellBounds) error { return nil }
func (c scalarCodec) ProlongateCellCentered(coarse, fine []byte, bounds collab.CellBounds) error {
	copy(fine, coarse)
	return nil
}
func (c scalarCodec) ProlongateSharedFieldX1(coarse, fine []byte, bounds collab.CellBounds) error {
	return nil
}
func (c scalarCodec) ProlongateSharedFieldX2(coarse, fine []byte, bounds collab.CellBounds) error {
	return nil
}
func (c scalarCodec) ProlongateSharedFieldX3(coarse, fine []byte, bounds collab.CellBounds) error {
	return nil
}
func (c scalarCodec) ProlongateInternalField(fine []byte, bounds collab.CellBounds) error { return nil }
func (c scalarCodec) NewBlockTimeStep(payload []byte) float64                             { return c.dt }
func (c scalarCodec) HasFaceField() bool                                                  { return false }

func floatPayload(v float64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(int64(v*1000)))
	return b
}

const static1D = `
<time>
tlim = 10.0
cfl_number = 0.8

<mesh>
nx1 = 16
x1min = 0.0
x1max = 1.0
ix1_bc = outflow
ox1_bc = outflow

<meshblock>
nx1 = 4
<par_end>
`

const adaptive1D = `
<time>
tlim = 10.0
cfl_number = 0.8

<mesh>
nx1 = 16
x1min = 0.0
x1max = 1.0
ix1_bc = outflow
ox1_bc = outflow
refinement = adaptive
numlevel = 2

<meshblock>
nx1 = 4
<par_end>
`

func loadConfig(t *testing.T, doc string) *config.MeshConfig {
	t.Helper()
	cfg, err := config.Load(strings.NewReader(doc))
	require.NoError(t, err)
	return cfg
}

func TestInitializeSingleRankBuildsBlocksAndGeometry(t *testing.T) {
	cfg := loadConfig(t, static1D)
	world := transport.NewHub(1).Rank(0)

	var seenGids []int
	gen := func(b any) {
		blk := b.(*block.Block)
		seenGids = append(seenGids, blk.Gid)
		blk.Payload = floatPayload(float64(blk.Gid))
	}

	m, err := Initialize(cfg, world, scalarCodec{dt: 0.1}, gen, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, m.Blocks.Len())
	assert.Len(t, seenGids, 4)

	var minX, maxX float64
	first := true
	m.Blocks.Each(func(b *block.Block) {
		assert.NotNil(t, b.Neighbors)
		if first || b.Size[0].Xmin < minX {
			minX = b.Size[0].Xmin
		}
		if first || b.Size[0].Xmax > maxX {
			maxX = b.Size[0].Xmax
		}
		first = false
	})
	assert.InDelta(t, 0.0, minX, 1e-9)
	assert.InDelta(t, 1.0, maxX, 1e-9)
}

func TestNewTimeStepCapsAtTwicePreviousAndClampsToTlim(t *testing.T) {
	cfg := loadConfig(t, static1D)
	world := transport.NewHub(1).Rank(0)
	blocks := block.NewList()
	blocks.Append(block.Block{Gid: 0, Payload: floatPayload(1)})

	m := &Mesh{Cfg: cfg, World: world, Codec: scalarCodec{dt: 1.0}, Blocks: blocks, Time: 0, Dt: 0}
	dt, err := m.NewTimeStep()
	require.NoError(t, err)
	assert.InDelta(t, 0.8, dt, 1e-9) // cfl_number * dt, no prior dt to cap against

	m.Dt = 0.1
	dt2, err := m.NewTimeStep()
	require.NoError(t, err)
	assert.InDelta(t, 0.2, dt2, 1e-9) // capped at 2x previous dt

	m.Time = 9.95
	m.Dt = 0.1
	dt3, err := m.NewTimeStep()
	require.NoError(t, err)
	assert.InDelta(t, 0.05, dt3, 1e-9) // clamped to tlim - time
}

func TestRunAMRCycleRefinesFlaggedBlockAndRebuildsNeighbors(t *testing.T) {
	cfg := loadConfig(t, adaptive1D)
	world := transport.NewHub(1).Rank(0)
	gen := func(b any) { b.(*block.Block).Payload = floatPayload(0) }

	m, err := Initialize(cfg, world, scalarCodec{dt: 0.1}, gen, nil)
	require.NoError(t, err)
	before := m.Blocks.Len()

	m.Blocks.At(0).RefineFlag = 1
	require.NoError(t, m.RunAMRCycle())

	assert.Equal(t, before+1, m.Blocks.Len())
	m.Blocks.Each(func(b *block.Block) {
		assert.NotNil(t, b.Neighbors)
		assert.Greater(t, b.Size[0].Xmax, b.Size[0].Xmin)
	})
}

func TestCheckConservationSumsAcrossBlocksAndReportsDrift(t *testing.T) {
	cfg := loadConfig(t, static1D)
	world := transport.NewHub(1).Rank(0)
	blocks := block.NewList()
	blocks.Append(block.Block{Gid: 0, Payload: floatPayload(1)})
	blocks.Append(block.Block{Gid: 1, Payload: floatPayload(2)})

	m := &Mesh{Cfg: cfg, World: world, Blocks: blocks}
	report := func(payload []byte) []float64 {
		v := float64(int64(binary.LittleEndian.Uint64(payload))) / 1000
		return []float64{v}
	}
	drift, err := m.CheckConservation(report, []float64{2.5})
	require.NoError(t, err)
	require.Len(t, drift, 1)
	assert.InDelta(t, 0.5, drift[0], 1e-9) // (1+2) - 2.5
}

func TestNewTestMeshAssignsRanksWithoutTransport(t *testing.T) {
	cfg := loadConfig(t, static1D)
	m, err := NewTestMesh(cfg, 2)
	require.NoError(t, err)
	assert.Nil(t, m.World)
	assert.Nil(t, m.Blocks)
	assert.Len(t, m.Ranklist, 4)
	assert.Equal(t, 0, m.Ranklist[0])
}

func TestRestoreRoundTripsHeaderAndOwnedBlocks(t *testing.T) {
	cfg := loadConfig(t, static1D)
	world := transport.NewHub(1).Rank(0)
	codec := scalarCodec{dt: 0.1}
	gen := func(b any) { blk := b.(*block.Block); blk.Payload = floatPayload(float64(blk.Gid)) }

	original, err := Initialize(cfg, world, codec, gen, nil)
	require.NoError(t, err)

	blocks := make([]*block.Block, original.Blocks.Len())
	original.Blocks.Each(func(b *block.Block) { blocks[b.Gid] = b })

	runID := uuid.New()
	hdr := checkpoint.Header{
		RunID: runID, Nbtotal: int32(len(blocks)), RootLevel: int32(original.rootLevel),
		Nx1: int32(cfg.Nx1), Nx2: int32(cfg.Nx2), Nx3: int32(cfg.Nx3),
		Time: 3.5, Dt: 0.2, Ncycle: 7,
	}
	paramDoc := []byte(static1D)

	var buf bytes.Buffer
	require.NoError(t, checkpoint.WriteFile(&buf, paramDoc, hdr, blocks, codec, cfg.BlockNx1, cfg.BlockNx2, cfg.BlockNx3))

	data := buf.Bytes()
	idx := bytes.Index(data, []byte("<par_end>\n"))
	require.GreaterOrEqual(t, idx, 0)
	cursor := idx + len("<par_end>\n")

	r := bytes.NewReader(data[cursor:])
	gotHdr, err := checkpoint.ReadHeader(r)
	require.NoError(t, err)
	headerEnd := int64(len(data)) - int64(r.Len())

	index, err := checkpoint.ReadIndex(io.NewSectionReader(bytes.NewReader(data), headerEnd, int64(len(data))-headerEnd), int(gotHdr.Nbtotal))
	require.NoError(t, err)
	payloadBase := bytes.NewReader(data[headerEnd+int64(len(index))*checkpoint.IndexEntrySize():])

	restoredWorld := transport.NewHub(1).Rank(0)
	restored, err := Restore(cfg, gotHdr, index, payloadBase, restoredWorld, codec, nil)
	require.NoError(t, err)

	assert.Equal(t, hdr.Time, restored.Time)
	assert.Equal(t, hdr.Dt, restored.Dt)
	assert.Equal(t, hdr.RunID, restored.RunID)
	assert.Equal(t, original.Blocks.Len(), restored.Blocks.Len())

	restored.Blocks.Each(func(b *block.Block) {
		assert.Equal(t, blocks[b.Gid].Payload, b.Payload)
	})
}
