package transport

import "github.com/notargets/meshforest/logicalloc"

// Hub is the shared state n LocalWorld ranks rendezvous through: a
// cyclic barrier for collectives and a mailbox for point-to-point
// traffic. Construct one Hub per simulation and hand out one LocalWorld
// per rank via Rank.
type Hub struct {
	size    int
	barrier *cyclicBarrier
	box     *mailbox

	gatherInts  [][]int
	gatherLocs  [][]logicalloc.LogicalLocation
	reduceFloat []float64
}

// NewHub allocates the shared state for a size-rank in-process world.
func NewHub(size int) *Hub {
	return &Hub{
		size:        size,
		barrier:     newCyclicBarrier(size),
		box:         newMailbox(),
		gatherInts:  make([][]int, size),
		gatherLocs:  make([][]logicalloc.LogicalLocation, size),
		reduceFloat: make([]float64, size),
	}
}

// Rank returns the World handle for rank r, 0 <= r < size.
func (h *Hub) Rank(r int) *LocalWorld {
	return &LocalWorld{rank: r, hub: h}
}

// LocalWorld is the in-process stand-in for an MPI rank: every
// collective is implemented with two barrier crossings around a shared
// slot array, and point-to-point traffic goes through the hub's
// mailbox.
type LocalWorld struct {
	rank int
	hub  *Hub
}

func (w *LocalWorld) Rank() int { return w.rank }
func (w *LocalWorld) Size() int { return w.hub.size }

func (w *LocalWorld) AllGatherInts(send []int) [][]int {
	h := w.hub
	h.gatherInts[w.rank] = send
	h.barrier.Wait()
	out := make([][]int, h.size)
	for i, s := range h.gatherInts {
		cp := make([]int, len(s))
		copy(cp, s)
		out[i] = cp
	}
	h.barrier.Wait()
	return out
}

func (w *LocalWorld) AllGatherLocations(send []logicalloc.LogicalLocation) [][]logicalloc.LogicalLocation {
	h := w.hub
	h.gatherLocs[w.rank] = send
	h.barrier.Wait()
	out := make([][]logicalloc.LogicalLocation, h.size)
	for i, s := range h.gatherLocs {
		cp := make([]logicalloc.LogicalLocation, len(s))
		copy(cp, s)
		out[i] = cp
	}
	h.barrier.Wait()
	return out
}

func (w *LocalWorld) AllReduceMin(v float64) float64 {
	h := w.hub
	h.reduceFloat[w.rank] = v
	h.barrier.Wait()
	min := h.reduceFloat[0]
	for _, x := range h.reduceFloat[1:] {
		if x < min {
			min = x
		}
	}
	h.barrier.Wait()
	return min
}

func (w *LocalWorld) Barrier() { w.hub.barrier.Wait() }

type sendHandle struct{ env *envelope }

func (h *sendHandle) Wait() error {
	<-h.env.delivered
	return nil
}

type recvHandle struct {
	box           *mailbox
	src, dst, tag int
}

func (h *recvHandle) Wait() ([]byte, error) {
	env := h.box.recv(h.src, h.dst, h.tag)
	close(env.delivered)
	return env.payload, nil
}

func (w *LocalWorld) ISend(dst int, tag int, payload []byte) SendHandle {
	env := w.hub.box.send(w.rank, dst, tag, payload)
	return &sendHandle{env: env}
}

func (w *LocalWorld) IRecv(src int, tag int, n int) RecvHandle {
	return &recvHandle{box: w.hub.box, src: src, dst: w.rank, tag: tag}
}
