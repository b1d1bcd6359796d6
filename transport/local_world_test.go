package transport

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/meshforest/logicalloc"
)

func TestAllGatherIntsCollectsEveryRank(t *testing.T) {
	hub := NewHub(3)
	var wg sync.WaitGroup
	results := make([][][]int, 3)
	for r := 0; r < 3; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			w := hub.Rank(r)
			results[r] = w.AllGatherInts([]int{r, r * 10})
		}(r)
	}
	wg.Wait()
	for r := 0; r < 3; r++ {
		assert.Equal(t, [][]int{{0, 0}, {1, 10}, {2, 20}}, results[r])
	}
}

func TestAllGatherLocationsRoundTrips(t *testing.T) {
	hub := NewHub(2)
	var wg sync.WaitGroup
	results := make([][][]logicalloc.LogicalLocation, 2)
	for r := 0; r < 2; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			w := hub.Rank(r)
			results[r] = w.AllGatherLocations([]logicalloc.LogicalLocation{logicalloc.New(0, int64(r), 0, 0)})
		}(r)
	}
	wg.Wait()
	assert.Equal(t, results[0], results[1])
	assert.Equal(t, logicalloc.New(0, 1, 0, 0), results[0][1][0])
}

func TestAllReduceMinAgreesAcrossRanks(t *testing.T) {
	hub := NewHub(4)
	values := []float64{0.5, 0.1, 0.3, 0.9}
	var wg sync.WaitGroup
	results := make([]float64, 4)
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			results[r] = hub.Rank(r).AllReduceMin(values[r])
		}(r)
	}
	wg.Wait()
	for _, got := range results {
		assert.InDelta(t, 0.1, got, 1e-12)
	}
}

func TestISendIRecvDeliversPayload(t *testing.T) {
	hub := NewHub(2)
	sender := hub.Rank(0)
	receiver := hub.Rank(1)

	recvDone := make(chan []byte, 1)
	go func() {
		h := receiver.IRecv(0, 7, 4)
		payload, err := h.Wait()
		require.NoError(t, err)
		recvDone <- payload
	}()

	send := sender.ISend(1, 7, []byte{1, 2, 3, 4})
	require.NoError(t, send.Wait())

	got := <-recvDone
	assert.Equal(t, []byte{1, 2, 3, 4}, got)
}

func TestBarrierReleasesAllGoroutinesTogether(t *testing.T) {
	hub := NewHub(3)
	var wg sync.WaitGroup
	var mu sync.Mutex
	order := make([]int, 0, 3)
	for r := 0; r < 3; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			hub.Rank(r).Barrier()
			mu.Lock()
			order = append(order, r)
			mu.Unlock()
		}(r)
	}
	wg.Wait()
	assert.Len(t, order, 3)
}
