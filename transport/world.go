// Package transport provides the SPMD communication abstraction the AMR
// engine and time-step reduction use: collective all-gather/all-reduce
// plus non-blocking point-to-point send/recv. Grounded on the
// buffer/offset bookkeeping shape of partitions.PartitionBuffer and
// partitions.RemotePartition; LocalWorld stands in for an MPI
// binding by running each rank on its own goroutine.
package transport

import "github.com/notargets/meshforest/logicalloc"

// SendHandle is returned by ISend; Wait blocks until the send has been
// consumed by the matching IRecv.
type SendHandle interface {
	Wait() error
}

// RecvHandle is returned by IRecv; Wait blocks until the matching ISend
// has delivered a payload and returns it.
type RecvHandle interface {
	Wait() ([]byte, error)
}

// World is the communication context a rank uses to participate in a
// collective mesh. The collectives (AllGatherInts, AllGatherLocations,
// AllReduceMin, Barrier) block until all ranks have reached the same
// call; Rank, Size, ISend and IRecv return at once.
type World interface {
	Rank() int
	Size() int

	AllGatherInts(send []int) [][]int
	AllGatherLocations(send []logicalloc.LogicalLocation) [][]logicalloc.LogicalLocation
	AllReduceMin(v float64) float64

	ISend(dst int, tag int, payload []byte) SendHandle
	IRecv(src int, tag int, n int) RecvHandle

	Barrier()
}
