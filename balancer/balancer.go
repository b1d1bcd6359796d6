// Package balancer implements the deterministic greedy load balancer
// that maps an ordered leaf list and per-leaf cost to a contiguous
// per-rank gid assignment, grounded on Mesh::LoadBalancing in
// original_source/src/mesh.cpp and on the partition-sizing bookkeeping
// of partitions.PartitionLayout.
package balancer

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Assignment is the result of a load balance: a contiguous per-rank gid
// range plus the resulting rank-of-gid lookup table.
type Assignment struct {
	RankList []int // RankList[gid] = owning rank
	StartList []int // StartList[rank] = first gid owned by rank
	CountList []int // CountList[rank] = number of gids owned by rank
}

// Balance assigns cost[0..N-1] to nranks ranks using a deterministic
// greedy algorithm: walk gids from N-1 down to 0,
// accumulating into the current (highest-numbered) rank until the
// running target cost is reached, then move to the next-lower rank.
// Block 0 always lands on rank 0, which deliberately ends up slightly
// lighter since it typically also handles I/O.
func Balance(cost []float64, nranks int) (Assignment, error) {
	n := len(cost)
	if n == 0 {
		return Assignment{}, fmt.Errorf("balancer: empty cost list")
	}
	if n < nranks {
		return Assignment{}, fmt.Errorf("balancer: nblocks=%d < nranks=%d, every rank must own at least one block", n, nranks)
	}

	total := floats.Sum(cost)
	rankList := make([]int, n)

	remaining := total
	ranksLeft := nranks
	rank := nranks - 1
	accumulated := 0.0
	target := remaining / float64(ranksLeft)

	for i := n - 1; i >= 0; i-- {
		if target == 0.0 {
			return Assignment{}, fmt.Errorf("balancer: rank %d would own zero cost; decrease ranks or use smaller blocks", rank)
		}
		accumulated += cost[i]
		rankList[i] = rank
		if accumulated >= target && rank > 0 {
			rank--
			remaining -= accumulated
			accumulated = 0.0
			ranksLeft--
			target = remaining / float64(ranksLeft)
		}
	}
	rankList[0] = 0

	start, count := contiguousRanges(rankList, nranks)
	for r := 0; r < nranks; r++ {
		if count[r] == 0 {
			return Assignment{}, fmt.Errorf("balancer: rank %d owns zero blocks", r)
		}
	}

	return Assignment{RankList: rankList, StartList: start, CountList: count}, nil
}

func contiguousRanges(rankList []int, nranks int) (start, count []int) {
	start = make([]int, nranks)
	count = make([]int, nranks)
	if len(rankList) == 0 {
		return start, count
	}
	start[rankList[0]] = 0
	cur := rankList[0]
	for i := 1; i < len(rankList); i++ {
		if rankList[i] != cur {
			cur = rankList[i]
			start[cur] = i
		}
	}
	for r := 0; r < nranks; r++ {
		end := len(rankList)
		for i := start[r]; i < len(rankList); i++ {
			if rankList[i] != r {
				end = i
				break
			}
		}
		count[r] = end - start[r]
	}
	return start, count
}

// ImbalanceWarning reports whether the configuration is structurally
// imbalanced (N not divisible by R, all costs equal, AMR disabled) —
// a non-fatal diagnostic.
func ImbalanceWarning(cost []float64, nranks int, amrEnabled bool) bool {
	if amrEnabled || len(cost)%nranks == 0 {
		return false
	}
	min, max := floats.Min(cost), floats.Max(cost)
	return min == max
}

// ImbalanceRatio reports the standard deviation of per-rank total cost
// relative to its mean, a diagnostic for how even the balance is.
func ImbalanceRatio(cost []float64, assignment Assignment) float64 {
	perRank := make([]float64, len(assignment.CountList))
	for gid, r := range assignment.RankList {
		perRank[r] += cost[gid]
	}
	mean := stat.Mean(perRank, nil)
	if mean == 0 {
		return 0
	}
	return stat.StdDev(perRank, nil) / mean
}
