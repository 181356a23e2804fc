package hcube

import "fmt"

// DistributorRank is the rank that hands out values and collects the
// final result.
const DistributorRank = 0

// MaxDim caps the hypercube dimension so that the 2^d worker Goroutines
// of an ensemble stay schedulable.
const MaxDim = 20

// CheckDim validates a hypercube dimension.
//
// Dimension 1 is topologically valid with two workers, but it is
// rejected as a configuration error all the same.
func CheckDim(d int) error {
	if d < 2 || d > MaxDim {
		return fmt.Errorf("invalid dimension (%d)", d)
	}
	return nil
}

// Workers returns the number of worker processes of a d-cube.
func Workers(d int) int {
	return 1 << d
}

// RequiredProcs returns the minimum ensemble size for a d-cube: the
// distributor plus one process per hypercube node.
func RequiredProcs(d int) int {
	return 1 + Workers(d)
}

// NeighborIndex returns the worker index exchanged with on the given
// round: the two indices differ exactly in bit `round`.
//
// The function is an involution in its first argument, so both sides of
// every exchange compute each other with no coordination.
func NeighborIndex(index, round int) int {
	return index ^ (1 << round)
}

// NeighborRank is NeighborIndex mapped into rank space, where worker
// index i lives at rank i+1.
func NeighborRank(rank, round int) int {
	return 1 + NeighborIndex(rank-1, round)
}

// Neighbors returns the ordered per-round neighbor ranks of a worker for
// all d rounds of the reduction, allocated once and sized to d.
func Neighbors(rank, d int) []int {
	neighbors := make([]int, d)
	for round := range neighbors {
		neighbors[round] = NeighborRank(rank, round)
	}
	return neighbors
}
