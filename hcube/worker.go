package hcube

import "math"

// RunWorker participates in the dim-round reduction as one hypercube
// node: await an assignment from the distributor, exchange the running
// aggregate with the bit-r neighbor on every round r, then report.
//
// After round dim-1 the aggregate equals the ensemble-wide maximum:
// recursive doubling folds every worker's initial value into every
// other worker's aggregate exactly once.
//
// A process launched beyond the 1 + 2^dim the topology addresses is
// never assigned a value and parks in the first receive forever.
func RunWorker(c *Comm, dim int) *Fatal {
	val, f := c.Recv(DistributorRank)
	if f != nil {
		return f
	}

	for _, neighbor := range Neighbors(c.Ctx.Rank, dim) {
		if f := c.Send(neighbor, TagValue, val); f != nil {
			return f
		}
		recv, f := c.Recv(neighbor)
		if f != nil {
			return f
		}
		val = math.Max(val, recv)
	}

	return c.Send(DistributorRank, TagFinal, val)
}
