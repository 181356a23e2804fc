package hcube

import (
	"errors"
	"fmt"
	"io"

	"github.com/unixpickle/hypercube/scan"
)

// A Logger receives the distributor's skip-and-warn diagnostics.
// Warnings never stop the run; everything unrecoverable is a Fatal.
type Logger interface {
	Warnf(format string, args ...interface{})
}

// RunDistributor streams up to 2^dim values from the scanner, sends
// value k to worker rank k+1, and returns the first final report to
// arrive.
//
// Malformed and over-long entities are skipped with a warning and do not
// count. An entity appearing after 2^dim accepted values stops
// distribution with a warning; the remainder of the input is never
// parsed. Fewer than 2^dim values by end of input aborts the whole
// ensemble, because workers downstream are irrecoverably waiting for
// assignments that will never arrive.
func RunDistributor(c *Comm, dim int, values *scan.Scanner, log Logger) (float64, *Fatal) {
	want := Workers(dim)

	sent := 0
	for sent < want {
		val, err := values.Next()
		if errors.Is(err, io.EOF) {
			break
		} else if errors.Is(err, scan.ErrBadToken) || errors.Is(err, scan.ErrTokenTooLong) {
			log.Warnf("skipping %v", err)
			continue
		} else if err != nil {
			return 0, &Fatal{Rank: c.Ctx.Rank, Code: CodeSource, Op: "read input", Err: err}
		}
		if f := c.Send(1+sent, TagValue, val); f != nil {
			return 0, f
		}
		sent++
	}

	if sent < want {
		return 0, &Fatal{
			Rank: c.Ctx.Rank,
			Code: CodeData,
			Op:   "distribute values",
			Err:  fmt.Errorf("invalid number of values on the list: expected exactly %d but got %d", want, sent),
		}
	}

	if more, err := values.More(); err != nil {
		return 0, &Fatal{Rank: c.Ctx.Rank, Code: CodeSource, Op: "read input", Err: err}
	} else if more {
		log.Warnf("too many numeric entities on the list: %d values were expected; "+
			"only the first %d values will be taken into account", want, want)
	}

	// A single receive, from whichever worker reports first. The other
	// reports are never collected.
	val, _, f := c.RecvTag(TagFinal)
	if f != nil {
		return 0, f
	}
	return val, nil
}
