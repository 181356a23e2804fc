// Command hypercube computes the maximum of 2^DIMENSION values read from
// an input file, by distributing one value to each node of a simulated
// DIMENSION-cube and running a recursive-doubling exchange.
//
// Usage:
//
//	hypercube [-procs N] DIMENSION INPUT_FILE
//
// The result is written to stdout as a fixed six-decimal numeral.
// Warnings and fatal diagnostics go to stderr. The exit status is 0 on
// success (and on the bare usage line), 1 on any configuration, I/O,
// data, or transport error.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/unixpickle/hypercube/hcube"
	"github.com/unixpickle/hypercube/scan"
	"github.com/unixpickle/hypercube/simulator"
)

// Virtual-network shape. The rate and jitter only spread message
// arrivals out in virtual time; they do not affect the result.
const (
	netRate   = 1e6
	netJitter = 1e-3
)

type warnLogger struct {
	p *pterm.PrefixPrinter
}

func (w warnLogger) Warnf(format string, args ...interface{}) {
	w.p.Printfln(format, args...)
}

func main() {
	procs := flag.Int("procs", 0, "processes to launch (default 1 + 2^DIMENSION)")
	flag.Parse()

	if flag.NArg() != 2 {
		fmt.Println("usage: hypercube DIMENSION INPUT_FILE")
		fmt.Println()
		return
	}

	warn := pterm.Warning.WithWriter(os.Stderr)
	fail := pterm.Error.WithWriter(os.Stderr)

	die := func(f *hcube.Fatal) {
		fail.Printfln("%v", f)
		os.Exit(1)
	}

	dim, err := strconv.Atoi(flag.Arg(0))
	if err != nil {
		die(&hcube.Fatal{
			Rank: hcube.DistributorRank,
			Code: hcube.CodeConfig,
			Op:   "parse dimension",
			Err:  fmt.Errorf("invalid dimension (%q)", flag.Arg(0)),
		})
	}
	if err := hcube.CheckDim(dim); err != nil {
		die(&hcube.Fatal{
			Rank: hcube.DistributorRank,
			Code: hcube.CodeConfig,
			Op:   "parse dimension",
			Err:  err,
		})
	}

	size := *procs
	if size == 0 {
		size = hcube.RequiredProcs(dim)
	}
	if size < hcube.RequiredProcs(dim) {
		die(&hcube.Fatal{
			Rank: hcube.DistributorRank,
			Code: hcube.CodeConfig,
			Op:   "check topology",
			Err: fmt.Errorf("not enough slots for hypercube topology: got %d when %d processes were expected",
				size, hcube.RequiredProcs(dim)),
		})
	}

	input, err := os.Open(flag.Arg(1))
	if err != nil {
		die(&hcube.Fatal{
			Rank: hcube.DistributorRank,
			Code: hcube.CodeSource,
			Op:   "open input",
			Err:  err,
		})
	}
	defer input.Close()

	loop := simulator.NewEventLoop()
	cluster := hcube.NewCluster(loop, simulator.NewFIFONetwork(netRate, netJitter), size)

	var result float64
	var haveResult bool
	cluster.Start(hcube.DistributorRank, func(c *hcube.Comm) *hcube.Fatal {
		val, f := hcube.RunDistributor(c, dim, scan.NewScanner(input), warnLogger{p: warn})
		if f != nil {
			return f
		}
		result, haveResult = val, true
		return nil
	})
	for rank := 1; rank < size; rank++ {
		cluster.Start(rank, func(c *hcube.Comm) *hcube.Fatal {
			return hcube.RunWorker(c, dim)
		})
	}

	// Surplus ranks beyond 1 + 2^dim are never addressed by the protocol
	// and park in their first receive; once everyone else is done the
	// loop reports them as deadlocked. With a result in hand that is the
	// expected leak, not a failure.
	runErr := loop.Run()

	if f := cluster.Err(); f != nil {
		fail.Printfln("run %s: %v", cluster.ID, f)
		os.Exit(1)
	}
	if !haveResult {
		die(&hcube.Fatal{
			Rank: hcube.DistributorRank,
			Code: hcube.CodeTransport,
			Op:   "collect result",
			Err:  runErr,
		})
	}
	fmt.Printf("%f\n", result)
}
