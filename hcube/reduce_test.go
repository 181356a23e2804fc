package hcube

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/unixpickle/hypercube/scan"
	"github.com/unixpickle/hypercube/simulator"
)

type recordLogger struct {
	lock     sync.Mutex
	warnings []string
}

func (r *recordLogger) Warnf(format string, args ...interface{}) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.warnings = append(r.warnings, fmt.Sprintf(format, args...))
}

type ensembleResult struct {
	value      float64
	haveResult bool
	fatal      *Fatal
	runErr     error
	warnings   []string
}

// runEnsemble launches a distributor plus size-1 workers over the given
// network and feeds the distributor from input.
func runEnsemble(t *testing.T, dim, size int, network simulator.Network, input string) ensembleResult {
	t.Helper()

	loop := simulator.NewEventLoop()
	cluster := NewCluster(loop, network, size)
	log := &recordLogger{}

	var res ensembleResult
	cluster.Start(DistributorRank, func(c *Comm) *Fatal {
		val, f := RunDistributor(c, dim, scan.NewScanner(strings.NewReader(input)), log)
		if f != nil {
			return f
		}
		res.value, res.haveResult = val, true
		return nil
	})
	for rank := 1; rank < size; rank++ {
		cluster.Start(rank, func(c *Comm) *Fatal {
			return RunWorker(c, dim)
		})
	}

	res.runErr = loop.Run()
	res.fatal = cluster.Err()
	res.warnings = log.warnings
	return res
}

func testNetworks() map[string]func() simulator.Network {
	return map[string]func() simulator.Network{
		"Instant": func() simulator.Network { return simulator.InstantNetwork{} },
		"FIFO":    func() simulator.Network { return simulator.NewFIFONetwork(1e6, 1e-3) },
	}
}

func TestReduceScenarios(t *testing.T) {
	scenarios := []struct {
		dim      int
		input    string
		expected string
	}{
		{dim: 2, input: "3 1 4 1.5", expected: "4.000000"},
		{dim: 3, input: "5 -2 9 0 3 7 -8 1", expected: "9.000000"},
	}
	for _, scenario := range scenarios {
		for netName, newNet := range testNetworks() {
			name := fmt.Sprintf("Dim=%d,Net=%s", scenario.dim, netName)
			t.Run(name, func(t *testing.T) {
				res := runEnsemble(t, scenario.dim, RequiredProcs(scenario.dim), newNet(), scenario.input)
				if res.fatal != nil {
					t.Fatal(res.fatal)
				}
				if res.runErr != nil {
					t.Fatal(res.runErr)
				}
				if !res.haveResult {
					t.Fatal("no result collected")
				}
				if printed := fmt.Sprintf("%f", res.value); printed != scenario.expected {
					t.Errorf("printed %q but expected %q", printed, scenario.expected)
				}
				if len(res.warnings) != 0 {
					t.Errorf("unexpected warnings: %v", res.warnings)
				}
			})
		}
	}
}

func TestReduceRandomized(t *testing.T) {
	for dim := 2; dim <= 5; dim++ {
		t.Run(fmt.Sprintf("Dim=%d", dim), func(t *testing.T) {
			n := Workers(dim)
			values := make([]float64, n)
			expected := 0.0
			parts := make([]string, n)
			for i := range values {
				values[i] = rand.NormFloat64() * 100
				if i == 0 || values[i] > expected {
					expected = values[i]
				}
				parts[i] = strconv.FormatFloat(values[i], 'f', -1, 64)
			}
			input := strings.Join(parts, " ")

			res := runEnsemble(t, dim, RequiredProcs(dim), simulator.NewFIFONetwork(1e6, 1e-2), input)
			if res.fatal != nil || res.runErr != nil {
				t.Fatalf("fatal=%v runErr=%v", res.fatal, res.runErr)
			}
			if res.value != expected {
				t.Errorf("result %f but expected %f", res.value, expected)
			}
		})
	}
}

// Identical dimension and input must yield an identical printed result
// across repeated runs, whatever the network timing does.
func TestReduceDeterminism(t *testing.T) {
	const input = "0.25 -7 3.75 0.125"
	var printed []string
	for i := 0; i < 20; i++ {
		res := runEnsemble(t, 2, 5, simulator.NewFIFONetwork(1e3, 5.0), input)
		if res.fatal != nil {
			t.Fatal(res.fatal)
		}
		printed = append(printed, fmt.Sprintf("%f", res.value))
	}
	for _, p := range printed[1:] {
		if p != printed[0] {
			t.Fatalf("results differ across runs: %v", printed)
		}
	}
}

func TestReduceTooFewValues(t *testing.T) {
	res := runEnsemble(t, 2, 5, simulator.InstantNetwork{}, "1 2 3")
	if res.haveResult {
		t.Error("result produced despite missing values")
	}
	if res.fatal == nil {
		t.Fatal("expected a Fatal")
	}
	if res.fatal.Code != CodeData {
		t.Errorf("Fatal code %v but expected CodeData", res.fatal.Code)
	}
	if res.fatal.Rank != DistributorRank {
		t.Errorf("Fatal rank %d but expected the distributor", res.fatal.Rank)
	}
	// The abort must wake every parked worker so the run winds down
	// instead of deadlocking.
	if res.runErr != nil {
		t.Errorf("run did not wind down cleanly: %v", res.runErr)
	}
}

func TestReduceTooManyValues(t *testing.T) {
	res := runEnsemble(t, 2, 5, simulator.InstantNetwork{}, "3 1 4 1.5 99 1e309")
	if res.fatal != nil {
		t.Fatal(res.fatal)
	}
	if !res.haveResult || res.value != 4 {
		t.Fatalf("result (%f, %v) but expected the max over the first 4 values", res.value, res.haveResult)
	}
	if len(res.warnings) != 1 || !strings.Contains(res.warnings[0], "too many") {
		t.Errorf("expected a single too-many warning, got %v", res.warnings)
	}
}

func TestReduceMalformedSkipped(t *testing.T) {
	res := runEnsemble(t, 2, 5, simulator.InstantNetwork{}, "12.3.4 3 1 4 --5 1.5")
	if res.fatal != nil {
		t.Fatal(res.fatal)
	}
	if !res.haveResult || res.value != 4 {
		t.Fatalf("result (%f, %v) but expected 4", res.value, res.haveResult)
	}
	if len(res.warnings) != 2 {
		t.Errorf("expected 2 skip warnings, got %v", res.warnings)
	}
	for _, w := range res.warnings {
		if !strings.Contains(w, "skipping") {
			t.Errorf("warning %q is not a skip warning", w)
		}
	}
}

// Processes beyond 1 + 2^d are launched but never addressed: they park
// in their first receive forever, which the loop reports as a deadlock
// once the reduction itself is done. The result must be unaffected.
func TestReduceSurplusRanks(t *testing.T) {
	res := runEnsemble(t, 2, 7, simulator.NewFIFONetwork(1e6, 1e-3), "3 1 4 1.5")
	if res.fatal != nil {
		t.Fatal(res.fatal)
	}
	if !res.haveResult || res.value != 4 {
		t.Fatalf("result (%f, %v) but expected 4", res.value, res.haveResult)
	}
	if res.runErr == nil {
		t.Error("expected the parked surplus ranks to be reported as a deadlock")
	}
}

func TestSendUnknownRank(t *testing.T) {
	loop := simulator.NewEventLoop()
	cluster := NewCluster(loop, simulator.InstantNetwork{}, 2)

	var fatal *Fatal
	cluster.Start(0, func(c *Comm) *Fatal {
		fatal = c.Send(5, TagValue, 1)
		return nil
	})
	if err := loop.Run(); err != nil {
		t.Fatal(err)
	}
	if fatal == nil || fatal.Code != CodeTransport {
		t.Fatalf("expected a transport Fatal, got %v", fatal)
	}
}

func TestClusterAbortIsFirstWins(t *testing.T) {
	loop := simulator.NewEventLoop()
	cluster := NewCluster(loop, simulator.InstantNetwork{}, 2)

	first := &Fatal{Rank: 0, Code: CodeData, Op: "distribute values"}
	cluster.Start(0, func(c *Comm) *Fatal {
		return first
	})
	cluster.Start(1, func(c *Comm) *Fatal {
		// Parked until the abort wakes it.
		_, f := c.Recv(0)
		return f
	})
	if err := loop.Run(); err != nil {
		t.Fatal(err)
	}
	if cluster.Err() != first {
		t.Errorf("recorded Fatal %v but expected the first one", cluster.Err())
	}
	if cluster.ID == "" {
		t.Error("cluster has no run ID")
	}
}
