// Copyright (c) 2019, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package greeter

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/sylabs/hybrid-greeter/internal/pkg/greeterr"
	"github.com/sylabs/hybrid-greeter/internal/pkg/procgroup"
)

// testGroup is a single-process stand-in for the process-group runtime
type testGroup struct {
	rank     int
	size     int
	host     string
	provided procgroup.ThreadLevel

	initialized bool
	finalized   bool
}

func (g *testGroup) InitThread(required procgroup.ThreadLevel) (procgroup.ThreadLevel, error) {
	g.initialized = true
	return g.provided, nil
}

func (g *testGroup) Rank() int { return g.rank }

func (g *testGroup) Size() int { return g.size }

func (g *testGroup) HostName() (string, error) { return g.host, nil }

func (g *testGroup) Finalize() error {
	g.finalized = true
	return nil
}

var greetingRe = regexp.MustCompile(`^Hello from \.\.\. colony (\d+) / (\d+) : bunny rabbit +(\d+) / +(\d+) : warren (\S+)$`)

// parseGreetings parses captured output and returns the (rank, worker) pairs
// of all the well-formed greeting lines, failing the test on any malformed one
func parseGreetings(t *testing.T, output string) [][2]int {
	var pairs [][2]int
	for _, line := range strings.Split(strings.TrimRight(output, "\n"), "\n") {
		if line == "" || strings.HasPrefix(line, "The chief bunny rabbit") {
			continue
		}
		m := greetingRe.FindStringSubmatch(line)
		if m == nil {
			t.Fatalf("malformed greeting line: %q", line)
		}
		rank, _ := strconv.Atoi(m[1])
		worker, _ := strconv.Atoi(m[3])
		pairs = append(pairs, [2]int{rank, worker})
	}
	return pairs
}

func TestSingleProcessGreetings(t *testing.T) {
	grp := &testGroup{rank: 0, size: 1, host: "node0", provided: procgroup.ThreadMultiple}
	var buf bytes.Buffer
	cfg := Config{
		Out:                   &buf,
		TeamSize:              4,
		RequiredThreadSupport: procgroup.ThreadSerialized,
		CheckThreadSupport:    true,
	}

	err := Run(grp, &cfg)
	if err != nil {
		t.Fatalf("greeting run failed: %s", err)
	}
	if !grp.finalized {
		t.Fatalf("group was not finalized")
	}

	pairs := parseGreetings(t, buf.String())
	if len(pairs) != 4 {
		t.Fatalf("expected 4 greeting lines, got %d", len(pairs))
	}
	seen := make(map[int]bool)
	for _, p := range pairs {
		if p[0] != 0 {
			t.Fatalf("unexpected rank %d in a group of one", p[0])
		}
		if seen[p[1]] {
			t.Fatalf("worker %d greeted twice", p[1])
		}
		seen[p[1]] = true
	}
	for i := 0; i < 4; i++ {
		if !seen[i] {
			t.Fatalf("worker %d never greeted", i)
		}
	}
}

func TestTwoProcessScenario(t *testing.T) {
	// The P=2, T=4 scenario: both ranks share one output stream, 8 lines in
	// total, each (rank, worker) pair exactly once
	var buf bytes.Buffer
	for rank := 0; rank < 2; rank++ {
		grp := &testGroup{rank: rank, size: 2, host: "node0", provided: procgroup.ThreadSerialized}
		cfg := Config{
			Out:                   &buf,
			TeamSize:              4,
			RequiredThreadSupport: procgroup.ThreadSerialized,
			CheckThreadSupport:    true,
		}
		err := Run(grp, &cfg)
		if err != nil {
			t.Fatalf("rank %d failed: %s", rank, err)
		}
	}

	pairs := parseGreetings(t, buf.String())
	if len(pairs) != 8 {
		t.Fatalf("expected 8 greeting lines, got %d", len(pairs))
	}
	seen := make(map[[2]int]int)
	for _, p := range pairs {
		seen[p]++
	}
	for rank := 0; rank < 2; rank++ {
		for worker := 0; worker < 4; worker++ {
			if seen[[2]int{rank, worker}] != 1 {
				t.Fatalf("pair (%d, %d) appeared %d time(s)", rank, worker, seen[[2]int{rank, worker}])
			}
		}
	}
}

func TestInsufficientThreadSupport(t *testing.T) {
	grp := &testGroup{rank: 0, size: 1, host: "node0", provided: procgroup.ThreadSingle}
	var buf bytes.Buffer
	cfg := Config{
		Out:                   &buf,
		TeamSize:              2,
		RequiredThreadSupport: procgroup.ThreadSerialized,
		CheckThreadSupport:    true,
	}

	err := Run(grp, &cfg)
	if err != greeterr.ErrThreadSupport {
		t.Fatalf("expected ErrThreadSupport, got %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("fatal path produced output: %q", buf.String())
	}
	if grp.finalized {
		t.Fatalf("fatal path finalized the group")
	}
}

func TestUncheckedThreadSupport(t *testing.T) {
	// The degenerate variant of the program does not negotiate
	grp := &testGroup{rank: 0, size: 1, host: "node0", provided: procgroup.ThreadSingle}
	var buf bytes.Buffer
	cfg := Config{
		Out:                   &buf,
		TeamSize:              2,
		RequiredThreadSupport: procgroup.ThreadSerialized,
		CheckThreadSupport:    false,
	}

	err := Run(grp, &cfg)
	if err != nil {
		t.Fatalf("greeting run failed: %s", err)
	}
	if len(parseGreetings(t, buf.String())) != 2 {
		t.Fatalf("expected 2 greeting lines, got:\n%s", buf.String())
	}
}

func TestStackSizeReport(t *testing.T) {
	grp := &testGroup{rank: 0, size: 1, host: "node0", provided: procgroup.ThreadMultiple}
	var buf bytes.Buffer
	cfg := Config{
		Out:                   &buf,
		TeamSize:              4,
		RequiredThreadSupport: procgroup.ThreadSerialized,
		CheckThreadSupport:    true,
		ReportStackSize:       true,
	}

	err := Run(grp, &cfg)
	if err != nil {
		t.Fatalf("greeting run failed: %s", err)
	}

	output := buf.String()
	count := strings.Count(output, "The chief bunny rabbit reports a stack size of ")
	if count != 1 {
		t.Fatalf("expected exactly one stack report, got %d:\n%s", count, output)
	}

	// The barrier guarantees the report comes after every greeting
	idx := strings.Index(output, "The chief bunny rabbit")
	greetings := strings.Count(output[:idx], "Hello from")
	if greetings != 4 {
		t.Fatalf("stack report emitted before all greetings (%d/4 seen)", greetings)
	}
}

func TestStackSizeReportOnlyOnRankZero(t *testing.T) {
	grp := &testGroup{rank: 1, size: 2, host: "node1", provided: procgroup.ThreadMultiple}
	var buf bytes.Buffer
	cfg := Config{
		Out:                   &buf,
		TeamSize:              2,
		RequiredThreadSupport: procgroup.ThreadSerialized,
		ReportStackSize:       true,
	}

	err := Run(grp, &cfg)
	if err != nil {
		t.Fatalf("greeting run failed: %s", err)
	}
	if strings.Contains(buf.String(), "stack size") {
		t.Fatalf("rank 1 emitted the stack report:\n%s", buf.String())
	}
}

func TestFormatGreeting(t *testing.T) {
	padded := formatGreeting(0, 2, 1, 4, "mac03", true)
	expected := "Hello from ... colony 0 / 2 : bunny rabbit  1 /  4 : warren mac03\n"
	if padded != expected {
		t.Fatalf("padded greeting: expected %q, got %q", expected, padded)
	}

	plain := formatGreeting(1, 2, 3, 4, "mac03", false)
	expected = "Hello from ... colony 1 / 2 : bunny rabbit 3 / 4 : warren mac03\n"
	if plain != expected {
		t.Fatalf("plain greeting: expected %q, got %q", expected, plain)
	}

	// Two-digit fields must not gain extra padding
	wide := formatGreeting(0, 2, 10, 12, "mac03", true)
	if !strings.Contains(wide, "bunny rabbit 10 / 12 :") {
		t.Fatalf("wide padded greeting malformed: %q", wide)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.RequiredThreadSupport != procgroup.ThreadSerialized {
		t.Fatalf("expected serialized thread support, got %s", cfg.RequiredThreadSupport)
	}
	if !cfg.CheckThreadSupport {
		t.Fatalf("canonical variant must check the provided thread support")
	}
}
