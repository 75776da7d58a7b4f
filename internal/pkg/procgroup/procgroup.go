// Copyright (c) 2019, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package procgroup implements the process-group runtime used by hybrid
// greeting jobs. A group is the set of cooperating processes of one run; each
// process has a unique, stable 0-based rank. The package provides two
// backends: a TCP backend that performs an all-to-all rendezvous between the
// ranks started by the launcher, and a local backend for single-process runs.
package procgroup

import (
	"fmt"
	"log"
	"os"
)

const (
	// RankEnvVar is the environment variable holding the rank of the local process
	RankEnvVar = "GREET_RANK"

	// SizeEnvVar is the environment variable holding the total number of processes
	SizeEnvVar = "GREET_NP"

	// AddrsEnvVar is the environment variable holding the comma-separated list of
	// the addresses of all the ranks; the local rank is the index in that list
	AddrsEnvVar = "GREET_ADDRS"

	// MaxThreadSupportEnvVar is the environment variable capping the thread
	// support level a backend reports. It is meant for experimentation with the
	// fatal startup path and is normally unset.
	MaxThreadSupportEnvVar = "GREET_MAX_THREAD_SUPPORT"

	// MaxHostNameLen is the maximum length of the host identifier returned by HostName
	MaxHostNameLen = 256
)

// ThreadLevel represents a level of thread support provided by a group backend.
// Levels are ordered: a backend providing a given level also satisfies any
// lower requirement.
type ThreadLevel int

const (
	// ThreadSingle means only one thread executes in the process
	ThreadSingle ThreadLevel = iota

	// ThreadFunneled means only the thread that initialized the group makes group calls
	ThreadFunneled

	// ThreadSerialized means multiple threads make group calls, but never concurrently
	ThreadSerialized

	// ThreadMultiple means group calls are safe from any thread at any time
	ThreadMultiple
)

// String returns the textual name of a thread support level
func (l ThreadLevel) String() string {
	switch l {
	case ThreadSingle:
		return "single"
	case ThreadFunneled:
		return "funneled"
	case ThreadSerialized:
		return "serialized"
	case ThreadMultiple:
		return "multiple"
	}
	return fmt.Sprintf("unknown(%d)", int(l))
}

// ParseThreadLevel converts the textual name of a thread support level into a ThreadLevel
func ParseThreadLevel(s string) (ThreadLevel, error) {
	switch s {
	case "single":
		return ThreadSingle, nil
	case "funneled":
		return ThreadFunneled, nil
	case "serialized":
		return ThreadSerialized, nil
	case "multiple":
		return ThreadMultiple, nil
	}
	return ThreadSingle, fmt.Errorf("invalid thread support level: %s", s)
}

// Group is the narrow interface to the process-group runtime. A program must
// call InitThread exactly once before any other call and Finalize exactly once
// when it is done. Rank and Size do not change between the two.
type Group interface {
	// InitThread initializes the group, requesting a thread support level. It
	// returns the level the backend actually provides, which may be lower than
	// the requested one; the caller decides whether that is acceptable.
	InitThread(required ThreadLevel) (ThreadLevel, error)

	// Rank returns the 0-based rank of the local process within the group
	Rank() int

	// Size returns the total number of processes in the group
	Size() int

	// HostName returns a bounded-length identifier of the host executing this process
	HostName() (string, error)

	// Finalize releases all the resources associated with the group
	Finalize() error
}

// Detect figures out which group backend must be used for this process based
// on the environment prepared by the launcher and returns it
func Detect() Group {
	loaded, grp := LoadTCP()
	if loaded {
		return grp
	}

	loaded, localGrp := LoadLocal()
	if !loaded {
		log.Fatalln("unable to find a default process-group backend")
	}

	return localGrp
}

// hostName is the HostName implementation shared by all the backends
func hostName() (string, error) {
	name, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("unable to query the host name: %s", err)
	}
	if len(name) > MaxHostNameLen {
		name = name[:MaxHostNameLen]
	}
	return name, nil
}

// capThreadSupport lowers the thread support level a backend provides when the
// environment requests it
func capThreadSupport(provided ThreadLevel) ThreadLevel {
	val := os.Getenv(MaxThreadSupportEnvVar)
	if val == "" {
		return provided
	}

	max, err := ParseThreadLevel(val)
	if err != nil {
		log.Printf("[WARN] ignoring %s: %s", MaxThreadSupportEnvVar, err)
		return provided
	}
	if max < provided {
		return max
	}
	return provided
}
