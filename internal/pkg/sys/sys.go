// Copyright (c) 2019, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package sys

// Config captures some system configuration aspects that are necessary
// to run greeting jobs
type Config struct {
	ConfigFile string // Path to the tool's configuration file
	BinPath    string // Path to the current binary
	CurPath    string // Current path
	Verbose    bool   // Verbose mode is active/inactive
	Debug      bool   // Debug mode is active/inactive
}

const (
	// CmdTimeout is the maximum time, in minutes, we allow a command to run
	CmdTimeout = 10
)
