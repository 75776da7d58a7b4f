// Copyright (c) 2019, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package grexec

import (
	"bytes"
	"context"
	"io"
	"log"
	"os/exec"
	"strings"
	"time"

	"github.com/sylabs/hybrid-greeter/internal/pkg/sys"
)

// Result represents the result of the execution of a command
type Result struct {
	// Err is the Go error associated to the command execution
	Err error
	// Stdout is the messages that were displayed on stdout during the execution of the command
	Stdout string
	// Stderr is the messages that were displayed on stderr during the execution of the command
	Stderr string
}

// Cmd represents a command to be executed
type Cmd struct {
	// Cmd represents the command to execute
	Cmd *exec.Cmd

	// Timeout is the maximum time a command can run
	Timeout time.Duration

	// BinPath is the path to the binary to execute
	BinPath string

	// CmdArgs is a slice of string representing the command's arguments
	CmdArgs []string

	// ExecDir is the directory where to execute the command
	ExecDir string

	// Env is a slice of string representing the environment to be used with the command
	Env []string

	// Stdout lets the caller redirect the command's stdout; when nil the
	// output is captured in the result
	Stdout io.Writer

	// Stderr lets the caller redirect the command's stderr; when nil the
	// output is captured in the result
	Stderr io.Writer

	// Ctx is the context of the command to execute
	Ctx context.Context

	// CancelFn is the function to cancel the command
	CancelFn context.CancelFunc
}

// Run executes the command and returns its result
func (c *Cmd) Run() Result {
	var res Result

	cmdTimeout := c.Timeout
	if cmdTimeout == 0 {
		cmdTimeout = sys.CmdTimeout * time.Minute
	}

	ctx, cancel := context.WithTimeout(context.Background(), cmdTimeout)
	defer cancel()

	var stderr, stdout bytes.Buffer
	if c.Cmd == nil {
		c.Cmd = exec.CommandContext(ctx, c.BinPath, c.CmdArgs...)
		c.Cmd.Dir = c.ExecDir
		c.Cmd.Env = c.Env
		if c.Stdout != nil {
			c.Cmd.Stdout = c.Stdout
		} else {
			c.Cmd.Stdout = &stdout
		}
		if c.Stderr != nil {
			c.Cmd.Stderr = c.Stderr
		} else {
			c.Cmd.Stderr = &stderr
		}
	}

	log.Printf("-> Running %s %s\n", c.BinPath, strings.Join(c.CmdArgs, " "))
	err := c.Cmd.Run()
	res.Stderr = stderr.String()
	res.Stdout = stdout.String()
	res.Err = err

	return res
}
