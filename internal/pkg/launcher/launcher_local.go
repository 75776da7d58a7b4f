// Copyright (c) 2019, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package launcher

import (
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/sylabs/hybrid-greeter/internal/pkg/grexec"
	"github.com/sylabs/hybrid-greeter/internal/pkg/sys"
)

// LocalSubmit runs all the ranks of a job on the current host, concurrently,
// each with its own rendezvous environment. The ranks inherit the launcher's
// stdout/stderr so the greeting lines show up directly.
func LocalSubmit(j *Job, sysCfg *sys.Config) error {
	err := checkJob(j)
	if err != nil {
		return err
	}

	addrs := worldAddrs(j, nil)
	results := make([]grexec.Result, j.NP)

	var wg sync.WaitGroup
	for i := 0; i < j.NP; i++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()

			cmd := grexec.Cmd{
				BinPath: j.BinPath,
				CmdArgs: j.Args,
				Env:     append(os.Environ(), rankEnv(j, rank, addrs)...),
				Stdout:  os.Stdout,
				Stderr:  os.Stderr,
			}
			results[rank] = cmd.Run()
		}(i)
	}
	wg.Wait()

	var failed int
	for rank, res := range results {
		if res.Err != nil {
			log.Printf("[ERROR] rank %d failed: %s", rank, res.Err)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d rank(s) out of %d failed", failed, j.NP)
	}

	return nil
}

// LoadLocal is the function used by the backend detection mechanism to load
// the local backend. It is the default backend and always loads.
func LoadLocal() (bool, Launcher) {
	var l Launcher
	l.ID = LocalID
	l.Submit = LocalSubmit
	return true, l
}
