// Copyright (c) 2019, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// greetrun is the launcher for hybrid greeting jobs, the mpirun of this tool:
// it starts NP processes, each with the environment it needs to find its rank
// and its peers, and waits for all of them.
//
//	greetrun -np 2 -nt 4 greet
//	greetrun -np 8 -hostfile ~/hosts greet -padded=false
package main

import (
	"flag"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/gvallee/go_util/pkg/util"
	"github.com/gvallee/kv/pkg/kv"
	"github.com/sylabs/hybrid-greeter/internal/pkg/config"
	"github.com/sylabs/hybrid-greeter/internal/pkg/launcher"
	"github.com/sylabs/hybrid-greeter/internal/pkg/sys"
)

// applyToolConfig folds the tool's configuration file into a job definition
func applyToolConfig(j *launcher.Job, sysCfg *sys.Config) {
	kvs, err := config.Load()
	if err != nil {
		log.Printf("[WARN] cannot load the tool's configuration, using defaults: %s", err)
		return
	}

	if j.Hostfile == "" {
		j.Hostfile = kv.GetValue(kvs, config.HostfileKey)
	}
	j.SSHUser = kv.GetValue(kvs, config.SSHUserKey)
	j.SSHKeyfile = kv.GetValue(kvs, config.SSHKeyfileKey)
	if val := kv.GetValue(kvs, config.BasePortKey); val != "" && j.BasePort == 0 {
		port, err := strconv.Atoi(val)
		if err != nil {
			log.Printf("[WARN] invalid %s value in the configuration file: %s", config.BasePortKey, val)
		} else {
			j.BasePort = port
		}
	}
}

func main() {
	np := flag.Int("np", 1, "Number of processes to start")
	nt := flag.Int("nt", 0, "Number of workers per process (0 means the team size selected by the environment)")
	hostfilePath := flag.String("hostfile", "", "Host file for multi-host runs (one 'address [name]' entry per line)")
	basePort := flag.Int("base-port", 0, "First port of the rendezvous port range (rank i listens on base-port+i)")
	verbose := flag.Bool("v", false, "Enable verbose mode")

	flag.Parse()

	logFile := util.OpenLogFile("greetrun")
	defer logFile.Close()
	if *verbose {
		multiWriters := io.MultiWriter(os.Stderr, logFile)
		log.SetOutput(multiWriters)
	} else {
		log.SetOutput(logFile)
	}

	if flag.NArg() < 1 {
		log.SetOutput(io.MultiWriter(os.Stderr, logFile))
		log.Fatalf("%s requires the binary to start, e.g., %s -np 2 greet", os.Args[0], os.Args[0])
	}

	var sysCfg sys.Config
	sysCfg.Verbose = *verbose
	sysCfg.ConfigFile = config.Path()
	bin, err := os.Executable()
	if err == nil {
		sysCfg.BinPath = filepath.Dir(bin)
	}
	sysCfg.CurPath, _ = os.Getwd()

	var j launcher.Job
	j.NP = *np
	j.NT = *nt
	j.Hostfile = *hostfilePath
	j.BasePort = *basePort
	j.Args = flag.Args()[1:]
	applyToolConfig(&j, &sysCfg)
	if j.BasePort == 0 {
		j.BasePort = config.DefaultBasePort
	}

	// Resolve the binary like the shell would so 'greetrun -np 2 greet' works
	// from anywhere the binary is installed
	j.BinPath = flag.Arg(0)
	path, err := exec.LookPath(j.BinPath)
	if err == nil {
		j.BinPath = path
	}

	l := launcher.Detect(&j)
	log.Printf("* Starting %d process(es) through the %s backend", j.NP, l.ID)

	err = l.Submit(&j, &sysCfg)
	if err != nil {
		log.SetOutput(io.MultiWriter(os.Stderr, logFile))
		log.Fatalf("job failed: %s", err)
	}
}
