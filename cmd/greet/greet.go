// Copyright (c) 2019, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// greet is the hybrid hello program: every worker of every process of a run
// prints one greeting line identifying the process rank, the worker index and
// the host name. It is usually started through greetrun, which prepares the
// process-group environment; run directly it greets as a group of one.
package main

import (
	"flag"
	"io"
	"log"
	"os"
	"strconv"

	"github.com/gvallee/go_util/pkg/util"
	"github.com/gvallee/kv/pkg/kv"
	"github.com/sylabs/hybrid-greeter/internal/pkg/config"
	"github.com/sylabs/hybrid-greeter/internal/pkg/greeter"
	"github.com/sylabs/hybrid-greeter/internal/pkg/greeterr"
	"github.com/sylabs/hybrid-greeter/internal/pkg/procgroup"
)

// applyToolConfig folds the tool's configuration file into the greeter configuration
func applyToolConfig(cfg *greeter.Config, nt *int) {
	kvs, err := config.Load()
	if err != nil {
		log.Printf("[WARN] cannot load the tool's configuration, using defaults: %s", err)
		return
	}

	if val := kv.GetValue(kvs, config.PaddedOutputKey); val != "" {
		padded, err := strconv.ParseBool(val)
		if err == nil {
			cfg.PadWorkerFields = padded
		}
	}
	if val := kv.GetValue(kvs, config.ReportStackSizeKey); val != "" {
		report, err := strconv.ParseBool(val)
		if err == nil {
			cfg.ReportStackSize = report
		}
	}
	if val := kv.GetValue(kvs, config.NumThreadsKey); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil && n > 0 {
			*nt = n
		}
	}
}

func main() {
	nt := flag.Int("nt", 0, "Number of workers per process (0 means the team size selected by the environment)")
	padded := flag.Bool("padded", true, "Pad the worker fields of the greeting lines to a fixed width")
	report := flag.Bool("report-stacksize", false, "Report the stack figure from worker 0 of rank 0")
	check := flag.Bool("check-thread-support", true, "Fail when the group runtime provides less than serialized thread support")
	noConf := flag.Bool("no-conf", false, "Ignore the tool's configuration file")
	verbose := flag.Bool("v", false, "Enable verbose mode")

	flag.Parse()

	// Log messages go to the log file, and also to stderr in verbose mode;
	// stdout carries nothing but the greeting lines
	logFile := util.OpenLogFile("greet")
	defer logFile.Close()
	if *verbose {
		multiWriters := io.MultiWriter(os.Stderr, logFile)
		log.SetOutput(multiWriters)
	} else {
		log.SetOutput(logFile)
	}

	cfg := greeter.DefaultConfig()
	cfg.ReportStackSize = false
	if !*noConf {
		applyToolConfig(&cfg, nt)
	}

	// Command-line flags override the configuration file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "padded":
			cfg.PadWorkerFields = *padded
		case "report-stacksize":
			cfg.ReportStackSize = *report
		case "check-thread-support":
			cfg.CheckThreadSupport = *check
		}
	})
	if *nt > 0 {
		cfg.TeamSize = *nt
	}

	log.Println("-> Initializing the process group...")
	grp := procgroup.Detect()

	err := greeter.Run(grp, &cfg)
	if err == greeterr.ErrThreadSupport {
		// The single fatal path: the runtime cannot guarantee the requested
		// thread support level
		log.SetOutput(io.MultiWriter(os.Stderr, logFile))
		log.Fatalf("process group does not provide the needed thread support level (%s required)",
			cfg.RequiredThreadSupport)
	}
	if err != nil {
		log.SetOutput(io.MultiWriter(os.Stderr, logFile))
		log.Fatalf("greeting run failed: %s", err)
	}
}
