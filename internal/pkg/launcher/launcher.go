// Copyright (c) 2019, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package launcher starts the processes of a greeting job. Two backends are
// available: a local backend that runs every rank on the current host, and a
// SSH backend that spreads the ranks over the hosts of a host file.
package launcher

import (
	"fmt"
	"strconv"

	"github.com/gvallee/go_util/pkg/util"
	"github.com/sylabs/hybrid-greeter/internal/pkg/hostfile"
	"github.com/sylabs/hybrid-greeter/internal/pkg/procgroup"
	"github.com/sylabs/hybrid-greeter/internal/pkg/sys"
	"github.com/sylabs/hybrid-greeter/internal/pkg/team"
)

const (
	// LocalID is the value set to Launcher.ID when all the ranks run on the current host
	LocalID = "local"

	// SSHID is the value set to Launcher.ID when the ranks are spread over a host file via SSH
	SSHID = "ssh"
)

// Job gathers all the details to start a greeting job
type Job struct {
	// NP is the number of ranks
	NP int

	// NT is the team size per rank; zero means the runtime default
	NT int

	// BinPath is the path to the binary to start on every rank
	BinPath string

	// Args is a slice of string representing the binary's arguments
	Args []string

	// Hostfile is the path to the host file for multi-host runs (optional)
	Hostfile string

	// BasePort is the first port of the rendezvous port range; rank i listens
	// on BasePort+i
	BasePort int

	// SSHUser is the user for SSH-based launches
	SSHUser string

	// SSHKeyfile is the private key for SSH-based launches
	SSHKeyfile string
}

// SubmitFn is a "function pointer" that lets us submit a job through a given launcher backend
type SubmitFn func(*Job, *sys.Config) error

// Launcher is the structure representing a specific launcher backend
type Launcher struct {
	// ID identifies which launcher backend has been selected
	ID string

	// Submit is the function to submit a job through the current backend
	Submit SubmitFn
}

// Detect figures out which launcher backend must be used for a job and
// returns a structure that gathers all the data necessary to interact with it
func Detect(j *Job) Launcher {
	// Default backend
	_, comp := LoadLocal()

	// Now we check if we can find better
	if j.Hostfile != "" && util.PathExists(j.Hostfile) {
		loaded, sshComp := LoadSSH()
		if loaded {
			return sshComp
		}
	}

	return comp
}

// worldAddrs builds the rendezvous address list of a job: one address per
// rank, in rank order. When hosts is empty all the ranks live on the loopback
// interface.
func worldAddrs(j *Job, hosts []hostfile.Host) []string {
	addrs := make([]string, j.NP)
	for i := 0; i < j.NP; i++ {
		host := "127.0.0.1"
		if len(hosts) > 0 {
			host = hosts[i%len(hosts)].Addr
		}
		addrs[i] = host + ":" + strconv.Itoa(j.BasePort+i)
	}
	return addrs
}

// rankEnv builds the environment entries that tell one rank who it is and how
// to reach its peers
func rankEnv(j *Job, rank int, addrs []string) []string {
	env := []string{
		procgroup.RankEnvVar + "=" + strconv.Itoa(rank),
		procgroup.SizeEnvVar + "=" + strconv.Itoa(j.NP),
		procgroup.AddrsEnvVar + "=" + joinAddrs(addrs),
	}
	if j.NT > 0 {
		env = append(env, team.SizeEnvVar+"="+strconv.Itoa(j.NT))
	}
	return env
}

func joinAddrs(addrs []string) string {
	var str string
	for i, addr := range addrs {
		str += addr
		if i != len(addrs)-1 {
			str += ","
		}
	}
	return str
}

// checkJob makes sure a job makes sense before anything is started
func checkJob(j *Job) error {
	if j.BinPath == "" {
		return fmt.Errorf("application binary is undefined")
	}
	if j.NP < 1 {
		return fmt.Errorf("number of ranks must be positive")
	}
	if j.BasePort <= 0 {
		return fmt.Errorf("invalid base port: %d", j.BasePort)
	}
	return nil
}
