// Copyright (c) 2019, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package launcher

import (
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"

	"github.com/sylabs/hybrid-greeter/internal/pkg/grexec"
	"github.com/sylabs/hybrid-greeter/internal/pkg/hostfile"
	"github.com/sylabs/hybrid-greeter/internal/pkg/sys"
)

// SSHSubmit spreads the ranks of a job over the hosts of the job's host file,
// round-robin. Remote ranks are started over SSH with public-key
// authentication; ranks assigned to the loopback run directly. The binary is
// expected to be installed at the same path on every host.
func SSHSubmit(j *Job, sysCfg *sys.Config) error {
	err := checkJob(j)
	if err != nil {
		return err
	}
	if j.SSHUser == "" || j.SSHKeyfile == "" {
		return fmt.Errorf("SSH launches require a user and a key file in the tool's configuration")
	}

	hosts, err := hostfile.Parse(j.Hostfile)
	if err != nil {
		return fmt.Errorf("unable to load the host file: %s", err)
	}

	clientCfg, err := sshClientConfig(j.SSHUser, j.SSHKeyfile)
	if err != nil {
		return err
	}

	addrs := worldAddrs(j, hosts)
	rankErr := make([]error, j.NP)

	var wg sync.WaitGroup
	for i := 0; i < j.NP; i++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()

			host := hosts[rank%len(hosts)]
			if isLoopback(host.Addr) {
				cmd := grexec.Cmd{
					BinPath: j.BinPath,
					CmdArgs: j.Args,
					Env:     append(os.Environ(), rankEnv(j, rank, addrs)...),
					Stdout:  os.Stdout,
					Stderr:  os.Stderr,
				}
				rankErr[rank] = cmd.Run().Err
				return
			}
			rankErr[rank] = runRemoteRank(j, rank, host, addrs, clientCfg)
		}(i)
	}
	wg.Wait()

	var failed int
	for rank, err := range rankErr {
		if err != nil {
			log.Printf("[ERROR] rank %d failed: %s", rank, err)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d rank(s) out of %d failed", failed, j.NP)
	}

	return nil
}

// runRemoteRank starts one rank on a remote host and streams its output back
func runRemoteRank(j *Job, rank int, host hostfile.Host, addrs []string, clientCfg *ssh.ClientConfig) error {
	conn, err := ssh.Dial("tcp", host.Addr+":22", clientCfg)
	if err != nil {
		return fmt.Errorf("unable to reach %s: %s", host.Addr, err)
	}
	defer conn.Close()

	session, err := conn.NewSession()
	if err != nil {
		return fmt.Errorf("unable to open a session on %s: %s", host.Addr, err)
	}
	defer session.Close()

	session.Stdout = os.Stdout
	session.Stderr = os.Stderr

	command := remoteCommand(j, rank, addrs)
	log.Printf("-> Starting rank %d on %s", rank, host.Addr)
	err = session.Run(command)
	if err != nil {
		return fmt.Errorf("rank %d exited with an error on %s: %s", rank, host.Addr, err)
	}

	return nil
}

// remoteCommand builds the command line starting one rank on a remote host.
// The environment is passed through env(1) because sshd installations
// commonly refuse Setenv for arbitrary variables.
func remoteCommand(j *Job, rank int, addrs []string) string {
	elems := append([]string{"env"}, rankEnv(j, rank, addrs)...)
	elems = append(elems, j.BinPath)
	elems = append(elems, j.Args...)
	for i, e := range elems {
		elems[i] = shQuote(e)
	}
	return strings.Join(elems, " ")
}

// shQuote quotes one command-line element for the remote shell
func shQuote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\n\"'\\$&|;<>(){}[]*?#~`") {
		return s
	}
	return "'" + strings.Replace(s, "'", `'\''`, -1) + "'"
}

// sshClientConfig assembles the SSH client configuration for a job
func sshClientConfig(user string, keyfile string) (*ssh.ClientConfig, error) {
	key, err := ioutil.ReadFile(keyfile)
	if err != nil {
		return nil, fmt.Errorf("unable to read private key %s: %s", keyfile, err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("unable to parse private key %s: %s", keyfile, err)
	}

	return &ssh.ClientConfig{
		User: user,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(signer),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}, nil
}

func isLoopback(addr string) bool {
	return addr == "localhost" || addr == "127.0.0.1" || addr == "::1"
}

// LoadSSH is the function used by the backend detection mechanism to load the
// SSH backend when a job carries a host file
func LoadSSH() (bool, Launcher) {
	var l Launcher
	l.ID = SSHID
	l.Submit = SSHSubmit
	return true, l
}
