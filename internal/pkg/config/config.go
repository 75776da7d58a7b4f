// Copyright (c) 2019, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package config handles the tool's key/value configuration file. The file is
// created with defaults the first time a command needs it, so a plain
// single-host run works without any manual setup.
package config

import (
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"path/filepath"

	"github.com/gvallee/go_util/pkg/util"
	"github.com/gvallee/kv/pkg/kv"
)

const (
	// PathEnvVar is the environment variable overriding the location of the configuration file
	PathEnvVar = "GREET_CONF"

	// PaddedOutputKey is the key specifying whether worker fields of greeting lines are padded
	PaddedOutputKey = "padded_output"

	// ReportStackSizeKey is the key specifying whether rank 0 reports the stack figure
	ReportStackSizeKey = "report_stacksize"

	// NumThreadsKey is the key specifying the default team size (0 means runtime default)
	NumThreadsKey = "num_threads"

	// HostfileKey is the key specifying the host file the launcher uses for remote runs
	HostfileKey = "hostfile"

	// SSHUserKey is the key specifying the user for SSH-based launches
	SSHUserKey = "ssh_user"

	// SSHKeyfileKey is the key specifying the private key for SSH-based launches
	SSHKeyfileKey = "ssh_keyfile"

	// BasePortKey is the key specifying the first port of the rendezvous port range
	BasePortKey = "base_port"
)

// DefaultBasePort is the first rendezvous port used when the configuration does not set one
const DefaultBasePort = 10100

// Path returns the location of the tool's configuration file
func Path() string {
	if path := os.Getenv(PathEnvVar); path != "" {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		// Degraded but functional: a relative path in the current directory
		return "greeter.conf"
	}
	return filepath.Join(home, ".greeter", "greeter.conf")
}

// create writes a configuration file with default values
func create(path string) error {
	err := os.MkdirAll(filepath.Dir(path), 0755)
	if err != nil {
		return fmt.Errorf("unable to create the configuration directory: %s", err)
	}

	data := PaddedOutputKey + " = true\n" +
		ReportStackSizeKey + " = false\n" +
		NumThreadsKey + " = 0\n" +
		HostfileKey + " =\n" +
		SSHUserKey + " =\n" +
		SSHKeyfileKey + " =\n" +
		BasePortKey + " = 10100\n"

	err = ioutil.WriteFile(path, []byte(data), 0644)
	if err != nil {
		return fmt.Errorf("unable to write %s: %s", path, err)
	}

	return nil
}

// Load returns the key/value pairs from the tool's configuration file,
// creating the file with defaults when it does not exist yet
func Load() ([]kv.KV, error) {
	path := Path()

	if !util.PathExists(path) {
		log.Println("-> Creating configuration file...")
		err := create(path)
		if err != nil {
			return nil, fmt.Errorf("failed to create configuration file: %s", err)
		}
		log.Printf("... %s successfully created\n", path)
	}

	kvs, err := kv.LoadKeyValueConfig(path)
	if err != nil {
		return nil, fmt.Errorf("unable to load the tool's configuration: %s", err)
	}

	return kvs, nil
}
