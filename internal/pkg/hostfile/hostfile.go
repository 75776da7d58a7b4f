// Copyright (c) 2019, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package hostfile

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Host represents one entry of a host file
type Host struct {
	// Addr is the address the host can be reached at (IP or resolvable name)
	Addr string

	// Name is the optional human-readable name of the host
	Name string
}

// Parse reads a host file: one host per line, the address optionally followed
// by a name, blank lines and '#' comments skipped
func Parse(path string) ([]Host, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open %s: %s", path, err)
	}
	defer f.Close()

	var hosts []Host

	lineReader := bufio.NewScanner(f)
	for lineReader.Scan() {
		line := strings.TrimSpace(lineReader.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		var h Host
		h.Addr = fields[0]
		if len(fields) > 1 {
			h.Name = fields[1]
		}
		hosts = append(hosts, h)
	}
	if err := lineReader.Err(); err != nil {
		return nil, fmt.Errorf("error reading %s: %s", path, err)
	}

	if len(hosts) == 0 {
		return nil, fmt.Errorf("host file %s does not define any host", path)
	}

	return hosts, nil
}
