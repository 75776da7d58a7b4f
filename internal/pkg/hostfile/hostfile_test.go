// Copyright (c) 2019, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package hostfile

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
)

func writeHostfile(t *testing.T, content string) string {
	dir, err := ioutil.TempDir("", "hostfile-")
	if err != nil {
		t.Fatalf("unable to create a temporary directory: %s", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	path := filepath.Join(dir, "hosts")
	err = ioutil.WriteFile(path, []byte(content), 0644)
	if err != nil {
		t.Fatalf("unable to write the host file: %s", err)
	}
	return path
}

func TestParse(t *testing.T) {
	path := writeHostfile(t, `# test cluster
10.0.0.1 node0

10.0.0.2 node1
10.0.0.3
`)

	hosts, err := Parse(path)
	if err != nil {
		t.Fatalf("unable to parse the host file: %s", err)
	}
	if len(hosts) != 3 {
		t.Fatalf("expected 3 hosts, got %d", len(hosts))
	}
	if hosts[0].Addr != "10.0.0.1" || hosts[0].Name != "node0" {
		t.Fatalf("bad first host: %+v", hosts[0])
	}
	if hosts[2].Addr != "10.0.0.3" || hosts[2].Name != "" {
		t.Fatalf("bad name-less host: %+v", hosts[2])
	}
}

func TestParseEmpty(t *testing.T) {
	path := writeHostfile(t, "# only comments\n\n")
	_, err := Parse(path)
	if err == nil {
		t.Fatalf("empty host file did not fail to parse")
	}
}

func TestParseMissingFile(t *testing.T) {
	_, err := Parse("/does/not/exist/hosts")
	if err == nil {
		t.Fatalf("missing host file did not fail to parse")
	}
}
