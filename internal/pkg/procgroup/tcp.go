// Copyright (c) 2019, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package procgroup

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultInitTimeout is the maximum time the rendezvous between the ranks can take
	DefaultInitTimeout = 30 * time.Second

	// dialRetryDelay is the delay between two attempts to reach a peer that is not up yet
	dialRetryDelay = 300 * time.Millisecond
)

// TCP is the group backend for multi-process runs. The launcher assigns every
// rank an address; during initialization each process listens on its own
// address and establishes one connection per peer (dialing the lower ranks,
// accepting from the higher ones), so that finalization can run a simple
// barrier over the pairwise connections before tearing the group down.
type TCP struct {
	// Addrs is the list of the addresses of all the ranks, sorted by rank
	Addrs []string

	// LocalRank is the rank of the local process, i.e., its index in Addrs
	LocalRank int

	// Timeout is the maximum time the rendezvous can take (DefaultInitTimeout when zero)
	Timeout time.Duration

	conns []net.Conn
	// rds are the read sides of the connections. All reads on a connection
	// must go through its reader: the handshake decoder reads ahead, so a
	// peer's barrier byte may already sit in the reader's buffer by the time
	// Finalize runs.
	rds         []*bufio.Reader
	listener    net.Listener
	initialized bool
}

// handshake is the message the ranks exchange when a pairwise connection is established
type handshake struct {
	Rank int
}

// InitThread performs the all-to-all rendezvous between the ranks of the group
func (g *TCP) InitThread(required ThreadLevel) (ThreadLevel, error) {
	if g.initialized {
		return ThreadSingle, fmt.Errorf("group already initialized")
	}
	if len(g.Addrs) == 0 {
		return ThreadSingle, fmt.Errorf("no rank addresses")
	}
	if g.LocalRank < 0 || g.LocalRank >= len(g.Addrs) {
		return ThreadSingle, fmt.Errorf("rank %d not in a group of size %d", g.LocalRank, len(g.Addrs))
	}
	if g.Timeout == 0 {
		g.Timeout = DefaultInitTimeout
	}

	g.conns = make([]net.Conn, len(g.Addrs))
	g.rds = make([]*bufio.Reader, len(g.Addrs))

	if err := g.connect(); err != nil {
		g.close()
		return ThreadSingle, fmt.Errorf("rendezvous failed: %s", err)
	}

	g.initialized = true

	// The backend itself is safe from any goroutine
	return capThreadSupport(ThreadMultiple), nil
}

// connect establishes one connection per peer: the local rank accepts from all
// the higher ranks and dials all the lower ones
func (g *TCP) connect() error {
	var err error
	g.listener, err = net.Listen("tcp", g.Addrs[g.LocalRank])
	if err != nil {
		return fmt.Errorf("unable to listen on %s: %s", g.Addrs[g.LocalRank], err)
	}

	var acceptErr, dialErr error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		acceptErr = g.acceptPeers()
	}()
	go func() {
		defer wg.Done()
		dialErr = g.dialPeers()
	}()
	wg.Wait()

	if acceptErr != nil {
		return acceptErr
	}
	return dialErr
}

// acceptPeers waits for a connection from every rank higher than the local one
func (g *TCP) acceptPeers() error {
	deadline := time.Now().Add(g.Timeout)
	if l, ok := g.listener.(*net.TCPListener); ok {
		err := l.SetDeadline(deadline)
		if err != nil {
			return fmt.Errorf("unable to set the rendezvous deadline: %s", err)
		}
	}

	for n := len(g.Addrs) - 1 - g.LocalRank; n > 0; n-- {
		conn, err := g.listener.Accept()
		if err != nil {
			return fmt.Errorf("error accepting a peer: %s", err)
		}

		rd := bufio.NewReader(conn)
		var msg handshake
		err = gob.NewDecoder(rd).Decode(&msg)
		if err != nil {
			conn.Close()
			return fmt.Errorf("bad handshake: %s", err)
		}
		if msg.Rank <= g.LocalRank || msg.Rank >= len(g.Addrs) {
			conn.Close()
			return fmt.Errorf("bad peer rank: %d", msg.Rank)
		}
		if g.conns[msg.Rank] != nil {
			conn.Close()
			return fmt.Errorf("rank %d connected twice", msg.Rank)
		}

		err = gob.NewEncoder(conn).Encode(handshake{Rank: g.LocalRank})
		if err != nil {
			conn.Close()
			return fmt.Errorf("unable to reply to the handshake: %s", err)
		}
		g.conns[msg.Rank] = conn
		g.rds[msg.Rank] = rd
	}

	return nil
}

// dialPeers connects to every rank lower than the local one, retrying until
// the peer is up or the rendezvous times out
func (g *TCP) dialPeers() error {
	peerErr := make([]error, g.LocalRank)

	var wg sync.WaitGroup
	for i := 0; i < g.LocalRank; i++ {
		wg.Add(1)
		go func(peer int) {
			defer wg.Done()
			peerErr[peer] = g.dialPeer(peer)
		}(i)
	}
	wg.Wait()

	var str string
	for _, err := range peerErr {
		if err != nil {
			str += " " + err.Error()
		}
	}
	if str != "" {
		return fmt.Errorf("%s", str)
	}
	return nil
}

func (g *TCP) dialPeer(peer int) error {
	var conn net.Conn
	var err error

	start := time.Now()
	for {
		conn, err = net.DialTimeout("tcp", g.Addrs[peer], g.Timeout)
		if err == nil || time.Since(start) > g.Timeout {
			break
		}
		time.Sleep(dialRetryDelay)
	}
	if err != nil {
		return fmt.Errorf("unable to reach rank %d at %s: %s", peer, g.Addrs[peer], err)
	}

	err = gob.NewEncoder(conn).Encode(handshake{Rank: g.LocalRank})
	if err != nil {
		conn.Close()
		return fmt.Errorf("unable to send the handshake to rank %d: %s", peer, err)
	}

	rd := bufio.NewReader(conn)
	var msg handshake
	err = gob.NewDecoder(rd).Decode(&msg)
	if err != nil {
		conn.Close()
		return fmt.Errorf("bad handshake reply from rank %d: %s", peer, err)
	}
	if msg.Rank != peer {
		conn.Close()
		return fmt.Errorf("rank disagreement: expected %d, peer claims %d", peer, msg.Rank)
	}

	g.conns[peer] = conn
	g.rds[peer] = rd
	return nil
}

// Rank returns the rank of the local process
func (g *TCP) Rank() int {
	if !g.initialized {
		return -1
	}
	return g.LocalRank
}

// Size returns the number of processes in the group
func (g *TCP) Size() int {
	if !g.initialized {
		return 0
	}
	return len(g.Addrs)
}

// HostName returns the identifier of the host executing this process
func (g *TCP) HostName() (string, error) {
	return hostName()
}

// Finalize runs a barrier over the pairwise connections so that no process
// tears the group down while a peer still depends on it, then closes everything
func (g *TCP) Finalize() error {
	if !g.initialized {
		return fmt.Errorf("group is not initialized")
	}
	defer g.close()

	// Everybody writes one byte to every peer, then reads one byte from every
	// peer. TCP buffering makes the writes complete without a reader.
	for peer, conn := range g.conns {
		if conn == nil {
			continue
		}
		_, err := conn.Write([]byte{0})
		if err != nil {
			return fmt.Errorf("finalize barrier: unable to signal rank %d: %s", peer, err)
		}
	}
	for peer, rd := range g.rds {
		if rd == nil {
			continue
		}
		_, err := rd.ReadByte()
		if err != nil {
			return fmt.Errorf("finalize barrier: no signal from rank %d: %s", peer, err)
		}
	}

	g.initialized = false
	return nil
}

// close closes all of the connections
func (g *TCP) close() {
	for _, conn := range g.conns {
		if conn != nil {
			conn.Close()
		}
	}
	if g.listener != nil {
		g.listener.Close()
	}
}

// LoadTCP is the function used by the backend detection mechanism to figure
// out whether the TCP backend is applicable, i.e., whether the launcher set
// the rendezvous environment
func LoadTCP() (bool, Group) {
	addrs := os.Getenv(AddrsEnvVar)
	if addrs == "" {
		return false, nil
	}

	var g TCP
	g.Addrs = strings.Split(addrs, ",")

	rankVal := os.Getenv(RankEnvVar)
	rank, err := strconv.Atoi(rankVal)
	if err != nil || rank < 0 || rank >= len(g.Addrs) {
		return false, nil
	}
	g.LocalRank = rank

	// When the launcher also sets the size it must agree with the address list
	if val := os.Getenv(SizeEnvVar); val != "" {
		size, err := strconv.Atoi(val)
		if err != nil || size != len(g.Addrs) {
			return false, nil
		}
	}

	return true, &g
}
