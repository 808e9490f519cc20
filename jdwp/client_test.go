/*
 * dexkit - Android APK static/dynamic analysis toolkit
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package jdwp

import (
	"net"
	"testing"
	"time"
)

// fakeServer accepts one connection on a loopback listener, performs the
// handshake, then answers every VirtualMachine.Version request with the
// bytes "1.8" -- the test stub named by spec's testable property.
func fakeServer(t *testing.T, ln net.Listener, versionString string) {
	t.Helper()
	conn, err := ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	got := make([]byte, len(handshake))
	if _, err := readFull(conn, got); err != nil || string(got) != handshake {
		t.Errorf("fakeServer: bad handshake %q, err %v", got, err)
		return
	}
	if _, err := conn.Write([]byte(handshake)); err != nil {
		t.Errorf("fakeServer: writing handshake reply: %v", err)
		return
	}

	for {
		p, err := readPacket(conn)
		if err != nil {
			return
		}
		if p.commandSet == csVirtualMachine && p.command == cmdVersion {
			w := &writer{}
			w.jdwpString(versionString)
			reply := packet{id: p.id, flags: flagReply, data: w.bytes()}
			if err := reply.writeTo(conn); err != nil {
				return
			}
		}
	}
}

func dialFakeServer(t *testing.T, versionString string) *Client {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go fakeServer(t, ln, versionString)

	c, err := Dial("tcp", ln.Addr().String())
	if err != nil {
		ln.Close()
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() {
		c.Close()
		ln.Close()
	})
	return c
}

func TestGetVersion_ReturnsServerString(t *testing.T) {
	c := dialFakeServer(t, "1.8")
	got, err := c.GetVersion()
	if err != nil {
		t.Fatalf("GetVersion: %v", err)
	}
	if got != "1.8" {
		t.Fatalf("GetVersion() = %q, want %q", got, "1.8")
	}
}

func TestRequest_CorrelatesInterleavedReplies(t *testing.T) {
	c := dialFakeServer(t, "1.8")
	type result struct {
		v   string
		err error
	}
	results := make(chan result, 3)
	for i := 0; i < 3; i++ {
		go func() {
			v, err := c.GetVersion()
			results <- result{v, err}
		}()
	}
	for i := 0; i < 3; i++ {
		select {
		case r := <-results:
			if r.err != nil || r.v != "1.8" {
				t.Fatalf("got (%q, %v), want (\"1.8\", nil)", r.v, r.err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for reply %d", i)
		}
	}
}

func TestClose_WakesPendingRequest(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		got := make([]byte, len(handshake))
		readFull(conn, got)
		conn.Write([]byte(handshake))
		// Never answers any further request.
		select {}
	}()

	c, err := Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	done := make(chan error, 1)
	go func() {
		_, err := c.GetVersion()
		done <- err
	}()
	time.Sleep(50 * time.Millisecond)
	c.Close()
	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected an error after Close, got nil")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("GetVersion did not return after Close")
	}
}
