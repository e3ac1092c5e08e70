// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package peer_test

import (
	"context"
	"net"
	"reflect"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"code.hybscloud.com/mesh/peer"
	"code.hybscloud.com/mesh/transport"
	"code.hybscloud.com/mesh/wire"
)

func connectedPair(t *testing.T, apiA, apiB map[string]wire.Proc) (*peer.Peer, *peer.Peer) {
	t.Helper()
	connA, connB := net.Pipe()
	t.Cleanup(func() {
		connA.Close()
		connB.Close()
	})

	ta, err := transport.NewConn(connA, transport.CBORCodec{})
	if err != nil {
		t.Fatalf("NewConn a: %v", err)
	}
	tb, err := transport.NewConn(connB, transport.CBORCodec{})
	if err != nil {
		t.Fatalf("NewConn b: %v", err)
	}

	agentA := peer.New(apiA)
	agentB := peer.New(apiB)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var pa, pb *peer.Peer
	var g errgroup.Group
	g.Go(func() error {
		var err error
		pa, err = agentA.Connect(ctx, ta)
		return err
	})
	g.Go(func() error {
		var err error
		pb, err = agentB.Connect(ctx, tb)
		return err
	})
	if err := g.Wait(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return pa, pb
}

func TestHandshake_InstallsProxies(t *testing.T) {
	addProc := wire.Proc(func(args []any) {
		x := args[0].(int64)
		y := args[1].(int64)
		cb := args[2].(wire.Proc)
		cb([]any{nil, x + y})
	})
	pa, pb := connectedPair(t, map[string]wire.Proc{"add": addProc}, map[string]wire.Proc{})

	if pa.State() != peer.Live || pb.State() != peer.Live {
		t.Fatalf("expected both Live, got a=%s b=%s", pa.State(), pb.State())
	}
	if _, ok := pb.API()["add"]; !ok {
		t.Fatalf("expected b.API() to have add")
	}
}

func TestRoundTripCall(t *testing.T) {
	addProc := wire.Proc(func(args []any) {
		x := args[0].(int64)
		y := args[1].(int64)
		cb := args[2].(wire.Proc)
		cb([]any{nil, x + y})
	})
	_, pb := connectedPair(t, map[string]wire.Proc{"add": addProc}, map[string]wire.Proc{})

	result := make(chan []any, 1)
	add := pb.API()["add"]
	add([]any{int64(2), int64(3), wire.Proc(func(args []any) { result <- args })})

	select {
	case r := <-result:
		if len(r) != 2 || r[0] != nil || r[1] != int64(5) {
			t.Fatalf("got %#v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for add result")
	}
}

func TestCyclicArgument_RoundTrips(t *testing.T) {
	echoProc := wire.Proc(func(args []any) {
		cb := args[1].(wire.Proc)
		cb([]any{nil, args[0]})
	})
	_, pb := connectedPair(t, map[string]wire.Proc{"echo": echoProc}, map[string]wire.Proc{})

	x := map[string]any{"name": "cyclic"}
	x["self"] = x

	result := make(chan []any, 1)
	echo := pb.API()["echo"]
	echo([]any{x, wire.Proc(func(args []any) { result <- args })})

	select {
	case r := <-result:
		y, ok := r[1].(map[string]any)
		if !ok {
			t.Fatalf("got %#v", r[1])
		}
		self, ok := y["self"].(map[string]any)
		if !ok {
			t.Fatalf("y.self is %#v", y["self"])
		}
		if reflect.ValueOf(self).Pointer() != reflect.ValueOf(y).Pointer() {
			t.Fatalf("expected self-reference to resolve back to y, got %#v", self)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echo result")
	}
}

func TestDisconnect_FlushesOutstandingCallbacks(t *testing.T) {
	// B issues three calls to a procedure on A that never replies; closing
	// A's Transport must flush all three of B's outstanding callbacks with
	// EDISCONNECT.
	var holdMu sync.Mutex
	var held []wire.Proc
	holdProc := wire.Proc(func(args []any) {
		holdMu.Lock()
		held = append(held, args[0].(wire.Proc))
		holdMu.Unlock()
	})
	pa, pb := connectedPair(t, map[string]wire.Proc{"hold": holdProc}, map[string]wire.Proc{})

	results := make(chan []any, 3)
	hold := pb.API()["hold"]
	for i := 0; i < 3; i++ {
		hold([]any{wire.Proc(func(args []any) { results <- args })})
	}

	deadline := time.After(2 * time.Second)
	for {
		holdMu.Lock()
		n := len(held)
		holdMu.Unlock()
		if n == 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for A to register 3 held callbacks, got %d", n)
		case <-time.After(10 * time.Millisecond):
		}
	}

	pa.Disconnect(nil)

	for i := 0; i < 3; i++ {
		select {
		case r := <-results:
			errVal, ok := r[0].(map[string]any)
			if !ok || errVal["code"] != "EDISCONNECT" {
				t.Fatalf("result[%d]=%#v want EDISCONNECT error", i, r)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for flushed callback %d", i)
		}
	}

	select {
	case <-pb.Disconnected():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for b's Disconnected")
	}
}

func TestProxyPersistence_AcrossReconnect(t *testing.T) {
	agentA := peer.New(map[string]wire.Proc{"add": wire.Proc(func(args []any) {})})
	agentB := peer.New(map[string]wire.Proc{})

	connA1, connB1 := net.Pipe()
	ta1, err := transport.NewConn(connA1, transport.CBORCodec{})
	if err != nil {
		t.Fatalf("NewConn a1: %v", err)
	}
	tb1, err := transport.NewConn(connB1, transport.CBORCodec{})
	if err != nil {
		t.Fatalf("NewConn b1: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var pa, pb *peer.Peer
	var g errgroup.Group
	g.Go(func() error {
		var err error
		pa, err = agentA.Connect(ctx, ta1)
		return err
	})
	g.Go(func() error {
		var err error
		pb, err = agentB.Connect(ctx, tb1)
		return err
	})
	if err := g.Wait(); err != nil {
		t.Fatalf("first connect: %v", err)
	}

	firstAdd := pb.API()["add"]
	if firstAdd == nil {
		t.Fatal("expected add proxy after first connect")
	}

	connA1.Close()
	connB1.Close()
	select {
	case <-pb.Disconnected():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first disconnect (b)")
	}
	select {
	case <-pa.Disconnected():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first disconnect (a)")
	}

	connA2, connB2 := net.Pipe()
	defer connA2.Close()
	defer connB2.Close()
	ta2, err := transport.NewConn(connA2, transport.CBORCodec{})
	if err != nil {
		t.Fatalf("NewConn a2: %v", err)
	}
	tb2, err := transport.NewConn(connB2, transport.CBORCodec{})
	if err != nil {
		t.Fatalf("NewConn b2: %v", err)
	}

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	if err := pa.Connect(ctx2, ta2); err != nil {
		t.Fatalf("reconnect a: %v", err)
	}
	if err := pb.Connect(ctx2, tb2); err != nil {
		t.Fatalf("reconnect b: %v", err)
	}
	select {
	case <-pb.Connected():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reconnect")
	}

	secondAdd := pb.API()["add"]
	addrOf := func(p wire.Proc) uintptr {
		return reflect.ValueOf(p).Pointer()
	}
	if addrOf(firstAdd) != addrOf(secondAdd) {
		t.Fatalf("expected the same proxy identity to survive reconnect")
	}
}

func TestKeyEscaping_RoundTrips(t *testing.T) {
	echoProc := wire.Proc(func(args []any) {
		cb := args[1].(wire.Proc)
		cb([]any{nil, args[0]})
	})
	_, pb := connectedPair(t, map[string]wire.Proc{"echo": echoProc}, map[string]wire.Proc{})

	in := map[string]any{"$weird": int64(7), "normal": "$ok"}
	result := make(chan []any, 1)
	echo := pb.API()["echo"]
	echo([]any{in, wire.Proc(func(args []any) { result <- args })})

	select {
	case r := <-result:
		got, ok := r[1].(map[string]any)
		if !ok {
			t.Fatalf("got %#v", r[1])
		}
		if got["$weird"] != int64(7) || got["normal"] != "$ok" {
			t.Fatalf("got %#v want %#v", got, in)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echo result")
	}
}
