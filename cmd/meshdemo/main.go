// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command meshdemo wires two Agents together over an in-process net.Pipe
// and runs through the handshake, a round-trip call, and a cyclic-argument
// call, logging each lifecycle event.
package main

import (
	"context"
	"flag"
	"net"
	"os"
	"reflect"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"code.hybscloud.com/mesh/peer"
	"code.hybscloud.com/mesh/transport"
	"code.hybscloud.com/mesh/wire"
)

func main() {
	configPath := flag.String("config", "meshdemo.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		panic(err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("meshdemo failed", zap.Error(err))
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func run(cfg config, logger *zap.Logger) error {
	connA, connB := net.Pipe()
	defer connA.Close()
	defer connB.Close()

	ta, err := transport.NewConn(connA, transport.CBORCodec{})
	if err != nil {
		return err
	}
	tb, err := transport.NewConn(connB, transport.CBORCodec{})
	if err != nil {
		return err
	}

	agentA := peer.New(map[string]wire.Proc{
		"add": wire.Proc(func(args []any) {
			x := args[0].(int64)
			y := args[1].(int64)
			cb := args[2].(wire.Proc)
			cb([]any{nil, x + y})
		}),
		"echo": wire.Proc(func(args []any) {
			cb := args[1].(wire.Proc)
			cb([]any{nil, args[0]})
		}),
	})
	agentB := peer.New(map[string]wire.Proc{})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HandshakeTimeout)
	defer cancel()

	pa, pb, err := connectBoth(ctx, agentA, ta, agentB, tb)
	if err != nil {
		return err
	}
	logger.Info("connected", zap.String("a", pa.ID().String()), zap.String("b", pb.ID().String()))

	if err := demoRoundTripCall(pb, logger); err != nil {
		return err
	}
	if err := demoCyclicArgument(pb, logger); err != nil {
		return err
	}

	pb.Disconnect(nil)
	<-pa.Disconnected()
	logger.Info("disconnected cleanly")
	return nil
}

func connectBoth(ctx context.Context, agentA *peer.Agent, ta *transport.Transport, agentB *peer.Agent, tb *transport.Transport) (*peer.Peer, *peer.Peer, error) {
	type result struct {
		p   *peer.Peer
		err error
	}
	resA := make(chan result, 1)
	resB := make(chan result, 1)
	go func() {
		p, err := agentA.Connect(ctx, ta)
		resA <- result{p, err}
	}()
	go func() {
		p, err := agentB.Connect(ctx, tb)
		resB <- result{p, err}
	}()
	ra, rb := <-resA, <-resB
	if ra.err != nil {
		return nil, nil, ra.err
	}
	if rb.err != nil {
		return nil, nil, rb.err
	}
	return ra.p, rb.p, nil
}

func demoRoundTripCall(pb *peer.Peer, logger *zap.Logger) error {
	add, ok := pb.API()["add"]
	if !ok {
		return errNoProc("add")
	}
	done := make(chan []any, 1)
	add([]any{int64(2), int64(3), wire.Proc(func(args []any) { done <- args })})
	select {
	case r := <-done:
		logger.Info("add result", zap.Any("args", r))
	case <-time.After(2 * time.Second):
		return errTimeout("add")
	}
	return nil
}

func demoCyclicArgument(pb *peer.Peer, logger *zap.Logger) error {
	echo, ok := pb.API()["echo"]
	if !ok {
		return errNoProc("echo")
	}
	x := map[string]any{"name": "cyclic"}
	x["self"] = x

	done := make(chan []any, 1)
	echo([]any{x, wire.Proc(func(args []any) { done <- args })})
	select {
	case r := <-done:
		y := r[1].(map[string]any)
		self := y["self"].(map[string]any)
		logger.Info("echo result preserved cycle", zap.Bool("self_is_self", reflect.ValueOf(self).Pointer() == reflect.ValueOf(y).Pointer()))
	case <-time.After(2 * time.Second):
		return errTimeout("echo")
	}
	return nil
}
