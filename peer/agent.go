// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package peer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"code.hybscloud.com/mesh/transport"
	"code.hybscloud.com/mesh/wire"
)

// DefaultHandshakeTimeout is the connection timeout Agent.Connect arms when
// ctx carries no deadline of its own.
const DefaultHandshakeTimeout = 10 * time.Second

// Agent is a thin registry binding a name→procedure mapping and a factory
// that, given a Transport, produces a Peer. An Agent weakly references the
// Peers it produces: it does not retain them past Connect returning.
type Agent struct {
	mu  sync.RWMutex
	api map[string]wire.Proc
}

// New binds api as the set of procedures this Agent publishes.
func New(api map[string]wire.Proc) *Agent {
	a := &Agent{api: make(map[string]wire.Proc, len(api))}
	for name, fn := range api {
		a.api[name] = fn
	}
	return a
}

func (a *Agent) lookup(name string) (wire.Proc, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	fn, ok := a.api[name]
	return fn, ok
}

func (a *Agent) names() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.api))
	for name := range a.api {
		out = append(out, name)
	}
	return out
}

// Connect produces a fresh Peer bound to t, sends the handshake, and blocks
// until the Peer reaches Live, an error event fires, the Transport
// disconnects, or ctx's deadline elapses — whichever happens first resolves
// the call; the other outcomes are discarded. ctx is given
// DefaultHandshakeTimeout if it carries no deadline of its own.
func (a *Agent) Connect(ctx context.Context, t *transport.Transport) (*Peer, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultHandshakeTimeout)
		defer cancel()
	}

	p := newPeer(a)
	if err := p.Connect(ctx, t); err != nil {
		return nil, fmt.Errorf("agent: connect: %w", err)
	}

	select {
	case <-p.Connected():
		return p, nil
	case err := <-p.Errors():
		p.Disconnect(err)
		return nil, fmt.Errorf("agent: handshake failed: %w", err)
	case err := <-p.Disconnected():
		return nil, fmt.Errorf("agent: disconnected during handshake: %w", errOrDefault(err, ErrDisconnect))
	case <-ctx.Done():
		p.Disconnect(ctx.Err())
		return nil, fmt.Errorf("agent: handshake timed out: %w", ctx.Err())
	}
}
