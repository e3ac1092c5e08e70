// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package peer implements the local view of a remote Agent: the handshake,
// the callback and proxy tables, and inbound dispatch, sitting on top of a
// transport.Transport.
package peer

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"code.hybscloud.com/mesh/transport"
	"code.hybscloud.com/mesh/wire"
)

// State is one of a Peer's four lifecycle states.
type State uint8

const (
	Idle State = iota
	Connecting
	Live
	Disconnected
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Live:
		return "live"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Peer sits on top of a Transport, runs the handshake, maintains the local
// callback table and the proxy set for the far side, and dispatches inbound
// messages. A Peer's identity outlives any single Transport: it may be
// reconnected with a fresh Transport after a disconnect, preserving its
// proxy table but starting a fresh callback table.
type Peer struct {
	id    uuid.UUID
	agent *Agent

	mu        sync.Mutex
	state     State
	t         *transport.Transport
	callbacks *callbackTable
	proxies   map[string]wire.Proc
	cancel    context.CancelFunc

	connectedCh    chan struct{}
	disconnectedCh chan error
	drainCh        chan struct{}
	errCh          chan error
}

func newPeer(agent *Agent) *Peer {
	return &Peer{
		id:             uuid.New(),
		agent:          agent,
		state:          Idle,
		proxies:        make(map[string]wire.Proc),
		connectedCh:    make(chan struct{}, 1),
		disconnectedCh: make(chan error, 1),
		drainCh:        make(chan struct{}, 1),
		errCh:          make(chan error, 16),
	}
}

// ID identifies this Peer across its lifetime, independent of how many
// Transports it binds in succession.
func (p *Peer) ID() uuid.UUID { return p.id }

// State reports the current lifecycle state.
func (p *Peer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// API returns a snapshot of the proxy table installed so far. Safe to call
// before Live; the map simply won't have the far side's names yet.
func (p *Peer) API() map[string]wire.Proc {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]wire.Proc, len(p.proxies))
	for name, proc := range p.proxies {
		out[name] = proc
	}
	return out
}

// Connected fires once proxies have been installed after a ready reply. A
// fresh channel is armed on every Connect, so a value the caller fetches
// from one connect cycle must be re-fetched after a reconnect.
func (p *Peer) Connected() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connectedCh
}

// Disconnected fires once per terminal loss of the bound Transport. A fresh
// channel is armed on every Connect, for the same reason as Connected.
func (p *Peer) Disconnected() <-chan error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disconnectedCh
}

// Drain forwards the Transport's drain signal.
func (p *Peer) Drain() <-chan struct{} { return p.drainCh }

// Errors delivers protocol violations and non-terminal Transport errors.
func (p *Peer) Errors() <-chan error { return p.errCh }

// Connect binds t, sends the handshake message, and starts inbound
// dispatch. It returns once the handshake has been sent, not once Live is
// reached — wait on Connected(), or use Agent.Connect for a blocking
// variant with a timeout.
func (p *Peer) Connect(ctx context.Context, t *transport.Transport) error {
	p.mu.Lock()
	if p.state == Live || p.state == Connecting {
		p.mu.Unlock()
		return fmt.Errorf("peer: already %s", p.state)
	}
	p.t = t
	p.state = Connecting
	p.callbacks = newCallbackTable()
	// Fresh per-cycle event channels: a Connected/Disconnected value the
	// application never drained from an earlier cycle must not linger and
	// silently swallow this cycle's event via the non-blocking send below.
	p.connectedCh = make(chan struct{}, 1)
	p.disconnectedCh = make(chan error, 1)
	// run's lifetime is deliberately detached from ctx: ctx only governs
	// how long Connect (and Agent.Connect's handshake wait) is willing to
	// wait for the handshake to complete, per spec.md §4.3's "Agent-level
	// wrapper" timeout. Deriving runCtx from ctx would tie every live
	// connection to whatever deadline the caller happened to hand Connect,
	// tearing a freshly-established Peer back down the moment that
	// deadline elapses. The only way to stop run is Disconnect.
	runCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.mu.Unlock()

	go p.run(runCtx, t)

	readyProc := wire.Proc(func(args []any) {
		p.installProxies(args)
	})
	if _, err := p.send([]any{"ready", readyProc}); err != nil {
		p.Disconnect(err)
		return fmt.Errorf("peer: send handshake: %w", err)
	}
	return nil
}

// Disconnect idempotently tears down the bound Transport: it detaches from
// the Transport, flushes every outstanding callback with an EDISCONNECT
// error (or err, if supplied), and emits Disconnected.
func (p *Peer) Disconnect(err error) {
	p.mu.Lock()
	if p.state == Disconnected {
		p.mu.Unlock()
		return
	}
	if p.t == nil {
		p.mu.Unlock()
		p.emitError(fmt.Errorf("peer: disconnect: %w", errOrDefault(err, ErrNotConnected)))
		return
	}
	t := p.t
	cancel := p.cancel
	callbacks := p.callbacks
	disconnectedCh := p.disconnectedCh
	p.t = nil
	p.cancel = nil
	p.state = Disconnected
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	_ = t.Close(err)

	flushErr := errOrDefault(err, ErrDisconnect)
	for _, fn := range callbacks.flush() {
		fn([]any{ErrorValue("EDISCONNECT", flushErr.Error())})
	}

	select {
	case disconnectedCh <- err:
	default:
	}
}

// send freezes msg — registering any Proc arguments in the callback table —
// and delegates to the bound Transport.
func (p *Peer) send(msg []any) (bool, error) {
	p.mu.Lock()
	t := p.t
	callbacks := p.callbacks
	p.mu.Unlock()
	if t == nil || callbacks == nil {
		return false, ErrNotConnected
	}

	var storeErr error
	frozen, err := wire.Freeze(msg, func(fn wire.Proc) uint32 {
		key, serr := callbacks.store(fn)
		if serr != nil {
			storeErr = serr
			return 0
		}
		return key
	})
	if err != nil {
		return false, fmt.Errorf("peer: freeze message: %w", err)
	}
	if storeErr != nil {
		return false, storeErr
	}
	return t.Send(frozen)
}

func (p *Peer) run(ctx context.Context, t *transport.Transport) {
	for {
		select {
		case <-ctx.Done():
			p.disconnectTransport(t, ctx.Err())
			return
		case msg := <-t.Messages():
			p.dispatch(msg)
		case <-t.Drain():
			select {
			case p.drainCh <- struct{}{}:
			default:
			}
		case err := <-t.Errors():
			p.emitError(err)
		case err := <-t.Disconnected():
			p.disconnectTransport(t, err)
			return
		}
	}
}

// disconnectTransport tears the Peer down only if it is still bound to t.
// run's ctx.Done() and its Transport's Disconnected() both become ready as
// soon as an explicit Disconnect starts tearing that connection down; if
// this goroutine is scheduled late enough that a fast reconnect has already
// bound a new Transport in the meantime, t no longer matches p.t and this is
// a stale signal from a superseded connection — it must not tear down the
// new one.
func (p *Peer) disconnectTransport(t *transport.Transport, err error) {
	p.mu.Lock()
	current := p.t
	p.mu.Unlock()
	if current != t {
		return
	}
	p.Disconnect(err)
}

// dispatch implements spec §4.3's inbound algorithm: validate shape, liven,
// resolve the dispatch identifier, and invoke.
func (p *Peer) dispatch(msg any) {
	seq, ok := msg.([]any)
	if !ok || len(seq) == 0 {
		p.emitError(fmt.Errorf("%w: empty or non-sequence message", ErrProtocolViolation))
		return
	}

	live, err := wire.Liven(seq, p.makeRemoteProxy)
	if err != nil {
		p.emitError(fmt.Errorf("peer: liven message: %w", err))
		return
	}
	livened, ok := live.([]any)
	if !ok || len(livened) == 0 {
		p.emitError(fmt.Errorf("%w: message livened to non-sequence", ErrProtocolViolation))
		return
	}

	id := livened[0]
	args := livened[1:]

	switch v := id.(type) {
	case string:
		if v == "ready" {
			p.handleReady(args)
			return
		}
		fn, ok := p.agent.lookup(v)
		if !ok {
			p.emitError(fmt.Errorf("%w: unknown procedure %q", ErrProtocolViolation, v))
			return
		}
		fn(args)
	case int64:
		key, err := toCallbackKey(v)
		if err != nil {
			p.emitError(fmt.Errorf("%w: %v", ErrProtocolViolation, err))
			return
		}
		fn, ok := p.callbacks.consume(key)
		if !ok {
			p.emitError(fmt.Errorf("%w: unknown callback %d", ErrProtocolViolation, key))
			return
		}
		fn(args)
	default:
		p.emitError(fmt.Errorf("%w: dispatch id has unsupported type %T", ErrProtocolViolation, id))
	}
}

func (p *Peer) handleReady(args []any) {
	if len(args) == 0 {
		p.emitError(fmt.Errorf("%w: ready message missing callback", ErrProtocolViolation))
		return
	}
	cb, ok := args[0].(wire.Proc)
	if !ok {
		p.emitError(fmt.Errorf("%w: ready message callback is not a procedure", ErrProtocolViolation))
		return
	}
	names := make([]any, 0, len(p.agent.names()))
	for _, name := range p.agent.names() {
		names = append(names, name)
	}
	cb(names)
}

// installProxies is the local procedure registered as the handshake's own
// callback: it runs when the far side replies with its published names.
func (p *Peer) installProxies(args []any) {
	if len(args) == 0 {
		p.emitError(fmt.Errorf("%w: ready reply missing names", ErrProtocolViolation))
		return
	}
	names, ok := args[0].([]any)
	if !ok {
		p.emitError(fmt.Errorf("%w: ready reply names not a sequence", ErrProtocolViolation))
		return
	}

	p.mu.Lock()
	for _, n := range names {
		name, ok := n.(string)
		if !ok {
			continue
		}
		if _, exists := p.proxies[name]; exists {
			continue
		}
		p.proxies[name] = p.makeProxyProcedure(name)
	}
	p.state = Live
	connectedCh := p.connectedCh
	p.mu.Unlock()

	select {
	case connectedCh <- struct{}{}:
	default:
	}
}

// makeProxyProcedure builds the local procedure installed for a far-side
// published name: invoking it sends [name, ...args] over the Transport.
func (p *Peer) makeProxyProcedure(name string) wire.Proc {
	return wire.Proc(func(args []any) {
		p.mu.Lock()
		live := p.state == Live
		p.mu.Unlock()
		if !live {
			if len(args) > 0 {
				if cb, ok := args[len(args)-1].(wire.Proc); ok {
					cb([]any{ErrorValue("ENOTCONNECTED", "peer not connected")})
				}
			}
			return
		}
		msg := append([]any{name}, args...)
		if _, err := p.send(msg); err != nil {
			p.emitError(fmt.Errorf("peer: send %s: %w", name, err))
		}
	})
}

// makeRemoteProxy is the liven get function: it builds a local procedure
// that, when invoked, sends [key, ...args] back to the far side — the
// inverse of storeFunction/callbackTable.store on the sending side.
func (p *Peer) makeRemoteProxy(key uint32) wire.Proc {
	return wire.Proc(func(args []any) {
		msg := append([]any{int64(key)}, args...)
		if _, err := p.send(msg); err != nil {
			p.emitError(fmt.Errorf("peer: send callback %d: %w", key, err))
		}
	})
}

func (p *Peer) emitError(err error) {
	select {
	case p.errCh <- err:
	default:
	}
}

func toCallbackKey(v int64) (uint32, error) {
	if v < 0 || v > int64(^uint32(0)) {
		return 0, fmt.Errorf("callback key %d out of range", v)
	}
	return uint32(v), nil
}
