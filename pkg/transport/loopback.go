package transport

import (
	"context"
	"fmt"
	"sync"
)

// Network is an in-process message fabric. Each endpoint delivers its
// inbound messages in order on a dedicated goroutine.
type Network struct {
	mu        sync.RWMutex
	endpoints map[string]*Loopback
	filter    func(from, to string, data []byte) bool
}

// NewNetwork creates an empty network.
func NewNetwork() *Network {
	return &Network{endpoints: make(map[string]*Loopback)}
}

// SetFilter installs a hook that can drop messages by returning false.
func (n *Network) SetFilter(f func(from, to string, data []byte) bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.filter = f
}

// Endpoint attaches a new transport bound to address.
func (n *Network) Endpoint(address string) (*Loopback, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.endpoints[address]; ok {
		return nil, fmt.Errorf("endpoint %q already attached", address)
	}
	l := &Loopback{
		network: n,
		address: address,
		inbox:   make(chan []byte, 1024),
		done:    make(chan struct{}),
	}
	n.endpoints[address] = l
	return l, nil
}

func (n *Network) deliver(ctx context.Context, from, to string, data []byte) error {
	n.mu.RLock()
	dst, ok := n.endpoints[to]
	filter := n.filter
	n.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEndpoint, to)
	}
	if filter != nil && !filter(from, to, data) {
		return nil
	}

	msg := append([]byte(nil), data...)
	select {
	case dst.inbox <- msg:
		return nil
	case <-dst.done:
		return fmt.Errorf("%w: %s", ErrClosed, to)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *Network) detach(address string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.endpoints, address)
}

// Loopback is a Transport on a Network.
type Loopback struct {
	network *Network
	address string
	inbox   chan []byte

	mu        sync.Mutex
	handler   Handler
	closeOnce sync.Once
	done      chan struct{}
}

// Address returns the bound endpoint.
func (l *Loopback) Address() string {
	return l.address
}

// SendTo delivers data to endpoint on the same network.
func (l *Loopback) SendTo(ctx context.Context, endpoint string, data []byte) error {
	select {
	case <-l.done:
		return ErrClosed
	default:
	}
	return l.network.deliver(ctx, l.address, endpoint, data)
}

// Subscribe starts delivering inbound messages to h.
func (l *Loopback) Subscribe(h Handler) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.handler != nil {
		return ErrAlreadySubscribed
	}
	l.handler = h
	go l.loop(h)
	return nil
}

func (l *Loopback) loop(h Handler) {
	ctx := context.Background()
	for {
		select {
		case <-l.done:
			return
		case msg := <-l.inbox:
			h(ctx, msg)
		}
	}
}

// Close detaches the endpoint and stops delivery.
func (l *Loopback) Close() error {
	l.closeOnce.Do(func() {
		l.network.detach(l.address)
		close(l.done)
	})
	return nil
}
