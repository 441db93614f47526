package rpc

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

// Conn pairs a provider with its request client.
type Conn struct {
	Provider Provider
	Client   *Client
}

// Manager owns one request client per reachable provider. The first
// provider whose handshake succeeds becomes primary and serves the calls
// that do not need per-provider fan-out.
type Manager struct {
	conns   []*Conn
	primary *Conn
}

// NewManager validates each provider with a getSlot probe. Individual
// failures are non-fatal; the manager errors only when no provider at
// all is reachable.
func NewManager(reg *Registry, timeout time.Duration) (*Manager, error) {
	m := &Manager{}

	var errs error

	for _, p := range reg.Providers() {
		client := NewClient(p.RequestURL, timeout)

		if _, err := client.GetSlot(); err != nil {
			zap.S().Warnw("provider handshake failed",
				"provider", p.Name,
				"error", err,
			)
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", p.Name, err))
			continue
		}

		conn := &Conn{Provider: p, Client: client}
		m.conns = append(m.conns, conn)
		if m.primary == nil {
			m.primary = conn
		}

		zap.S().Infow("provider connected", "provider", p.Name, "url", p.RequestURL)
	}

	if len(m.conns) == 0 {
		if errs == nil {
			errs = fmt.Errorf("no providers configured for network %q", reg.Network())
		}
		return nil, multierror.Append(fmt.Errorf("no providers reachable"), errs)
	}

	return m, nil
}

func (m *Manager) Conns() []*Conn {
	return m.conns
}

// Primary is the connection used for queries that do not fan out per
// provider, such as protocol collection.
func (m *Manager) Primary() *Conn {
	return m.primary
}
