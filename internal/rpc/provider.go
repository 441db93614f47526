package rpc

import (
	"github.com/solforge/netmon/internal/configure"
	"go.uber.org/zap"
)

// Provider is a redundant RPC endpoint pair resolved for one target
// network. Immutable after registry construction.
type Provider struct {
	Name          string `json:"name"`
	RequestURL    string `json:"request_url"`
	StreamURL     string `json:"stream_url"`
	RateLimitHint int    `json:"rate_limit_hint"`
}

type Registry struct {
	network   string
	providers []Provider
}

// NewRegistry resolves the configured providers against the selected
// network. A provider without a request URL for the network is skipped;
// a missing stream URL only disables its streaming subscription.
func NewRegistry(providers []configure.Provider, network string) *Registry {
	r := &Registry{network: network}

	for _, p := range providers {
		requestURL := p.RPC[network]
		if requestURL == "" {
			zap.S().Infow("provider has no request url for network, skipping",
				"provider", p.Name,
				"network", network,
			)
			continue
		}

		r.providers = append(r.providers, Provider{
			Name:          p.Name,
			RequestURL:    requestURL,
			StreamURL:     p.WS[network],
			RateLimitHint: p.RateLimitHint,
		})
	}

	return r
}

func (r *Registry) Network() string {
	return r.network
}

func (r *Registry) Providers() []Provider {
	return r.providers
}
