package binanceclient

import (
	"fmt"

	"futuresDesk/internal/domain"
	"futuresDesk/internal/ports"
	"futuresDesk/internal/registry"
)

const publicKey = ""

// Provider hands out one Client per account, created on first use.
type Provider struct {
	base    Config
	clients *registry.Registry[string, *Client]
}

// NewProvider creates a Provider. base supplies everything but the credentials.
func NewProvider(base Config) (*Provider, error) {
	if base.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client provider")
	}
	base.APIKey, base.SecretKey = "", ""
	return &Provider{base: base, clients: registry.New[string, *Client]()}, nil
}

func (p *Provider) client(id string, build func() Config) *Client {
	if c, ok := p.clients.Get(id); ok {
		return c
	}
	c, _ := p.clients.Add(id, newClient(build()))
	return c
}

// ForAccount returns the client bound to account's API keys.
func (p *Provider) ForAccount(account domain.Account) ports.ExchangeClient {
	return p.client(account.ID, func() Config {
		cfg := p.base
		cfg.APIKey = account.APIKey
		cfg.SecretKey = account.SecretKey
		cfg.AccountID = account.ID
		return cfg
	})
}

// Public returns a client without credentials, for exchange info and mark prices.
func (p *Provider) Public() *Client {
	return p.client(publicKey, func() Config {
		cfg := p.base
		cfg.AccountID = "public"
		return cfg
	})
}
