package binanceclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"futuresDesk/internal/domain"
	"futuresDesk/internal/ports"

	"github.com/patrickmn/go-cache"
)

// DefaultSymbolTTL is how long exchange filters are trusted before being fetched again.
const DefaultSymbolTTL = 6 * time.Hour

// ExchangeInfo fetches the filters of every listed symbol.
func (c *Client) ExchangeInfo(ctx context.Context) ([]*domain.SymbolInfo, error) {
	op := "ExchangeInfo"
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}
	info, err := c.futuresClient.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	out := make([]*domain.SymbolInfo, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		out = append(out, fromSymbol(s))
	}
	return out, nil
}

// SymbolCache implements ports.SymbolInfoProvider on top of the exchange info endpoint.
// A miss reloads the whole listing once; symbols still missing afterwards are an error.
type SymbolCache struct {
	client *Client
	cache  *cache.Cache
	mu     sync.Mutex
}

// NewSymbolCache creates a SymbolCache. A non-positive ttl selects DefaultSymbolTTL.
func NewSymbolCache(client *Client, ttl time.Duration) *SymbolCache {
	if ttl <= 0 {
		ttl = DefaultSymbolTTL
	}
	return &SymbolCache{client: client, cache: cache.New(ttl, ttl*2)}
}

func (s *SymbolCache) get(symbol string) (*domain.SymbolInfo, bool) {
	v, ok := s.cache.Get(symbol)
	if !ok {
		return nil, false
	}
	info := *v.(*domain.SymbolInfo)
	return &info, true
}

// SymbolInfo returns the filters for symbol.
func (s *SymbolCache) SymbolInfo(ctx context.Context, symbol string) (*domain.SymbolInfo, error) {
	if info, ok := s.get(symbol); ok {
		return info, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if info, ok := s.get(symbol); ok {
		return info, nil
	}
	if err := s.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("%w: load exchange info: %w", ports.ErrMissingSymbolInfo, err)
	}
	info, ok := s.get(symbol)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not listed", ports.ErrMissingSymbolInfo, symbol)
	}
	if !info.Valid() {
		return nil, fmt.Errorf("%w: %s has incomplete filters", ports.ErrMissingSymbolInfo, symbol)
	}
	return info, nil
}

// Refresh reloads every symbol's filters.
func (s *SymbolCache) Refresh(ctx context.Context) error {
	infos, err := s.client.ExchangeInfo(ctx)
	if err != nil {
		return err
	}
	for _, info := range infos {
		s.cache.SetDefault(info.Symbol, info)
	}
	s.client.logger.Debug(ctx, "SymbolCache.Refresh: Exchange info loaded", map[string]interface{}{"symbols": len(infos)})
	return nil
}
