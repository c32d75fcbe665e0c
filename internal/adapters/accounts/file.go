package accounts

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"futuresDesk/internal/domain"
	"futuresDesk/internal/ports"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// fileAccount is one entry of the accounts file. Credential values may reference
// environment variables as ${NAME}.
type fileAccount struct {
	ID         string `yaml:"id"`
	APIKey     string `yaml:"api_key"`
	SecretKey  string `yaml:"secret_key"`
	ChatID     int64  `yaml:"telegram_chat_id"`
	BudgetUSDT string `yaml:"budget_usdt"`
	Disabled   bool   `yaml:"disabled"`
}

type fileLayout struct {
	Accounts []fileAccount `yaml:"accounts"`
}

// FileSource implements ports.AccountSource from a YAML file.
type FileSource struct {
	path     string
	mu       sync.RWMutex
	accounts []domain.Account
}

// NewFileSource loads path and returns the source.
func NewFileSource(path string) (*FileSource, error) {
	s := &FileSource{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the file. On error the previously loaded accounts stay in place.
func (s *FileSource) Reload() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("%w: read accounts file %s: %w", ports.ErrConfiguration, s.path, err)
	}
	accounts, err := Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", s.path, err)
	}
	s.mu.Lock()
	s.accounts = accounts
	s.mu.Unlock()
	return nil
}

// Parse decodes an accounts document, skipping disabled entries.
func Parse(raw []byte) ([]domain.Account, error) {
	var layout fileLayout
	if err := yaml.Unmarshal(raw, &layout); err != nil {
		return nil, fmt.Errorf("%w: decode accounts: %w", ports.ErrConfiguration, err)
	}

	var errs []string
	seen := make(map[string]bool)
	out := make([]domain.Account, 0, len(layout.Accounts))
	for i, fa := range layout.Accounts {
		if fa.Disabled {
			continue
		}
		acc := domain.Account{
			ID:        strings.TrimSpace(fa.ID),
			APIKey:    os.ExpandEnv(fa.APIKey),
			SecretKey: os.ExpandEnv(fa.SecretKey),
			ChatID:    fa.ChatID,
		}
		switch {
		case acc.ID == "":
			errs = append(errs, fmt.Sprintf("account #%d has no id", i+1))
			continue
		case seen[acc.ID]:
			errs = append(errs, fmt.Sprintf("account %s is listed twice", acc.ID))
			continue
		}
		seen[acc.ID] = true
		if acc.APIKey == "" || acc.SecretKey == "" {
			errs = append(errs, fmt.Sprintf("account %s is missing API credentials", acc.ID))
		}
		if fa.BudgetUSDT != "" {
			budget, err := decimal.NewFromString(fa.BudgetUSDT)
			if err != nil || budget.IsNegative() {
				errs = append(errs, fmt.Sprintf("account %s has invalid budget_usdt %q", acc.ID, fa.BudgetUSDT))
			}
			acc.BudgetUSDT = budget
		}
		out = append(out, acc)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ports.ErrConfiguration, strings.Join(errs, "; "))
	}
	return out, nil
}

// Accounts returns every enabled account.
func (s *FileSource) Accounts(ctx context.Context) ([]domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Account, len(s.accounts))
	copy(out, s.accounts)
	return out, nil
}

// Account returns the account with id, or ErrNotFound.
func (s *FileSource) Account(ctx context.Context, id string) (domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, acc := range s.accounts {
		if acc.ID == id {
			return acc, nil
		}
	}
	return domain.Account{}, fmt.Errorf("account %s: %w", id, ports.ErrNotFound)
}
