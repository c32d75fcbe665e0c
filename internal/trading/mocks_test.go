package trading

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"

	"futuresDesk/internal/domain"
	"futuresDesk/internal/ports"
	"futuresDesk/internal/risk"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// Mock implementations
type mockLogger struct {
	mu        sync.Mutex
	warnMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {}

func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnMsgs = append(m.warnMsgs, msg)
}

func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorMsgs = append(m.errorMsgs, msg)
}

// mockExchange simulates one account on the exchange. Market orders fill immediately at
// the mark price; everything else rests as NEW.
type mockExchange struct {
	mu           sync.Mutex
	nextID       int64
	mark         decimal.Decimal
	placed       []ports.OrderRequest
	resting      []int64
	canceled     []int64
	leverage     map[string]int
	reverseBatch bool
	placeErrs    map[domain.OrderType]error
	position     decimal.Decimal // net of market fills, long positive
	positionErr  error
}

func newMockExchange(mark string) *mockExchange {
	return &mockExchange{nextID: 100, mark: d(mark), leverage: map[string]int{}, placeErrs: map[domain.OrderType]error{}}
}

func (m *mockExchange) fill(req ports.OrderRequest) (*domain.OrderResult, error) {
	if err := m.placeErrs[req.Type]; err != nil {
		return nil, err
	}
	m.nextID++
	m.placed = append(m.placed, req)
	r := &domain.OrderResult{
		OrderID:       m.nextID,
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Status:        domain.StatusNew,
		OrigQty:       req.Quantity,
		Price:         req.Price,
		StopPrice:     req.StopPrice,
		ReduceOnly:    req.ReduceOnly,
	}
	if req.Type == domain.OrderTypeMarket {
		r.Status = domain.StatusFilled
		r.ExecutedQty = req.Quantity
		r.AvgPrice = m.mark
		if req.Side == domain.Buy {
			m.position = m.position.Add(req.Quantity)
		} else {
			m.position = m.position.Sub(req.Quantity)
		}
	} else {
		m.resting = append(m.resting, r.OrderID)
	}
	return r, nil
}

func (m *mockExchange) PlaceOrder(ctx context.Context, req ports.OrderRequest) (*domain.OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fill(req)
}

func (m *mockExchange) PlaceBatch(ctx context.Context, reqs []ports.OrderRequest) ([]ports.BatchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ports.BatchResult, len(reqs))
	for i, req := range reqs {
		r, err := m.fill(req)
		out[i] = ports.BatchResult{Order: r, Err: err}
	}
	if m.reverseBatch {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

func (m *mockExchange) CancelOrder(ctx context.Context, symbol string, orderID int64) (*domain.OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.canceled = append(m.canceled, orderID)
	return &domain.OrderResult{OrderID: orderID, Symbol: symbol, Status: domain.StatusCanceled}, nil
}

func (m *mockExchange) CancelBatch(ctx context.Context, symbol string, orderIDs []int64) ([]ports.BatchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ports.BatchResult, len(orderIDs))
	for i, id := range orderIDs {
		m.canceled = append(m.canceled, id)
		out[i] = ports.BatchResult{Order: &domain.OrderResult{OrderID: id, Symbol: symbol, Status: domain.StatusCanceled}}
	}
	return out, nil
}

func (m *mockExchange) OpenOrders(ctx context.Context, symbol string) ([]*domain.OrderResult, error) {
	return nil, nil
}

func (m *mockExchange) PositionAmount(ctx context.Context, symbol string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.position, m.positionErr
}

func (m *mockExchange) setPosition(amount string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.position = d(amount)
	m.positionErr = err
}

func (m *mockExchange) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leverage[symbol] = leverage
	return nil
}

func (m *mockExchange) MarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return m.mark, nil
}

func (m *mockExchange) CreateSessionKey(ctx context.Context) (string, error) { return "key", nil }
func (m *mockExchange) KeepAliveSessionKey(ctx context.Context, key string) error { return nil }
func (m *mockExchange) DeleteSessionKey(ctx context.Context, key string) error { return nil }

// placedOfType returns the submitted requests of typ, in submission order.
func (m *mockExchange) placedOfType(typ domain.OrderType) []ports.OrderRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ports.OrderRequest
	for _, r := range m.placed {
		if r.Type == typ {
			out = append(out, r)
		}
	}
	return out
}

// working returns the ids of resting orders never canceled, ascending.
func (m *mockExchange) working() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	gone := make(map[int64]bool, len(m.canceled))
	for _, id := range m.canceled {
		gone[id] = true
	}
	var out []int64
	for _, id := range m.resting {
		if !gone[id] {
			out = append(out, id)
		}
	}
	return out
}

func (m *mockExchange) wasCanceled(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.canceled {
		if c == id {
			return true
		}
	}
	return false
}

type mockProvider struct{ client *mockExchange }

func (p mockProvider) ForAccount(account domain.Account) ports.ExchangeClient { return p.client }

type mockSymbols map[string]*domain.SymbolInfo

func (m mockSymbols) SymbolInfo(ctx context.Context, symbol string) (*domain.SymbolInfo, error) {
	info, ok := m[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ports.ErrMissingSymbolInfo, symbol)
	}
	return info, nil
}

// mockTradeRepo stores trades serialized, so every read returns a fresh copy.
type mockTradeRepo struct {
	mu      sync.Mutex
	rows    map[string][]byte
	seq     int
	updates int
}

func newMockTradeRepo() *mockTradeRepo { return &mockTradeRepo{rows: map[string][]byte{}} }

func (m *mockTradeRepo) Save(ctx context.Context, t *domain.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t.ID = fmt.Sprintf("trade-%d", m.seq)
	t.Version = 1
	return m.store(t)
}

func (m *mockTradeRepo) store(t *domain.Trade) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return err
	}
	m.rows[t.ID] = raw
	return nil
}

func (m *mockTradeRepo) load(id string) *domain.Trade {
	raw, ok := m.rows[id]
	if !ok {
		return nil
	}
	var t domain.Trade
	if err := json.Unmarshal(raw, &t); err != nil {
		panic(err)
	}
	return &t
}

func (m *mockTradeRepo) Update(ctx context.Context, t *domain.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := m.load(t.ID)
	if stored == nil {
		return ports.ErrNotFound
	}
	if stored.Version != t.Version {
		return ports.ErrVersionConflict
	}
	t.Version++
	m.updates++
	return m.store(t)
}

func (m *mockTradeRepo) FindByID(ctx context.Context, id string) (*domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load(id), nil
}

func (m *mockTradeRepo) all() []*domain.Trade {
	ids := make([]string, 0, len(m.rows))
	for id := range m.rows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*domain.Trade, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.load(id))
	}
	return out
}

func (m *mockTradeRepo) FindOpenForAccount(ctx context.Context, accountID string) ([]*domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Trade
	for _, t := range m.all() {
		if !t.Closed && t.AccountID == accountID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *mockTradeRepo) FindOpenBySymbol(ctx context.Context, symbol string) ([]*domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Trade
	for _, t := range m.all() {
		if !t.Closed && t.Symbol() == symbol {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *mockTradeRepo) FindByFillEvent(ctx context.Context, orderID int64, accountID string) (*domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.all() {
		if t.AccountID != accountID {
			continue
		}
		for _, id := range t.OrderIDs() {
			if id == orderID {
				return t, nil
			}
		}
	}
	return nil, nil
}

type mockAccounts map[string]domain.Account

func (m mockAccounts) Accounts(ctx context.Context) ([]domain.Account, error) {
	var out []domain.Account
	for _, a := range m {
		out = append(out, a)
	}
	return out, nil
}

func (m mockAccounts) Account(ctx context.Context, id string) (domain.Account, error) {
	a, ok := m[id]
	if !ok {
		return domain.Account{}, fmt.Errorf("%w: account %s", ports.ErrNotFound, id)
	}
	return a, nil
}

type mockNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (m *mockNotifier) Notify(ctx context.Context, account domain.Account, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, message)
	return nil
}

func (m *mockNotifier) contains(substr string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}

// testEnv is an engine wired to mocks for one account trading TESTUSDT in whole units.
type testEnv struct {
	engine   *Engine
	exchange *mockExchange
	repo     *mockTradeRepo
	notifier *mockNotifier
	logger   *mockLogger
	account  domain.Account
}

func newTestEnv(t *testing.T, mark string) *testEnv {
	t.Helper()
	env := &testEnv{
		exchange: newMockExchange(mark),
		repo:     newMockTradeRepo(),
		notifier: &mockNotifier{},
		logger:   &mockLogger{},
		account:  domain.Account{ID: "acc1", BudgetUSDT: d("1000")},
	}
	symbols := mockSymbols{"TESTUSDT": {
		Symbol:      "TESTUSDT",
		MinQty:      d("1"),
		StepSize:    d("1"),
		TickSize:    d("0.01"),
		MinNotional: d("5"),
	}}
	rm := risk.NewRiskManager(risk.RiskConfig{MaxLeverage: 10, BudgetTolerancePercent: d("5")})

	engine, err := NewEngine(Config{}, mockProvider{env.exchange}, symbols, env.repo,
		mockAccounts{env.account.ID: env.account}, env.notifier, rm, env.logger)
	require.NoError(t, err)
	env.engine = engine
	return env
}

// variant is a BUY on TESTUSDT with entry zone 9.5-10.5, stop 9 and a ladder at 11, 12, ...
func variant(percents ...string) domain.TradeVariant {
	v := domain.TradeVariant{
		Side:        domain.Buy,
		Symbol:      "TESTUSDT",
		EntryFrom:   d("9.5"),
		EntryTo:     d("10.5"),
		StopLoss:    d("9"),
		LeverageMin: 1,
		LeverageMax: 1,
	}
	for i, p := range percents {
		v.TakeProfits = append(v.TakeProfits, &domain.TakeProfit{
			Index:        i,
			Price:        decimal.NewFromInt(int64(11 + i)),
			ClosePercent: d(p),
		})
	}
	return v
}

// fillEvent is what the listener hands over for a fully filled order.
func fillEvent(orderID int64, qty, price string) *domain.OrderResult {
	return &domain.OrderResult{
		OrderID:     orderID,
		Symbol:      "TESTUSDT",
		Status:      domain.StatusFilled,
		ExecutedQty: d(qty),
		AvgPrice:    d(price),
	}
}

// deliver loads the trade owning orderID and dispatches the event, as the listener does.
func (e *testEnv) deliver(t *testing.T, ev *domain.OrderResult) error {
	t.Helper()
	trade, err := e.repo.FindByFillEvent(context.Background(), ev.OrderID, e.account.ID)
	require.NoError(t, err)
	require.NotNil(t, trade, "no trade references order %d", ev.OrderID)
	return e.engine.Dispatch(context.Background(), e.account, trade, ev)
}

func (e *testEnv) reload(t *testing.T, id string) *domain.Trade {
	t.Helper()
	trade, err := e.repo.FindByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, trade)
	return trade
}
