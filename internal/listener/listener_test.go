package listener

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"futuresDesk/internal/domain"
	"futuresDesk/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLogger struct {
	mu        sync.Mutex
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {}

func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorMsgs = append(m.errorMsgs, fmt.Sprintf("%s: %v", msg, err))
}

func (m *mockLogger) errors() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.errorMsgs...)
}

type mockKeys struct {
	mu      sync.Mutex
	created int
	deleted []string
}

func (m *mockKeys) CreateSessionKey(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created++
	return fmt.Sprintf("key-%d", m.created), nil
}

func (m *mockKeys) KeepAliveSessionKey(ctx context.Context, key string) error { return nil }

func (m *mockKeys) DeleteSessionKey(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, key)
	return nil
}

func (m *mockKeys) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.created, len(m.deleted)
}

type fakeConn struct {
	frames chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case <-c.closed:
		return nil, errors.New("use of closed network connection")
	default:
	}
	select {
	case msg := <-c.frames:
		return msg, nil
	case <-c.closed:
		return nil, errors.New("use of closed network connection")
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

type mockDialer struct {
	conn *fakeConn
	err  error
}

func (m *mockDialer) UserStream(ctx context.Context, sessionKey string) (ports.StreamConn, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.conn, nil
}

func (m *mockDialer) MarkPriceStream(ctx context.Context, symbol string) (ports.StreamConn, error) {
	return nil, errors.New("not used")
}

// mockRepo serves trades keyed by the order ids they reference. hiddenLookups makes the
// first lookups miss, as when the fill outruns the save.
type mockRepo struct {
	mu            sync.Mutex
	trades        map[int64]*domain.Trade
	lookups       int
	hiddenLookups int
	reloads       int
}

func newMockRepo() *mockRepo { return &mockRepo{trades: map[int64]*domain.Trade{}} }

func (m *mockRepo) Save(ctx context.Context, t *domain.Trade) error { return nil }
func (m *mockRepo) Update(ctx context.Context, t *domain.Trade) error { return nil }

func (m *mockRepo) FindByID(ctx context.Context, id string) (*domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reloads++
	for _, t := range m.trades {
		if t.ID == id {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockRepo) FindOpenForAccount(ctx context.Context, accountID string) ([]*domain.Trade, error) {
	return nil, nil
}

func (m *mockRepo) FindOpenBySymbol(ctx context.Context, symbol string) ([]*domain.Trade, error) {
	return nil, nil
}

func (m *mockRepo) FindByFillEvent(ctx context.Context, orderID int64, accountID string) (*domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	if m.lookups <= m.hiddenLookups {
		return nil, nil
	}
	t, ok := m.trades[orderID]
	if !ok || t.AccountID != accountID {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

type mockDispatcher struct {
	mu        sync.Mutex
	calls     []int64
	conflicts int
}

func (m *mockDispatcher) Dispatch(ctx context.Context, account domain.Account, trade *domain.Trade, result *domain.OrderResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, result.OrderID)
	if m.conflicts > 0 {
		m.conflicts--
		return ports.ErrVersionConflict
	}
	return nil
}

func (m *mockDispatcher) dispatched() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.calls...)
}

type testEnv struct {
	listener   *Listener
	keys       *mockKeys
	conn       *fakeConn
	repo       *mockRepo
	dispatcher *mockDispatcher
	logger     *mockLogger
}

func newTestEnv(cfg Config) *testEnv {
	env := &testEnv{
		keys:       &mockKeys{},
		conn:       newFakeConn(),
		repo:       newMockRepo(),
		dispatcher: &mockDispatcher{},
		logger:     &mockLogger{},
	}
	env.repo.trades[42] = &domain.Trade{ID: "trade-1", AccountID: "acc1"}
	env.listener = New(domain.Account{ID: "acc1"}, env.keys, &mockDialer{conn: env.conn},
		env.repo, env.dispatcher, env.logger, cfg)
	return env
}

func filled(orderID int64) *OrderUpdate {
	return &OrderUpdate{
		ExecutionType: "TRADE",
		Order: &domain.OrderResult{
			OrderID: orderID,
			Symbol:  "BTCUSDT",
			Status:  domain.StatusFilled,
		},
	}
}

func orderFrame(orderID int64, execution, status string) []byte {
	return []byte(fmt.Sprintf(`{"e":"ORDER_TRADE_UPDATE","E":1700000000001,"T":1700000000000,"o":{"s":"BTCUSDT","c":"tp1_acc1_BTCUSDT_042","S":"SELL","o":"TAKE_PROFIT_MARKET","f":"GTC","q":"0.5","p":"0","ap":"70000.5","sp":"70000","x":%q,"X":%q,"i":%d,"l":"0.5","z":"0.5","L":"70000.5","T":1700000000000,"t":12345,"AP":"0","R":true}}`,
		execution, status, orderID))
}

func TestHandleOrderUpdate_UnmatchedFillIsNotFatal(t *testing.T) {
	env := newTestEnv(Config{LookupDeadline: -1})
	ctx := context.Background()

	err := env.listener.HandleOrderUpdate(ctx, filled(999))
	assert.ErrorIs(t, err, ports.ErrMatching)
	require.Len(t, env.logger.errors(), 1)
	assert.Contains(t, env.logger.errors()[0], "Unmatched fill event")

	require.NoError(t, env.listener.HandleOrderUpdate(ctx, filled(42)))
	assert.Equal(t, []int64{42}, env.dispatcher.dispatched())
}

func TestHandleOrderUpdate_IgnoresIncompleteUpdates(t *testing.T) {
	tests := []struct {
		name      string
		execution string
		status    domain.OrderStatus
	}{
		{"new order", "NEW", domain.StatusNew},
		{"partial fill", "TRADE", domain.StatusPartiallyFilled},
		{"canceled", "CANCELED", domain.StatusCanceled},
		{"expired", "EXPIRED", domain.StatusExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(Config{LookupDeadline: -1})
			u := filled(42)
			u.ExecutionType = tt.execution
			u.Order.Status = tt.status

			require.NoError(t, env.listener.HandleOrderUpdate(context.Background(), u))
			assert.Empty(t, env.dispatcher.dispatched())
			assert.Zero(t, env.repo.lookups)
		})
	}
}

func TestHandleOrderUpdate_SuppressesDuplicates(t *testing.T) {
	env := newTestEnv(Config{LookupDeadline: -1})
	ctx := context.Background()

	require.NoError(t, env.listener.HandleOrderUpdate(ctx, filled(42)))
	require.NoError(t, env.listener.HandleOrderUpdate(ctx, filled(42)))

	assert.Equal(t, []int64{42}, env.dispatcher.dispatched())
	assert.Equal(t, 1, env.repo.lookups)
}

func TestHandleOrderUpdate_WaitsForLateSave(t *testing.T) {
	env := newTestEnv(Config{LookupDeadline: time.Second})
	env.repo.hiddenLookups = 2

	require.NoError(t, env.listener.HandleOrderUpdate(context.Background(), filled(42)))
	assert.Equal(t, []int64{42}, env.dispatcher.dispatched())
	assert.Equal(t, 3, env.repo.lookups)
}

func TestHandleOrderUpdate_GivesUpAtDeadline(t *testing.T) {
	env := newTestEnv(Config{LookupDeadline: 60 * time.Millisecond})
	env.repo.hiddenLookups = 1000

	start := time.Now()
	err := env.listener.HandleOrderUpdate(context.Background(), filled(42))
	assert.ErrorIs(t, err, ports.ErrMatching)
	assert.Less(t, time.Since(start), time.Second)
	assert.Greater(t, env.repo.lookups, 1)
}

func TestHandleOrderUpdate_RetriesOnVersionConflict(t *testing.T) {
	t.Run("recovers", func(t *testing.T) {
		env := newTestEnv(Config{LookupDeadline: -1, UpdateRetries: 3})
		env.dispatcher.conflicts = 2

		require.NoError(t, env.listener.HandleOrderUpdate(context.Background(), filled(42)))
		assert.Equal(t, []int64{42, 42, 42}, env.dispatcher.dispatched())
		assert.Equal(t, 2, env.repo.reloads)
	})

	t.Run("exhausts retries", func(t *testing.T) {
		env := newTestEnv(Config{LookupDeadline: -1, UpdateRetries: 1})
		env.dispatcher.conflicts = 5

		err := env.listener.HandleOrderUpdate(context.Background(), filled(42))
		assert.ErrorIs(t, err, ports.ErrVersionConflict)
		assert.Len(t, env.dispatcher.dispatched(), 2)
	})
}

func TestListener_StreamLifecycle(t *testing.T) {
	env := newTestEnv(Config{LookupDeadline: -1})
	ctx := context.Background()

	require.NoError(t, env.listener.Start(ctx))
	require.NoError(t, env.listener.Start(ctx))
	created, _ := env.keys.counts()
	assert.Equal(t, 1, created, "second Start must not open another session")
	assert.True(t, env.listener.Running())

	env.conn.frames <- []byte(`not json`)
	env.conn.frames <- orderFrame(999, "TRADE", "FILLED")
	env.conn.frames <- orderFrame(42, "NEW", "NEW")
	env.conn.frames <- orderFrame(42, "TRADE", "FILLED")

	require.Eventually(t, func() bool { return len(env.dispatcher.dispatched()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int64{42}, env.dispatcher.dispatched())

	env.conn.frames <- []byte(`{"e":"listenKeyExpired","E":1700000000002}`)
	require.Eventually(t, func() bool { return !env.listener.Running() }, time.Second, 5*time.Millisecond)

	_, deleted := env.keys.counts()
	assert.Zero(t, deleted, "an expired key is not deleted")
}

func TestListener_StopDeletesKey(t *testing.T) {
	env := newTestEnv(Config{LookupDeadline: -1})
	ctx := context.Background()

	require.NoError(t, env.listener.Start(ctx))
	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, env.listener.Stop(stopCtx))

	assert.False(t, env.listener.Running())
	_, deleted := env.keys.counts()
	assert.Equal(t, 1, deleted)

	// stopping again is harmless
	require.NoError(t, env.listener.Stop(stopCtx))
}

func TestListener_ReadFailureDeletesKey(t *testing.T) {
	env := newTestEnv(Config{LookupDeadline: -1})
	require.NoError(t, env.listener.Start(context.Background()))

	require.NoError(t, env.conn.Close())
	require.Eventually(t, func() bool { return !env.listener.Running() }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		_, deleted := env.keys.counts()
		return deleted == 1
	}, time.Second, 5*time.Millisecond)
}

func TestListener_DialFailureReleasesKey(t *testing.T) {
	env := newTestEnv(Config{})
	env.listener.dialer = &mockDialer{err: ports.ErrConnectionFailed}

	err := env.listener.Start(context.Background())
	assert.ErrorIs(t, err, ports.ErrConnectionFailed)
	assert.False(t, env.listener.Running())
	created, deleted := env.keys.counts()
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, deleted)
}
