package trading

import (
	"context"
	"sort"
	"strings"
	"testing"

	"futuresDesk/internal/domain"
	"futuresDesk/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertDec(t *testing.T, want string, got interface{ String() string }) {
	t.Helper()
	assert.Equal(t, d(want).String(), got.String())
}

func openMarketTrade(t *testing.T, env *testEnv, percents ...string) *domain.Trade {
	t.Helper()
	trade, err := env.engine.OpenTrade(context.Background(), env.account.ID, variant(percents...))
	require.NoError(t, err)
	require.NotNil(t, trade)
	require.Equal(t, domain.EntryPathMarket, trade.EntryPath)
	return env.reload(t, trade.ID)
}

func TestOpenTradeMarketEntry(t *testing.T) {
	env := newTestEnv(t, "10")
	trade := openMarketTrade(t, env, "50", "50")

	require.True(t, trade.Entry.IsFilled())
	assertDec(t, "100", trade.Entry.ExecutedQty)
	assert.Equal(t, 1, env.exchange.leverage["TESTUSDT"])

	require.NotNil(t, trade.StopLoss)
	assert.Equal(t, domain.OrderTypeStopMarket, trade.StopLoss.Type)
	assertDec(t, "9", trade.StopLoss.StopPrice)
	assertDec(t, "100", trade.StopLoss.OrigQty)
	assert.True(t, trade.StopLoss.ReduceOnly)

	tps := trade.Variant.SortedTakeProfits()
	assertDec(t, "50", tps[0].Quantity)
	assertDec(t, "50", tps[1].Quantity)
	require.True(t, tps[0].Result.IsOpen())
	assert.Nil(t, tps[1].Result, "only one take-profit is working at a time")

	role, err := domain.DecodeRole(tps[0].Result.ClientOrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.TakeProfitRole(1), role)

	role, err = domain.DecodeRole(trade.Entry.ClientOrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.EntryMarketRole(), role)
}

// Entry 100 with a 50/50 ladder: the first fill moves the stop to entry and opens rung 2,
// the second closes the trade and cancels the stop.
func TestTakeProfitLadderWalk(t *testing.T) {
	env := newTestEnv(t, "10")
	trade := openMarketTrade(t, env, "50", "50")
	firstStop := trade.StopLoss.OrderID
	tp1 := trade.Variant.SortedTakeProfits()[0].Result.OrderID

	require.NoError(t, env.deliver(t, fillEvent(tp1, "50", "11")))

	trade = env.reload(t, trade.ID)
	assert.False(t, trade.Closed)
	assert.True(t, env.exchange.wasCanceled(firstStop))
	require.True(t, trade.StopLoss.IsOpen())
	assertDec(t, "10", trade.StopLoss.StopPrice)
	assertDec(t, "50", trade.StopLoss.OrigQty)

	tps := trade.Variant.SortedTakeProfits()
	assert.True(t, tps[0].Result.IsFilled())
	require.True(t, tps[1].Result.IsOpen())
	assertDec(t, "50", tps[1].Result.OrigQty)
	assertDec(t, "12", tps[1].Result.StopPrice)

	secondStop := trade.StopLoss.OrderID
	require.NoError(t, env.deliver(t, fillEvent(tps[1].Result.OrderID, "50", "12")))

	trade = env.reload(t, trade.ID)
	assert.True(t, trade.Closed)
	assert.Equal(t, domain.CloseReasonTakeProfit, trade.CloseReason)
	assert.True(t, env.exchange.wasCanceled(secondStop))
	assert.False(t, trade.StopLoss.IsOpen())
	assert.True(t, env.notifier.contains("closed (TP)"))

	tc := domain.NewTradeContext(trade, env.account)
	assert.True(t, tc.FullyRealized())
	assert.True(t, tc.FilledTakeProfitQuantity().LessThanOrEqual(tc.FilledQuantity()))
}

// A stop fill while a take-profit (30 of 100) still works closes that rung and the trade.
func TestStopLossFillClosesTrade(t *testing.T) {
	env := newTestEnv(t, "10")
	trade := openMarketTrade(t, env, "30", "70")
	tp1 := trade.Variant.SortedTakeProfits()[0]
	assertDec(t, "30", tp1.Result.OrigQty)

	require.NoError(t, env.deliver(t, fillEvent(trade.StopLoss.OrderID, "100", "9")))

	trade = env.reload(t, trade.ID)
	assert.True(t, trade.Closed)
	assert.Equal(t, domain.CloseReasonStopLoss, trade.CloseReason)
	assert.True(t, env.exchange.wasCanceled(tp1.Result.OrderID))

	tc := domain.NewTradeContext(trade, env.account)
	assert.Empty(t, tc.OpenOrders(), "no straddle state survives a stop fill")
}

func TestDispatchIsIdempotentPerSlot(t *testing.T) {
	env := newTestEnv(t, "10")
	trade := openMarketTrade(t, env, "50", "50")
	tp1 := trade.Variant.SortedTakeProfits()[0].Result.OrderID

	require.NoError(t, env.deliver(t, fillEvent(tp1, "50", "11")))
	stops := len(env.exchange.placedOfType(domain.OrderTypeStopMarket))
	version := env.reload(t, trade.ID).Version

	require.NoError(t, env.deliver(t, fillEvent(tp1, "50", "11")))
	assert.Len(t, env.exchange.placedOfType(domain.OrderTypeStopMarket), stops)
	assert.Equal(t, version, env.reload(t, trade.ID).Version, "a repeated fill is not persisted again")
}

func TestDispatchUnmatchedOrder(t *testing.T) {
	env := newTestEnv(t, "10")
	trade := openMarketTrade(t, env, "100")
	updates := env.repo.updates

	err := env.engine.Dispatch(context.Background(), env.account, trade, fillEvent(999, "1", "10"))
	assert.ErrorIs(t, err, ports.ErrMatching)
	assert.Equal(t, updates, env.repo.updates)
	assert.Equal(t, trade.Version, env.reload(t, trade.ID).Version)
}

func TestDispatchStaleCopyReportsConflict(t *testing.T) {
	env := newTestEnv(t, "10")
	trade := openMarketTrade(t, env, "50", "50")
	stale := env.reload(t, trade.ID)
	tp1 := trade.Variant.SortedTakeProfits()[0].Result.OrderID

	require.NoError(t, env.engine.Dispatch(context.Background(), env.account, trade, fillEvent(tp1, "50", "11")))

	err := env.engine.Dispatch(context.Background(), env.account, stale, fillEvent(stale.StopLoss.OrderID, "100", "9"))
	assert.ErrorIs(t, err, ports.ErrVersionConflict)
}

// A fill dispatched on a copy that lost the update race must not leave orders behind:
// after the retry on the reloaded trade, the exchange holds exactly the orders the trade tracks.
func TestDispatchConflictWithdrawsStaleOrders(t *testing.T) {
	env := newTestEnv(t, "10")
	trade := openMarketTrade(t, env, "50", "50")
	tp1 := trade.Variant.SortedTakeProfits()[0].Result.OrderID

	bumped := env.reload(t, trade.ID)
	bumped.AddLog("operator note")
	require.NoError(t, env.repo.Update(context.Background(), bumped))

	err := env.engine.Dispatch(context.Background(), env.account, trade, fillEvent(tp1, "50", "11"))
	require.ErrorIs(t, err, ports.ErrVersionConflict)
	assert.Contains(t, env.logger.warnMsgs, "Guard.withdraw: Trade changed concurrently, canceling orders placed on the stale copy")

	// the listener reloads and dispatches again
	require.NoError(t, env.deliver(t, fillEvent(tp1, "50", "11")))

	trade = env.reload(t, trade.ID)
	tc := domain.NewTradeContext(trade, env.account)
	var tracked []int64
	for _, r := range tc.OpenOrders() {
		tracked = append(tracked, r.OrderID)
	}
	sort.Slice(tracked, func(i, j int) bool { return tracked[i] < tracked[j] })
	var working []int64
	for _, id := range env.exchange.working() {
		if id != tp1 { // filled by the event, the mock only learns about cancels
			working = append(working, id)
		}
	}
	assert.Equal(t, tracked, working)
	assert.Len(t, tracked, 2, "one stop-loss and one take-profit")
	require.True(t, trade.StopLoss.IsOpen())
	assertDec(t, "10", trade.StopLoss.StopPrice)
	assert.True(t, trade.Variant.SortedTakeProfits()[1].Result.IsOpen())
}

func TestLimitLadderFlow(t *testing.T) {
	env := newTestEnv(t, "12") // above the 9.5-10.5 zone
	opened, err := env.engine.OpenTrade(context.Background(), env.account.ID, variant("50", "50"))
	require.NoError(t, err)
	assert.Equal(t, domain.EntryPathLimit, opened.EntryPath)

	trade := env.reload(t, opened.ID)
	rungs := trade.Variant.SortedLimitOrders()
	require.Len(t, rungs, 2)
	assertDec(t, "53", rungs[0].Quantity)
	assertDec(t, "48", rungs[1].Quantity)
	require.True(t, rungs[0].Result.IsOpen())
	require.True(t, rungs[1].Result.IsOpen())
	assert.Equal(t, domain.OrderTypeLimit, rungs[0].Result.Type)
	assert.Nil(t, trade.StopLoss)

	// batch responses come back in a different order than submitted
	env.exchange.reverseBatch = true
	require.NoError(t, env.deliver(t, fillEvent(rungs[0].Result.OrderID, "53", "9.5")))

	trade = env.reload(t, trade.ID)
	rungs = trade.Variant.SortedLimitOrders()
	assert.True(t, env.exchange.wasCanceled(rungs[1].Result.OrderID))
	assert.Equal(t, domain.StatusCanceled, rungs[1].Result.Status)

	require.NotNil(t, trade.StopLoss)
	assert.Equal(t, domain.OrderTypeStopMarket, trade.StopLoss.Type)
	assertDec(t, "53", trade.StopLoss.OrigQty)
	assertDec(t, "9", trade.StopLoss.StopPrice)

	tps := trade.Variant.SortedTakeProfits()
	require.NotNil(t, tps[0].Result)
	assert.Equal(t, domain.OrderTypeTakeProfitMarket, tps[0].Result.Type)
	assertDec(t, "27", tps[0].Result.OrigQty)
	assertDec(t, "26", tps[1].Quantity)
	assert.Nil(t, tps[1].Result)
}

func TestTakeSomeProfitWithLadder(t *testing.T) {
	env := newTestEnv(t, "10")
	trade := openMarketTrade(t, env, "50", "50")
	pending := trade.Variant.SortedTakeProfits()[0].Result.OrderID

	require.NoError(t, env.engine.TakeSomeProfit(context.Background(), trade.ID))

	trade = env.reload(t, trade.ID)
	assert.True(t, env.exchange.wasCanceled(pending))

	markets := env.exchange.placedOfType(domain.OrderTypeMarket)
	require.Len(t, markets, 2)
	manual := markets[1]
	assert.True(t, manual.ReduceOnly)
	assert.Equal(t, domain.Sell, manual.Side)
	assertDec(t, "50", manual.Quantity)
	assert.True(t, strings.HasPrefix(manual.ClientOrderID, "mc_"))

	tps := trade.Variant.SortedTakeProfits()
	assert.True(t, tps[0].Manual)
	assert.True(t, tps[0].Result.IsFilled())
	require.True(t, tps[1].Result.IsOpen(), "next rung opens after the manual close")
	assertDec(t, "10", trade.StopLoss.StopPrice)
	assertDec(t, "50", trade.StopLoss.OrigQty)
	assert.False(t, trade.Closed)
}

func TestTakeSomeProfitWithoutLadder(t *testing.T) {
	env := newTestEnv(t, "10")
	trade := openMarketTrade(t, env)

	require.NoError(t, env.engine.TakeSomeProfit(context.Background(), trade.ID))

	trade = env.reload(t, trade.ID)
	require.Len(t, trade.Variant.TakeProfits, 1)
	manual := trade.Variant.TakeProfits[0]
	assert.True(t, manual.Manual)
	assertDec(t, "34", manual.Quantity)

	tc := domain.NewTradeContext(trade, env.account)
	assertDec(t, "66", tc.RemainingQuantity())
	assertDec(t, "66", trade.StopLoss.OrigQty)
}

func TestCloseTrade(t *testing.T) {
	env := newTestEnv(t, "10")
	trade := openMarketTrade(t, env, "50", "50")
	stop := trade.StopLoss.OrderID
	tp1 := trade.Variant.SortedTakeProfits()[0].Result.OrderID

	require.NoError(t, env.engine.CloseTrade(context.Background(), trade.ID, domain.CloseReasonManual))

	trade = env.reload(t, trade.ID)
	assert.True(t, trade.Closed)
	assert.Equal(t, domain.CloseReasonManual, trade.CloseReason)
	assert.True(t, env.exchange.wasCanceled(stop))
	assert.True(t, env.exchange.wasCanceled(tp1))
	assert.Equal(t, domain.StatusClosedManually, trade.StopLoss.Status)
	require.NotNil(t, trade.ManualClose)
	assertDec(t, "100", trade.ManualClose.OrigQty)
	assert.True(t, trade.ManualClose.ReduceOnly)

	placed := len(env.exchange.placedOfType(domain.OrderTypeMarket))
	require.NoError(t, env.engine.CloseTrade(context.Background(), trade.ID, domain.CloseReasonManual))
	assert.Len(t, env.exchange.placedOfType(domain.OrderTypeMarket), placed, "closing twice is a no-op")
}

func TestCloseTradeSizesFromPosition(t *testing.T) {
	tests := []struct {
		name        string
		position    string
		positionErr error
		wantQty     string // empty when no closing order goes out
	}{
		{"position covers the trade", "100", nil, "100"},
		{"position shared with another trade", "250", nil, "100"},
		{"position partly gone", "40", nil, "40"},
		{"flat", "0", nil, ""},
		{"opposite direction", "-30", nil, ""},
		{"position unavailable", "0", ports.ErrExchangeUnavailable, "100"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, "10")
			trade := openMarketTrade(t, env, "50", "50")
			env.exchange.setPosition(tt.position, tt.positionErr)

			require.NoError(t, env.engine.CloseTrade(context.Background(), trade.ID, domain.CloseReasonAutoClose))

			trade = env.reload(t, trade.ID)
			assert.True(t, trade.Closed)
			assert.Equal(t, domain.CloseReasonAutoClose, trade.CloseReason)
			markets := env.exchange.placedOfType(domain.OrderTypeMarket)
			if tt.wantQty == "" {
				assert.Nil(t, trade.ManualClose)
				assert.Len(t, markets, 1, "only the entry went out at market")
				return
			}
			require.NotNil(t, trade.ManualClose)
			assertDec(t, tt.wantQty, trade.ManualClose.OrigQty)
			require.Len(t, markets, 2)
			assert.Equal(t, domain.Sell, markets[1].Side)
		})
	}
}

func TestOpenTradeFailurePersistsAuditLog(t *testing.T) {
	env := newTestEnv(t, "10")
	env.exchange.placeErrs[domain.OrderTypeStopMarket] = ports.ErrOrderPlacementFailed

	trade, err := env.engine.OpenTrade(context.Background(), env.account.ID, variant("100"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrOrderPlacementFailed)
	require.NotNil(t, trade)

	stored := env.reload(t, trade.ID)
	assert.True(t, stored.HasError)
	assert.True(t, stored.Entry.IsFilled(), "state mutated before the failure is kept")
	require.NotEmpty(t, stored.Log)
	assert.Equal(t, "error", stored.Log[len(stored.Log)-1].Level)
	assert.True(t, env.notifier.contains("OpenTrade failed"))
}

func TestOpenTradeRejectsUnknownAccount(t *testing.T) {
	env := newTestEnv(t, "10")
	_, err := env.engine.OpenTrade(context.Background(), "nobody", variant("100"))
	assert.ErrorIs(t, err, ports.ErrNotFound)
}
