package ledger_test

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ksred/payrelay/internal/database"
	"github.com/ksred/payrelay/internal/ledger"
	"github.com/ksred/payrelay/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOrder(localID, gatewayID string) *types.Order {
	now := time.Now().UTC().Truncate(time.Second)
	return &types.Order{
		LocalOrderID:   localID,
		GatewayOrderID: gatewayID,
		ClientID:       "client-1",
		Amount:         decimal.RequireFromString("100.00"),
		Currency:       types.CurrencyINR,
		Receipt:        localID,
		Status:         types.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func backends() map[string]func(t *testing.T) ledger.Ledger {
	return map[string]func(t *testing.T) ledger.Ledger{
		"memory": func(t *testing.T) ledger.Ledger {
			return ledger.NewMemoryLedger()
		},
		"sqlite": func(t *testing.T) ledger.Ledger {
			db, err := database.NewDatabase(filepath.Join(t.TempDir(), "ledger.db"))
			require.NoError(t, err)
			return ledger.NewDatabaseLedger(db)
		},
	}
}

func TestLedger(t *testing.T) {
	for name, newLedger := range backends() {
		t.Run(name, func(t *testing.T) {
			t.Run("put and get by both ids", func(t *testing.T) {
				l := newLedger(t)
				order := newOrder("local-1", "order_abc")
				require.NoError(t, l.Put(order))

				byLocal, err := l.GetByLocalID("local-1")
				require.NoError(t, err)
				byGateway, err := l.GetByGatewayID("order_abc")
				require.NoError(t, err)

				for _, got := range []*types.Order{byLocal, byGateway} {
					assert.Equal(t, order.LocalOrderID, got.LocalOrderID)
					assert.Equal(t, order.GatewayOrderID, got.GatewayOrderID)
					assert.Equal(t, order.ClientID, got.ClientID)
					assert.True(t, order.Amount.Equal(got.Amount), "amount %s", got.Amount)
					assert.Equal(t, order.Currency, got.Currency)
					assert.Equal(t, order.Receipt, got.Receipt)
					assert.Equal(t, types.StatusPending, got.Status)
					assert.True(t, order.CreatedAt.Equal(got.CreatedAt))
				}
			})

			t.Run("unknown ids are not found", func(t *testing.T) {
				l := newLedger(t)
				require.NoError(t, l.Put(newOrder("local-1", "order_abc")))

				_, err := l.GetByLocalID("missing")
				assert.ErrorIs(t, err, ledger.ErrNotFound)
				_, err = l.GetByGatewayID("order_missing")
				assert.ErrorIs(t, err, ledger.ErrNotFound)
			})

			t.Run("duplicate local id is rejected", func(t *testing.T) {
				l := newLedger(t)
				require.NoError(t, l.Put(newOrder("local-1", "order_abc")))

				err := l.Put(newOrder("local-1", "order_def"))
				assert.ErrorIs(t, err, ledger.ErrDuplicateKey)

				_, err = l.GetByGatewayID("order_def")
				assert.ErrorIs(t, err, ledger.ErrNotFound)
			})

			t.Run("duplicate gateway id is rejected", func(t *testing.T) {
				l := newLedger(t)
				require.NoError(t, l.Put(newOrder("local-1", "order_abc")))

				err := l.Put(newOrder("local-2", "order_abc"))
				assert.ErrorIs(t, err, ledger.ErrDuplicateKey)

				got, err := l.GetByGatewayID("order_abc")
				require.NoError(t, err)
				assert.Equal(t, "local-1", got.LocalOrderID)
			})

			t.Run("set status returns previous", func(t *testing.T) {
				l := newLedger(t)
				require.NoError(t, l.Put(newOrder("local-1", "order_abc")))

				previous, err := l.SetStatus("local-1", types.StatusPaid)
				require.NoError(t, err)
				assert.Equal(t, types.StatusPending, previous)

				previous, err = l.SetStatus("local-1", types.StatusPaid)
				require.NoError(t, err)
				assert.Equal(t, types.StatusPaid, previous)

				got, err := l.GetByGatewayID("order_abc")
				require.NoError(t, err)
				assert.Equal(t, types.StatusPaid, got.Status)
			})

			t.Run("set status on unknown id", func(t *testing.T) {
				l := newLedger(t)
				_, err := l.SetStatus("missing", types.StatusPaid)
				assert.ErrorIs(t, err, ledger.ErrNotFound)
			})

			t.Run("list by client is scoped and ordered by creation", func(t *testing.T) {
				l := newLedger(t)
				first := newOrder("local-1", "order_1")
				second := newOrder("local-2", "order_2")
				second.CreatedAt = first.CreatedAt.Add(time.Minute)
				other := newOrder("local-3", "order_3")
				other.ClientID = "client-2"
				require.NoError(t, l.Put(second))
				require.NoError(t, l.Put(other))
				require.NoError(t, l.Put(first))

				orders, err := l.ListByClient("client-1", "")
				require.NoError(t, err)
				require.Len(t, orders, 2)
				assert.Equal(t, "local-1", orders[0].LocalOrderID)
				assert.Equal(t, "local-2", orders[1].LocalOrderID)

				orders, err = l.ListByClient("client-2", "")
				require.NoError(t, err)
				require.Len(t, orders, 1)
				assert.Equal(t, "local-3", orders[0].LocalOrderID)

				orders, err = l.ListByClient("nobody", "")
				require.NoError(t, err)
				assert.Empty(t, orders)
			})

			t.Run("list by client filters on status", func(t *testing.T) {
				l := newLedger(t)
				require.NoError(t, l.Put(newOrder("local-1", "order_1")))
				require.NoError(t, l.Put(newOrder("local-2", "order_2")))
				_, err := l.SetStatus("local-2", types.StatusPaid)
				require.NoError(t, err)

				paid, err := l.ListByClient("client-1", types.StatusPaid)
				require.NoError(t, err)
				require.Len(t, paid, 1)
				assert.Equal(t, "local-2", paid[0].LocalOrderID)

				failed, err := l.ListByClient("client-1", types.StatusFailed)
				require.NoError(t, err)
				assert.Empty(t, failed)
			})
		})
	}
}

func TestMemoryLedger_ReturnsCopies(t *testing.T) {
	l := ledger.NewMemoryLedger()
	order := newOrder("local-1", "order_abc")
	require.NoError(t, l.Put(order))

	order.Status = types.StatusFailed
	got, err := l.GetByLocalID("local-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, got.Status)

	got.Status = types.StatusPaid
	again, err := l.GetByLocalID("local-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, again.Status)
}

func TestMemoryLedger_ConcurrentPuts(t *testing.T) {
	l := ledger.NewMemoryLedger()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("%d", i)
			assert.NoError(t, l.Put(newOrder("local-"+id, "order_"+id)))
		}(i)
	}
	wg.Wait()

	orders, err := l.ListByClient("client-1", "")
	require.NoError(t, err)
	assert.Len(t, orders, 50)
}
