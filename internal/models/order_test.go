package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

var allStatuses = []OrderStatus{
	OrderStatusNew, OrderStatusInWork, OrderStatusReadyToShip, OrderStatusShipped,
	OrderStatusPaymentControl, OrderStatusReturning, OrderStatusSuccess, OrderStatusCanceled,
}

func TestNextStatus_terminalNeverMoves(t *testing.T) {
	for _, cur := range []OrderStatus{OrderStatusSuccess, OrderStatusCanceled} {
		for _, next := range allStatuses {
			got, changed := NextStatus(cur, next)
			require.False(t, changed, "%s -> %s", cur, next)
			require.Equal(t, cur, got)
		}
	}
}

func TestNextStatus_cancelAndReturningOverride(t *testing.T) {
	for _, cur := range allStatuses {
		if cur.Terminal() {
			continue
		}
		for _, next := range []OrderStatus{OrderStatusCanceled, OrderStatusReturning} {
			got, changed := NextStatus(cur, next)
			if cur == next {
				require.False(t, changed)
				continue
			}
			require.True(t, changed, "%s -> %s", cur, next)
			require.Equal(t, next, got)
		}
	}
}

func TestNextStatus_rankGuard(t *testing.T) {
	// Backward or same-rank moves are dropped unless the override applies.
	for _, cur := range allStatuses {
		if cur.Terminal() {
			continue
		}
		for _, next := range allStatuses {
			if next == OrderStatusCanceled || next == OrderStatusReturning {
				continue
			}
			got, changed := NextStatus(cur, next)
			if next.Rank() > cur.Rank() {
				require.True(t, changed, "%s -> %s", cur, next)
				require.Equal(t, next, got)
			} else {
				require.False(t, changed, "%s -> %s", cur, next)
				require.Equal(t, cur, got)
			}
		}
	}
}

func TestNextStatus_forwardProgress(t *testing.T) {
	got, changed := NextStatus(OrderStatusNew, OrderStatusInWork)
	require.True(t, changed)
	require.Equal(t, OrderStatusInWork, got)

	got, changed = NextStatus(OrderStatusShipped, OrderStatusInWork)
	require.False(t, changed)
	require.Equal(t, OrderStatusShipped, got)
}
