package queue

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubQueue struct {
	waiting    []string
	active     []string
	waitingErr error
	activeErr  error
}

func (s *stubQueue) Enqueue(context.Context, string, []byte, Options) error { return nil }
func (s *stubQueue) WaitingCount(context.Context) (int, error)              { return len(s.waiting), s.waitingErr }
func (s *stubQueue) ActiveCount(context.Context) (int, error)               { return len(s.active), nil }
func (s *stubQueue) Waiting(context.Context) ([]string, error)              { return s.waiting, s.waitingErr }
func (s *stubQueue) Active(context.Context) ([]string, error)               { return s.active, s.activeErr }

func TestAvoidConcurrencyNonCriticalAlwaysFalse(t *testing.T) {
	q := &stubQueue{waiting: []string{"rebalance"}, active: []string{"rebalance", "rebalance"}}
	guard := NewGuard(q, []string{"check-balances"}, zap.NewNop())

	require.False(t, guard.AvoidConcurrency(context.Background(), "rebalance"))
	require.False(t, guard.AvoidConcurrency(context.Background(), "unknown-job"))
}

func TestAvoidConcurrencyCriticalWaiting(t *testing.T) {
	q := &stubQueue{waiting: []string{"check-balances"}}
	guard := NewGuard(q, []string{"check-balances"}, zap.NewNop())

	require.True(t, guard.AvoidConcurrency(context.Background(), "check-balances"))
}

func TestAvoidConcurrencyCriticalActive(t *testing.T) {
	q := &stubQueue{active: []string{"check-balances"}}
	guard := NewGuard(q, []string{"check-balances"}, zap.NewNop())

	require.True(t, guard.AvoidConcurrency(context.Background(), "check-balances"))
}

func TestAvoidConcurrencyIgnoresOtherJobNames(t *testing.T) {
	// a busy shared queue must not suppress the reconciliation tick
	q := &stubQueue{
		waiting: []string{"rebalance", "check-cctp-attestation"},
		active:  []string{"rebalance", "destination-swap"},
	}
	guard := NewGuard(q, []string{"check-balances"}, zap.NewNop())

	require.False(t, guard.AvoidConcurrency(context.Background(), "check-balances"))
}

func TestAvoidConcurrencyIdleQueue(t *testing.T) {
	guard := NewGuard(&stubQueue{}, []string{"check-balances"}, zap.NewNop())

	require.False(t, guard.AvoidConcurrency(context.Background(), "check-balances"))
}

func TestAvoidConcurrencyQueueErrorsAdmitRun(t *testing.T) {
	q := &stubQueue{waitingErr: errors.New("queue down")}
	guard := NewGuard(q, []string{"check-balances"}, zap.NewNop())

	require.False(t, guard.AvoidConcurrency(context.Background(), "check-balances"))
}
