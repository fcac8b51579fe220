package notify

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/mdollan-source/payg/internal/testutil"
	"github.com/mdollan-source/payg/types"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func waitWake(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case _, ok := <-ch:
		require.True(t, ok, "channel closed before wake-up")
	case <-time.After(5 * time.Second):
		t.Fatal("no wake-up received")
	}
}

func TestRedisNotifier(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	n := NewRedisNotifier(rdb)
	defer n.Close()

	ctx, cancel := context.WithCancel(context.Background())
	wake, err := n.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, n.Notify(context.Background(), types.JobSendEmail))
	waitWake(t, wake)

	cancel()
	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-wake:
			return !ok
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRedisNotifier_CoalescesBursts(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	n := NewRedisNotifier(rdb)
	defer n.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wake, err := n.Subscribe(ctx)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, n.Notify(context.Background(), types.JobSendEmail))
	}
	waitWake(t, wake)
	assert.LessOrEqual(t, len(wake), 1)
}

func TestPostgresNotifier_Notify(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`SELECT pg_notify\(\$1, \$2\)`).
		WithArgs(Channel, "verify_dns").
		WillReturnResult(sqlmock.NewResult(0, 1))

	n := NewPostgresNotifier(db, "", zap.NewNop())
	require.NoError(t, n.Notify(context.Background(), types.JobVerifyDNS))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIntegration_PostgresNotifier(t *testing.T) {
	db, connStr := testutil.NewTestPostgres(t)
	n := NewPostgresNotifier(db, connStr, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wake, err := n.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, n.Notify(context.Background(), types.JobImportSeed))
	waitWake(t, wake)
}

func TestNop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	wake, err := Nop{}.Subscribe(ctx)
	require.NoError(t, err)
	assert.NoError(t, Nop{}.Notify(ctx, types.JobSendEmail))
	cancel()
	_, ok := <-wake
	assert.False(t, ok)
}
