package notify

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/mdollan-source/payg/types"
	"go.uber.org/zap"
)

// PostgresNotifier uses LISTEN/NOTIFY on the job database, so no extra infrastructure is needed.
type PostgresNotifier struct {
	db      *sql.DB
	connStr string
	logger  *zap.Logger
}

func NewPostgresNotifier(db *sql.DB, connStr string, logger *zap.Logger) *PostgresNotifier {
	return &PostgresNotifier{db: db, connStr: connStr, logger: logger}
}

func (n *PostgresNotifier) Notify(ctx context.Context, jobType types.JobType) error {
	if _, err := n.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, Channel, jobType.String()); err != nil {
		return fmt.Errorf("failed to notify: %w", err)
	}
	return nil
}

func (n *PostgresNotifier) Subscribe(ctx context.Context) (<-chan struct{}, error) {
	listener := pq.NewListener(n.connStr, 2*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			n.logger.Warn("job notification listener event", zap.Int("event", int(ev)), zap.Error(err))
		}
	})
	if err := listener.Listen(Channel); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", Channel, err)
	}

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer listener.Close()
		for {
			select {
			case <-listener.Notify:
				// a nil notification follows a reconnect; wake anyway since messages may have been missed
				signal(out)
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (n *PostgresNotifier) Close() error {
	return nil
}
