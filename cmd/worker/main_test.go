package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mdollan-source/payg/client/test/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestRootCommands(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"worker", "admin", "migrate", "jobs", "hash-token"})

	jobs, _, err := root.Find([]string{"jobs", "events"})
	require.NoError(t, err)
	assert.Equal(t, "events", jobs.Name())
}

func TestHashToken(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"hash-token", "letmein"})
	require.NoError(t, root.ExecuteContext(context.Background()))

	hash := strings.TrimSpace(out.String())
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("letmein")))
}

func TestJobsStatsOnMemoryStorage(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("LOG_LEVEL", "error")

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"jobs", "stats"})
	require.NoError(t, root.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), `"pending": 0`)
}

func TestMigrateNeedsPostgres(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("LOG_LEVEL", "error")

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"migrate"})
	assert.ErrorContains(t, root.ExecuteContext(context.Background()), "postgres")
}

func TestJobsEventsNeedsRabbitMQ(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("LOG_LEVEL", "error")

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"jobs", "events"})
	assert.ErrorIs(t, root.ExecuteContext(context.Background()), errNoBroker)
}

func TestTailEvents(t *testing.T) {
	var queue string
	broker := &mocks.MockMessageBroker{
		ConsumeFunc: func(ctx context.Context, q string) (<-chan []byte, error) {
			queue = q
			ch := make(chan []byte, 2)
			ch <- []byte(`{"type":"job.created","jobId":"a"}`)
			ch <- []byte(`{"type":"job.completed","jobId":"a"}`)
			close(ch)
			return ch, nil
		},
	}

	var out bytes.Buffer
	require.NoError(t, tailEvents(context.Background(), broker, "ops.tail", &out))
	assert.Equal(t, "ops.tail", queue)
	assert.Equal(t, []string{
		`{"type":"job.created","jobId":"a"}`,
		`{"type":"job.completed","jobId":"a"}`,
	}, strings.Split(strings.TrimSpace(out.String()), "\n"))
}

func TestTailEventsConsumeError(t *testing.T) {
	broker := &mocks.MockMessageBroker{
		ConsumeFunc: func(ctx context.Context, q string) (<-chan []byte, error) {
			return nil, errors.New("channel closed")
		},
	}
	err := tailEvents(context.Background(), broker, "ops.tail", &bytes.Buffer{})
	assert.ErrorContains(t, err, "channel closed")
}

func TestTailEventsStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	broker := &mocks.MockMessageBroker{
		ConsumeFunc: func(ctx context.Context, q string) (<-chan []byte, error) {
			return make(chan []byte), nil
		},
	}
	cancel()
	assert.NoError(t, tailEvents(ctx, broker, "ops.tail", &bytes.Buffer{}))
}
