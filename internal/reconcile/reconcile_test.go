package reconcile

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResumer struct {
	calls atomic.Int32
	done  int
	err   error
	limit int
}

func (f *fakeResumer) ResumePendingDeletions(_ context.Context, limit int) (int, error) {
	f.calls.Add(1)
	f.limit = limit
	return f.done, f.err
}

func TestJob_Run(t *testing.T) {
	logger, hook := test.NewNullLogger()
	r := &fakeResumer{done: 2}

	done, err := NewJob(r, logger).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, done)
	assert.Equal(t, defaultBatch, r.limit)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.InfoLevel, hook.LastEntry().Level)
}

func TestJob_RunLogsFailure(t *testing.T) {
	logger, hook := test.NewNullLogger()
	r := &fakeResumer{err: errors.New("db down")}

	_, err := NewJob(r, logger).Run(context.Background())
	assert.Error(t, err)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}

func TestScheduler(t *testing.T) {
	logger, _ := test.NewNullLogger()

	_, err := NewScheduler(NewJob(&fakeResumer{}, logger), "not a schedule", logger)
	assert.Error(t, err)

	r := &fakeResumer{}
	s, err := NewScheduler(NewJob(r, logger), "@every 1s", logger)
	require.NoError(t, err)
	s.Start()
	assert.Eventually(t, func() bool { return r.calls.Load() > 0 }, 3*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}
