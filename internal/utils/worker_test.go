package utils

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tomb "gopkg.in/tomb.v2"
)

func TestWorkerPool_RunsEveryTask(t *testing.T) {
	var tb tomb.Tomb
	pool := NewWorkerPool(4)
	assert.Equal(t, 4, pool.Size())

	var done atomic.Int64
	pool.Setup(&tb, func(_ *tomb.Tomb, task any) error {
		done.Add(int64(task.(int)))
		return nil
	})

	for i := 1; i <= 10; i++ {
		require.True(t, pool.AddTask(&tb, i))
	}
	assert.Eventually(t, func() bool { return done.Load() == 55 }, time.Second, time.Millisecond)

	tb.Kill(nil)
	assert.NoError(t, tb.Wait())
	assert.False(t, pool.AddTask(&tb, 1), "dying pools refuse work")
}

func TestWorkerPool_ErrorKillsTomb(t *testing.T) {
	var tb tomb.Tomb
	pool := NewWorkerPool(2)
	boom := errors.New("boom")

	pool.Setup(&tb, func(_ *tomb.Tomb, task any) error {
		return boom
	})
	require.True(t, pool.AddTask(&tb, struct{}{}))

	assert.ErrorIs(t, tb.Wait(), boom)
}

func TestWorkerPool_Resubmit(t *testing.T) {
	var tb tomb.Tomb
	pool := NewWorkerPool(1)

	var rounds atomic.Int64
	pool.Setup(&tb, func(t *tomb.Tomb, task any) error {
		if rounds.Add(1) < 5 {
			pool.Resubmit(t, task)
		}
		return nil
	})
	require.True(t, pool.AddTask(&tb, "again"))

	assert.Eventually(t, func() bool { return rounds.Load() == 5 }, time.Second, time.Millisecond)
	tb.Kill(nil)
	assert.NoError(t, tb.Wait())
}

func TestSetupLogger(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.GlobalLevel())

	require.NoError(t, SetupLogger("warn", false))
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	assert.Error(t, SetupLogger("loud", false))
}
