package sync

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerRunSyncsOnTimer(t *testing.T) {
	s, ms := testSession(t)
	w := NewWorker(s)

	writeRootFile(t, s, "a.bin", randomBytes(t, 4096), time.Now().Add(-time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// the first pass uploads the file
	require.Eventually(t, func() bool {
		return ms.exists(s.StorageBucket, s.ContentKey("a.bin"))
	}, 2*time.Second, 10*time.Millisecond)

	// a file added later is picked up by a timer-scheduled pass
	writeRootFile(t, s, "b.bin", randomBytes(t, 1024), time.Now().Add(-time.Minute))
	require.Eventually(t, func() bool {
		return ms.exists(s.StorageBucket, s.ContentKey("b.bin"))
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop on cancel")
	}
}

func TestWorkerRunOnceIsResumable(t *testing.T) {
	s, _ := testSession(t)
	ctx := context.Background()
	w := NewWorker(s)

	writeRootFile(t, s, "a.bin", randomBytes(t, 4096), time.Now().Add(-2*time.Minute))
	writeRootFile(t, s, "b/c.bin", randomBytes(t, 4096), time.Now().Add(-2*time.Minute))
	require.NoError(t, w.RunOnce(ctx))

	// converged: a rerun decides nothing
	actions, err := NewProducer(s).Produce(ctx)
	require.NoError(t, err)
	assert.Empty(t, actions)

	// one more change, one more pass
	require.NoError(t, os.Remove(filepath.Join(s.Root, "a.bin")))
	require.NoError(t, w.RunOnce(ctx))

	actions, err = NewProducer(s).Produce(ctx)
	require.NoError(t, err)
	assert.Empty(t, actions)
}
