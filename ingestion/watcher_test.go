package ingestion

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

// Provider SDKs linked into this binary start background workers from init;
// the baseline keeps those out of the leak check.
func verifyNoLeaks(t *testing.T) func() {
	opts := []goleak.Option{
		goleak.IgnoreCurrent(),
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	}
	return func() { goleak.VerifyNone(t, opts...) }
}

func TestWatcherIngestsDroppedFiles(t *testing.T) {
	defer verifyNoLeaks(t)()

	dir := t.TempDir()
	store := newStore(t, lengthEmbedder{})
	logger := zaptest.NewLogger(t)
	watcher := NewWatcher(NewService(store, logger), logger, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- watcher.Run(ctx, dir) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.csv"), []byte("a,b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dropped.md"), []byte("dropped requirements"), 0o644))

	assert.Eventually(t, func() bool {
		n, err := store.Count(context.Background())
		return err == nil && n == 1
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatcherMissingDirectory(t *testing.T) {
	defer verifyNoLeaks(t)()

	watcher := NewWatcher(NewService(newStore(t, lengthEmbedder{}), nil), nil, 0)
	err := watcher.Run(context.Background(), filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
