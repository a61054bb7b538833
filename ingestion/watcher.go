package ingestion

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultQuietPeriod = 500 * time.Millisecond

// Watcher ingests supported files dropped into a directory. A file is picked
// up once it has seen no write events for the quiet period.
type Watcher struct {
	service *Service
	logger  *zap.Logger
	quiet   time.Duration
}

func NewWatcher(service *Service, logger *zap.Logger, quiet time.Duration) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if quiet <= 0 {
		quiet = defaultQuietPeriod
	}
	return &Watcher{service: service, logger: logger, quiet: quiet}
}

// Run blocks until ctx is cancelled. Ingestion errors are logged, not returned.
func (w *Watcher) Run(ctx context.Context, dir string) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.logger.Info("watching directory", zap.String("dir", dir))

	ticker := time.NewTicker(w.quiet / 2)
	defer ticker.Stop()

	pending := map[string]time.Time{}
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !Supported(event.Name) {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				pending[event.Name] = time.Now()
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("file watcher error", zap.Error(err))
		case now := <-ticker.C:
			w.flush(ctx, pending, now)
		}
	}
}

func (w *Watcher) flush(ctx context.Context, pending map[string]time.Time, now time.Time) {
	var ready []string
	for path, last := range pending {
		if now.Sub(last) >= w.quiet {
			ready = append(ready, path)
		}
	}
	if len(ready) == 0 {
		return
	}
	slices.Sort(ready)
	for _, path := range ready {
		delete(pending, path)
	}

	report, err := w.service.IngestFiles(ctx, ready)
	if err != nil {
		w.logger.Error("ingest dropped files", zap.Strings("paths", ready), zap.Error(err))
		return
	}
	w.logger.Info(report.Message(), zap.Strings("paths", ready))
}
