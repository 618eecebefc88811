package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/openfabric/fabricsync/pkg/telemetry"
)

// Nudger accepts out-of-band sync requests. The scheduler implements it.
type Nudger interface {
	Nudge(fabricID string)
}

// DropZoneWatcher watches fabric drop zones and nudges the scheduler when a
// manifest lands, so hand-dropped files do not wait out a full interval.
type DropZoneWatcher struct {
	watcher *fsnotify.Watcher
	nudger  Nudger
	logger  *telemetry.Logger

	mu      sync.Mutex
	fabrics map[string]string // drop dir -> fabric id
	stopCh  chan struct{}
	done    chan struct{}

	stopOnce sync.Once
}

// NewDropZoneWatcher creates a watcher. Call Watch for each fabric, then Run.
func NewDropZoneWatcher(nudger Nudger, logger *telemetry.Logger) (*DropZoneWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if logger == nil {
		logger = telemetry.FromContext(context.Background())
	}
	return &DropZoneWatcher{
		watcher: w,
		nudger:  nudger,
		logger:  logger.NewComponentLogger("watcher"),
		fabrics: make(map[string]string),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Watch registers a fabric's drop zone directory.
func (w *DropZoneWatcher) Watch(fabricID, dropDir string) error {
	if err := w.watcher.Add(dropDir); err != nil {
		return fmt.Errorf("watch drop zone %s: %w", dropDir, err)
	}
	w.mu.Lock()
	w.fabrics[dropDir] = fabricID
	w.mu.Unlock()
	w.logger.WithFabricID(fabricID).Debugf("watching drop zone %s", dropDir)
	return nil
}

// Run consumes filesystem events until Stop is called. It is meant to run
// in its own goroutine.
func (w *DropZoneWatcher) Run() {
	defer close(w.done)

	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if fabricID := w.fabricFor(event.Name); fabricID != "" {
				w.logger.WithFabricID(fabricID).Debugf("drop zone activity: %s", event.Name)
				w.nudger.Nudge(fabricID)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("drop zone watch error")
		}
	}
}

// Stop closes the watcher and waits for Run to return. Safe to call more
// than once; later calls wait for shutdown and return nil.
func (w *DropZoneWatcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopCh)
		err = w.watcher.Close()
	})
	<-w.done
	return err
}

func (w *DropZoneWatcher) fabricFor(path string) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	for dir, fabricID := range w.fabrics {
		if len(path) > len(dir) && path[:len(dir)] == dir {
			return fabricID
		}
	}
	return ""
}
