package configctl

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/platinummonkey/confgate/pkg/audit"
	"github.com/platinummonkey/confgate/pkg/observability"
	"github.com/platinummonkey/confgate/pkg/rbac"
)

// RoleWatcher reloads custom role definitions when the role file
// changes on disk. Editors replace files rather than writing in place,
// so the watch is on the parent directory and events are filtered to
// the file of interest.
type RoleWatcher struct {
	path     string
	registry *rbac.Registry
	access   *rbac.AccessControl
	recorder *audit.Recorder
	logger   *observability.Logger
	watcher  *fsnotify.Watcher

	mu      sync.Mutex
	stopped bool
	done    chan struct{}
}

// NewRoleWatcher begins watching path. Call Start to process events
// and Stop to release the watcher.
func NewRoleWatcher(path string, registry *rbac.Registry, access *rbac.AccessControl, recorder *audit.Recorder, logger *observability.Logger) (*RoleWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, err
	}
	return &RoleWatcher{
		path:     filepath.Clean(path),
		registry: registry,
		access:   access,
		recorder: recorder,
		logger:   logger.WithComponent("role-watcher"),
		watcher:  w,
		done:     make(chan struct{}),
	}, nil
}

// Start consumes filesystem events until Stop is called or the context
// is cancelled. Rapid event bursts from a single save are coalesced
// with a short debounce.
func (rw *RoleWatcher) Start(ctx context.Context) {
	go rw.loop(ctx)
}

func (rw *RoleWatcher) loop(ctx context.Context) {
	defer close(rw.done)

	var timer *time.Timer
	var timerC <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-rw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != rw.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(250 * time.Millisecond)
				timerC = timer.C
			} else {
				timer.Reset(250 * time.Millisecond)
			}
		case <-timerC:
			timer = nil
			timerC = nil
			rw.reload(ctx)
		case err, ok := <-rw.watcher.Errors:
			if !ok {
				return
			}
			rw.logger.WithError(err).Error("role file watch error")
		}
	}
}

func (rw *RoleWatcher) reload(ctx context.Context) {
	count, err := rbac.RegisterRoleFile(rw.registry, rw.path)
	if err != nil {
		rw.logger.WithError(err).WithField("path", rw.path).Error("role file reload failed")
		return
	}
	rw.access.InvalidateAll()
	rw.logger.WithFields(map[string]interface{}{
		"path":  rw.path,
		"roles": count,
	}).Info("role definitions reloaded")

	rw.recorder.Reload(ctx, audit.RequestContext{UserID: "system"}, map[string]interface{}{
		"source":     "role_file",
		"path":       rw.path,
		"role_count": count,
	})
}

// Stop closes the watcher and waits for the event loop to exit.
func (rw *RoleWatcher) Stop() error {
	rw.mu.Lock()
	if rw.stopped {
		rw.mu.Unlock()
		return nil
	}
	rw.stopped = true
	rw.mu.Unlock()

	err := rw.watcher.Close()
	<-rw.done
	return err
}
