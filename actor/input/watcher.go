package input

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/teilomillet/plexity/actor/processing"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Watcher defines the behavior we expect from any input watcher
type Watcher interface {
	Current() processing.RawInput
	Subscribe() <-chan processing.RawInput
	Close() error
}

// Verify at compile time that FileWatcher implements Watcher
var _ Watcher = (*FileWatcher)(nil)

// FileWatcher reloads the input file when it changes. It watches the
// parent directory so editors that replace the file by rename are seen.
// Reloads are spaced at least debounce apart; events arriving meanwhile
// collapse into a single reload.
type FileWatcher struct {
	current atomic.Value
	loader  *Loader
	name    string
	watcher *fsnotify.Watcher
	limiter *rate.Limiter
	logger  *zap.Logger

	mu          sync.Mutex
	subscribers []chan processing.RawInput

	cancel context.CancelFunc
	done   chan struct{}
}

// NewFileWatcher loads the current input and starts watching loader.Path.
func NewFileWatcher(loader *Loader, debounce time.Duration, logger *zap.Logger) (*FileWatcher, error) {
	if loader.Path == "" {
		return nil, fmt.Errorf("watch mode requires an input file path")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	initial, _, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load initial input: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(loader.Path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch input directory: %w", err)
	}

	limit := rate.Inf
	if debounce > 0 {
		limit = rate.Every(debounce)
	}

	ctx, cancel := context.WithCancel(context.Background())
	fw := &FileWatcher{
		loader:  loader,
		name:    filepath.Clean(loader.Path),
		watcher: watcher,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	fw.current.Store(initial)
	// The initial load spends the first token.
	fw.limiter.Allow()

	go fw.watch(ctx)
	return fw, nil
}

// Current returns the last successfully loaded input.
func (fw *FileWatcher) Current() processing.RawInput {
	return fw.current.Load().(processing.RawInput)
}

// Subscribe returns a channel receiving every reloaded input. A slow
// subscriber only ever sees the latest input.
func (fw *FileWatcher) Subscribe() <-chan processing.RawInput {
	ch := make(chan processing.RawInput, 1)
	fw.mu.Lock()
	fw.subscribers = append(fw.subscribers, ch)
	fw.mu.Unlock()
	return ch
}

func (fw *FileWatcher) watch(ctx context.Context) {
	defer close(fw.done)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if !fw.relevant(event) {
				continue
			}
			if err := fw.limiter.Wait(ctx); err != nil {
				return
			}
			fw.drain()
			fw.reload()
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Error("input watcher error", zap.Error(err))
		}
	}
}

func (fw *FileWatcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != fw.name {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create)
}

// drain discards events queued while waiting on the limiter; the reload
// that follows covers them.
func (fw *FileWatcher) drain() {
	for {
		select {
		case _, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

func (fw *FileWatcher) reload() {
	fw.logger.Info("detected input change, reloading", zap.String("path", fw.name))

	in, _, err := fw.loader.Load()
	if err != nil {
		fw.logger.Error("failed to load new input", zap.Error(err))
		return
	}
	fw.current.Store(in)

	fw.mu.Lock()
	defer fw.mu.Unlock()
	for _, sub := range fw.subscribers {
		// Replace a pending, unread input with the newer one.
		select {
		case <-sub:
		default:
		}
		select {
		case sub <- in:
		default:
		}
	}
}

// Close stops watching and closes every subscriber channel.
func (fw *FileWatcher) Close() error {
	fw.cancel()
	err := fw.watcher.Close()
	<-fw.done

	fw.mu.Lock()
	defer fw.mu.Unlock()
	for _, sub := range fw.subscribers {
		close(sub)
	}
	fw.subscribers = nil
	return err
}
