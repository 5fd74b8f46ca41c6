package fsutil

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Event represents a change to an image file.
type Event struct {
	Path      string    `json:"path"`
	Operation string    `json:"operation"` // "created", "modified", "deleted", "renamed"
	Time      time.Time `json:"time"`
}

// Watcher monitors directories for image changes and delivers them in
// batches once the directories have been quiet for the debounce period.
type Watcher struct {
	watcher  *fsnotify.Watcher
	log      *slog.Logger
	debounce time.Duration
	Batches  chan []Event
}

// NewWatcher creates a watcher over dirs. A non-positive debounce defaults
// to 500ms.
func NewWatcher(logger *slog.Logger, debounce time.Duration, dirs ...string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, dir := range dirs {
		if err := fw.Add(dir); err != nil {
			fw.Close()
			return nil, err
		}
		logger.Info("watching directory", "dir", dir)
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{
		watcher:  fw,
		log:      logger,
		debounce: debounce,
		Batches:  make(chan []Event, 4),
	}, nil
}

// Run processes filesystem events until ctx is done, then closes Batches
// and the underlying watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.Batches)
	defer w.watcher.Close()

	var pending []Event
	timer := time.NewTimer(w.debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			op := operation(event.Op)
			if op == "" || !IsImageFile(event.Name) {
				continue
			}
			pending = append(pending, Event{Path: event.Name, Operation: op, Time: time.Now()})
			timer.Reset(w.debounce)

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			select {
			case w.Batches <- pending:
			default:
				w.log.Warn("watch batch buffer full, dropping changes", "events", len(pending))
			}
			pending = nil

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Error("filesystem watcher error", "error", err)
		}
	}
}

func operation(op fsnotify.Op) string {
	switch {
	case op.Has(fsnotify.Create):
		return "created"
	case op.Has(fsnotify.Write):
		return "modified"
	case op.Has(fsnotify.Remove):
		return "deleted"
	case op.Has(fsnotify.Rename):
		return "renamed"
	default:
		// Permission changes do not alter pixels.
		return ""
	}
}
