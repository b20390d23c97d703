package logtail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// maxPartial bounds a line without newline kept between reads.
const maxPartial = 64 * 1024

// Follower tails one file the way `tail -F` does: it starts at the current
// end, survives truncation and rotation, and waits for the file to appear.
type Follower struct {
	path    string
	onLine  func(string)
	logger  *slog.Logger
	offset  int64
	partial []byte
}

func NewFollower(path string, onLine func(string), logger *slog.Logger) *Follower {
	if logger == nil {
		logger = slog.Default()
	}
	return &Follower{path: filepath.Clean(path), onLine: onLine, logger: logger.With("path", path)}
}

// Start installs the watcher and follows the file until ctx is done. The
// returned channel is closed when following stops.
func (f *Follower) Start(ctx context.Context) (<-chan struct{}, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	// watch the directory so creation and rotation are seen
	if err := w.Add(filepath.Dir(f.path)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(f.path), err)
	}
	if fi, err := os.Stat(f.path); err == nil {
		f.offset = fi.Size()
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() { _ = w.Close() }()
		f.run(ctx, w)
	}()
	return done, nil
}

func (f *Follower) run(ctx context.Context, w *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != f.path {
				continue
			}
			switch {
			case ev.Has(fsnotify.Create):
				f.reset()
				f.read()
			case ev.Has(fsnotify.Write):
				f.read()
			case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
				f.reset()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			f.logger.Warn("log watcher error", "error", err)
		}
	}
}

func (f *Follower) reset() {
	f.offset = 0
	f.partial = f.partial[:0]
}

func (f *Follower) read() {
	file, err := os.Open(f.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			f.logger.Warn("open log failed", "error", err)
		}
		return
	}
	defer func() { _ = file.Close() }()

	if fi, err := file.Stat(); err == nil && fi.Size() < f.offset {
		f.logger.Info("log truncated, reading from start")
		f.reset()
	}
	if _, err := file.Seek(f.offset, io.SeekStart); err != nil {
		f.logger.Warn("seek log failed", "error", err)
		return
	}
	b, err := io.ReadAll(file)
	if err != nil {
		f.logger.Warn("read log failed", "error", err)
	}
	f.offset += int64(len(b))
	f.emit(b)
}

func (f *Follower) emit(b []byte) {
	data := append(f.partial, b...)
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		f.onLine(string(bytes.TrimRight(data[:i], "\r")))
		data = data[i+1:]
	}
	if len(data) > maxPartial {
		f.onLine(string(data))
		data = data[:0]
	}
	f.partial = append(f.partial[:0], data...)
}
