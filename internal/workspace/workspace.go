// Package workspace provides isolated, unpredictable scratch storage for
// request artifacts and guarantees their destruction.
//
// Secure delete is best-effort: the file's bytes are overwritten with random
// data before unlinking, which defeats casual recovery on simple filesystems
// but is not a guarantee on journaling, copy-on-write or flash storage.
package workspace

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"

	"github.com/safesend/safesend/internal/config"
)

// ErrClosed is returned by Allocate after the workspace has been destroyed.
var ErrClosed = errors.New("workspace is closed")

const tokenBytes = 16

// Options configures a Workspace.
type Options struct {
	// Dir is an explicit directory, created with parents if missing. Empty
	// means a fresh uniquely-named directory under the system temp root.
	Dir string
	// Prefix names the generated directory when Dir is empty.
	Prefix string
	// SecureDelete overwrites files smaller than SecureDeleteMaxBytes with
	// random bytes before unlinking them.
	SecureDelete         bool
	SecureDeleteMaxBytes int64
}

// OptionsFromConfig maps the workspace and sanitizer sections onto Options.
func OptionsFromConfig(ws config.WorkspaceConfig, s config.SanitizerConfig) Options {
	return Options{
		Dir:                  ws.Dir,
		Prefix:               ws.Prefix,
		SecureDelete:         s.SecureDelete,
		SecureDeleteMaxBytes: s.SecureDeleteMaxBytes,
	}
}

// Workspace exclusively owns one directory. Allocate and Destroy are safe for
// concurrent use; Close must only be called at shutdown.
//
// Paths handed out by Allocate stay live until Destroy is called on them.
// Sweep never touches a live path, however old its file is.
type Workspace struct {
	fs     afero.Fs
	dir    string
	opts   Options
	logger *slog.Logger
	closed atomic.Bool
	now    func() time.Time

	mu   sync.Mutex
	live map[string]struct{}
}

// New initializes the workspace directory on fsys.
func New(log *slog.Logger, fsys afero.Fs, opts Options) (*Workspace, error) {
	if log == nil {
		log = slog.Default()
	}
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	if opts.SecureDeleteMaxBytes <= 0 {
		opts.SecureDeleteMaxBytes = config.DefaultSecureDeleteMaxBytes
	}
	if opts.Prefix == "" {
		opts.Prefix = config.DefaultWorkspacePrefix
	}

	var dir string
	if strings.TrimSpace(opts.Dir) != "" {
		dir = filepath.Clean(opts.Dir)
		if err := fsys.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create workspace dir: %w", err)
		}
	} else {
		created, err := afero.TempDir(fsys, "", opts.Prefix)
		if err != nil {
			return nil, fmt.Errorf("create temp workspace: %w", err)
		}
		dir = created
	}

	w := &Workspace{
		fs:     fsys,
		dir:    dir,
		opts:   opts,
		logger: log.With(slog.String("component", "workspace")),
		now:    time.Now,
		live:   make(map[string]struct{}),
	}
	w.logger.Info("workspace initialized", slog.String("dir", dir), slog.Bool("secure_delete", opts.SecureDelete))
	return w, nil
}

// With initializes a workspace, runs fn, and destroys the workspace on every
// exit path, including a panic inside fn.
func With(log *slog.Logger, fsys afero.Fs, opts Options, fn func(*Workspace) error) (err error) {
	w, err := New(log, fsys, opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := w.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(w)
}

// Dir returns the workspace directory.
func (w *Workspace) Dir() string {
	return w.dir
}

// Fs returns the filesystem the workspace lives on.
func (w *Workspace) Fs() afero.Fs {
	return w.fs
}

// Allocate returns a fresh path inside the workspace named
// {YYYYMMDD_HHMMSS}_{32 hex chars}{ext}. The file is not created.
func (w *Workspace) Allocate(ext string) (string, error) {
	if w.closed.Load() {
		return "", ErrClosed
	}
	token := make([]byte, tokenBytes)
	if _, err := rand.Read(token); err != nil {
		return "", fmt.Errorf("read random token: %w", err)
	}
	name := w.now().Format("20060102_150405") + "_" + hex.EncodeToString(token) + cleanExt(ext)
	path := filepath.Join(w.dir, name)

	w.mu.Lock()
	w.live[path] = struct{}{}
	w.mu.Unlock()
	return path, nil
}

// Live reports whether path was allocated and not yet destroyed.
func (w *Workspace) Live(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.live[filepath.Clean(path)]
	return ok
}

func (w *Workspace) release(path string) {
	w.mu.Lock()
	delete(w.live, filepath.Clean(path))
	w.mu.Unlock()
}

// Contains reports whether path lies directly inside the workspace directory.
func (w *Workspace) Contains(path string) bool {
	if path == "" {
		return false
	}
	return filepath.Dir(filepath.Clean(path)) == w.dir
}

// Destroy removes path, overwriting it first when secure delete applies. It is
// a no-op for "" and missing files, refuses paths outside the workspace, and
// never returns an error: failures are logged.
func (w *Workspace) Destroy(path string) {
	if path == "" {
		return
	}
	if !w.Contains(path) {
		w.logger.Warn("refusing to destroy path outside workspace", slog.String("file", filepath.Base(path)))
		return
	}
	defer w.release(path)
	info, err := w.fs.Stat(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			w.logger.Error("stat before destroy failed", slog.String("file", filepath.Base(path)), slog.Any("error", err))
		}
		return
	}
	if !info.Mode().IsRegular() {
		w.logger.Warn("refusing to destroy non-regular file", slog.String("file", filepath.Base(path)))
		return
	}

	if w.opts.SecureDelete && info.Size() > 0 && info.Size() < w.opts.SecureDeleteMaxBytes {
		if err := w.overwrite(path, info.Size()); err != nil {
			w.logger.Warn("could not overwrite file before deletion", slog.String("file", filepath.Base(path)), slog.Any("error", err))
		}
	}

	if err := w.fs.Remove(path); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			w.logger.Error("remove file failed", slog.String("file", filepath.Base(path)), slog.Any("error", err))
		}
		return
	}
	w.logger.Debug("cleaned up file", slog.String("file", filepath.Base(path)))
}

func (w *Workspace) overwrite(path string, size int64) error {
	f, err := w.fs.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.CopyN(f, rand.Reader, size); err != nil {
		return err
	}
	return f.Sync()
}

// Files lists the artifact paths currently in the workspace.
func (w *Workspace) Files() ([]string, error) {
	entries, err := afero.ReadDir(w.fs, w.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Mode().IsRegular() {
			paths = append(paths, filepath.Join(w.dir, e.Name()))
		}
	}
	return paths, nil
}

// Sweep destroys artifacts whose modification time is older than maxAge and
// returns how many it removed. Files of requests still in progress are
// skipped: a queued input can legitimately outlive maxAge.
func (w *Workspace) Sweep(maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	entries, err := afero.ReadDir(w.fs, w.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	cutoff := w.now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if !e.Mode().IsRegular() || !e.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(w.dir, e.Name())
		if w.Live(path) {
			continue
		}
		w.Destroy(path)
		removed++
	}
	return removed, nil
}

// Close destroys every remaining artifact and then the directory itself. It
// tolerates a directory that is already empty or gone and may be called more
// than once.
func (w *Workspace) Close() error {
	w.closed.Store(true)
	files, err := w.Files()
	if err != nil {
		w.logger.Warn("list workspace before removal failed", slog.Any("error", err))
	}
	for _, f := range files {
		w.Destroy(f)
	}
	if err := w.fs.RemoveAll(w.dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		w.logger.Error("error cleaning up workspace directory", slog.Any("error", err))
		return fmt.Errorf("remove workspace: %w", err)
	}
	w.logger.Info("cleaned up workspace directory", slog.String("dir", w.dir))
	return nil
}

// cleanExt keeps a leading-dot extension made of safe characters only.
func cleanExt(ext string) string {
	ext = strings.TrimSpace(ext)
	if ext == "" {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	var b strings.Builder
	b.WriteByte('.')
	for _, r := range ext[1:] {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 1 {
		return ""
	}
	return strings.ToLower(b.String())
}
