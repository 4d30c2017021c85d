package overlay

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"storyreel/internal/capability"
	"storyreel/internal/config"
	"storyreel/internal/execx"
	"storyreel/internal/logx"
)

// pendingRender is the shared result of one in-flight render. Concurrent
// requests for the same key block on done instead of starting duplicates.
type pendingRender struct {
	done chan struct{}
	path string
	err  error
}

// Renderer produces transparent overlay clips for a single overlay kind. It
// owns a content-addressed cache and de-duplicates in-flight requests.
type Renderer struct {
	Kind       Kind
	Dir        string
	Style      config.OverlayStyle
	FontFile   string
	FrameWidth int
	FPS        int
	Timeout    time.Duration

	FFmpegPath string
	Runner     execx.Runner
	Graphics   capability.GraphicsBackend
	Logger     *log.Logger

	store *Store

	mu      sync.Mutex
	pending map[string]*pendingRender
}

// NewRenderer binds a renderer to its cache directory and store.
func NewRenderer(kind Kind, dir string, store *Store) *Renderer {
	return &Renderer{
		Kind:    kind,
		Dir:     dir,
		Timeout: 60 * time.Second,
		store:   store,
		pending: make(map[string]*pendingRender),
	}
}

// Render returns the path of an overlay clip for the text and duration,
// rendering one if no cached artifact exists. Empty or whitespace-only text
// is skipped and returns an empty path with no error. For non-empty text the
// call never fails unless the static fallback cannot write to disk.
func (r *Renderer) Render(ctx context.Context, text string, durationSeconds float64) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil
	}

	key := CacheKey(r.Kind, text, durationSeconds)

	r.mu.Lock()
	if entry, ok := r.store.Get(key); ok {
		r.mu.Unlock()
		return entry.FilePath, nil
	}
	if p, ok := r.pending[key]; ok {
		r.mu.Unlock()
		select {
		case <-p.done:
			return p.path, p.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	p := &pendingRender{done: make(chan struct{})}
	r.pending[key] = p
	r.mu.Unlock()

	path, err := r.renderNew(ctx, key, text, durationSeconds)
	if err == nil {
		r.store.Put(key, path)
	}
	p.path, p.err = path, err

	r.mu.Lock()
	delete(r.pending, key)
	r.mu.Unlock()
	close(p.done)

	return path, err
}

// renderNew attempts the animated path and falls back to a static image when
// the external renderer fails or times out.
func (r *Renderer) renderNew(ctx context.Context, key, text string, durationSeconds float64) (string, error) {
	if err := os.MkdirAll(r.Dir, 0o755); err != nil {
		return "", err
	}

	path, err := r.renderAnimated(ctx, text, durationSeconds)
	if err == nil {
		return path, nil
	}
	r.logger().Printf("overlay %s: animated render failed, using static fallback: %v", r.Kind, err)

	return r.renderStatic(text)
}

// Clear empties the cache store and removes this kind's cache directory.
func (r *Renderer) Clear() error {
	r.store.Clear()
	if err := os.RemoveAll(r.Dir); err != nil {
		return err
	}
	return os.MkdirAll(r.Dir, 0o755)
}

// CacheLen reports the number of cached overlays for this kind.
func (r *Renderer) CacheLen() int {
	return r.store.Len()
}

func (r *Renderer) runner() execx.Runner {
	if r.Runner != nil {
		return r.Runner
	}
	return execx.CmdRunner{}
}

func (r *Renderer) ffmpeg() string {
	if r.FFmpegPath != "" {
		return r.FFmpegPath
	}
	return capability.FFmpegPath()
}

func (r *Renderer) logger() *log.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return logx.Discard()
}

// barHeight derives the overlay canvas height from the font size.
func (r *Renderer) barHeight() int {
	size := r.Style.FontSize
	if size <= 0 {
		size = 48
	}
	h := size*2 + size/2
	// Keep dimensions even for yuva pixel formats.
	if h%2 != 0 {
		h++
	}
	return h
}

func (r *Renderer) frameWidth() int {
	if r.FrameWidth > 0 {
		return r.FrameWidth
	}
	return 1920
}

func (r *Renderer) fps() int {
	if r.FPS > 0 {
		return r.FPS
	}
	return 30
}

func (r *Renderer) artifactPath(name, ext string) string {
	return filepath.Join(r.Dir, name+ext)
}
