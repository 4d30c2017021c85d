package render

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"storyreel/internal/logx"
	"storyreel/internal/overlay"
	"storyreel/internal/render/state"
	"storyreel/internal/timeline"
)

// EventType names render queue lifecycle events.
type EventType string

const (
	EventStarted  EventType = "renderStarted"
	EventProgress EventType = "renderProgress"
	EventComplete EventType = "renderComplete"
	EventError    EventType = "renderError"
)

// Event is one render lifecycle notification. Percent is only meaningful for
// progress events.
type Event struct {
	Type          EventType
	Index         int
	Percent       float64
	CompositePath string
	Err           error
}

// Compositor renders one segment's composite clip. Satisfied by
// export.SegmentRenderer; tests substitute fakes.
type Compositor interface {
	RenderComposite(ctx context.Context, spec timeline.SegmentSpec, captionPath, creditPath, outPath string) error
}

// ProgressCompositor is an optional Compositor extension that reports the
// completed fraction of an in-flight render.
type ProgressCompositor interface {
	RenderCompositeWithProgress(ctx context.Context, spec timeline.SegmentSpec, captionPath, creditPath, outPath string, onProgress func(percent float64)) error
}

// Queue schedules stale segments for pre-rendering with bounded concurrency.
// The most recently invalidated segment renders soonest: enqueueing an index
// already in the queue moves it to the front. Failures are absorbed into
// segment state and never propagate to callers.
type Queue struct {
	Tracker        *state.Tracker
	Compositor     Compositor
	Captions       *overlay.Renderer
	Credits        *overlay.Renderer
	SegmentsDir    string
	MaxConcurrent  int
	EnableCaptions bool
	EnableCredits  bool
	Listener       func(Event)
	Logger         *log.Logger

	ctx  context.Context
	mu   sync.Mutex
	cond *sync.Cond

	pending []int
	specs   map[int]timeline.SegmentSpec
	active  int
}

// NewQueue prepares a queue bound to a tracker and compositor. ctx bounds
// all background renders.
func NewQueue(ctx context.Context, tracker *state.Tracker, compositor Compositor) *Queue {
	if ctx == nil {
		ctx = context.Background()
	}
	q := &Queue{
		Tracker:        tracker,
		Compositor:     compositor,
		MaxConcurrent:  1,
		EnableCaptions: true,
		EnableCredits:  true,
		ctx:            ctx,
		specs:          make(map[int]timeline.SegmentSpec),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// SetTimeline reconciles the tracker against the new timeline and enqueues
// every segment whose fingerprint changed (or is new).
func (q *Queue) SetTimeline(tl timeline.Timeline) {
	for _, spec := range tl.Segments {
		q.mu.Lock()
		q.specs[spec.Index] = spec
		q.mu.Unlock()
		if q.Tracker.Apply(spec) {
			q.Enqueue(spec.Index)
		}
	}
}

// Reset clears all queued work and tracked segment state.
func (q *Queue) Reset() {
	q.mu.Lock()
	q.pending = nil
	q.specs = make(map[int]timeline.SegmentSpec)
	q.mu.Unlock()
	q.Tracker.Reset()
}

// Enqueue schedules a segment render. An index already queued moves to the
// front instead of being duplicated.
func (q *Queue) Enqueue(index int) {
	q.mu.Lock()
	for i, queued := range q.pending {
		if queued == index {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			break
		}
	}
	q.pending = append([]int{index}, q.pending...)
	q.dispatchLocked()
	q.mu.Unlock()
}

// Pending returns a copy of the queued indices, front first.
func (q *Queue) Pending() []int {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]int, len(q.pending))
	copy(out, q.pending)
	return out
}

// Quiesce blocks until the queue drains and every in-flight render settles,
// or the context expires.
func (q *Queue) Quiesce(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			q.cond.Broadcast()
		case <-done:
		}
	}()

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.pending) > 0 || q.active > 0 {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		q.cond.Wait()
	}
	return nil
}

// dispatchLocked starts renders while capacity remains. Callers hold q.mu.
func (q *Queue) dispatchLocked() {
	max := q.MaxConcurrent
	if max < 1 {
		max = 1
	}
	for q.active < max && len(q.pending) > 0 {
		index := q.pending[0]
		q.pending = q.pending[1:]

		spec, ok := q.specs[index]
		if !ok {
			continue
		}
		if q.Tracker.IsReady(index) {
			continue
		}
		if !q.Tracker.MarkRendering(index, true) {
			continue
		}
		q.active++
		go q.renderSegment(index, spec)
	}
}

// renderSegment renders overlays then the composite for a single segment,
// converting any failure into state instead of an error return.
func (q *Queue) renderSegment(index int, spec timeline.SegmentSpec) {
	fingerprint := state.Fingerprint(spec)

	defer func() {
		q.mu.Lock()
		q.active--
		q.dispatchLocked()
		q.mu.Unlock()
		q.cond.Broadcast()
	}()
	// A spec edited mid-render had its enqueue dropped by the dispatcher
	// while this render held the in-flight flag; schedule another pass once
	// the state settles.
	defer func() {
		q.mu.Lock()
		current, ok := q.specs[index]
		q.mu.Unlock()
		if ok && state.Fingerprint(current) != fingerprint {
			q.Enqueue(index)
		}
	}()

	q.emit(Event{Type: EventStarted, Index: index})

	captionPath, creditPath, err := q.renderOverlays(spec)
	if err == nil {
		outPath := q.compositePath(index, fingerprint)

		// Render to a uniquely-named file first so a partially-written
		// composite is never visible under its registered name.
		tmpPath := filepath.Join(filepath.Dir(outPath), uuid.NewString()+".mp4")
		if pc, ok := q.Compositor.(ProgressCompositor); ok {
			err = pc.RenderCompositeWithProgress(q.ctx, spec, captionPath, creditPath, tmpPath, func(percent float64) {
				q.emit(Event{Type: EventProgress, Index: index, Percent: percent})
			})
		} else {
			err = q.Compositor.RenderComposite(q.ctx, spec, captionPath, creditPath, tmpPath)
		}
		if err == nil {
			err = os.Rename(tmpPath, outPath)
		}
		if err == nil {
			q.Tracker.Complete(index, fingerprint, outPath)
			q.emit(Event{Type: EventComplete, Index: index, CompositePath: outPath})
			return
		}
		_ = os.Remove(tmpPath)
	}

	q.logger().Printf("segment %d render failed: %v", index, err)
	q.Tracker.Fail(index, err)
	q.emit(Event{Type: EventError, Index: index, Err: err})
}

// renderOverlays renders the caption and credit clips concurrently; the two
// write to independent cache keys.
func (q *Queue) renderOverlays(spec timeline.SegmentSpec) (string, string, error) {
	var (
		wg                      sync.WaitGroup
		captionPath, creditPath string
		captionErr, creditErr   error
	)

	if q.Captions != nil && q.EnableCaptions && strings.TrimSpace(spec.CaptionText) != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			captionPath, captionErr = q.Captions.Render(q.ctx, spec.CaptionText, spec.DurationSeconds)
		}()
	}
	if q.Credits != nil && q.EnableCredits && strings.TrimSpace(spec.CreditText) != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			creditPath, creditErr = q.Credits.Render(q.ctx, spec.CreditText, spec.DurationSeconds)
		}()
	}
	wg.Wait()

	if captionErr != nil {
		return "", "", fmt.Errorf("caption overlay: %w", captionErr)
	}
	if creditErr != nil {
		return "", "", fmt.Errorf("credit overlay: %w", creditErr)
	}
	return captionPath, creditPath, nil
}

// compositePath derives the cache path for a segment composite from its
// index and fingerprint.
func (q *Queue) compositePath(index int, fingerprint string) string {
	short := strings.TrimPrefix(fingerprint, "sha256:")
	if len(short) > 12 {
		short = short[:12]
	}
	return filepath.Join(q.SegmentsDir, fmt.Sprintf("%03d_%s.mp4", index, short))
}

func (q *Queue) emit(event Event) {
	if q.Listener != nil {
		q.Listener(event)
	}
}

func (q *Queue) logger() *log.Logger {
	if q.Logger != nil {
		return q.Logger
	}
	return logx.Discard()
}
