package printing

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// DefaultFallbackTimeout is how long the orchestrator waits for any other
// signal before assuming the first print dialog has closed.
const DefaultFallbackTimeout = 2 * time.Second

const teardownTimeout = 10 * time.Second

// Detector names, as reported in Result.Detector.
const (
	DetectorCompletion = "completion"
	DetectorFocus      = "focus"
	DetectorFallback   = "fallback"
	DetectorNone       = "none"
)

// ErrCycleInProgress rejects a print cycle while another one runs.
var ErrCycleInProgress = errors.New("a print cycle is already running")

// Document is one printable document.
type Document struct {
	Name string `json:"name"`
	HTML string `json:"html"`
}

// Empty reports whether the document has nothing to print.
func (d Document) Empty() bool {
	return strings.TrimSpace(d.HTML) == ""
}

// Surface is a rendered, printable document held by the platform.
type Surface struct {
	ID  string `json:"id"`
	URL string `json:"url,omitempty"`
}

// Platform is the set of print primitives the orchestrator drives.
type Platform interface {
	Render(ctx context.Context, doc Document) (Surface, error)
	Print(ctx context.Context, s Surface) error
	Teardown(ctx context.Context, s Surface) error
	// OnPrintComplete calls fn when the platform reports s finished printing.
	OnPrintComplete(ctx context.Context, s Surface, fn func()) (stop func(), err error)
	// OnFocusChange calls fn whenever the host window gains or loses focus.
	OnFocusChange(ctx context.Context, fn func(focused bool)) (stop func(), err error)
}

// Clock schedules the fallback timer.
type Clock interface {
	AfterFunc(d time.Duration, f func()) (stop func() bool)
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// Recorder receives print cycle metrics. Implementations must be nil-safe.
type Recorder interface {
	ObservePrintCycle(detector string, secondary bool)
}

type nopRecorder struct{}

func (nopRecorder) ObservePrintCycle(string, bool) {}

// State is a step of the two-document print cycle.
type State string

const (
	StateIdle         State = "idle"
	StateRenderingA   State = "rendering_a"
	StateAwaitingA    State = "awaiting_a_dialog_close"
	StateEligibleForB State = "eligible_for_b"
	StateRenderingB   State = "rendering_b"
	StateAwaitingB    State = "awaiting_b_dialog_close"
	StateDone         State = "done"
)

// Result summarises one print cycle.
type Result struct {
	Detector         string  `json:"detector"`
	PrimaryPrinted   bool    `json:"primary_printed"`
	SecondaryPrinted bool    `json:"secondary_printed"`
	States           []State `json:"states"`
}

// Orchestrator prints Document A and then, exactly once, Document B.
type Orchestrator struct {
	platform Platform
	clock    Clock
	fallback time.Duration
	logger   *zap.Logger
	recorder Recorder

	running atomic.Bool

	mu                 sync.Mutex
	state              State
	secondaryTriggered bool
	history            []State
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces the clock behind the fallback timer.
func WithClock(c Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithFallbackTimeout sets the fallback timer duration.
func WithFallbackTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.fallback = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.recorder = r
		}
	}
}

// NewOrchestrator creates an orchestrator on top of platform.
func NewOrchestrator(platform Platform, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		platform: platform,
		clock:    realClock{},
		fallback: DefaultFallbackTimeout,
		logger:   zap.NewNop(),
		recorder: nopRecorder{},
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the current state of the running or last cycle.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.history = append(o.history, s)
	o.mu.Unlock()
}

// Run prints a, waits until its print dialog is judged closed, then prints b
// if it has content. Rendering and printing failures are logged and the cycle
// still moves on to b. Run returns an error only when ctx ends before a's
// dialog closes or when another cycle is running.
func (o *Orchestrator) Run(ctx context.Context, a, b Document) (Result, error) {
	if !o.running.CompareAndSwap(false, true) {
		return Result{}, ErrCycleInProgress
	}
	defer o.running.Store(false)

	o.mu.Lock()
	o.secondaryTriggered = false
	o.history = nil
	o.mu.Unlock()

	res := Result{Detector: DetectorNone}
	o.setState(StateRenderingA)
	if surface, ok := o.renderAndPrint(ctx, a); ok {
		res.PrimaryPrinted = true
		o.setState(StateAwaitingA)
		detector, err := o.awaitDialogClose(ctx, surface)
		o.teardown(ctx, surface)
		if err != nil {
			o.setState(StateDone)
			res.States = o.states()
			return res, err
		}
		res.Detector = detector
	}

	res.SecondaryPrinted = o.triggerSecondary(ctx, b)
	o.setState(StateDone)
	res.States = o.states()
	o.recorder.ObservePrintCycle(res.Detector, res.SecondaryPrinted)
	o.logger.Info("print cycle finished",
		zap.String("primary", a.Name),
		zap.String("secondary", b.Name),
		zap.String("detector", res.Detector),
		zap.Bool("secondary_printed", res.SecondaryPrinted))
	return res, nil
}

// renderAndPrint renders doc and invokes print on it. On failure the surface
// is torn down and ok is false.
func (o *Orchestrator) renderAndPrint(ctx context.Context, doc Document) (Surface, bool) {
	surface, err := o.platform.Render(ctx, doc)
	if err != nil {
		o.logger.Warn("failed to render document", zap.String("document", doc.Name), zap.Error(err))
		return Surface{}, false
	}
	if err := o.platform.Print(ctx, surface); err != nil {
		o.logger.Warn("failed to print document", zap.String("document", doc.Name), zap.Error(err))
		o.teardown(ctx, surface)
		return Surface{}, false
	}
	return surface, true
}

// awaitDialogClose races the completion signal, the blur-then-focus
// heuristic and the fallback timer. The losers are torn down.
func (o *Orchestrator) awaitDialogClose(ctx context.Context, s Surface) (string, error) {
	race := NewRace()

	race.Arm(DetectorCompletion, func(resolve func()) func() {
		stop, err := o.platform.OnPrintComplete(ctx, s, resolve)
		if err != nil {
			o.logger.Warn("completion detector unavailable", zap.Error(err))
			return nil
		}
		return stop
	})

	race.Arm(DetectorFocus, func(resolve func()) func() {
		var blurred atomic.Bool
		stop, err := o.platform.OnFocusChange(ctx, func(focused bool) {
			if !focused {
				blurred.Store(true)
				return
			}
			if blurred.Load() {
				resolve()
			}
		})
		if err != nil {
			o.logger.Warn("focus detector unavailable", zap.Error(err))
			return nil
		}
		return stop
	})

	race.Arm(DetectorFallback, func(resolve func()) func() {
		stop := o.clock.AfterFunc(o.fallback, resolve)
		return func() { stop() }
	})

	select {
	case <-race.Done():
		return race.Winner(), nil
	case <-ctx.Done():
		race.Cancel()
		return "", ctx.Err()
	}
}

// triggerSecondary moves the cycle to EligibleForB at most once and prints b
// when it has content. It reports whether b was printed.
func (o *Orchestrator) triggerSecondary(ctx context.Context, b Document) bool {
	o.mu.Lock()
	if o.secondaryTriggered {
		o.mu.Unlock()
		return false
	}
	o.secondaryTriggered = true
	o.mu.Unlock()

	o.setState(StateEligibleForB)
	if b.Empty() {
		return false
	}

	o.setState(StateRenderingB)
	surface, ok := o.renderAndPrint(ctx, b)
	if !ok {
		return false
	}

	o.setState(StateAwaitingB)
	race := NewRace()
	armed := false
	race.Arm(DetectorCompletion, func(resolve func()) func() {
		stop, err := o.platform.OnPrintComplete(ctx, surface, resolve)
		if err != nil {
			o.logger.Warn("completion detector unavailable", zap.Error(err))
			return nil
		}
		armed = true
		return stop
	})
	if armed {
		select {
		case <-race.Done():
		case <-ctx.Done():
			race.Cancel()
		}
	}
	o.teardown(ctx, surface)
	return true
}

// teardown always runs, even after ctx ended.
func (o *Orchestrator) teardown(ctx context.Context, s Surface) {
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()
	if err := o.platform.Teardown(tctx, s); err != nil {
		o.logger.Warn("failed to tear down print surface", zap.String("surface", s.ID), zap.Error(err))
	}
}

func (o *Orchestrator) states() []State {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]State, len(o.history))
	copy(out, o.history)
	return out
}
