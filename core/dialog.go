package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/koscakluka/ema-dialog/core/dispatch"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	DefaultActorTag      = "Player"
	DefaultSettleDelay   = 50 * time.Millisecond
	DefaultViewSwapDelay = 500 * time.Millisecond
)

var errStepPanicked = errors.New("dialog step panicked")

type DialogState int

const (
	DialogInactive DialogState = iota
	DialogEntering
	DialogActive
	DialogRecovering
)

func (s DialogState) String() string {
	switch s {
	case DialogInactive:
		return "inactive"
	case DialogEntering:
		return "entering"
	case DialogActive:
		return "active"
	case DialogRecovering:
		return "recovering"
	default:
		return fmt.Sprintf("DialogState(%d)", int(s))
	}
}

// Placement is where an actor stands while in dialog.
type Placement struct {
	X, Y, Z float64
	Yaw     float64
}

type ActorControl interface {
	SetEnabled(enabled bool)
}

// Actor is whatever walked into the trigger.
type Actor interface {
	ActorControl
	Tag() string
	MoveTo(placement Placement) error
}

type View interface {
	SetActive(active bool)
}

type Pointer interface {
	SetVisible(visible bool)
}

// ConversationGate is enabled only while the dialog is active.
type ConversationGate interface {
	SetEnabled(enabled bool)
}

type DialogOption func(*dialogOptions)

type dialogOptions struct {
	mainView      View
	dialogView    View
	pointer       Pointer
	standingPoint *Placement
	actorTag      string

	settleDelay   time.Duration
	viewSwapDelay time.Duration

	onStateChange func(from, to DialogState)
}

func WithMainView(view View) DialogOption {
	return func(o *dialogOptions) { o.mainView = view }
}

func WithDialogView(view View) DialogOption {
	return func(o *dialogOptions) { o.dialogView = view }
}

func WithPointer(pointer Pointer) DialogOption {
	return func(o *dialogOptions) { o.pointer = pointer }
}

// WithStandingPoint moves the actor to placement while entering.
func WithStandingPoint(placement Placement) DialogOption {
	return func(o *dialogOptions) { o.standingPoint = &placement }
}

// WithActorTag restricts triggers to actors with tag. Empty accepts any actor.
func WithActorTag(tag string) DialogOption {
	return func(o *dialogOptions) { o.actorTag = tag }
}

func WithSettleDelay(delay time.Duration) DialogOption {
	return func(o *dialogOptions) {
		if delay >= 0 {
			o.settleDelay = delay
		}
	}
}

func WithViewSwapDelay(delay time.Duration) DialogOption {
	return func(o *dialogOptions) {
		if delay >= 0 {
			o.viewSwapDelay = delay
		}
	}
}

// WithStateCallback observes every transition, Recovering included. It is
// called without the dialog's lock held.
func WithStateCallback(callback func(from, to DialogState)) DialogOption {
	return func(o *dialogOptions) { o.onStateChange = callback }
}

// Dialog moves an actor in and out of a conversation: it takes away the
// actor's control, swaps the main view for the dialog view and gives
// everything back on Recover.
//
// Like [Conversation], it is driven from the controlling goroutine and
// schedules its delayed steps on the queue.
type Dialog struct {
	mu    sync.Mutex
	state DialogState
	actor Actor
	gate  ConversationGate
	// generation identifies the current entering sequence; steps scheduled
	// for an older one are dropped.
	generation uint64
	closed     bool

	queue   *dispatch.Queue
	options dialogOptions
}

func NewDialog(queue *dispatch.Queue, opts ...DialogOption) *Dialog {
	options := dialogOptions{
		actorTag:      DefaultActorTag,
		settleDelay:   DefaultSettleDelay,
		viewSwapDelay: DefaultViewSwapDelay,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Dialog{queue: queue, options: options}
}

// AttachConversation gates gate on the dialog being active. It is disabled
// right away unless the dialog already is.
func (d *Dialog) AttachConversation(gate ConversationGate) {
	d.mu.Lock()
	d.gate = gate
	active := d.state == DialogActive
	d.mu.Unlock()

	if gate != nil {
		gate.SetEnabled(active)
	}
}

func (d *Dialog) State() DialogState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// OnTriggerEnter starts entering the dialog with actor and reports whether it
// did. Triggers from other actors, while not inactive, or after Close are
// ignored.
func (d *Dialog) OnTriggerEnter(actor Actor) bool {
	if actor == nil {
		return false
	}
	if d.options.actorTag != "" && actor.Tag() != d.options.actorTag {
		logger.Debug("ignoring trigger from untagged actor", "tag", actor.Tag())
		return false
	}

	d.mu.Lock()
	if d.closed || d.state != DialogInactive {
		state, closed := d.state, d.closed
		d.mu.Unlock()
		logger.Debug("ignoring trigger", "state", state.String(), "closed", closed)
		return false
	}
	d.generation++
	generation := d.generation
	d.actor = actor
	d.state = DialogEntering
	d.mu.Unlock()
	d.notifyState(DialogInactive, DialogEntering)

	_, span := tracer.Start(context.Background(), "enter dialog")
	defer span.End()
	span.SetAttributes(attribute.String("dialog.actor_tag", actor.Tag()))

	err := d.enterStep(generation, func() error {
		actor.SetEnabled(false)
		return d.schedule(d.options.settleDelay, generation, d.position)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return true
}

func (d *Dialog) position(generation uint64) error {
	d.mu.Lock()
	actor := d.actor
	d.mu.Unlock()

	if d.options.standingPoint != nil {
		if err := actor.MoveTo(*d.options.standingPoint); err != nil {
			return fmt.Errorf("failed to move actor to standing point: %w", err)
		}
	}
	if d.options.mainView != nil {
		d.options.mainView.SetActive(false)
	}
	return d.schedule(d.options.viewSwapDelay, generation, d.activate)
}

func (d *Dialog) activate(generation uint64) error {
	if d.options.dialogView != nil {
		d.options.dialogView.SetActive(true)
	}
	if d.options.pointer != nil {
		d.options.pointer.SetVisible(true)
	}

	d.mu.Lock()
	if d.generation != generation || d.state != DialogEntering {
		d.mu.Unlock()
		return nil
	}
	d.state = DialogActive
	gate := d.gate
	d.mu.Unlock()
	d.notifyState(DialogEntering, DialogActive)

	if gate != nil {
		gate.SetEnabled(true)
	}
	return nil
}

// schedule queues step to run after delay as part of the entering sequence
// identified by generation.
func (d *Dialog) schedule(delay time.Duration, generation uint64, step func(generation uint64) error) error {
	future := d.queue.EnqueueAfter(delay, func() error {
		return d.enterStep(generation, func() error { return step(generation) })
	})
	if future.IsResolved() {
		if err := future.Err(); err != nil {
			return fmt.Errorf("failed to schedule dialog step: %w", err)
		}
	}
	return nil
}

// enterStep runs step if generation is still entering and recovers the dialog
// when it fails.
func (d *Dialog) enterStep(generation uint64, step func() error) error {
	d.mu.Lock()
	current := d.generation == generation && d.state == DialogEntering && !d.closed
	d.mu.Unlock()
	if !current {
		return nil
	}

	if err := guard(step); err != nil {
		logger.Error("failed to enter dialog, recovering", "error", err)
		d.Recover()
		return err
	}
	return nil
}

// Recover gives the actor back its control, restores the main view and hides
// the dialog view and pointer. It can be called in any state, any number of
// times; missing collaborators are skipped.
func (d *Dialog) Recover() {
	d.mu.Lock()
	from := d.state
	if from == DialogRecovering {
		d.mu.Unlock()
		return
	}
	d.generation++
	if from != DialogInactive {
		d.state = DialogRecovering
	}
	actor, gate := d.actor, d.gate
	d.mu.Unlock()

	if from != DialogInactive {
		d.notifyState(from, DialogRecovering)
	}

	d.restore(actor, gate)

	d.mu.Lock()
	d.state = DialogInactive
	d.mu.Unlock()

	if from != DialogInactive {
		d.notifyState(DialogRecovering, DialogInactive)
	}
}

func (d *Dialog) restore(actor Actor, gate ConversationGate) {
	steps := []struct {
		name    string
		restore func()
	}{
		{"conversation", func() {
			if gate != nil {
				gate.SetEnabled(false)
			}
		}},
		{"actor", func() {
			if actor != nil {
				actor.SetEnabled(true)
			}
		}},
		{"main view", func() {
			if d.options.mainView != nil {
				d.options.mainView.SetActive(true)
			}
		}},
		{"dialog view", func() {
			if d.options.dialogView != nil {
				d.options.dialogView.SetActive(false)
			}
		}},
		{"pointer", func() {
			if d.options.pointer != nil {
				d.options.pointer.SetVisible(false)
			}
		}},
	}

	for _, step := range steps {
		if err := guard(func() error { step.restore(); return nil }); err != nil {
			logger.Error("failed to restore after dialog", "resource", step.name, "error", err)
		}
	}
}

// Close tears the dialog down: an entered dialog is recovered and later
// triggers are ignored.
func (d *Dialog) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	state := d.state
	d.mu.Unlock()

	if state == DialogEntering || state == DialogActive {
		d.Recover()
	}
}

func (d *Dialog) notifyState(from, to DialogState) {
	logger.Debug("dialog state changed", "from", from.String(), "to", to.String())
	if d.options.onStateChange != nil {
		d.options.onStateChange(from, to)
	}
}

func guard(step func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errStepPanicked, r)
		}
	}()
	return step()
}
