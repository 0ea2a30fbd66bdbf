// Package dispatch runs the serial command loop: task-identified commands
// in, status events out. Handlers execute one at a time; no error or panic
// crosses the dispatcher boundary.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/studiosync/studiosync/internal/client/engine"
	"github.com/studiosync/studiosync/internal/studioapi"
)

const taskBufferSize = 64

// API is the slice of the metadata client the handlers consume.
type API interface {
	engine.MetadataAPI
	ListProjects(ctx context.Context) ([]*studioapi.Project, error)
	SetTokens(access, refresh string) error
	ListClientUpdates(ctx context.Context, target string) ([]*studioapi.Update, error)
	UploadLogs(ctx context.Context, archivePath string) error
}

// Updater applies a downloaded client update and relaunches. External
// capability; the dispatcher only invokes it.
type Updater interface {
	Apply(ctx context.Context, update *studioapi.Update) error
}

// Deps are the dispatcher's collaborators, injected by the daemon wiring.
type Deps struct {
	API API

	// NewEngine builds a reconciliation engine with the current durable
	// settings. Called once per sync-class command so setting changes take
	// effect without a restart.
	NewEngine func() (*engine.Engine, error)

	Updater Updater

	// OpenFile opens a path with the OS default application.
	OpenFile func(path string) error

	// OpenSettings surfaces the settings dialog capability.
	OpenSettings func()

	// LogFile is zipped and shipped by the logs command.
	LogFile string

	// Shutdown stops the daemon.
	Shutdown func()

	// Report forwards unexpected handler errors to the error-reporting
	// capability. Nil disables reporting.
	Report func(error)

	// Debug re-raises handler panics instead of converting them to events.
	Debug bool
}

type HandlerFunc func(ctx context.Context, task *Task) error

type Dispatcher struct {
	deps     *Deps
	tasks    chan *Task
	events   *EventQueue
	inflight mapset.Set[string]
	handlers map[string]HandlerFunc

	// syncMu guards the reconciliation critical section so an error path
	// cannot leave partially applied state. Force-released on handler error.
	syncMu   sync.Mutex
	syncHeld bool
	heldMu   sync.Mutex
}

func New(deps *Deps) *Dispatcher {
	d := &Dispatcher{
		deps:     deps,
		tasks:    make(chan *Task, taskBufferSize),
		events:   NewEventQueue(),
		inflight: mapset.NewSet[string](),
	}
	d.handlers = map[string]HandlerFunc{
		KindAuth:     d.handleAuth,
		KindSync:     d.handleSync,
		KindWorkOn:   d.handleWorkOn,
		KindWorkDone: d.handleWorkDone,
		KindTasks:    d.handleTasks,
		KindUpdate:   d.handleUpdate,
		KindLogs:     d.handleLogs,
		KindShutdown: d.handleShutdown,
		KindSettings: d.handleSettings,
	}
	return d
}

// Enqueue queues a task for the dispatcher loop. Returns false if the
// queue is full.
func (d *Dispatcher) Enqueue(task *Task) bool {
	select {
	case d.tasks <- task:
		slog.Debug("task queued", "task_id", task.ID, "kind", task.Kind)
		return true
	default:
		slog.Error("task queue full", "task_id", task.ID, "kind", task.Kind)
		return false
	}
}

// Events exposes the status-event queue for the result drain route.
func (d *Dispatcher) Events() *EventQueue {
	return d.events
}

// InFlight returns the ids of tasks currently executing or queued.
func (d *Dispatcher) InFlight() []string {
	return d.inflight.ToSlice()
}

// Run consumes tasks until the context is cancelled. Handlers run strictly
// one at a time on this goroutine.
func (d *Dispatcher) Run(ctx context.Context) error {
	slog.Info("dispatcher start")
	for {
		select {
		case <-ctx.Done():
			slog.Info("dispatcher stopped")
			return nil
		case task := <-d.tasks:
			d.runTask(ctx, task)
		}
	}
}

func (d *Dispatcher) runTask(ctx context.Context, task *Task) {
	d.inflight.Add(task.ID)
	defer d.inflight.Remove(task.ID)

	defer func() {
		if r := recover(); r != nil {
			if d.deps.Debug {
				panic(r)
			}
			d.releaseSyncLock()
			err := fmt.Errorf("handler panic: %v", r)
			slog.Error("task panicked", "task_id", task.ID, "kind", task.Kind, "panic", r)
			d.events.Push(NewEvent(task.ID, StatusError, map[string]any{"error": err.Error()}))
			if d.deps.Report != nil {
				d.deps.Report(err)
			}
		}
	}()

	handler, ok := d.handlers[task.Kind]
	if !ok {
		d.events.Push(NewEvent(task.ID, StatusError, map[string]any{
			"error": fmt.Sprintf("unknown command %q", task.Kind),
		}))
		return
	}

	slog.Info("task start", "task_id", task.ID, "kind", task.Kind)
	if err := handler(ctx, task); err != nil {
		d.releaseSyncLock()
		slog.Error("task failed", "task_id", task.ID, "kind", task.Kind, "error", err)
		d.events.Push(NewEvent(task.ID, StatusError, map[string]any{"error": err.Error()}))
		if d.deps.Report != nil && !d.deps.Debug {
			d.deps.Report(err)
		}
		return
	}
	slog.Info("task done", "task_id", task.ID, "kind", task.Kind)
}

func (d *Dispatcher) acquireSyncLock() {
	d.syncMu.Lock()
	d.heldMu.Lock()
	d.syncHeld = true
	d.heldMu.Unlock()
}

func (d *Dispatcher) releaseSyncLock() {
	d.heldMu.Lock()
	defer d.heldMu.Unlock()
	if d.syncHeld {
		d.syncHeld = false
		d.syncMu.Unlock()
	}
}
