package dispatch

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
)

// Command kinds routed by the dispatcher.
const (
	KindAuth     = "auth"
	KindSync     = "sync"
	KindWorkOn   = "workon"
	KindWorkDone = "workdone"
	KindTasks    = "tasks"
	KindUpdate   = "update"
	KindLogs     = "logs"
	KindShutdown = "shutdown"
	KindSettings = "settings"
)

// Statuses carried by events.
const (
	StatusProgress = "progress"
	StatusWarn     = "warn"
	StatusError    = "error"
	StatusComplete = "complete"
	StatusTasks    = "tasks"
)

// Task is one queued command. Data is the decoded JWT payload.
type Task struct {
	ID   string
	Kind string
	Data map[string]any
}

func NewTask(kind string, data map[string]any) *Task {
	return &Task{
		ID:   uuid.NewString(),
		Kind: kind,
		Data: data,
	}
}

// Event is one status emission for a task. Extra fields marshal inline next
// to task_id and status, matching what the companion web UI drains.
type Event struct {
	TaskID string
	Status string
	Extra  map[string]any
}

func NewEvent(taskID, status string, extra map[string]any) *Event {
	return &Event{TaskID: taskID, Status: status, Extra: extra}
}

func (e *Event) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(e.Extra)+2)
	for k, v := range e.Extra {
		flat[k] = v
	}
	flat["task_id"] = e.TaskID
	flat["status"] = e.Status
	return json.Marshal(flat)
}

// EventQueue buffers status events until the web UI drains them.
type EventQueue struct {
	mu     sync.Mutex
	events []*Event
}

func NewEventQueue() *EventQueue {
	return &EventQueue{}
}

func (q *EventQueue) Push(e *Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(q.events, e)
}

// Drain pops every pending event without blocking.
func (q *EventQueue) Drain() []*Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	events := q.events
	q.events = nil
	return events
}

func (q *EventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}
