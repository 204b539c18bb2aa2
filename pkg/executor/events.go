package executor

import "time"

type EventType string

const (
	EventQueued    EventType = "queued"
	EventAdmitted  EventType = "admitted"
	EventCompleted EventType = "completed"
	EventRequeued  EventType = "requeued"
	EventFailed    EventType = "failed"
)

// A task lifecycle transition.
type Event struct {
	Type         EventType     `json:"type"`
	TaskID       uint64        `json:"task_id"`
	Kernel       string        `json:"kernel"`
	ProcessName  string        `json:"process_name"`
	Attempts     int           `json:"attempts"`
	Worker       int           `json:"worker"`
	MemoryNeeded uint64        `json:"memory_needed,omitempty"`
	Waited       time.Duration `json:"waited,omitempty"`
	Err          error         `json:"-"`
	Time         time.Time     `json:"time"`
}

func newEvent(typ EventType, task *Task, worker int) Event {
	return Event{
		Type:        typ,
		TaskID:      task.ID(),
		Kernel:      task.Kernel().Name(),
		ProcessName: task.ProcessName(),
		Attempts:    task.Attempts(),
		Worker:      worker,
		Time:        time.Now(),
	}
}
