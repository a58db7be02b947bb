package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"exchangesync/backend"
	"exchangesync/internal/utils"
)

// DefaultEventBuffer is the number of queued task changes before new ones are dropped
const DefaultEventBuffer = 256

const journalTimeout = 10 * time.Second

// ErrPullInProgress is returned when Pull is called while another pull runs
var ErrPullInProgress = errors.New("pull already in progress")

// Source is the remote side a coordinator reads from
type Source interface {
	backend.TaskSource
	backend.CalendarSource
}

// Mirror stores snapshots and journals task changes
type Mirror interface {
	ReplaceTasks(ctx context.Context, tasks []backend.TaskDto) error
	ReplaceAppointments(ctx context.Context, appointments []backend.AppointmentDto) error
	RecordTaskEvent(ctx context.Context, task backend.TaskDto) error
}

// PullResult summarizes a snapshot pull
type PullResult struct {
	Tasks        int           `json:"tasks" yaml:"tasks"`
	Appointments int           `json:"appointments" yaml:"appointments"`
	Duration     time.Duration `json:"duration" yaml:"duration"`
}

func (r PullResult) String() string {
	return fmt.Sprintf("%d tasks, %d appointments in %s", r.Tasks, r.Appointments, r.Duration.Round(time.Millisecond))
}

// Coordinator copies Exchange data into the mirror. Pull writes full
// snapshots; as a TaskObserver it journals streamed changes on a worker
// goroutine and forwards them to its own observers.
type Coordinator struct {
	source Source
	mirror Mirror // nil when no mirror is configured

	events chan backend.TaskDto
	wg     sync.WaitGroup

	pulling  atomic.Bool
	dropped  atomic.Int64
	sendMu   sync.RWMutex // guards events against close
	shutdown bool

	obsMu     sync.RWMutex
	observers []backend.TaskObserver
}

// NewCoordinator starts the journaling worker. mirror may be nil, in which
// case changes are only forwarded.
func NewCoordinator(source Source, mirror Mirror, buffer int) (*Coordinator, error) {
	if source == nil {
		return nil, fmt.Errorf("source backend is required")
	}
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}

	c := &Coordinator{
		source: source,
		mirror: mirror,
		events: make(chan backend.TaskDto, buffer),
	}
	c.wg.Add(1)
	go c.journal()
	return c, nil
}

// Pull replaces the mirror contents with the current tasks and appointments
func (c *Coordinator) Pull(ctx context.Context) (PullResult, error) {
	if c.mirror == nil {
		return PullResult{}, utils.ErrMirrorNotConfigured()
	}
	if !c.pulling.CompareAndSwap(false, true) {
		return PullResult{}, ErrPullInProgress
	}
	defer c.pulling.Store(false)

	start := time.Now()

	tasks, err := c.source.GetAllTasks(ctx)
	if err != nil {
		return PullResult{}, fmt.Errorf("failed to fetch tasks: %w", err)
	}
	appointments, err := c.source.GetAllAppointments(ctx)
	if err != nil {
		return PullResult{}, fmt.Errorf("failed to fetch appointments: %w", err)
	}

	if err := c.mirror.ReplaceTasks(ctx, tasks); err != nil {
		return PullResult{}, fmt.Errorf("failed to store tasks: %w", err)
	}
	if err := c.mirror.ReplaceAppointments(ctx, appointments); err != nil {
		return PullResult{}, fmt.Errorf("failed to store appointments: %w", err)
	}

	result := PullResult{Tasks: len(tasks), Appointments: len(appointments), Duration: time.Since(start)}
	utils.Infof("Pulled %s", result)
	return result, nil
}

// AddObserver registers an observer for changes after they are journaled
func (c *Coordinator) AddObserver(observer backend.TaskObserver) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	c.observers = append(c.observers, observer)
}

// TaskChanged queues a change without blocking the event source
func (c *Coordinator) TaskChanged(task backend.TaskDto) {
	c.sendMu.RLock()
	defer c.sendMu.RUnlock()

	if c.shutdown {
		return
	}
	select {
	case c.events <- task:
	default:
		c.dropped.Add(1)
		utils.WithField("item", task.ExchangeID).Warn("Event queue full, dropping task change")
	}
}

// Dropped returns the number of changes lost to a full queue
func (c *Coordinator) Dropped() int64 {
	return c.dropped.Load()
}

func (c *Coordinator) journal() {
	defer c.wg.Done()

	for task := range c.events {
		if c.mirror != nil {
			ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
			if err := c.mirror.RecordTaskEvent(ctx, task); err != nil {
				utils.WithError(err).WithField("item", task.ExchangeID).Error("Failed to journal task change")
			}
			cancel()
		}

		c.obsMu.RLock()
		observers := append([]backend.TaskObserver(nil), c.observers...)
		c.obsMu.RUnlock()
		for _, o := range observers {
			o.TaskChanged(task)
		}
	}
}

// Shutdown stops accepting changes and waits for queued ones to be
// journaled. It reports false when the timeout expires first.
func (c *Coordinator) Shutdown(timeout time.Duration) bool {
	c.sendMu.Lock()
	if !c.shutdown {
		c.shutdown = true
		close(c.events)
	}
	c.sendMu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		utils.Warnf("Pending task changes did not complete within %v", timeout)
		return false
	}
}
