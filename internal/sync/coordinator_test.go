package sync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"exchangesync/backend"
)

type fakeSource struct {
	tasks        []backend.TaskDto
	appointments []backend.AppointmentDto
	err          error
	block        chan struct{}
}

func (f *fakeSource) AddTask(context.Context, backend.TaskDto) error { return nil }
func (f *fakeSource) UpdateDueDate(context.Context, backend.TaskDto) error {
	return nil
}
func (f *fakeSource) UpdateCompletedFlag(context.Context, backend.TaskDto) error {
	return nil
}
func (f *fakeSource) AddAppointment(context.Context, backend.AppointmentDto) error {
	return nil
}
func (f *fakeSource) UpdateAppointment(context.Context, backend.AppointmentDto) error {
	return nil
}
func (f *fakeSource) DeleteAppointment(context.Context, backend.AppointmentDto) error {
	return nil
}

func (f *fakeSource) GetAllTasks(ctx context.Context) ([]backend.TaskDto, error) {
	if f.block != nil {
		<-f.block
	}
	return f.tasks, f.err
}

func (f *fakeSource) GetAllAppointments(ctx context.Context) ([]backend.AppointmentDto, error) {
	return f.appointments, nil
}

type fakeMirror struct {
	mu           sync.Mutex
	tasks        []backend.TaskDto
	appointments []backend.AppointmentDto
	events       []backend.TaskDto
	recordErr    error
}

func (m *fakeMirror) ReplaceTasks(_ context.Context, tasks []backend.TaskDto) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = tasks
	return nil
}

func (m *fakeMirror) ReplaceAppointments(_ context.Context, appointments []backend.AppointmentDto) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appointments = appointments
	return nil
}

func (m *fakeMirror) RecordTaskEvent(_ context.Context, task backend.TaskDto) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, task)
	return m.recordErr
}

func (m *fakeMirror) recorded() []backend.TaskDto {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]backend.TaskDto(nil), m.events...)
}

func TestNewCoordinatorRequiresSource(t *testing.T) {
	if _, err := NewCoordinator(nil, &fakeMirror{}, 0); err == nil {
		t.Error("NewCoordinator(nil) expected error")
	}
}

func TestPull(t *testing.T) {
	source := &fakeSource{
		tasks:        []backend.TaskDto{{ExchangeID: "t1"}, {ExchangeID: "t2"}},
		appointments: []backend.AppointmentDto{{ExchangeID: "a1"}},
	}
	mirror := &fakeMirror{}
	c, err := NewCoordinator(source, mirror, 0)
	if err != nil {
		t.Fatalf("NewCoordinator() error = %v", err)
	}
	defer c.Shutdown(time.Second)

	result, err := c.Pull(context.Background())
	if err != nil {
		t.Fatalf("Pull() error = %v", err)
	}
	if result.Tasks != 2 || result.Appointments != 1 {
		t.Errorf("Pull() = %+v, want 2 tasks and 1 appointment", result)
	}
	if len(mirror.tasks) != 2 || len(mirror.appointments) != 1 {
		t.Errorf("mirror holds %d tasks and %d appointments", len(mirror.tasks), len(mirror.appointments))
	}
}

func TestPullErrors(t *testing.T) {
	boom := errors.New("boom")

	c, _ := NewCoordinator(&fakeSource{err: boom}, &fakeMirror{}, 0)
	defer c.Shutdown(time.Second)
	if _, err := c.Pull(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Pull() error = %v, want wrapped source error", err)
	}

	noMirror, _ := NewCoordinator(&fakeSource{}, nil, 0)
	defer noMirror.Shutdown(time.Second)
	if _, err := noMirror.Pull(context.Background()); err == nil {
		t.Error("Pull() without mirror expected error")
	}
}

func TestPullInProgress(t *testing.T) {
	source := &fakeSource{block: make(chan struct{})}
	c, _ := NewCoordinator(source, &fakeMirror{}, 0)
	defer c.Shutdown(time.Second)

	done := make(chan error, 1)
	go func() {
		_, err := c.Pull(context.Background())
		done <- err
	}()

	// wait until the first pull holds the flag
	deadline := time.Now().Add(time.Second)
	for !c.pulling.Load() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if _, err := c.Pull(context.Background()); !errors.Is(err, ErrPullInProgress) {
		t.Errorf("concurrent Pull() error = %v, want ErrPullInProgress", err)
	}

	close(source.block)
	if err := <-done; err != nil {
		t.Errorf("first Pull() error = %v", err)
	}
}

func TestTaskChangedJournalsAndForwards(t *testing.T) {
	mirror := &fakeMirror{recordErr: errors.New("disk full")}
	c, _ := NewCoordinator(&fakeSource{}, mirror, 0)

	var mu sync.Mutex
	var forwarded []string
	c.AddObserver(backend.TaskObserverFunc(func(task backend.TaskDto) {
		mu.Lock()
		defer mu.Unlock()
		forwarded = append(forwarded, task.ExchangeID)
	}))

	c.TaskChanged(backend.TaskDto{ExchangeID: "t1"})
	c.TaskChanged(backend.TaskDto{ExchangeID: "t2"})

	if !c.Shutdown(time.Second) {
		t.Fatal("Shutdown() timed out")
	}

	if got := mirror.recorded(); len(got) != 2 {
		t.Errorf("journaled %d events, want 2", len(got))
	}
	mu.Lock()
	defer mu.Unlock()
	if len(forwarded) != 2 || forwarded[0] != "t1" || forwarded[1] != "t2" {
		t.Errorf("forwarded = %v, want [t1 t2] even when journaling fails", forwarded)
	}

	// changes after shutdown are ignored
	c.TaskChanged(backend.TaskDto{ExchangeID: "t3"})
	if got := mirror.recorded(); len(got) != 2 {
		t.Errorf("journaled %d events after shutdown, want 2", len(got))
	}
}

func TestTaskChangedDropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	c, _ := NewCoordinator(&fakeSource{}, nil, 1)
	c.AddObserver(backend.TaskObserverFunc(func(backend.TaskDto) { <-release }))

	// first change is picked up by the worker and blocks it, second fills
	// the buffer, the rest are dropped
	c.TaskChanged(backend.TaskDto{ExchangeID: "t1"})
	deadline := time.Now().Add(time.Second)
	for len(c.events) != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	for i := 0; i < 3; i++ {
		c.TaskChanged(backend.TaskDto{ExchangeID: "tx"})
	}

	if got := c.Dropped(); got != 2 {
		t.Errorf("Dropped() = %d, want 2", got)
	}
	close(release)
	c.Shutdown(time.Second)
}
