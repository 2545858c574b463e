package worker

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/hyperengineering/linkedevents/internal/importer"
	"github.com/hyperengineering/linkedevents/internal/types"
)

// mockRunner records runs per importer.
type mockRunner struct {
	mu    sync.Mutex
	calls map[string]int
	order []string
	errs  map[string]error
}

func newMockRunner() *mockRunner {
	return &mockRunner{calls: make(map[string]int), errs: make(map[string]error)}
}

func (m *mockRunner) Run(ctx context.Context, name string, opts importer.Options) (*types.ImportRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[name]++
	m.order = append(m.order, name)
	run := &types.ImportRun{ID: name + "-run", Importer: name, Status: types.RunSucceeded}
	if err := m.errs[name]; err != nil {
		run.Status = types.RunFailed
		return run, err
	}
	return run, nil
}

func (m *mockRunner) getCalls(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[name]
}

func (m *mockRunner) waitForCalls(name string, n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if m.getCalls(name) >= n {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestImportCoordinator_RunsEachScheduleAtItsInterval(t *testing.T) {
	runner := newMockRunner()
	coord := NewImportCoordinator(runner, map[string]time.Duration{
		"tprek":  20 * time.Millisecond,
		"helmet": time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		coord.Run(ctx)
		close(done)
	}()

	// Given a short tprek interval, tprek runs repeatedly
	if !runner.waitForCalls("tprek", 2, 2*time.Second) {
		t.Fatal("timed out waiting for tprek runs")
	}
	cancel()
	<-done

	// And helmet has not reached its first tick
	if got := runner.getCalls("helmet"); got != 0 {
		t.Errorf("helmet runs = %d, want 0", got)
	}
}

func TestImportCoordinator_DoesNotRunImmediately(t *testing.T) {
	runner := newMockRunner()
	coord := NewImportCoordinator(runner, map[string]time.Duration{"tprek": time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		coord.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	if got := runner.getCalls("tprek"); got != 0 {
		t.Errorf("runs = %d, want 0", got)
	}
}

func TestImportCoordinator_KeepsRunningAfterFailures(t *testing.T) {
	runner := newMockRunner()
	runner.errs["tprek"] = errors.New("feed down")
	coord := NewImportCoordinator(runner, map[string]time.Duration{"tprek": 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		coord.Run(ctx)
		close(done)
	}()

	if !runner.waitForCalls("tprek", 3, 2*time.Second) {
		t.Fatal("coordinator stopped after a failed run")
	}
	cancel()
	<-done
}

func TestImportCoordinator_RunOnce(t *testing.T) {
	runner := newMockRunner()
	runner.errs["matko"] = errors.New("feed down")
	runner.errs["helmet"] = importer.ErrRunInProgress
	coord := NewImportCoordinator(runner, map[string]time.Duration{
		"tprek":  time.Hour,
		"matko":  time.Hour,
		"helmet": time.Hour,
	})

	// When running every scheduled importer once
	failed := coord.RunOnce(context.Background())

	// Then all run in name order and the two failures are counted
	if failed != 2 {
		t.Errorf("failed = %d, want 2", failed)
	}
	if want := []string{"helmet", "matko", "tprek"}; !slices.Equal(runner.order, want) {
		t.Errorf("order = %v, want %v", runner.order, want)
	}
}

func TestNewImportCoordinator_IgnoresDisabledSchedules(t *testing.T) {
	coord := NewImportCoordinator(newMockRunner(), map[string]time.Duration{
		"tprek":      time.Hour,
		"lippupiste": 0,
		"matko":      -time.Minute,
	})
	if got := coord.Names(); !slices.Equal(got, []string{"tprek"}) {
		t.Errorf("names = %v, want [tprek]", got)
	}
}

func TestImportCoordinator_RunOnceStopsWhenCancelled(t *testing.T) {
	runner := newMockRunner()
	coord := NewImportCoordinator(runner, map[string]time.Duration{"tprek": time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	coord.RunOnce(ctx)
	if got := runner.getCalls("tprek"); got != 0 {
		t.Errorf("runs after cancel = %d, want 0", got)
	}
}
