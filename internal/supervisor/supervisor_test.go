package supervisor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/propfolio/researchd/internal/channel"
	"github.com/propfolio/researchd/internal/sessions"
	"github.com/propfolio/researchd/pkg/models"
)

type fakeDriver struct {
	mu     sync.Mutex
	starts int

	store *sessions.Store
	// block, when set, holds RunLoop open until closed.
	block chan struct{}
	// terminal is the status the fake leaves the session in; empty means
	// leave it alone.
	terminal models.SessionStatus
}

func (d *fakeDriver) RunLoop(_ context.Context, sessionID, _ string) {
	d.mu.Lock()
	d.starts++
	d.mu.Unlock()

	d.store.TryTransition(sessionID, models.StatusPending, models.StatusRunning)
	if d.block != nil {
		<-d.block
	}
	if d.terminal != "" {
		d.store.TryTransition(sessionID, models.StatusRunning, d.terminal)
	}
}

func (d *fakeDriver) started() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.starts
}

func newSession(id string, status models.SessionStatus) *models.Session {
	now := time.Now().UTC()
	return &models.Session{
		ID:           id,
		OwnerID:      "u1",
		Status:       status,
		ResearchGoal: "goal",
		Config: models.SessionConfig{
			TimeLimit:             30 * time.Minute,
			MaxConversationLength: 40,
			PreserveExchanges:     6,
		},
		CreatedAt:      now,
		LastActivityAt: now,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached")
}

func TestEnsureLoopAtMostOne(t *testing.T) {
	store := sessions.New(nil, nil, nil)
	t.Cleanup(store.Close)
	driver := &fakeDriver{store: store, block: make(chan struct{}), terminal: models.StatusCompleted}
	sup := New(store, driver, nil, time.Hour, nil, nil)

	if err := store.Create(newSession("s1", models.StatusPending)); err != nil {
		t.Fatal(err)
	}
	if err := sup.EnsureLoop("s1"); err != nil {
		t.Fatal(err)
	}
	// Second call while the first loop still runs is a no-op.
	if err := sup.EnsureLoop("s1"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return driver.started() == 1 })

	snapshot, err := store.Snapshot("s1")
	if err != nil {
		t.Fatal(err)
	}
	if snapshot.ActiveLoopToken == "" {
		t.Error("loop token not claimed")
	}

	close(driver.block)
	sup.Close()

	if driver.started() != 1 {
		t.Fatalf("driver started %d times", driver.started())
	}
	snapshot, _ = store.Snapshot("s1")
	if snapshot.ActiveLoopToken != "" {
		t.Error("loop token not released")
	}
	if sup.ActiveLoops() != 0 {
		t.Errorf("active loops = %d", sup.ActiveLoops())
	}
}

func TestEnsureLoopConcurrentCallersStartOne(t *testing.T) {
	store := sessions.New(nil, nil, nil)
	t.Cleanup(store.Close)
	driver := &fakeDriver{store: store, terminal: models.StatusCompleted, block: make(chan struct{})}
	sup := New(store, driver, nil, time.Hour, nil, nil)

	if err := store.Create(newSession("s1", models.StatusPending)); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sup.EnsureLoop("s1")
		}()
	}
	wg.Wait()
	close(driver.block)
	sup.Close()

	if driver.started() != 1 {
		t.Fatalf("driver started %d times, want 1", driver.started())
	}
}

func TestInterruptIdempotentWithoutLoop(t *testing.T) {
	store := sessions.New(nil, nil, nil)
	t.Cleanup(store.Close)
	hub := channel.NewHub(16, nil)
	sup := New(store, &fakeDriver{store: store}, hub, time.Hour, nil, nil)
	t.Cleanup(sup.Close)

	if err := store.Create(newSession("s1", models.StatusPending)); err != nil {
		t.Fatal(err)
	}
	sub := hub.Subscribe("s1")

	sup.Interrupt("s1")
	sup.Interrupt("s1")

	snapshot, _ := store.Snapshot("s1")
	if snapshot.Status != models.StatusInterrupted {
		t.Fatalf("status = %s", snapshot.Status)
	}

	transitions := 0
	for {
		select {
		case ev := <-sub.C:
			if ev.Type == channel.EventStatusChanged {
				transitions++
			}
		default:
			if transitions != 1 {
				t.Errorf("status_changed events = %d, want 1", transitions)
			}
			return
		}
	}
}

func TestInterruptFlagClearsAfterLoopExit(t *testing.T) {
	store := sessions.New(nil, nil, nil)
	t.Cleanup(store.Close)
	driver := &fakeDriver{store: store, block: make(chan struct{}), terminal: models.StatusInterrupted}
	sup := New(store, driver, nil, time.Hour, nil, nil)

	if err := store.Create(newSession("s1", models.StatusPending)); err != nil {
		t.Fatal(err)
	}
	if err := sup.EnsureLoop("s1"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return driver.started() == 1 })

	sup.Interrupt("s1")
	if !sup.InterruptRequested("s1") {
		t.Fatal("interrupt flag not set")
	}

	close(driver.block)
	sup.Close()

	if sup.InterruptRequested("s1") {
		t.Error("interrupt flag survived loop exit")
	}
}

func TestTimeoutTickerExpiresOverdueSession(t *testing.T) {
	store := sessions.New(nil, nil, nil)
	t.Cleanup(store.Close)
	hub := channel.NewHub(16, nil)
	driver := &fakeDriver{store: store, block: make(chan struct{})}
	sup := New(store, driver, hub, 5*time.Millisecond, nil, nil)

	session := newSession("s1", models.StatusPending)
	session.CreatedAt = time.Now().UTC().Add(-31 * time.Minute)
	if err := store.Create(session); err != nil {
		t.Fatal(err)
	}
	sub := hub.Subscribe("s1")

	if err := sup.EnsureLoop("s1"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		snapshot, err := store.Snapshot("s1")
		return err == nil && snapshot.Status == models.StatusTimeout
	})

	close(driver.block)
	sup.Close()

	found := false
	for {
		select {
		case ev := <-sub.C:
			if ev.Type == channel.EventTimeout {
				found = true
			}
		default:
			if !found {
				t.Error("no timeout event")
			}
			return
		}
	}
}

type staticReconciler []string

func (r staticReconciler) SessionIDsByStatus(context.Context, models.SessionStatus) ([]string, error) {
	return r, nil
}

func TestReconcileOrphanedRunningSessions(t *testing.T) {
	store := sessions.New(nil, nil, nil)
	t.Cleanup(store.Close)
	sup := New(store, &fakeDriver{store: store}, nil, time.Hour, nil, nil)
	t.Cleanup(sup.Close)

	orphan := newSession("s1", models.StatusRunning)
	orphan.ActiveLoopToken = "stale"
	if err := store.Create(orphan); err != nil {
		t.Fatal(err)
	}
	untouched := newSession("s2", models.StatusCompleted)
	if err := store.Create(untouched); err != nil {
		t.Fatal(err)
	}

	if err := sup.Reconcile(context.Background(), staticReconciler{"s1", "s2"}); err != nil {
		t.Fatal(err)
	}

	got, _ := store.Snapshot("s1")
	if got.Status != models.StatusError || got.ActiveLoopToken != "" {
		t.Errorf("orphan = %s token %q", got.Status, got.ActiveLoopToken)
	}
	got, _ = store.Snapshot("s2")
	if got.Status != models.StatusCompleted {
		t.Errorf("completed session touched: %s", got.Status)
	}
}
