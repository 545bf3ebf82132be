package integration

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"

	"proctorwire/internal/clock"
	"proctorwire/internal/signals"
	"proctorwire/pkg/interfaces"
	"proctorwire/pkg/types"
)

type batchLog struct {
	mu      sync.Mutex
	batches [][]string
}

func (b *batchLog) add(batch []types.Message) {
	names := make([]string, len(batch))
	for i, m := range batch {
		names[i] = m.MessageType()
	}
	b.mu.Lock()
	b.batches = append(b.batches, names)
	b.mu.Unlock()
}

func (b *batchLog) all() [][]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]string(nil), b.batches...)
}

// FUNCTIONAL VALIDATION TEST: progress, answer and TAB_SWITCH sent back to back
// reach the dashboard as one batch ordered violation, answer, progress
func TestSessionFlow_PrioritizedDelivery(t *testing.T) {
	r := startRelay(t)
	sessionID := r.createSession(t, "st1", "st2")

	dashClock := clock.Fake(epoch)
	dash := newDashboard(t, r, sessionID, dashClock)

	studentClock := clock.Fake(epoch)
	bus := newBus()
	client := newStudent(t, r, sessionID, "st1", bus, studentClock)

	// connected, sup1 joined, st1 joined
	eventually(t, "join events", func() bool { return dash.PipelineStats().Received >= 3 })
	dash.Flush()

	got := &batchLog{}
	dash.OnBatch(got.add)

	// Open the progress lane so the first update goes out immediately.
	studentClock.Advance(2 * time.Second)
	client.TrackProgress(0, 4, 5)
	if err := client.TrackAnswer("q5", "B", 5); err != nil {
		t.Fatalf("TrackAnswer failed: %v", err)
	}
	bus.Emit(&signals.Event{Kind: signals.KindVisibilityChange, Hidden: true})

	eventually(t, "three messages buffered", func() bool { return dash.PipelineStats().Buffered == 3 })
	dashClock.Advance(300 * time.Millisecond)

	batches := got.all()
	if len(batches) != 1 {
		t.Fatalf("Expected one batch, got %v", batches)
	}
	want := "violation,student_answer,student_progress"
	if order := strings.Join(batches[0], ","); order != want {
		t.Errorf("Batch order = %s, want %s", order, want)
	}

	p, ok := dash.Student("st1")
	if !ok {
		t.Fatal("Dashboard has no projection for st1")
	}
	if p.QuestionNumber != 5 || p.AnswersSubmitted != 1 || p.ViolationCount != 1 || p.Connection != types.PresenceConnected {
		t.Errorf("Unexpected dashboard projection: %+v", p)
	}

	// The relay's own projection saw the same stream.
	eventually(t, "relay projection", func() bool {
		stats, ok := r.monitor.Stats(sessionID)
		return ok && stats.TotalViolations == 1 && stats.ConnectedStudents == 1 && stats.TotalStudents == 2
	})
}

// FUNCTIONAL VALIDATION TEST: Ending a session over REST completes every client
func TestSessionFlow_EndSession(t *testing.T) {
	r := startRelay(t)
	sessionID := r.createSession(t, "st1")

	dash := newDashboard(t, r, sessionID, nil)
	client := newStudent(t, r, sessionID, "st1", newBus(), nil)
	eventually(t, "student joined", func() bool {
		_, ok := dash.Student("st1")
		return ok
	})

	r.delete(t, "/api/sessions/"+sessionID)

	eventually(t, "student finished", client.Finished)
	eventually(t, "dashboard completed", func() bool { return dash.Session().Completed })
	eventually(t, "dashboard closed", func() bool {
		return dash.Controller().LastClose().Code == types.CloseSessionEnded
	})
	if !errors.Is(r.sessions.ValidateSessionMembership(sessionID, "st1", types.RoleStudent), interfaces.ErrSessionEnded) {
		t.Error("Ended session should refuse members")
	}
}

// FUNCTIONAL VALIDATION TEST: A kicked student is closed with 4003 and cannot rejoin
func TestSessionFlow_KickStudent(t *testing.T) {
	r := startRelay(t)
	sessionID := r.createSession(t, "st1", "st2")

	dash := newDashboard(t, r, sessionID, nil)
	client := newStudent(t, r, sessionID, "st1", newBus(), nil)
	eventually(t, "student connected", func() bool { return len(r.registry.ConnectedStudents(sessionID)) == 1 })

	r.delete(t, "/api/sessions/"+sessionID+"/students/st1")

	eventually(t, "kicked client finished", client.Finished)
	if code := client.Controller().LastClose().Code; code != types.CloseReplaced {
		t.Errorf("Expected close %d, got %d", types.CloseReplaced, code)
	}
	eventually(t, "dashboard saw disconnect", func() bool {
		p, ok := dash.Student("st1")
		return ok && p.Connection == types.PresenceDisconnected
	})

	url := r.wsURL() + "?session_id=" + sessionID + "&user_id=st1&role=student"
	conn, _, err := gorilla.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err = conn.ReadMessage()
	var closeErr *gorilla.CloseError
	if !errors.As(err, &closeErr) || closeErr.Code != types.CloseAccessDenied {
		t.Errorf("Expected rejoin to close with %d, got %v", types.CloseAccessDenied, err)
	}
}

// FUNCTIONAL VALIDATION TEST: A full exam room reaches the dashboard and the relay projection
func TestSessionFlow_ExamRoom(t *testing.T) {
	r := startRelay(t)
	roster := examRoster(20)
	sessionID := r.createSession(t, roster...)
	dash := newDashboard(t, r, sessionID, nil)

	buses := make([]*signals.Bus, len(roster))
	for i, id := range roster {
		buses[i] = newBus()
		client := newStudent(t, r, sessionID, id, buses[i], nil)
		if err := client.TrackAnswer("q1", i, 1); err != nil {
			t.Fatalf("TrackAnswer for %s failed: %v", id, err)
		}
	}
	for _, bus := range buses {
		bus.Emit(&signals.Event{Kind: signals.KindCopy, Target: signals.Target{Tag: "p"}})
	}

	eventually(t, "dashboard totals", func() bool {
		totals := dash.Totals()
		return totals.Students == len(roster) && totals.Connected == len(roster) && totals.Violations == len(roster)
	})
	for _, p := range dash.Students() {
		if p.AnswersSubmitted != 1 || p.Violations[types.ViolationCopyAttempt] != 1 {
			t.Errorf("Unexpected projection for %s: %+v", p.StudentID, p)
		}
	}
	eventually(t, "relay stats", func() bool {
		stats, ok := r.monitor.Stats(sessionID)
		return ok && stats.ConnectedStudents == len(roster) && stats.TotalViolations == len(roster)
	})
}
