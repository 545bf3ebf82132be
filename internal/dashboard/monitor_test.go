package dashboard

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"proctorwire/internal/clock"
	"proctorwire/internal/controller"
	"proctorwire/internal/pipeline"
	"proctorwire/pkg/types"
)

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// newRelay starts a server that hands the upgraded connection to the test.
func newRelay(t *testing.T) (string, <-chan *websocket.Conn) {
	t.Helper()
	conns := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("role") != types.RoleSupervisor {
			http.Error(w, "supervisors only", http.StatusForbidden)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- conn
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/ws", conns
}

func push(t *testing.T, conn *websocket.Conn, messages ...types.Message) {
	t.Helper()
	for _, m := range messages {
		types.Stamp(m, "exam-1", epoch)
		data, err := types.Encode(m)
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			t.Fatalf("Push failed: %v", err)
		}
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type batches struct {
	mu  sync.Mutex
	all [][]types.Message
}

func (b *batches) add(batch []types.Message) {
	b.mu.Lock()
	b.all = append(b.all, batch)
	b.mu.Unlock()
}

func (b *batches) list() [][]types.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]types.Message(nil), b.all...)
}

func connect(t *testing.T) (*Monitor, *websocket.Conn, *clock.FakeClock) {
	t.Helper()
	url, conns := newRelay(t)
	fake := clock.Fake(epoch)
	cc := controller.DefaultConfig()
	cc.URL = url
	cc.UserID = "sup1"
	m := New(Config{Controller: cc, Pipeline: pipeline.DefaultConfig()},
		WithClock(fake), WithLogger(log.New(io.Discard, "", 0)))
	t.Cleanup(m.Close)

	if err := m.Connect(context.Background(), "exam-1", ""); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	// Deliver the local connected message on its own.
	m.Flush()

	select {
	case conn := <-conns:
		return m, conn, fake
	case <-time.After(3 * time.Second):
		t.Fatal("relay never saw the connection")
		return nil, nil, nil
	}
}

// FUNCTIONAL VALIDATION TEST: One window yields one prioritized batch, already aggregated
func TestMonitor_PrioritizedBatch(t *testing.T) {
	m, conn, fake := connect(t)

	got := &batches{}
	var seenViolations int
	m.OnBatch(func(batch []types.Message) {
		// The aggregator has applied the batch before subscribers run.
		seenViolations = m.Totals().Violations
		got.add(batch)
	})

	st1 := types.Student{StudentID: "st1"}
	push(t, conn,
		&types.StudentProgress{Student: st1, PassageIndex: 0, QuestionIndex: 4, QuestionNumber: 5},
		&types.StudentAnswer{Student: st1, QuestionID: "q5"},
		&types.Violation{Student: st1, ViolationType: types.ViolationTabSwitch, Count: 1, Total: 1},
	)
	eventually(t, "messages buffered", func() bool { return m.PipelineStats().Buffered == 3 })
	fake.Advance(300 * time.Millisecond)

	list := got.list()
	if len(list) != 1 {
		t.Fatalf("Expected one batch, got %d", len(list))
	}
	var order []string
	for _, msg := range list[0] {
		order = append(order, msg.MessageType())
	}
	want := []string{types.TypeViolation, types.TypeStudentAnswer, types.TypeStudentProgress}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Errorf("Batch order = %v, want %v", order, want)
	}
	if seenViolations != 1 {
		t.Errorf("Subscriber should see the applied projection, got %d violations", seenViolations)
	}

	p, ok := m.Student("st1")
	if !ok {
		t.Fatal("Expected projection for st1")
	}
	if p.QuestionIndex != 4 || p.AnswersSubmitted != 1 || p.ViolationCount != 1 {
		t.Errorf("Unexpected projection: %+v", p)
	}
}

// FUNCTIONAL VALIDATION TEST: Progress updates inside one window collapse to the latest
func TestMonitor_DeduplicatesProgress(t *testing.T) {
	m, conn, fake := connect(t)
	got := &batches{}
	m.OnBatch(got.add)

	st1 := types.Student{StudentID: "st1"}
	push(t, conn,
		&types.StudentProgress{Student: st1, QuestionIndex: 1},
		&types.StudentProgress{Student: st1, QuestionIndex: 2},
		&types.StudentProgress{Student: st1, QuestionIndex: 3},
	)
	eventually(t, "messages received", func() bool { return m.PipelineStats().Received >= 4 })
	fake.Advance(300 * time.Millisecond)

	list := got.list()
	if len(list) != 1 || len(list[0]) != 1 {
		t.Fatalf("Expected a single deduplicated message, got %v", list)
	}
	if p, _ := m.Student("st1"); p.QuestionIndex != 3 {
		t.Errorf("Expected latest progress, got %d", p.QuestionIndex)
	}
}

// FUNCTIONAL VALIDATION TEST: Unsubscribed handlers stop receiving batches
func TestMonitor_Unsubscribe(t *testing.T) {
	m, conn, _ := connect(t)
	got := &batches{}
	unsub := m.OnBatch(got.add)
	unsub()

	push(t, conn, &types.SessionStats{TotalStudents: 3})
	eventually(t, "message buffered", func() bool { return m.PipelineStats().Buffered == 1 })
	m.Flush()

	if len(got.list()) != 0 {
		t.Error("Unsubscribed handler should not be called")
	}
	if s := m.Session().Stats; s == nil || s.TotalStudents != 3 {
		t.Errorf("Aggregator should still apply the batch, got %+v", s)
	}
}
