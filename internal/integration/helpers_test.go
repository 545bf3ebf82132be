package integration

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"proctorwire/internal/api"
	"proctorwire/internal/clock"
	"proctorwire/internal/controller"
	"proctorwire/internal/dashboard"
	"proctorwire/internal/database"
	"proctorwire/internal/hub"
	"proctorwire/internal/monitor"
	"proctorwire/internal/pipeline"
	"proctorwire/internal/router"
	"proctorwire/internal/session"
	"proctorwire/internal/signals"
	"proctorwire/internal/student"
	"proctorwire/internal/tracker"
	"proctorwire/internal/violation"
	"proctorwire/internal/websocket"
	pkgdatabase "proctorwire/pkg/database"
)

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

var quiet = log.New(io.Discard, "", 0)

// relay is a full relay stack on an httptest server backed by a temp SQLite file.
type relay struct {
	server   *httptest.Server
	sessions *session.Manager
	monitor  *monitor.Monitor
	registry *websocket.Registry
}

func startRelay(t *testing.T) *relay {
	t.Helper()
	db, err := database.NewManager(&pkgdatabase.Config{
		DatabasePath:    filepath.Join(t.TempDir(), "relay.db"),
		MaxConnections:  5,
		ConnMaxLifetime: time.Minute,
		ConnMaxIdleTime: time.Minute,
	})
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}

	registry := websocket.NewRegistry()
	sessions := session.NewManager(db, session.WithBroadcaster(registry))
	mon := monitor.New(monitor.DefaultConfig(), db, registry, monitor.WithLogger(quiet))
	sessions.OnCreated(mon.Track)
	sessions.OnEnded(mon.Finish)

	messageHub := hub.NewHub(registry, router.NewRouter(registry, router.WithObserver(mon)))
	if err := messageHub.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start hub: %v", err)
	}
	handler := websocket.NewHandler(sessions, messageHub, websocket.DefaultHandlerConfig())
	server := httptest.NewServer(api.NewServer(sessions, db, registry,
		api.WithProjections(mon),
		api.WithWebSocket(handler.HandleWebSocket),
	))

	t.Cleanup(func() {
		server.Close()
		_ = messageHub.Stop()
		mon.Stop(context.Background())
		_ = db.Close()
	})
	return &relay{server: server, sessions: sessions, monitor: mon, registry: registry}
}

func (r *relay) wsURL() string {
	return "ws" + strings.TrimPrefix(r.server.URL, "http") + "/ws"
}

func (r *relay) createSession(t *testing.T, studentIDs ...string) string {
	t.Helper()
	s, err := r.sessions.CreateSession(context.Background(), "Reading Test", "sup1", studentIDs)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	return s.ID
}

func (r *relay) delete(t *testing.T, path string) {
	t.Helper()
	req, _ := http.NewRequest(http.MethodDelete, r.server.URL+path, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE %s failed: %v", path, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("DELETE %s: expected 200, got %d", path, resp.StatusCode)
	}
}

// newDashboard connects a supervisor dashboard. A nil clock uses wall time.
func newDashboard(t *testing.T, r *relay, sessionID string, c clock.Clock) *dashboard.Monitor {
	t.Helper()
	cc := controller.DefaultConfig()
	cc.URL = r.wsURL()
	cc.UserID = "sup1"
	opts := []dashboard.Option{dashboard.WithLogger(quiet)}
	if c != nil {
		opts = append(opts, dashboard.WithClock(c))
	}
	m := dashboard.New(dashboard.Config{Controller: cc, Pipeline: pipeline.DefaultConfig()}, opts...)
	t.Cleanup(m.Close)
	if err := m.Connect(context.Background(), sessionID, ""); err != nil {
		t.Fatalf("Dashboard connect failed: %v", err)
	}
	return m
}

// newStudent starts a student client with violation detection on.
func newStudent(t *testing.T, r *relay, sessionID, studentID string, bus *signals.Bus, c clock.Clock) *student.Client {
	t.Helper()
	cc := controller.DefaultConfig()
	cc.URL = r.wsURL()
	cc.UserID = studentID
	opts := []student.Option{student.WithLogger(quiet)}
	if c != nil {
		opts = append(opts, student.WithClock(c))
	}
	client := student.New(student.Config{
		Controller: cc,
		Tracker:    tracker.DefaultConfig(),
		Violation:  violation.Options{Enabled: true},
	}, bus, opts...)
	t.Cleanup(client.Close)
	if err := client.Start(context.Background(), sessionID, "attempt-"+studentID, ""); err != nil {
		t.Fatalf("Student %s start failed: %v", studentID, err)
	}
	return client
}

func newBus() *signals.Bus {
	return signals.NewBus(signals.Viewport{OuterWidth: 1440, OuterHeight: 900, InnerWidth: 1440, InnerHeight: 820})
}

// examRoster returns n student IDs, student_1 through student_n.
func examRoster(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("student_%d", i+1)
	}
	return ids
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
