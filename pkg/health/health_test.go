package health

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

type fixedChecker struct {
	healthy atomic.Bool
	calls   atomic.Int32
}

func (f *fixedChecker) Check(ctx context.Context) Result {
	f.calls.Add(1)
	return Result{Healthy: f.healthy.Load(), CheckedAt: time.Now()}
}

func (f *fixedChecker) Type() CheckType { return CheckTypeHTTP }

func TestStatus_Update(t *testing.T) {
	config := Config{Retries: 2}
	s := NewStatus()

	s.Update(Result{Healthy: false}, config)
	if !s.Healthy || s.ConsecutiveFailures != 1 {
		t.Fatalf("one failure below threshold should stay healthy: %+v", s)
	}

	s.Update(Result{Healthy: false}, config)
	if s.Healthy {
		t.Fatal("expected unhealthy after reaching retries")
	}

	s.Update(Result{Healthy: true}, config)
	if !s.Healthy || s.ConsecutiveFailures != 0 || s.ConsecutiveSuccesses != 1 {
		t.Fatalf("first success should restore health: %+v", s)
	}
}

func TestStatus_TracksDowntime(t *testing.T) {
	config := Config{Retries: 2}
	s := NewStatus()
	first := time.Now()

	s.Update(Result{Healthy: false, CheckedAt: first}, config)
	if s.Changed || !s.DownSince.IsZero() {
		t.Fatalf("a single failure should not mark the target down: %+v", s)
	}

	second := first.Add(time.Second)
	s.Update(Result{Healthy: false, CheckedAt: second}, config)
	if !s.Changed || !s.DownSince.Equal(second) {
		t.Fatalf("expected down since %v, got %+v", second, s)
	}

	s.Update(Result{Healthy: false, CheckedAt: second.Add(time.Second)}, config)
	if s.Changed || !s.DownSince.Equal(second) {
		t.Fatalf("further failures should keep the original down time: %+v", s)
	}

	s.Update(Result{Healthy: true, CheckedAt: second.Add(2 * time.Second)}, config)
	if !s.Changed || !s.DownSince.IsZero() {
		t.Fatalf("recovery should clear the down time: %+v", s)
	}
}

func TestStatus_StartPeriodIgnoresFailures(t *testing.T) {
	config := Config{Retries: 1, StartPeriod: time.Hour}
	s := NewStatus()

	s.Update(Result{Healthy: false, Message: "connection refused"}, config)
	if !s.Healthy || s.ConsecutiveFailures != 0 {
		t.Fatalf("failures in start period should not count: %+v", s)
	}
	if s.LastResult.Message != "connection refused" {
		t.Error("last result should still be recorded")
	}
}

func TestMonitor_CheckOnce(t *testing.T) {
	checker := &fixedChecker{}
	m := NewMonitor("api", checker, Config{Retries: 1})

	if status := m.CheckOnce(context.Background()); status.Healthy {
		t.Fatal("expected unhealthy after one failure with retries=1")
	}

	checker.healthy.Store(true)
	if status := m.CheckOnce(context.Background()); !status.Healthy {
		t.Fatal("expected healthy after success")
	}
	if m.Status().ConsecutiveSuccesses != 1 {
		t.Errorf("expected 1 success, got %d", m.Status().ConsecutiveSuccesses)
	}
}

func TestMonitor_RunUntilCanceled(t *testing.T) {
	checker := &fixedChecker{}
	checker.healthy.Store(true)
	m := NewMonitor("api", checker, Config{Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	seen := make(chan Status, 16)
	done := make(chan struct{})
	go func() {
		m.Run(ctx, func(s Status) {
			if len(seen) < cap(seen) {
				seen <- s
			}
		})
		close(done)
	}()

	for i := 0; i < 3; i++ {
		select {
		case s := <-seen:
			if !s.Healthy {
				t.Errorf("check %d: expected healthy", i)
			}
		case <-time.After(time.Second):
			t.Fatal("monitor did not report")
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}

func TestTCPChecker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	checker, err := NewTCPCheckerForURL(server.URL)
	if err != nil {
		t.Fatal(err)
	}
	if result := checker.Check(context.Background()); !result.Healthy {
		t.Errorf("Expected healthy, got unhealthy: %s", result.Message)
	}

	// Grab a free port, then close it so nothing listens there
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	_ = l.Close()

	result := NewTCPChecker(addr).WithTimeout(time.Second).Check(context.Background())
	if result.Healthy {
		t.Errorf("Expected unhealthy for closed port, got healthy: %s", result.Message)
	}
}

func TestNewTCPCheckerForURL(t *testing.T) {
	tests := []struct {
		url     string
		address string
		wantErr bool
	}{
		{"https://console.example.com", "console.example.com:443", false},
		{"http://localhost:8080/api", "localhost:8080", false},
		{"postgres://user:pw@db.internal/app", "db.internal:5432", false},
		{"wss://hub.example.com/hubs/migration", "hub.example.com:443", false},
		{"ftp://files.example.com", "", true},
		{"/relative/path", "", true},
	}

	for _, tt := range tests {
		checker, err := NewTCPCheckerForURL(tt.url)
		if tt.wantErr {
			if err == nil {
				t.Errorf("%s: expected error", tt.url)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tt.url, err)
			continue
		}
		if checker.Address != tt.address {
			t.Errorf("%s: expected %s, got %s", tt.url, tt.address, checker.Address)
		}
	}
}
