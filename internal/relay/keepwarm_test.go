package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vocalize-voice-lab/internal/config"
	"github.com/vocalize-voice-lab/internal/mcp"
	"github.com/vocalize-voice-lab/internal/metrics"
)

func TestKeepWarmPingAgainstRelay(t *testing.T) {
	s, _ := newTestServer(t, &fakeProvider{})
	var gotUA string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.UserAgent()
		s.Handler().ServeHTTP(w, r)
	}))
	defer ts.Close()

	m := metrics.New()
	k := &KeepWarm{BaseURL: ts.URL + "/", Metrics: m}
	if err := k.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if gotUA != KeepWarmUserAgent {
		t.Fatalf("user agent=%q", gotUA)
	}
	if got := testutil.ToFloat64(m.KeepWarmPings.WithLabelValues("ok")); got != 1 {
		t.Fatalf("ok pings=%v", got)
	}
}

func TestKeepWarmBadStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	m := metrics.New()
	k := &KeepWarm{BaseURL: ts.URL, Metrics: m}
	if err := k.Ping(context.Background()); err == nil {
		t.Fatalf("expected error on 503")
	}
	if got := testutil.ToFloat64(m.KeepWarmPings.WithLabelValues("bad_status")); got != 1 {
		t.Fatalf("bad_status pings=%v", got)
	}
}

func TestKeepWarmRunStopsOnCancel(t *testing.T) {
	hits := make(chan struct{}, 16)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits <- struct{}{}
		w.Write([]byte(`{"status":"healthy","uptime":120}`))
	}))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	k := &KeepWarm{BaseURL: ts.URL, Interval: 10 * time.Millisecond}
	go func() { done <- k.Run(ctx) }()

	select {
	case <-hits:
	case <-time.After(2 * time.Second):
		t.Fatalf("no keep-warm ping observed")
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not stop")
	}
}

func TestMCPAskTool(t *testing.T) {
	p := &fakeProvider{reply: "forty two"}
	s, _ := newTestServer(t, p)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url, err := mcp.WebSocketURL(ts.URL, "/mcp/ws")
	if err != nil {
		t.Fatalf("url: %v", err)
	}
	w := mcp.NewClientWrapper("test", "0")
	if err := w.ConnectWebSocket(ctx, url); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer w.Close()

	got, err := w.CallText(ctx, AskTool, map[string]any{"prompt": "meaning of life?"})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if got != "forty two" {
		t.Fatalf("ask=%q", got)
	}
	if !strings.Contains(p.gotPrompt, "User Question: meaning of life?") {
		t.Fatalf("prompt=%q", p.gotPrompt)
	}

	health, err := w.CallText(ctx, "health", map[string]any{})
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if !strings.Contains(health, `"provider":"fake"`) {
		t.Fatalf("health=%s", health)
	}
}

func TestKeepWarmURL(t *testing.T) {
	cases := []struct {
		rc   config.RelayConfig
		want string
	}{
		{config.RelayConfig{PublicURL: "https://relay.example.net", Address: "0.0.0.0", Port: 5000}, "https://relay.example.net"},
		{config.RelayConfig{Address: "0.0.0.0", Port: 5000}, "http://127.0.0.1:5000"},
		{config.RelayConfig{Address: "10.0.0.7", Port: 8080}, "http://10.0.0.7:8080"},
	}
	for _, tc := range cases {
		if got := KeepWarmURL(tc.rc); got != tc.want {
			t.Fatalf("KeepWarmURL(%+v) = %q, want %q", tc.rc, got, tc.want)
		}
	}
}
