package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Babel-Snake/vinagent-backend-sub000/internal/api"
	"github.com/Babel-Snake/vinagent-backend-sub000/internal/classify"
	"github.com/Babel-Snake/vinagent-backend-sub000/internal/config"
	"github.com/Babel-Snake/vinagent-backend-sub000/internal/store"
	"github.com/Babel-Snake/vinagent-backend-sub000/pkg/types"
)

const registryYAML = `tenants:
  - id: t1
    name: Hillside Estate
    inbound_sms: "+61400000001"
    enabled_modules:
      booking: true
staff:
  - id: s1
    tenant_id: t1
    name: Morgan Hale
    role: manager
    token: test-token
`

func writeRegistry(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "registry.yaml")
	if err := os.WriteFile(path, []byte(registryYAML), 0o600); err != nil {
		t.Fatalf("write registry: %v", err)
	}
	return path
}

func TestSyncRegistry(t *testing.T) {
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer db.Close()

	reg, err := config.ParseRegistry([]byte(registryYAML))
	if err != nil {
		t.Fatalf("parse registry: %v", err)
	}
	if err := syncRegistry(context.Background(), db, reg); err != nil {
		t.Fatalf("sync registry: %v", err)
	}

	tenant, found, err := db.GetTenantByInbound(context.Background(), types.ChannelSMS, "+61400000001")
	if err != nil || !found {
		t.Fatalf("tenant not routable after sync: found=%v err=%v", found, err)
	}
	if tenant.Name != "Hillside Estate" {
		t.Fatalf("unexpected tenant: %+v", tenant)
	}
}

func TestBuildHandlerServesHealth(t *testing.T) {
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer db.Close()

	reg, err := config.ParseRegistry([]byte(registryYAML))
	if err != nil {
		t.Fatalf("parse registry: %v", err)
	}

	log := zap.NewNop()
	cfg := config.Config{TokenTTL: time.Hour, PublicBaseURL: "http://localhost:8080"}
	classifier := classify.NewService(nil, db, time.Second, log)
	h := buildHandler(cfg, reg, db, classifier, log)

	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()
	api.NewRouter(h).ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("health = %d", w.Code)
	}
}

func TestExternalClassifier(t *testing.T) {
	if c := externalClassifier(config.Config{}); c != nil {
		t.Fatalf("expected nil classifier without url")
	}
	c := externalClassifier(config.Config{ClassifierURL: "http://classifier.local"})
	hc, ok := c.(*classify.HTTPClassifier)
	if !ok || hc.BaseURL != "http://classifier.local" {
		t.Fatalf("unexpected classifier: %#v", c)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := config.Config{
		ListenAddr:        "127.0.0.1:0",
		DatabasePath:      ":memory:",
		RegistryPath:      writeRegistry(t),
		PublicBaseURL:     "http://localhost:8080",
		TokenTTL:          time.Hour,
		ClassifierTimeout: time.Second,
	}

	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, zap.NewNop()) }()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not stop after cancel")
	}
}

func TestRunBadRegistryPath(t *testing.T) {
	cfg := config.Config{
		ListenAddr:   "127.0.0.1:0",
		DatabasePath: ":memory:",
		RegistryPath: filepath.Join(t.TempDir(), "missing.yaml"),
	}
	if err := run(context.Background(), cfg, zap.NewNop()); err == nil {
		t.Fatalf("expected error for missing registry")
	}
}
