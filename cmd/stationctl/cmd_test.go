package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"radiocatalog/stationstore/internal/auth"
	"radiocatalog/stationstore/internal/invalidate"
)

const cliSecret = "cli-secret"

func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	snapshot := filepath.Join(dir, "stations.json")
	body := `[{"id":"s1","name":"Picosa","isActive":true},{"id":"s2","name":"Retired","isActive":false}]`
	if err := os.WriteFile(snapshot, []byte(body), 0o644); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
	t.Setenv("STATIONSTORE_CONFIG", "")
	t.Setenv("STATIONSTORE_SNAPSHOT_PATH", snapshot)
	t.Setenv("STATIONSTORE_BLOB_DRIVER", "sqlite")
	t.Setenv("STATIONSTORE_BLOB_SQLITE_PATH", filepath.Join(dir, "blob.db"))
	t.Setenv("STATIONSTORE_AUTH_JWT_SECRET", cliSecret)
	return dir
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	out := new(bytes.Buffer)
	root := newRootCmd()
	root.SetOut(out)
	root.SetErr(io.Discard)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestImportListUpdate(t *testing.T) {
	dir := setupEnv(t)

	out, err := execute(t, "", "import", "--confirm", "import")
	if err != nil {
		t.Fatalf("import: %v\n%s", err, out)
	}
	if !strings.Contains(out, `"count": 2`) {
		t.Fatalf("unexpected import output %s", out)
	}

	out, err = execute(t, "", "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, `"s1"`) || strings.Contains(out, `"s2"`) {
		t.Fatalf("list must show active stations only: %s", out)
	}
	out, err = execute(t, "", "list", "--all")
	if err != nil || !strings.Contains(out, `"s2"`) {
		t.Fatalf("list --all must include inactive stations: %v %s", err, out)
	}

	data := filepath.Join(dir, "patch.json")
	if err := os.WriteFile(data, []byte(`{"name":"Picosa FM"}`), 0o644); err != nil {
		t.Fatalf("write patch: %v", err)
	}
	if out, err := execute(t, "", "update", "s1", "--data", data); err != nil {
		t.Fatalf("update: %v\n%s", err, out)
	}
	out, err = execute(t, "", "get", "s1")
	if err != nil || !strings.Contains(out, "Picosa FM") {
		t.Fatalf("get after update: %v %s", err, out)
	}

	if _, err := execute(t, "", "delete", "missing"); err == nil || err.Error() != "Station with id missing not found" {
		t.Fatalf("expected not found error, got %v", err)
	}
	if _, err := execute(t, "", "get", "missing"); err == nil {
		t.Fatal("expected get of missing station to fail")
	}
}

func TestImportPromptsForConfirmation(t *testing.T) {
	setupEnv(t)

	out, err := execute(t, "no\n", "import")
	if err == nil {
		t.Fatalf("expected refusal, got %s", out)
	}
	out, err = execute(t, "", "list", "--all")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	// still served from the snapshot fallback, nothing written
	if !strings.Contains(out, `"s2"`) {
		t.Fatalf("unexpected list output %s", out)
	}

	if out, err := execute(t, "import\n", "import"); err != nil {
		t.Fatalf("confirmed import failed: %v\n%s", err, out)
	}
}

func TestTokenCommand(t *testing.T) {
	setupEnv(t)

	out, err := execute(t, "", "token", "--role", "admin", "--ttl", "1h", "--subject", "ops")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	claims, err := auth.ParseJWT(strings.TrimSpace(out), []byte(cliSecret))
	if err != nil {
		t.Fatalf("parse minted token: %v", err)
	}
	if claims.Role != "admin" || claims.Subject != "ops" {
		t.Fatalf("unexpected claims %+v", claims)
	}

	if _, err := execute(t, "", "token", "--role", "root"); err == nil {
		t.Fatal("expected unknown role to fail")
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func TestWatchPrintsInvalidations(t *testing.T) {
	setupEnv(t)

	hub := invalidate.NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	if _, err := hub.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("start hub: %v", err)
	}
	defer hub.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := &syncBuffer{}
	root := newRootCmd()
	root.SetOut(out)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"watch", "--broker", "tcp://" + hub.Addr().String()})

	done := make(chan error, 1)
	go func() { done <- root.ExecuteContext(ctx) }()

	notifier := invalidate.NewHubNotifier(hub, "stationstore")
	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(out.String(), "/estacion/s1") {
		if time.Now().After(deadline) {
			t.Fatalf("no invalidation printed, output %q", out.String())
		}
		_ = notifier.Invalidate(ctx, "/estacion/s1")
		time.Sleep(50 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("watch returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}
