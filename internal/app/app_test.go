package app

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"radiocatalog/stationstore/internal/auth"
	"radiocatalog/stationstore/internal/config"
	"radiocatalog/stationstore/internal/stations"
)

const testSecret = "test-secret"

type testServer struct {
	*httptest.Server
	editor string
	admin  string
	logs   *logBuffer
}

// logBuffer collects log output written from handler goroutines.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestServer(t *testing.T, snapshotJSON string) *testServer {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "stations.json")
	if err := os.WriteFile(path, []byte(snapshotJSON), 0o644); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}

	cfg := config.Default()
	cfg.Blob.Driver = config.DriverMemory
	cfg.Snapshot.Path = path
	cfg.PublicBaseURL = "http://cdn.test/blob"
	cfg.Auth.JWTSecret = testSecret
	cfg.Assets.MaxUploadBytes = 1 << 20

	logs := &logBuffer{}
	a := New(cfg, slog.New(slog.NewTextHandler(logs, nil)))
	if err := a.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = a.Close()
	})

	editor, err := auth.IssueJWT([]byte(testSecret), "tester", auth.RoleEditor, time.Hour)
	if err != nil {
		t.Fatalf("issue editor token: %v", err)
	}
	admin, err := auth.IssueJWT([]byte(testSecret), "ops-admin", auth.RoleAdmin, time.Hour)
	if err != nil {
		t.Fatalf("issue admin token: %v", err)
	}
	return &testServer{Server: srv, editor: editor, admin: admin, logs: logs}
}

func (s *testServer) do(t *testing.T, method, path, token, contentType string, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, s.URL+path, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := s.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return v
}

func TestHealthAndReadiness(t *testing.T) {
	s := newTestServer(t, `[]`)

	resp := s.do(t, http.MethodGet, "/healthz", "", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: %d", resp.StatusCode)
	}
	if resp.Header.Get(requestIDHeader) == "" {
		t.Fatalf("expected request id header")
	}
	if resp := s.do(t, http.MethodGet, "/readyz", "", "", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz: %d", resp.StatusCode)
	}
	resp = s.do(t, http.MethodGet, "/metrics", "", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics: %d", resp.StatusCode)
	}
}

func TestPublicReadsUseSnapshotOnly(t *testing.T) {
	s := newTestServer(t, `[
		{"id":"s1","name":"Picosa","isActive":true},
		{"id":"s2","name":"Retired","isActive":false}
	]`)

	ids := decodeBody[[]string](t, s.do(t, http.MethodGet, "/api/stations/ids", "", "", nil))
	if !reflect.DeepEqual(ids, []string{"s1"}) {
		t.Fatalf("unexpected public ids %v", ids)
	}
	if resp := s.do(t, http.MethodGet, "/api/stations/s2", "", "", nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("inactive station must 404, got %d", resp.StatusCode)
	}

	// admin edits land in the blob tier, not in the public snapshot view
	body := strings.NewReader(`{"name":"New Radio"}`)
	res := decodeBody[stations.Result](t, s.do(t, http.MethodPost, "/api/admin/stations", s.editor, "application/json", body))
	if !res.Success {
		t.Fatalf("create failed: %+v", res)
	}
	list := decodeBody[[]map[string]any](t, s.do(t, http.MethodGet, "/api/stations", "", "", nil))
	if len(list) != 1 || list[0]["id"] != "s1" {
		t.Fatalf("unexpected public list %v", list)
	}
}

func TestAdminRequiresToken(t *testing.T) {
	s := newTestServer(t, `[]`)

	if resp := s.do(t, http.MethodGet, "/api/admin/stations", "", "", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	resp := s.do(t, http.MethodPost, "/api/admin/import", s.editor, "application/json", strings.NewReader(`{"confirm":"import"}`))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("editor must not import, got %d", resp.StatusCode)
	}
}

func TestImportIsGuarded(t *testing.T) {
	s := newTestServer(t, `[{"id":"s1","name":"Picosa"},{"id":"s2","isActive":false}]`)

	resp := s.do(t, http.MethodPost, "/api/admin/import", s.admin, "application/json", strings.NewReader(`{"confirm":"yes"}`))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without confirmation, got %d", resp.StatusCode)
	}
	resp = s.do(t, http.MethodPost, "/api/admin/import", s.admin, "application/json", strings.NewReader(`not json`))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad body, got %d", resp.StatusCode)
	}

	resp = s.do(t, http.MethodPost, "/api/admin/import", s.admin, "application/json", strings.NewReader(`{"confirm":"import"}`))
	res := decodeBody[stations.Result](t, resp)
	if resp.StatusCode != http.StatusOK || !res.Success || res.Count != 2 {
		t.Fatalf("unexpected import response %d %+v", resp.StatusCode, res)
	}

	all := decodeBody[[]map[string]any](t, s.do(t, http.MethodGet, "/api/admin/stations", s.editor, "", nil))
	if len(all) != 2 {
		t.Fatalf("admin list must include inactive stations, got %d", len(all))
	}
	active := decodeBody[[]map[string]any](t, s.do(t, http.MethodGet, "/api/admin/stations?active=true", s.editor, "", nil))
	if len(active) != 1 {
		t.Fatalf("expected one active station, got %d", len(active))
	}
}

func TestUpdateAndDelete(t *testing.T) {
	s := newTestServer(t, `[{"id":"s1","name":"Picosa","isActive":true}]`)

	resp := s.do(t, http.MethodPatch, "/api/admin/stations/s1", s.editor, "application/json", strings.NewReader(`{"name":"Picosa FM"}`))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update: %d", resp.StatusCode)
	}
	st := decodeBody[map[string]any](t, s.do(t, http.MethodGet, "/api/admin/stations/s1", s.editor, "", nil))
	if st["name"] != "Picosa FM" || st["isActive"] != true {
		t.Fatalf("unexpected station %v", st)
	}

	resp = s.do(t, http.MethodPatch, "/api/admin/stations/missing", s.editor, "application/json", strings.NewReader(`{}`))
	res := decodeBody[stations.Result](t, resp)
	if resp.StatusCode != http.StatusNotFound || res.Error != "Station with id missing not found" {
		t.Fatalf("unexpected not found response %d %+v", resp.StatusCode, res)
	}

	resp = s.do(t, http.MethodPatch, "/api/admin/stations/s1", s.editor, "application/json", strings.NewReader(`[1,2]`))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-object body, got %d", resp.StatusCode)
	}

	if resp := s.do(t, http.MethodDelete, "/api/admin/stations/s1", s.editor, "", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("delete: %d", resp.StatusCode)
	}
	st = decodeBody[map[string]any](t, s.do(t, http.MethodGet, "/api/admin/stations/s1", s.editor, "", nil))
	if st["isActive"] != false || st["name"] != "Picosa FM" {
		t.Fatalf("soft delete must keep the record, got %v", st)
	}
}

func multipartBody(t *testing.T, data string, img []byte) (string, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("data", data); err != nil {
		t.Fatalf("write field: %v", err)
	}
	if img != nil {
		part, err := mw.CreateFormFile("image", "cover.png")
		if err != nil {
			t.Fatalf("create file: %v", err)
		}
		if _, err := part.Write(img); err != nil {
			t.Fatalf("write file: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return mw.FormDataContentType(), &buf
}

func TestCreateWithImageServesAsset(t *testing.T) {
	s := newTestServer(t, `[]`)

	var png1 bytes.Buffer
	if err := png.Encode(&png1, image.NewRGBA(image.Rect(0, 0, 1200, 600))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	ct, body := multipartBody(t, `{"name":"Pictured"}`, png1.Bytes())
	resp := s.do(t, http.MethodPost, "/api/admin/stations", s.editor, ct, body)
	res := decodeBody[stations.Result](t, resp)
	if resp.StatusCode != http.StatusOK || !res.Success {
		t.Fatalf("create failed: %d %+v", resp.StatusCode, res)
	}

	st := decodeBody[map[string]any](t, s.do(t, http.MethodGet, "/api/admin/stations/"+res.ID, s.editor, "", nil))
	if st["coverImage"] != "http://cdn.test/blob/stations/"+res.ID {
		t.Fatalf("unexpected cover image %v", st["coverImage"])
	}

	asset := s.do(t, http.MethodGet, "/blob/stations/"+res.ID, "", "", nil)
	if asset.StatusCode != http.StatusOK || asset.Header.Get("Content-Type") != "image/jpeg" {
		t.Fatalf("unexpected asset response %d %q", asset.StatusCode, asset.Header.Get("Content-Type"))
	}
	cfg, _, err := image.DecodeConfig(asset.Body)
	if err != nil {
		t.Fatalf("decode asset: %v", err)
	}
	if cfg.Width != 800 || cfg.Height != 400 {
		t.Fatalf("unexpected asset size %dx%d", cfg.Width, cfg.Height)
	}
}

func TestCreateRejectsBadImage(t *testing.T) {
	s := newTestServer(t, `[]`)

	ct, body := multipartBody(t, `{"name":"Broken"}`, []byte("definitely not an image"))
	resp := s.do(t, http.MethodPost, "/api/admin/stations", s.editor, ct, body)
	res := decodeBody[stations.Result](t, resp)
	if resp.StatusCode != http.StatusBadRequest || res.Success {
		t.Fatalf("expected 400, got %d %+v", resp.StatusCode, res)
	}

	all := decodeBody[[]map[string]any](t, s.do(t, http.MethodGet, "/api/admin/stations", s.editor, "", nil))
	if len(all) != 0 {
		t.Fatalf("failed create must not add a station, got %v", all)
	}
}

func TestBlobWritesNeedToken(t *testing.T) {
	s := newTestServer(t, `[]`)
	resp := s.do(t, http.MethodPut, "/blob/stations.json", "", "application/json", strings.NewReader(`[]`))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected writes disabled without a configured token, got %d", resp.StatusCode)
	}
}

func TestMutationsAreAudited(t *testing.T) {
	s := newTestServer(t, `[{"id":"s1","name":"Picosa"}]`)

	resp := s.do(t, http.MethodPost, "/api/admin/import", s.admin, "application/json", strings.NewReader(`{"confirm":"import"}`))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("import: %d", resp.StatusCode)
	}
	resp = s.do(t, http.MethodDelete, "/api/admin/stations/s1", s.editor, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete: %d", resp.StatusCode)
	}

	var importLine, deleteLine string
	for _, line := range strings.Split(s.logs.String(), "\n") {
		if !strings.Contains(line, `msg="admin mutation"`) {
			continue
		}
		switch {
		case strings.Contains(line, "op=import"):
			importLine = line
		case strings.Contains(line, "op=delete"):
			deleteLine = line
		}
	}
	for _, want := range []string{"level=WARN", "subject=ops-admin", "role=admin", "success=true", "count=1"} {
		if !strings.Contains(importLine, want) {
			t.Fatalf("import audit line %q missing %q", importLine, want)
		}
	}
	for _, want := range []string{"subject=tester", "role=editor", "station=s1"} {
		if !strings.Contains(deleteLine, want) {
			t.Fatalf("delete audit line %q missing %q", deleteLine, want)
		}
	}
}
