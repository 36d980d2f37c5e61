package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/marcus/portal/internal/portal"
	"github.com/marcus/portal/internal/portalclient"
	"github.com/marcus/portal/internal/serverdb"
)

func testAdmin(t *testing.T) portal.Administrator {
	t.Helper()
	admin, err := portal.NewAdministrator("portal-admin", "s3cret")
	if err != nil {
		t.Fatalf("new administrator: %v", err)
	}
	return admin
}

func saveBody(cred portal.Credential, config map[string]any) map[string]any {
	return map[string]any{"auth": cred, "config": config}
}

// seedConfig writes a document naming admin directly to disk.
func seedConfig(t *testing.T, srv *Server, admin portal.Administrator) []byte {
	t.Helper()
	doc, err := json.Marshal(map[string]any{
		"branding":      map[string]any{"title": "Academy"},
		"administrator": admin,
		"updated":       "2024-01-01T00:00:00Z",
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(srv.file.Path(), doc, 0644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(srv.file.Path(), old, old); err != nil {
		t.Fatal(err)
	}
	return doc
}

func assertUnchanged(t *testing.T, path string, want []byte, wantMod time.Time) {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat config: %v", err)
	}
	if !info.ModTime().Equal(wantMod) {
		t.Errorf("config mtime changed: %v -> %v", wantMod, info.ModTime())
	}
	got, _ := os.ReadFile(path)
	if !bytes.Equal(got, want) {
		t.Errorf("config content changed:\n%s", got)
	}
}

func TestSaveBootstrap(t *testing.T) {
	srv, store := newTestServer(t)
	admin := testAdmin(t)
	srv.now = func() time.Time { return time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC) }

	w := doRequest(srv, "POST", "/save-config", saveBody(admin.Credential("s3cret"), map[string]any{
		"branding":      map[string]any{"title": "Academy"},
		"administrator": admin,
	}))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp SaveResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if !resp.Success || resp.Status != "ok" || resp.Path != srv.file.Path() {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Timestamp != "2025-03-04T05:06:07Z" {
		t.Errorf("timestamp = %q", resp.Timestamp)
	}

	data, err := os.ReadFile(srv.file.Path())
	if err != nil {
		t.Fatalf("read saved config: %v", err)
	}
	cfg, err := portal.Parse(data)
	if err != nil {
		t.Fatalf("parse saved config: %v", err)
	}
	if cfg.TitleOrDefault() != "Academy" {
		t.Errorf("title = %q", cfg.TitleOrDefault())
	}
	if cfg.Administrator == nil || cfg.Administrator.Salt != admin.Salt {
		t.Errorf("administrator not stored: %+v", cfg.Administrator)
	}
	if !strings.Contains(string(data), `"updated": "2025-03-04T05:06:07Z"`) {
		t.Errorf("expected stamped updated field:\n%s", data)
	}
	if !strings.HasSuffix(string(data), "}\n") {
		t.Error("expected trailing newline")
	}

	events, err := store.ListSaveEvents("", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Outcome != serverdb.SaveOutcomeBootstrap {
		t.Fatalf("expected one bootstrap event, got %+v", events)
	}
	if events[0].Digest == "" || events[0].Username != "portal-admin" {
		t.Errorf("event missing digest or user: %+v", events[0])
	}
}

func TestSaveKeepsClientUpdated(t *testing.T) {
	srv, _ := newTestServer(t)
	admin := testAdmin(t)

	w := doRequest(srv, "PUT", "/save-config", saveBody(admin.Credential("s3cret"), map[string]any{
		"administrator": admin,
		"updated":       "2020-02-02T02:02:02Z",
	}))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	data, _ := os.ReadFile(srv.file.Path())
	if !strings.Contains(string(data), "2020-02-02T02:02:02Z") {
		t.Errorf("client updated value overwritten:\n%s", data)
	}
}

func TestSaveWithMatchingCredential(t *testing.T) {
	srv, store := newTestServer(t)
	admin := testAdmin(t)
	seedConfig(t, srv, admin)

	w := doRequest(srv, "POST", "/save-config", saveBody(admin.Credential("s3cret"), map[string]any{
		"branding":      map[string]any{"title": "Renamed"},
		"administrator": admin,
	}))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	data, _ := os.ReadFile(srv.file.Path())
	cfg, _ := portal.Parse(data)
	if cfg.TitleOrDefault() != "Renamed" {
		t.Errorf("title = %q", cfg.TitleOrDefault())
	}
	last, err := store.LastSave()
	if err != nil || last == nil || last.Outcome != serverdb.SaveOutcomeSaved {
		t.Fatalf("expected saved event, got %+v (%v)", last, err)
	}
}

func TestSaveCredentialMismatch(t *testing.T) {
	tests := []struct {
		name string
		cred func(portal.Administrator) portal.Credential
	}{
		{"wrong password", func(a portal.Administrator) portal.Credential { return a.Credential("guess") }},
		{"wrong user", func(a portal.Administrator) portal.Credential {
			c := a.Credential("s3cret")
			c.Username = "intruder"
			return c
		}},
		{"plain password", func(a portal.Administrator) portal.Credential {
			return portal.Credential{Username: a.Username, PasswordHash: "s3cret"}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, store := newTestServer(t)
			admin := testAdmin(t)
			before := seedConfig(t, srv, admin)
			info, _ := os.Stat(srv.file.Path())

			w := doRequest(srv, "POST", "/save-config", saveBody(tt.cred(admin), map[string]any{
				"branding": map[string]any{"title": "Hijacked"},
			}))
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", w.Code)
			}
			if e := decodeError(t, w.Body); e.Error != ErrCodeUnauthorized {
				t.Errorf("error code = %q", e.Error)
			}
			assertUnchanged(t, srv.file.Path(), before, info.ModTime())

			events, _ := store.ListSaveEvents(serverdb.SaveOutcomeUnauthorized, 10)
			if len(events) != 1 {
				t.Errorf("expected one unauthorized event, got %d", len(events))
			}
		})
	}
}

func TestSaveMalformedBody(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"not json", "{not json"},
		{"array", "[1,2,3]"},
		{"missing auth", `{"config":{}}`},
		{"missing config", `{"auth":{"username":"a","passwordHash":"b"}}`},
		{"config not object", `{"auth":{"username":"a","passwordHash":"b"},"config":"x"}`},
		{"auth not object", `{"auth":[],"config":{}}`},
		{"empty username", `{"auth":{"username":"","passwordHash":"b"},"config":{}}`},
		{"empty password hash", `{"auth":{"username":"a","passwordHash":""},"config":{}}`},
		{"missing password hash", `{"auth":{"username":"a"},"config":{}}`},
		{"bootstrap without hash", `{"auth":{"username":"portal-admin"},"config":{"administrator":{"username":"portal-admin","passwordHash":"h","salt":"s"}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t)
			w := doRequest(srv, "POST", "/save-config", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
			if e := decodeError(t, w.Body); e.Error != ErrCodeBadRequest || e.Status != http.StatusBadRequest {
				t.Errorf("unexpected error body: %+v", e)
			}
			if _, err := os.Stat(srv.file.Path()); !errors.Is(err, os.ErrNotExist) {
				t.Errorf("expected no config file, stat err = %v", err)
			}
		})
	}
}

func TestSaveMalformedBodyKeepsExisting(t *testing.T) {
	srv, _ := newTestServer(t)
	before := seedConfig(t, srv, testAdmin(t))
	info, _ := os.Stat(srv.file.Path())

	w := doRequest(srv, "POST", "/save-config", `{"auth":`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	assertUnchanged(t, srv.file.Path(), before, info.ModTime())
}

func TestSaveCorruptExisting(t *testing.T) {
	srv, _ := newTestServer(t)
	if err := os.WriteFile(srv.file.Path(), []byte("{broken"), 0644); err != nil {
		t.Fatal(err)
	}
	admin := testAdmin(t)
	w := doRequest(srv, "POST", "/save-config", saveBody(admin.Credential("s3cret"), map[string]any{"administrator": admin}))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	data, _ := os.ReadFile(srv.file.Path())
	if string(data) != "{broken" {
		t.Errorf("corrupt file was replaced: %s", data)
	}
}

func TestSaveMethods(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, method := range []string{"GET", "DELETE", "PATCH"} {
		w := doRequest(srv, method, "/save-config", nil)
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s: expected 405, got %d", method, w.Code)
		}
		if got := w.Header().Get("Allow"); got != "OPTIONS, POST, PUT" {
			t.Errorf("%s: Allow = %q", method, got)
		}
	}

	w := doRequest(srv, "OPTIONS", "/save-config", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("OPTIONS: expected 200, got %d", w.Code)
	}
	if got := w.Header().Get("Allow"); got != "OPTIONS, POST, PUT" {
		t.Errorf("OPTIONS: Allow = %q", got)
	}
}

func TestSaveAliasPath(t *testing.T) {
	srv, _ := newTestServer(t)
	admin := testAdmin(t)
	w := doRequest(srv, "PUT", "/save-config.ashx", saveBody(admin.Credential("s3cret"), map[string]any{"administrator": admin}))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if _, err := os.Stat(srv.file.Path()); err != nil {
		t.Fatalf("expected config file: %v", err)
	}
}

func TestSaveRateLimited(t *testing.T) {
	srv, store := newTestServerWithConfig(t, func(c *Config) { c.RateLimitSave = 2 })

	for i := 0; i < 2; i++ {
		w := doRequest(srv, "POST", "/save-config", "{}")
		if w.Code != http.StatusBadRequest {
			t.Fatalf("request %d: expected 400, got %d", i, w.Code)
		}
	}
	w := doRequest(srv, "POST", "/save-config", "{}")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if e := decodeError(t, w.Body); e.Error != ErrCodeRateLimited {
		t.Errorf("error code = %q", e.Error)
	}

	n, err := store.CountRateLimitEvents("192.0.2.1", time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("rate limit events = %d", n)
	}
	if srv.metrics.Snapshot().SavesRejected != 3 {
		t.Errorf("rejected saves = %d", srv.metrics.Snapshot().SavesRejected)
	}
}

func TestSaveBodyTooLarge(t *testing.T) {
	srv, _ := newTestServerWithConfig(t, func(c *Config) { c.MaxBodyBytes = 64 })
	body := `{"auth":{"username":"a","passwordHash":"b"},"config":{"pad":"` + strings.Repeat("x", 128) + `"}}`
	w := doRequest(srv, "POST", "/save-config", body)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", w.Code)
	}
	if _, err := os.Stat(srv.file.Path()); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected no config file, stat err = %v", err)
	}
}

func TestHealthReportsLastSave(t *testing.T) {
	srv, _ := newTestServer(t)
	admin := testAdmin(t)
	doRequest(srv, "POST", "/save-config", saveBody(admin.Credential("s3cret"), map[string]any{"administrator": admin}))

	w := doRequest(srv, "GET", "/healthz", nil)
	var resp map[string]string
	json.NewDecoder(w.Body).Decode(&resp)
	if resp["last_save"] == "" {
		t.Fatalf("expected last_save, got %v", resp)
	}
}

func TestClientRoundTrip(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	client := portalclient.New(h.BaseURL, nil)

	if _, err := client.FetchConfig(ctx); !errors.Is(err, portalclient.ErrNotFound) {
		t.Fatalf("expected ErrNotFound before any save, got %v", err)
	}

	admin := testAdmin(t)
	cfg, err := portal.Parse([]byte(`{"branding":{"title":"Academy","colors":{"primary":"#112233"}}}`))
	if err != nil {
		t.Fatal(err)
	}
	cfg.Administrator = &admin

	resp, err := client.SaveConfig(ctx, admin.Credential("s3cret"), cfg)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !resp.Success {
		t.Fatalf("unexpected response: %+v", resp)
	}

	got, err := client.FetchConfig(ctx)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got.TitleOrDefault() != "Academy" || got.Branding.Colors["primary"] != "#112233" {
		t.Errorf("round-tripped config = %s", got)
	}

	_, err = client.SaveConfig(ctx, admin.Credential("wrong"), cfg)
	if !errors.Is(err, portalclient.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	var apiErr *portalclient.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized || apiErr.Code != ErrCodeUnauthorized {
		t.Errorf("unexpected api error: %+v", apiErr)
	}

	health := h.Do("GET", "/healthz", nil)
	defer health.Body.Close()
	if health.StatusCode != http.StatusOK {
		t.Errorf("health = %d", health.StatusCode)
	}
}
