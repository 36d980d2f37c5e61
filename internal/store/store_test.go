package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcus/portal/internal/localstore"
	"github.com/marcus/portal/internal/portal"
	"github.com/marcus/portal/internal/portalclient"
	"github.com/marcus/portal/internal/worker"
)

// fakeServer is an in-memory origin. Saves with a password hash other than
// goodHash are rejected with 401.
type fakeServer struct {
	mu       sync.Mutex
	cfg      *portal.Config
	fetchErr error
	saveErr  error
	saves    []portal.Config

	saveGate   chan struct{} // when set, each save waits for a value
	inFlight   atomic.Int32
	maxFlights atomic.Int32
}

const goodHash = "good-hash"

func (f *fakeServer) FetchConfig(ctx context.Context) (portal.Config, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return portal.Config{}, f.fetchErr
	}
	if f.cfg == nil {
		return portal.Config{}, fmt.Errorf("%w: no configuration", portalclient.ErrNotFound)
	}
	return f.cfg.Clone(), nil
}

func (f *fakeServer) SaveConfig(ctx context.Context, auth portal.Credential, cfg portal.Config) (*portalclient.SaveResponse, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxFlights.Load()
		if n <= m || f.maxFlights.CompareAndSwap(m, n) {
			break
		}
	}
	if f.saveGate != nil {
		<-f.saveGate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return nil, f.saveErr
	}
	if auth.PasswordHash != goodHash {
		return nil, fmt.Errorf("%w: %w", portalclient.ErrUnauthorized,
			&portalclient.APIError{Status: http.StatusUnauthorized, Code: "unauthorized", Message: "invalid administrator credentials"})
	}
	saved := cfg.Clone()
	f.cfg = &saved
	f.saves = append(f.saves, saved)
	return &portalclient.SaveResponse{
		Status:    "ok",
		Success:   true,
		Path:      "config.json",
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}, nil
}

func (f *fakeServer) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saves)
}

type fakeController struct {
	mu   sync.Mutex
	msgs []worker.Message
	fail string
}

func (c *fakeController) Post(ctx context.Context, msg worker.Message) (worker.Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	if c.fail != "" {
		return worker.Reply{ID: msg.ID, Error: c.fail}, nil
	}
	return worker.Reply{ID: msg.ID, Success: true}, nil
}

func (c *fakeController) types() []worker.MessageType {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []worker.MessageType
	for _, m := range c.msgs {
		out = append(out, m.Type)
	}
	return out
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func serverWith(t *testing.T, doc string) *fakeServer {
	t.Helper()
	cfg, err := portal.Parse([]byte(doc))
	require.NoError(t, err)
	return &fakeServer{cfg: &cfg}
}

func newStore(t *testing.T, client Client, local *localstore.Store, opts ...func(*Options)) *Store {
	t.Helper()
	if local == nil {
		var err error
		local, err = localstore.Open(t.TempDir())
		require.NoError(t, err)
	}
	o := Options{Client: client, Local: local, Logger: quietLogger()}
	for _, fn := range opts {
		fn(&o)
	}
	s, err := New(o)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

const baseDoc = `{
	"branding": {"title": "Academy", "colors": {"primary": "#112233"}},
	"links": {
		"staff": [{"title": "Mail", "url": "https://mail"}, {"title": "HR", "url": "https://hr"}],
		"students": [{"title": "LMS", "url": "https://lms"}]
	}
}`

func TestLoadFallsBackToDefaults(t *testing.T) {
	srv := &fakeServer{fetchErr: errors.New("connection refused")}
	s := newStore(t, srv, nil)

	cfg, err := s.Load(context.Background())
	var loadErr *ConfigLoadError
	require.ErrorAs(t, err, &loadErr)
	assert.False(t, s.Loaded())
	if diff := cmp.Diff(portal.DefaultConfig(), cfg); diff != "" {
		t.Errorf("fallback config mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, portal.DefaultTitle, *s.Effective().Branding.Title)
}

func TestLoadKeepsPreviousBaseOnFailure(t *testing.T) {
	srv := serverWith(t, baseDoc)
	s := newStore(t, srv, nil)
	_, err := s.Load(context.Background())
	require.NoError(t, err)

	srv.mu.Lock()
	srv.fetchErr = errors.New("offline")
	srv.mu.Unlock()

	cfg, err := s.Load(context.Background())
	require.Error(t, err)
	assert.Equal(t, "Academy", *cfg.Branding.Title)
}

func TestLoadLayersOverDefaults(t *testing.T) {
	s := newStore(t, serverWith(t, baseDoc), nil)
	cfg, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, s.Loaded())

	assert.Equal(t, "Academy", *cfg.Branding.Title)
	assert.Equal(t, "#112233", cfg.Branding.Colors["primary"])
	assert.Equal(t, portal.DefaultConfig().Branding.Colors["background"], cfg.Branding.Colors["background"])
	for _, r := range portal.Roles {
		assert.NotNil(t, cfg.Links[r], "role %s", r)
	}
	assert.Len(t, cfg.Links[portal.RoleStaff], 2)
}

func TestSetFieldNormalizesColor(t *testing.T) {
	s := newStore(t, serverWith(t, baseDoc), nil)
	_, err := s.Load(context.Background())
	require.NoError(t, err)

	eff, err := s.SetField("branding.colors.primary", "red")
	require.NoError(t, err)
	assert.Equal(t, "#ff0000", eff.Branding.Colors["primary"])
	assert.Equal(t, "#ff0000", s.Effective().Branding.Colors["primary"])
	assert.Equal(t, "#112233", s.Base().Branding.Colors["primary"])
}

func TestSetFieldRejectsInvalidColor(t *testing.T) {
	s := newStore(t, serverWith(t, baseDoc), nil)
	_, err := s.Load(context.Background())
	require.NoError(t, err)

	_, err = s.SetField("branding.colors.primary", "not-a-color")
	require.ErrorIs(t, err, portal.ErrInvalidColor)

	_, ok, err := s.local.Get(localstore.KeyOverride)
	require.NoError(t, err)
	assert.False(t, ok, "nothing should be persisted")
	assert.Equal(t, "#112233", s.Effective().Branding.Colors["primary"])
}

func TestSetFieldRejectsWrongTypedValues(t *testing.T) {
	s := newStore(t, serverWith(t, baseDoc), nil)
	_, err := s.Load(context.Background())
	require.NoError(t, err)

	for _, tc := range []struct {
		path  string
		value any
	}{
		{"branding.title", 42},
		{"branding.colors.primary.x", "red"},
		{"links.staff.0", "oops"},
	} {
		_, err := s.SetField(tc.path, tc.value)
		require.ErrorIs(t, err, portal.ErrInvalidValue, tc.path)
	}

	_, ok, err := s.local.Get(localstore.KeyOverride)
	require.NoError(t, err)
	assert.False(t, ok, "nothing should be persisted")

	eff := s.Effective()
	assert.Equal(t, "Academy", eff.TitleOrDefault())
	assert.Equal(t, "#112233", eff.Branding.Colors["primary"])
	require.Len(t, eff.Links[portal.RoleStaff], 2)
	assert.Equal(t, "Mail", eff.Links[portal.RoleStaff][0].Title)
}

func TestSequentialSetFieldKeepsBothEdits(t *testing.T) {
	s := newStore(t, serverWith(t, baseDoc), nil)
	_, err := s.Load(context.Background())
	require.NoError(t, err)

	_, err = s.SetField("branding.title", "First")
	require.NoError(t, err)
	_, err = s.SetField("branding.tagline", "Second")
	require.NoError(t, err)
	_, err = s.SetField("branding.colors.accent", "#0f0")
	require.NoError(t, err)

	eff := s.Effective()
	assert.Equal(t, "First", *eff.Branding.Title)
	assert.Equal(t, "Second", *eff.Branding.Tagline)
	assert.Equal(t, "#00ff00", eff.Branding.Colors["accent"])

	_, err = s.SetField("branding.title", "Last")
	require.NoError(t, err)
	assert.Equal(t, "Last", *s.Effective().Branding.Title)
	assert.Equal(t, "Second", *s.Effective().Branding.Tagline)
}

func TestConcurrentSetFieldLosesNothing(t *testing.T) {
	s := newStore(t, serverWith(t, baseDoc), nil)
	_, err := s.Load(context.Background())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.SetField(fmt.Sprintf("custom.k%d", i), i)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	eff := s.Effective()
	for i := range 8 {
		_, ok := eff.Lookup(fmt.Sprintf("custom.k%d", i))
		assert.True(t, ok, "custom.k%d", i)
	}
}

func TestSetFieldInsideRoleSeedsFromEffective(t *testing.T) {
	s := newStore(t, serverWith(t, baseDoc), nil)
	_, err := s.Load(context.Background())
	require.NoError(t, err)

	eff, err := s.SetField("links.staff.1.title", "People")
	require.NoError(t, err)
	require.Len(t, eff.Links[portal.RoleStaff], 2)
	assert.Equal(t, "Mail", eff.Links[portal.RoleStaff][0].Title)
	assert.Equal(t, "People", eff.Links[portal.RoleStaff][1].Title)
	assert.Equal(t, "https://hr", eff.Links[portal.RoleStaff][1].URL)

	// Other roles still come from the base.
	assert.Len(t, eff.Links[portal.RoleStudents], 1)
	_, inOverride := s.Override().Links[portal.RoleStudents]
	assert.False(t, inOverride)

	eff, err = s.SetField("roles.parents.0", map[string]any{"title": "Calendar", "url": "https://cal"})
	require.NoError(t, err)
	require.Len(t, eff.Links[portal.RoleParents], 1)
	assert.Equal(t, "Calendar", eff.Links[portal.RoleParents][0].Title)
}

func TestSetFieldRoleReplacesWholeList(t *testing.T) {
	s := newStore(t, serverWith(t, baseDoc), nil)
	_, err := s.Load(context.Background())
	require.NoError(t, err)

	eff, err := s.SetField("links.staff", []portal.Link{{Title: "Only", URL: "https://only"}})
	require.NoError(t, err)
	require.Len(t, eff.Links[portal.RoleStaff], 1)
	assert.Equal(t, "Only", eff.Links[portal.RoleStaff][0].Title)
}

func TestCorruptOverrideIsTreatedAsAbsent(t *testing.T) {
	for _, raw := range []string{"{not json", "[1,2,3]", "null", `"text"`} {
		t.Run(raw, func(t *testing.T) {
			local, err := localstore.Open(t.TempDir())
			require.NoError(t, err)
			require.NoError(t, local.Set(localstore.KeyOverride, []byte(raw)))

			s := newStore(t, serverWith(t, baseDoc), local)
			_, err = s.Load(context.Background())
			require.NoError(t, err)

			if diff := cmp.Diff(s.Base(), s.Effective()); diff != "" {
				t.Errorf("effective should equal base (-base +effective):\n%s", diff)
			}
			_, err = decodeOverride([]byte(raw))
			var corrupt *OverrideCorruptError
			assert.ErrorAs(t, err, &corrupt)

			// Editing replaces the corrupt value with a valid override.
			eff, err := s.SetField("branding.title", "Fixed")
			require.NoError(t, err)
			assert.Equal(t, "Fixed", *eff.Branding.Title)
		})
	}
}

func TestResetToDefault(t *testing.T) {
	s := newStore(t, serverWith(t, baseDoc), nil)
	_, err := s.Load(context.Background())
	require.NoError(t, err)

	_, err = s.SetField("branding.title", "Draft")
	require.NoError(t, err)
	require.NoError(t, s.ResetToDefault())

	if diff := cmp.Diff(s.Base(), s.Effective()); diff != "" {
		t.Errorf("effective after reset (-base +effective):\n%s", diff)
	}
	require.NoError(t, s.ResetToDefault(), "reset without override")
}

func TestCommitRoundTrip(t *testing.T) {
	srv := serverWith(t, baseDoc)
	ctrl := &fakeController{}
	s := newStore(t, srv, nil, func(o *Options) { o.Controller = ctrl })
	_, err := s.Load(context.Background())
	require.NoError(t, err)

	_, err = s.SetField("branding.colors.primary", "rgb(0, 128, 0)")
	require.NoError(t, err)
	_, err = s.SetField("links.students.0.url", "https://lms.example")
	require.NoError(t, err)
	want := s.Effective()

	committed, err := s.Commit(context.Background(), portal.Credential{Username: "admin", PasswordHash: goodHash})
	require.NoError(t, err)
	if diff := cmp.Diff(want, committed); diff != "" {
		t.Errorf("committed config (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(committed, s.Effective()); diff != "" {
		t.Errorf("effective after commit (-committed +effective):\n%s", diff)
	}

	_, ok, err := s.local.Get(localstore.KeyOverride)
	require.NoError(t, err)
	assert.False(t, ok, "override cleared")
	rev, ok, err := s.local.Get(localstore.KeyRevision)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEmpty(t, rev)

	assert.Equal(t, []worker.MessageType{worker.MessageClear}, ctrl.types())

	// A fresh context loading from the server sees the same configuration.
	other := newStore(t, srv, nil)
	loaded, err := other.Load(context.Background())
	require.NoError(t, err)
	if diff := cmp.Diff(committed, loaded); diff != "" {
		t.Errorf("reloaded config (-committed +loaded):\n%s", diff)
	}
}

func TestCommitAuthFailureKeepsDraft(t *testing.T) {
	srv := serverWith(t, baseDoc)
	s := newStore(t, srv, nil)
	_, err := s.Load(context.Background())
	require.NoError(t, err)
	_, err = s.SetField("branding.title", "Draft")
	require.NoError(t, err)
	before, _, err := s.local.Get(localstore.KeyOverride)
	require.NoError(t, err)

	_, err = s.Commit(context.Background(), portal.Credential{Username: "admin", PasswordHash: "wrong"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuth)
	var saveErr *ConfigSaveError
	require.ErrorAs(t, err, &saveErr)
	assert.Equal(t, http.StatusUnauthorized, saveErr.Status)

	after, ok, err := s.local.Get(localstore.KeyOverride)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, string(before), string(after))
	assert.Equal(t, "Draft", *s.Effective().Branding.Title)
	assert.Equal(t, "Academy", *s.Base().Branding.Title)
	assert.Zero(t, srv.saveCount())
}

func TestCommitNetworkFailureKeepsDraft(t *testing.T) {
	srv := serverWith(t, baseDoc)
	s := newStore(t, srv, nil)
	_, err := s.Load(context.Background())
	require.NoError(t, err)
	_, err = s.SetField("branding.title", "Draft")
	require.NoError(t, err)

	srv.mu.Lock()
	srv.saveErr = errors.New("connection reset")
	srv.mu.Unlock()

	_, err = s.Commit(context.Background(), portal.Credential{PasswordHash: goodHash})
	var saveErr *ConfigSaveError
	require.ErrorAs(t, err, &saveErr)
	assert.Zero(t, saveErr.Status)
	assert.NotErrorIs(t, err, ErrAuth)
	assert.Equal(t, "Draft", *s.Effective().Branding.Title)
}

func TestCommitsAreSerialized(t *testing.T) {
	srv := serverWith(t, baseDoc)
	srv.saveGate = make(chan struct{})
	s := newStore(t, srv, nil)
	_, err := s.Load(context.Background())
	require.NoError(t, err)
	_, err = s.SetField("branding.title", "One")
	require.NoError(t, err)

	errs := make(chan error, 2)
	for range 2 {
		go func() {
			_, err := s.Commit(context.Background(), portal.Credential{PasswordHash: goodHash})
			errs <- err
		}()
	}

	// Release the saves one at a time; a second save must never start while
	// the first is waiting.
	for range 2 {
		require.Eventually(t, func() bool { return srv.inFlight.Load() == 1 }, time.Second, time.Millisecond)
		srv.saveGate <- struct{}{}
	}
	for range 2 {
		require.NoError(t, <-errs)
	}
	assert.Equal(t, int32(1), srv.maxFlights.Load())
	assert.Equal(t, 2, srv.saveCount())
}

func TestCommitKeepsOverrideEditedDuringSave(t *testing.T) {
	srv := serverWith(t, baseDoc)
	srv.saveGate = make(chan struct{})
	s := newStore(t, srv, nil)
	_, err := s.Load(context.Background())
	require.NoError(t, err)
	_, err = s.SetField("branding.title", "Saved")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := s.Commit(context.Background(), portal.Credential{PasswordHash: goodHash})
		done <- err
	}()
	require.Eventually(t, func() bool { return srv.inFlight.Load() == 1 }, time.Second, time.Millisecond)
	_, err = s.SetField("branding.tagline", "Late edit")
	require.NoError(t, err)
	srv.saveGate <- struct{}{}
	require.NoError(t, <-done)

	eff := s.Effective()
	assert.Equal(t, "Saved", *eff.Branding.Title)
	assert.Equal(t, "Late edit", *eff.Branding.Tagline)
	assert.Equal(t, "Saved", *s.Base().Branding.Title)
}

func TestPublishOverride(t *testing.T) {
	ctrl := &fakeController{}
	s := newStore(t, serverWith(t, baseDoc), nil, func(o *Options) { o.Controller = ctrl })
	_, err := s.Load(context.Background())
	require.NoError(t, err)
	_, err = s.SetField("branding.title", "X")
	require.NoError(t, err)

	require.NoError(t, s.PublishOverride(context.Background()))
	require.Len(t, ctrl.msgs, 1)
	assert.Equal(t, worker.MessageUpdate, ctrl.msgs[0].Type)
	published, err := portal.Parse(ctrl.msgs[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, "X", *published.Branding.Title)

	require.NoError(t, s.ClearPublished(context.Background()))
	assert.Equal(t, []worker.MessageType{worker.MessageUpdate, worker.MessageClear}, ctrl.types())

	ctrl.fail = "disk full"
	assert.ErrorContains(t, s.PublishOverride(context.Background()), "disk full")
}

func TestPublishWithoutController(t *testing.T) {
	s := newStore(t, serverWith(t, baseDoc), nil)
	assert.ErrorIs(t, s.PublishOverride(context.Background()), ErrNoController)
}

func TestSubscribersSeeLocalChanges(t *testing.T) {
	s := newStore(t, serverWith(t, baseDoc), nil)
	_, err := s.Load(context.Background())
	require.NoError(t, err)

	var titles []string
	cancel := s.Subscribe(func(c portal.Config) { titles = append(titles, c.TitleOrDefault()) })
	_, err = s.SetField("branding.title", "Edited")
	require.NoError(t, err)
	require.NoError(t, s.ResetToDefault())
	cancel()
	_, err = s.SetField("branding.title", "Unseen")
	require.NoError(t, err)

	assert.Equal(t, []string{"Edited", "Academy"}, titles)
}
