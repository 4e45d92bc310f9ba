package updater

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dushixiang/pika-edge/pkg/agent/config"
)

type fakeRelease struct {
	applied  []string
	exitCode int
	exited   bool
	events   []string
}

func newTestUpdater(t *testing.T, latest string, downloadStatus int) (*Updater, *fakeRelease) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/agent/version":
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"version":"`+latest+`"}`)
		case strings.HasPrefix(r.URL.Path, "/api/agent/downloads/pika-edge-"):
			w.WriteHeader(downloadStatus)
			_, _ = io.WriteString(w, "new-binary")
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	cfg := &config.Config{}
	cfg.Server.Endpoint = srv.URL
	cfg.AutoUpdate = config.AutoUpdateConfig{Enabled: true, Schedule: "@every 1h"}

	release := &fakeRelease{}
	u, err := New(cfg, "v1.0.0", slog.New(slog.NewTextHandler(io.Discard, nil)), func() {
		release.events = append(release.events, "before-exit")
	})
	require.NoError(t, err)

	u.apply = func(r io.Reader) error {
		b, err := io.ReadAll(r)
		release.applied = append(release.applied, string(b))
		return err
	}
	u.exit = func(code int) {
		release.events = append(release.events, "exit")
		release.exited = true
		release.exitCode = code
	}
	return u, release
}

func TestCheckAndUpdateAppliesNewVersion(t *testing.T) {
	u, release := newTestUpdater(t, "v1.1.0", http.StatusOK)

	assert.True(t, u.CheckAndUpdate(context.Background()))
	assert.Equal(t, []string{"new-binary"}, release.applied)
	assert.True(t, release.exited)
	assert.Equal(t, 1, release.exitCode)
}

func TestCheckAndUpdateRunsBeforeExitHookFirst(t *testing.T) {
	u, release := newTestUpdater(t, "v1.1.0", http.StatusOK)

	assert.True(t, u.CheckAndUpdate(context.Background()))
	assert.Equal(t, []string{"before-exit", "exit"}, release.events)
}

func TestCheckAndUpdateWithoutHook(t *testing.T) {
	u, release := newTestUpdater(t, "v1.1.0", http.StatusOK)
	u.beforeExit = nil

	assert.True(t, u.CheckAndUpdate(context.Background()))
	assert.Equal(t, []string{"exit"}, release.events)
}

func TestCheckAndUpdateSkipsCurrentVersion(t *testing.T) {
	u, release := newTestUpdater(t, "v1.0.0", http.StatusOK)

	assert.False(t, u.CheckAndUpdate(context.Background()))
	assert.Empty(t, release.applied)
	assert.False(t, release.exited)
}

func TestCheckAndUpdateDownloadFailure(t *testing.T) {
	u, release := newTestUpdater(t, "v1.1.0", http.StatusNotFound)

	assert.False(t, u.CheckAndUpdate(context.Background()))
	assert.Empty(t, release.applied)
	assert.False(t, release.exited)
}

func TestNewRejectsBadSchedule(t *testing.T) {
	cfg := &config.Config{}
	cfg.AutoUpdate.Schedule = "every now and then"
	_, err := New(cfg, "v1.0.0", slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	assert.Error(t, err)
}

func TestStartReturnsWhenDisabled(t *testing.T) {
	u, release := newTestUpdater(t, "v1.1.0", http.StatusOK)
	u.cfg.AutoUpdate.Enabled = false

	u.Start(context.Background())
	assert.False(t, release.exited)
}
