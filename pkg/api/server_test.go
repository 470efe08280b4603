package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurbuild/aurbuild/pkg/aur"
	"github.com/aurbuild/aurbuild/pkg/buildlog"
	"github.com/aurbuild/aurbuild/pkg/bus"
	"github.com/aurbuild/aurbuild/pkg/config"
	"github.com/aurbuild/aurbuild/pkg/state"
	"github.com/aurbuild/aurbuild/pkg/types"
)

type testIngress struct {
	server     *httptest.Server
	state      *state.State
	containers *state.Containers
	broker     *bus.Broker
	sub        *bus.Subscriber
	cfg        *config.Config
	logs       *buildlog.Archive
}

// aurNames configures which package names the fake AUR endpoint knows.
func newTestIngress(t *testing.T, aurNames ...string) *testIngress {
	t.Helper()

	cfg := config.Default()
	cfg.RepoDir = t.TempDir()
	cfg.KeyFile = filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(cfg.KeyFile, []byte("SECRET KEY"), 0o600))

	st, err := state.Load(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)

	broker := bus.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	logs, err := buildlog.Open(filepath.Join(t.TempDir(), "logs.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { logs.Close() })

	rpc := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var results []map[string]any
		for _, name := range r.URL.Query()["arg[]"] {
			for _, known := range aurNames {
				if name == known {
					results = append(results, map[string]any{"Name": name})
				}
			}
		}
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{"results": results}))
	}))
	t.Cleanup(rpc.Close)

	containers := state.NewContainers()
	ingress := NewServer(cfg, st, containers, broker, aur.NewClient(rpc.URL, nil), logs)
	server := httptest.NewServer(ingress.Handler())
	t.Cleanup(server.Close)

	return &testIngress{
		server:     server,
		state:      st,
		containers: containers,
		broker:     broker,
		sub:        broker.Subscribe("test"),
		cfg:        cfg,
		logs:       logs,
	}
}

func (ti *testIngress) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(ti.server.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (ti *testIngress) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ti.server.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (ti *testIngress) expectMessage(t *testing.T) bus.Message {
	t.Helper()
	select {
	case message := <-ti.sub.C():
		return message
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func (ti *testIngress) expectNoMessage(t *testing.T) {
	t.Helper()
	select {
	case message := <-ti.sub.C():
		t.Fatalf("unexpected message: %#v", message)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStatus(t *testing.T) {
	ti := newTestIngress(t)
	ti.state.Track("yay", "", nil, false)

	resp := ti.get(t, "/status")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	status := decodeBody[types.Status](t, resp)
	assert.Equal(t, []string{"yay"}, status.Packages)
}

func TestAddPackages(t *testing.T) {
	ti := newTestIngress(t, "yay", "paru")
	ti.state.Track("paru", "", nil, false)

	resp := ti.postJSON(t, "/packages/add", types.AddPackages{
		Packages: []string{"yay", "paru", "no-such-package"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody[types.AddPackagesResponse](t, resp)
	assert.Equal(t, []string{"yay"}, body.Added)
	assert.Equal(t, []string{"paru"}, body.AlreadyTracked)
	assert.Equal(t, []string{"no-such-package"}, body.NotFound)

	add, ok := ti.expectMessage(t).(bus.AddPackages)
	require.True(t, ok)
	assert.Equal(t, []string{"yay"}, add.Packages)
}

func TestAddPackagesNothingNewPublishesNothing(t *testing.T) {
	ti := newTestIngress(t, "yay")
	ti.state.Track("yay", "", nil, false)

	resp := ti.postJSON(t, "/packages/add", types.AddPackages{Packages: []string{"yay"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	ti.expectNoMessage(t)
}

func TestAddPackagesInvalidBody(t *testing.T) {
	ti := newTestIngress(t)

	resp, err := http.Post(ti.server.URL+"/packages/add", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRemovePackages(t *testing.T) {
	ti := newTestIngress(t)
	ti.state.Track("yay", "", nil, false)
	ti.state.SetBuild("yay", 1, []string{"yay-1.pkg.tar.zst"})

	resp := ti.postJSON(t, "/packages/remove", types.RemovePackages{
		Packages: []string{"yay", "ghost"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody[types.RemovePackagesResponse](t, resp)
	assert.Equal(t, []string{"yay"}, body.Removed)
	assert.Equal(t, []string{"ghost"}, body.NotTracked)

	remove, ok := ti.expectMessage(t).(bus.RemovePackages)
	require.True(t, ok)
	assert.Equal(t, []string{"yay"}, remove.Packages)
	// The artifact list rides with the message so the repository can delete
	// the files after the scheduler has dropped the state records.
	assert.Equal(t, []string{"yay-1.pkg.tar.zst"}, remove.Files)
}

func TestForceRebuild(t *testing.T) {
	ti := newTestIngress(t)
	ti.state.Track("yay", "", nil, false)

	resp := ti.postJSON(t, "/packages/rebuild", types.ForceRebuild{Packages: []string{"yay"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody[types.ForceRebuildResponse](t, resp)
	assert.Empty(t, body.NotFound)

	build, ok := ti.expectMessage(t).(bus.BuildPackage)
	require.True(t, ok)
	assert.Equal(t, "yay", build.Package)
}

func TestForceRebuildRejectsWholeBatchOnUnknownName(t *testing.T) {
	ti := newTestIngress(t)
	ti.state.Track("yay", "", nil, false)

	resp := ti.postJSON(t, "/packages/rebuild", types.ForceRebuild{
		Packages: []string{"yay", "ghost"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody[types.ForceRebuildResponse](t, resp)
	assert.Equal(t, []string{"ghost"}, body.NotFound)

	ti.expectNoMessage(t)
}

func TestReceiveArtifacts(t *testing.T) {
	ti := newTestIngress(t)
	ti.containers.Set("yay", "0123456789abcdef0123456789abcdef")

	payload, err := json.Marshal(types.Artifacts{
		PackageName: "yay",
		BuildTime:   1700000000,
		Files: map[string][]byte{
			"yay-12.0.5-1.pkg.tar.zst": []byte("package data"),
			"../../etc/evil":           []byte("escape attempt"),
		},
	})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, ti.server.URL+"/artifacts", bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("hostname", "0123456789ab")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data, err := os.ReadFile(filepath.Join(ti.cfg.RepoDir, "yay-12.0.5-1.pkg.tar.zst"))
	require.NoError(t, err)
	assert.Equal(t, "package data", string(data))

	// Path traversal is stripped down to the base name.
	_, err = os.Stat(filepath.Join(ti.cfg.RepoDir, "evil"))
	assert.NoError(t, err)

	uploaded, ok := ti.expectMessage(t).(bus.ArtifactsUploaded)
	require.True(t, ok)
	assert.Equal(t, "yay", uploaded.Package)
	assert.Equal(t, int64(1700000000), uploaded.BuildTime)
	assert.ElementsMatch(t, []string{"yay-12.0.5-1.pkg.tar.zst", "evil"}, uploaded.Files)
}

func TestReceiveArtifactsRejectsUnknownWorker(t *testing.T) {
	ti := newTestIngress(t)

	req, err := http.NewRequest(http.MethodPost, ti.server.URL+"/artifacts", strings.NewReader("{}"))
	require.NoError(t, err)
	req.Header.Set("hostname", "ffffffffffff")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	ti.expectNoMessage(t)
}

func TestGetKey(t *testing.T) {
	ti := newTestIngress(t)
	ti.containers.Set("yay", "0123456789abcdef0123456789abcdef")

	// No hostname header at all.
	resp := ti.get(t, "/key")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Unknown hostname.
	req, err := http.NewRequest(http.MethodGet, ti.server.URL+"/key", nil)
	require.NoError(t, err)
	req.Header.Set("hostname", "ffffffffffff")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Active worker.
	req, err = http.NewRequest(http.MethodGet, ti.server.URL+"/key", nil)
	require.NoError(t, err)
	req.Header.Set("hostname", "0123456789ab")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	key, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "SECRET KEY", string(key))
}

func TestLogs(t *testing.T) {
	ti := newTestIngress(t)
	require.NoError(t, ti.logs.Add("yay", "makepkg: error"))

	resp := ti.get(t, "/logs")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	logs := decodeBody[[]types.LogInfo](t, resp)
	require.Len(t, logs, 1)
	assert.Equal(t, "yay", logs[0].Package)

	resp = ti.get(t, "/logs/0")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	content, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "makepkg: error", string(content))

	resp = ti.get(t, "/logs/7")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = ti.get(t, "/logs/banana")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEmptyLogListIsAnArray(t *testing.T) {
	ti := newTestIngress(t)

	resp := ti.get(t, "/logs")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "[]", strings.TrimSpace(string(body)))
}

func TestRepoServesArtifacts(t *testing.T) {
	ti := newTestIngress(t)
	require.NoError(t, os.WriteFile(filepath.Join(ti.cfg.RepoDir, "aur.db"), []byte("index"), 0o644))

	resp := ti.get(t, "/repo/aur.db")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "index", string(body))
}
