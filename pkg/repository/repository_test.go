package repository

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurbuild/aurbuild/pkg/bus"
	"github.com/aurbuild/aurbuild/pkg/config"
	"github.com/aurbuild/aurbuild/pkg/state"
)

type commandCall struct {
	dir  string
	name string
	args []string
}

type fakeRunner struct {
	calls []commandCall
	err   error
}

func (f *fakeRunner) run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, commandCall{dir: dir, name: name, args: args})
	return nil, f.err
}

func newTestManager(t *testing.T) (*Manager, *state.State, *bus.Broker, *fakeRunner) {
	t.Helper()

	cfg := config.Default()
	cfg.RepoDir = t.TempDir()
	cfg.RepoName = "aur"

	st, err := state.Load(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)

	broker := bus.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	manager := NewManager(cfg, st, broker)
	runner := &fakeRunner{}
	manager.runCommand = runner.run
	return manager, st, broker, runner
}

func expectMessage(t *testing.T, sub *bus.Subscriber) bus.Message {
	t.Helper()
	select {
	case message := <-sub.C():
		return message
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestHandleArtifactsIndexesAndAnnounces(t *testing.T) {
	manager, st, broker, runner := newTestManager(t)
	st.Track("yay", "", nil, false)
	sub := broker.Subscribe("test")

	manager.handleArtifacts(context.Background(), bus.ArtifactsUploaded{
		Package:   "yay",
		BuildTime: 1700000000,
		Files:     []string{"yay-12.0.5-1.pkg.tar.zst"},
	})

	require.Len(t, runner.calls, 1)
	call := runner.calls[0]
	assert.Equal(t, "repo-add", call.name)
	assert.Equal(t, manager.cfg.RepoDir, call.dir)
	assert.Equal(t, []string{
		"--new", "--remove", "--prevent-downgrade", "--verify",
		"aur.db.tar.zst", "yay-12.0.5-1.pkg.tar.zst",
	}, call.args)

	buildTime, built := st.BuildTime("yay")
	assert.True(t, built)
	assert.Equal(t, int64(1700000000), buildTime)

	message := expectMessage(t, sub)
	success, ok := message.(bus.BuildSuccess)
	require.True(t, ok)
	assert.Equal(t, "yay", success.Package)
}

func TestHandleArtifactsRepoAddFailureDropsBuild(t *testing.T) {
	manager, st, broker, runner := newTestManager(t)
	st.Track("yay", "", nil, false)
	runner.err = errors.New("signature check failed")
	sub := broker.Subscribe("test")

	manager.handleArtifacts(context.Background(), bus.ArtifactsUploaded{
		Package: "yay",
		Files:   []string{"yay-12.0.5-1.pkg.tar.zst"},
	})

	_, built := st.BuildTime("yay")
	assert.False(t, built, "failed indexing must not record a build")

	select {
	case message := <-sub.C():
		t.Fatalf("unexpected message: %#v", message)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHandleRemoveDropsIndexEntriesAndFiles(t *testing.T) {
	manager, st, _, runner := newTestManager(t)

	st.Track("yay", "", nil, false)
	st.SetBuild("yay", 1, []string{"yay-1.pkg.tar.zst"})

	dbPath := filepath.Join(manager.cfg.RepoDir, "aur.db.tar.zst")
	require.NoError(t, os.WriteFile(dbPath, []byte("db"), 0o644))
	artifact := filepath.Join(manager.cfg.RepoDir, "yay-1.pkg.tar.zst")
	require.NoError(t, os.WriteFile(artifact, []byte("pkg"), 0o644))

	manager.handleRemove(context.Background(), bus.RemovePackages{
		Packages: []string{"yay"},
		Files:    []string{"yay-1.pkg.tar.zst"},
	})

	require.Len(t, runner.calls, 1)
	call := runner.calls[0]
	assert.Equal(t, "repo-remove", call.name)
	assert.Equal(t, []string{"aur.db.tar.zst", "yay"}, call.args)

	_, err := os.Stat(artifact)
	assert.True(t, errors.Is(err, os.ErrNotExist), "artifact file should be deleted")
}

func TestHandleRemoveDeletesFilesAfterStateAlreadyDropped(t *testing.T) {
	manager, st, _, _ := newTestManager(t)

	st.Track("yay", "", nil, false)
	st.SetBuild("yay", 1, []string{"yay-1.pkg.tar.zst"})
	artifact := filepath.Join(manager.cfg.RepoDir, "yay-1.pkg.tar.zst")
	require.NoError(t, os.WriteFile(artifact, []byte("pkg"), 0o644))

	// The scheduler handles its copy of the message first and deletes the
	// state record; the file list in the message must still be honored.
	st.Remove([]string{"yay"})
	manager.handleRemove(context.Background(), bus.RemovePackages{
		Packages: []string{"yay"},
		Files:    []string{"yay-1.pkg.tar.zst"},
	})

	_, err := os.Stat(artifact)
	assert.True(t, errors.Is(err, os.ErrNotExist), "artifact must be deleted even though state no longer knows it")
}

func TestHandleRemoveWithoutDatabaseSkipsRepoRemove(t *testing.T) {
	manager, _, _, runner := newTestManager(t)

	manager.handleRemove(context.Background(), bus.RemovePackages{Packages: []string{"yay"}})

	assert.Empty(t, runner.calls)
}

func TestRecreateDeletesIndexAndReaddsEverything(t *testing.T) {
	manager, st, _, runner := newTestManager(t)

	st.Track("yay", "", nil, false)
	st.SetBuild("yay", 1, []string{"yay-1.pkg.tar.zst"})
	st.Track("paru", "", nil, false)
	st.SetBuild("paru", 2, []string{"paru-1.pkg.tar.zst"})

	for _, name := range []string{"aur.db", "aur.db.tar.zst", "aur.files", "aur.files.tar.zst"} {
		require.NoError(t, os.WriteFile(filepath.Join(manager.cfg.RepoDir, name), []byte("old"), 0o644))
	}

	require.NoError(t, manager.Recreate(context.Background()))

	for _, name := range []string{"aur.db", "aur.db.tar.zst", "aur.files", "aur.files.tar.zst"} {
		_, err := os.Stat(filepath.Join(manager.cfg.RepoDir, name))
		assert.True(t, errors.Is(err, os.ErrNotExist), "%s should be deleted", name)
	}

	require.Len(t, runner.calls, 1)
	assert.Equal(t, "repo-add", runner.calls[0].name)
	assert.Equal(t, []string{
		"--new", "--remove", "--prevent-downgrade", "--verify",
		"aur.db.tar.zst", "paru-1.pkg.tar.zst", "yay-1.pkg.tar.zst",
	}, runner.calls[0].args)
}

func TestRecreateWithNoArtifactsDoesNothing(t *testing.T) {
	manager, _, _, runner := newTestManager(t)

	require.NoError(t, manager.Recreate(context.Background()))
	assert.Empty(t, runner.calls)
}

func TestRecreateFailureIsAnError(t *testing.T) {
	manager, st, _, runner := newTestManager(t)

	st.Track("yay", "", nil, false)
	st.SetBuild("yay", 1, []string{"yay-1.pkg.tar.zst"})
	runner.err = errors.New("repo-add exploded")

	assert.Error(t, manager.Recreate(context.Background()))
}
