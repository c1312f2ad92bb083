package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWatcher(t *testing.T, f *fixture) (*Watcher, chan struct{}) {
	t.Helper()
	changed := make(chan struct{}, 4)
	w := NewWatcher(f.registry, func() {
		changed <- struct{}{}
	})
	require.NoError(t, w.Start())
	t.Cleanup(func() { _ = w.Stop() })
	return w, changed
}

func waitForChange(t *testing.T, changed <-chan struct{}) {
	t.Helper()
	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change notification")
	}
}

func TestWatcher_NotifiesOnConfigWrite(t *testing.T) {
	f := newFixture(t)
	f.writeFile(t, f.paths.WorkspaceConfig, `{"servers": []}`)

	_, changed := startWatcher(t, f)

	f.writeFile(t, f.paths.WorkspaceConfig, `{"servers": [`+serverEntry("a", "a-bin")+`]}`)
	waitForChange(t, changed)
}

func TestWatcher_SeesAtomicReplace(t *testing.T) {
	f := newFixture(t)
	f.writeFile(t, f.paths.WorkspaceConfig, `{"servers": []}`)

	_, changed := startWatcher(t, f)

	// Replicate the registry's own write path: write a sibling temp file,
	// then rename it over the watched config.
	tmp := f.paths.WorkspaceConfig + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte(`{"servers": []}`), 0o644))
	require.NoError(t, os.Rename(tmp, f.paths.WorkspaceConfig))

	waitForChange(t, changed)
}

func TestWatcher_IgnoresUnrelatedFiles(t *testing.T) {
	f := newFixture(t)
	f.writeFile(t, f.paths.WorkspaceConfig, `{"servers": []}`)

	_, changed := startWatcher(t, f)

	unrelated := filepath.Join(filepath.Dir(f.paths.WorkspaceConfig), "notes.txt")
	require.NoError(t, os.WriteFile(unrelated, []byte("x"), 0o644))

	select {
	case <-changed:
		t.Fatal("unexpected notification for unrelated file")
	case <-time.After(debounceInterval + 200*time.Millisecond):
	}
}

func TestWatcher_DebouncesBursts(t *testing.T) {
	f := newFixture(t)
	f.writeFile(t, f.paths.WorkspaceConfig, `{"servers": []}`)

	_, changed := startWatcher(t, f)

	for i := 0; i < 5; i++ {
		f.writeFile(t, f.paths.WorkspaceConfig, `{"servers": []}`)
		time.Sleep(20 * time.Millisecond)
	}
	waitForChange(t, changed)

	select {
	case <-changed:
		t.Fatal("burst produced more than one notification")
	case <-time.After(debounceInterval + 200*time.Millisecond):
	}
}

func TestWatcher_StartIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.writeFile(t, f.paths.WorkspaceConfig, `{"servers": []}`)

	w, _ := startWatcher(t, f)
	require.NoError(t, w.Start())
	require.NoError(t, w.Stop())
	assert.NoError(t, w.Stop())
}

func TestWatcher_NoNotificationAfterStop(t *testing.T) {
	f := newFixture(t)
	f.writeFile(t, f.paths.WorkspaceConfig, `{"servers": []}`)

	w, changed := startWatcher(t, f)
	require.NoError(t, w.Stop())

	f.writeFile(t, f.paths.WorkspaceConfig, `{"servers": []}`)
	select {
	case <-changed:
		t.Fatal("notification after Stop")
	case <-time.After(debounceInterval + 200*time.Millisecond):
	}
}
