package reload

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/janusipc/janus/pkg/manifest"
)

const initialManifest = `{
  "version": "1.0.0",
  "channels": {
    "main": {
      "requests": {
        "greet": {
          "args": {},
          "response": {"type": "string"}
        }
      }
    }
  }
}`

const updatedManifest = `{
  "version": "2.0.0",
  "channels": {
    "main": {
      "requests": {
        "greet": {
          "args": {},
          "response": {"type": "string"}
        }
      }
    }
  }
}`

func TestWatcherLoadsInitialManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")
	require.NoError(t, os.WriteFile(path, []byte(initialManifest), 0o644))

	var mu sync.Mutex
	var got *manifest.Manifest
	w := New(path, func(m *manifest.Manifest) {
		mu.Lock()
		got = m
		mu.Unlock()
	}, nil)
	require.NoError(t, w.Start())
	t.Cleanup(w.Stop)

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, got)
	assert.Equal(t, "1.0.0", got.Version)
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")
	require.NoError(t, os.WriteFile(path, []byte(initialManifest), 0o644))

	var mu sync.Mutex
	versions := make([]string, 0, 2)
	w := New(path, func(m *manifest.Manifest) {
		mu.Lock()
		versions = append(versions, m.Version)
		mu.Unlock()
	}, nil)
	require.NoError(t, w.Start())
	t.Cleanup(w.Stop)

	require.NoError(t, os.WriteFile(path, []byte(updatedManifest), 0o644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(versions) >= 2 && versions[len(versions)-1] == "2.0.0"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")
	require.NoError(t, os.WriteFile(path, []byte(initialManifest), 0o644))

	w := New(path, func(m *manifest.Manifest) {}, nil)
	require.NoError(t, w.Start())
	w.Stop()
	w.Stop()
}
