/*
Copyright 2026 The Hesiod Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package settings

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
}

func TestDir(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Setenv("APPDATA", `C:\cfg`)
		assert.Equal(t, filepath.Join(`C:\cfg`, "hesiod"), Dir())
		return
	}
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	assert.Equal(t, "/tmp/xdg/hesiod", Dir())
	assert.Equal(t, "/tmp/xdg/hesiod/settings.json", DefaultPath())

	homedir.DisableCache = true
	t.Cleanup(func() { homedir.DisableCache = false })
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("HOME", "/tmp/home")
	assert.Equal(t, "/tmp/home/.hesiod", Dir())
}

func TestLoadMissing(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "settings.json"))
	assert.Equal(t, Defaults(), s.Load())
}

func TestLoadBroken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	writeFile(t, path, `{"logging": {"level": 4`)

	s := NewStore(path)
	s.Update(func(v *Settings) { v.Logging.Level = 3 })
	assert.Equal(t, Defaults(), s.Load())
}

func TestLoadTolerant(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	writeFile(t, path, `{
		"logging": {"level": "loud", "stutter_threshold_ms": 300, "colour": true},
		"performance": {"use_gpu": false, "disabled_gpu_nodes": ["blend"], "preview_cache_mb": -1.5},
		"vulkan": {"validation": null, "asset_dir": null, "preferred_device": "llvmpipe"},
		"viewer": 12,
		"plugins": {"a": 1}
	}`)

	s := NewStore(path)
	s.Update(func(v *Settings) {
		v.Logging.Level = 4
		v.Viewer.Resolution = 1024
	})
	got := s.Load()

	want := Defaults()
	want.Logging.Level = 4
	want.Logging.StutterThresholdMS = 300
	want.Performance.UseGPU = false
	want.Performance.DisabledGPUNodes = []string{"blend"}
	want.Viewer.Resolution = 1024
	want.Vulkan.PreferredDevice = "llvmpipe"
	assert.Equal(t, want, got)
	assert.Equal(t, want, s.Get())
}

func TestLoadNullKeepsValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	writeFile(t, path, `{"performance": {"preview_cache_mb": null, "use_gpu": null, "disabled_gpu_nodes": null}}`)

	s := NewStore(path)
	s.Update(func(v *Settings) { v.Performance.DisabledGPUNodes = []string{"fold"} })
	got := s.Load()
	assert.Equal(t, 512, got.Performance.PreviewCacheMB)
	assert.True(t, got.Performance.UseGPU)
	assert.Equal(t, []string{"fold"}, got.Performance.DisabledGPUNodes)
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.json")
	s := NewStore(path)
	s.Update(func(v *Settings) {
		v.Vulkan.PreferredDevice = "llvmpipe"
		v.Performance.DisabledGPUNodes = []string{"noise_fbm", "fold"}
		v.Interface.FontScale = 1.25
	})
	require.NoError(t, s.Save())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	other := NewStore(path)
	assert.Equal(t, s.Get(), other.Load())
}

func TestGetReturnsCopy(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "settings.json"))
	s.Update(func(v *Settings) { v.Performance.DisabledGPUNodes = []string{"abs"} })
	got := s.Get()
	got.Performance.DisabledGPUNodes[0] = "clamp"
	assert.Equal(t, []string{"abs"}, s.Get().Performance.DisabledGPUNodes)
}

func TestWatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s := NewStore(path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changed := make(chan Settings, 8)
	require.NoError(t, s.Watch(ctx, func(v Settings) { changed <- v }))

	writer := NewStore(path)
	writer.Update(func(v *Settings) { v.Logging.Level = 0 })
	require.NoError(t, writer.Save())

	select {
	case v := <-changed:
		assert.Equal(t, 0, v.Logging.Level)
		assert.Equal(t, 0, s.Get().Logging.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after the settings file changed")
	}
}
