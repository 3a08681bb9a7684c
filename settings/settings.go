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

/*
Package settings persists the application settings as one JSON file in the
platform config directory. Reading is tolerant: a missing or broken file
gives the defaults, a field of the wrong type keeps its previous value and
unknown keys are ignored.
*/
package settings

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"slices"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/go-homedir"
	"goarrg.com/debug"
)

var instance = struct {
	logger *debug.Logger
}{
	logger: debug.NewLogger("hesiod", "settings"),
}

func SetLogLevel(l uint32) {
	instance.logger.SetLevel(l)
}

const (
	appDir   = "hesiod"
	fileName = "settings.json"
)

type Interface struct {
	Theme        string  `json:"theme"`
	FontScale    float64 `json:"font_scale"`
	ShowTooltips bool    `json:"show_tooltips"`
}

type Performance struct {
	UseGPU bool `json:"use_gpu"`

	// DisabledGPUNodes lists node kinds that always run on the CPU.
	DisabledGPUNodes []string `json:"disabled_gpu_nodes"`

	PreviewCacheMB int `json:"preview_cache_mb"`

	// ErosionIterations overrides the relaxation pass count of hydraulic_stream, 0 keeps max(width, height).
	ErosionIterations int `json:"erosion_iterations"`
}

type Vulkan struct {
	Validation      bool   `json:"validation"`
	PreferredDevice string `json:"preferred_device"`
	AssetDir        string `json:"asset_dir"`
}

type Logging struct {
	// Level is the terminal verbosity from 0 (errors) to 4 (trace).
	Level              int `json:"level"`
	StutterThresholdMS int `json:"stutter_threshold_ms"`
}

type NodeEditor struct {
	GridSnap   bool `json:"grid_snap"`
	ShowTiming bool `json:"show_timing"`
}

type Viewer struct {
	Resolution    int     `json:"resolution"`
	ShowWireframe bool    `json:"show_wireframe"`
	HeightScale   float64 `json:"height_scale"`
}

type Settings struct {
	Interface   Interface   `json:"interface"`
	Performance Performance `json:"performance"`
	Vulkan      Vulkan      `json:"vulkan"`
	Logging     Logging     `json:"logging"`
	NodeEditor  NodeEditor  `json:"node_editor"`
	Viewer      Viewer      `json:"viewer"`
}

func Defaults() Settings {
	return Settings{
		Interface:   Interface{Theme: "dark", FontScale: 1, ShowTooltips: true},
		Performance: Performance{UseGPU: true, PreviewCacheMB: 512},
		Vulkan:      Vulkan{AssetDir: "shaders/spv"},
		Logging:     Logging{Level: 2, StutterThresholdMS: 150},
		NodeEditor:  NodeEditor{GridSnap: true, ShowTiming: true},
		Viewer:      Viewer{Resolution: 512, HeightScale: 0.2},
	}
}

func (s Settings) clone() Settings {
	s.Performance.DisabledGPUNodes = slices.Clone(s.Performance.DisabledGPUNodes)
	return s
}

/*
Dir returns the platform config directory: %APPDATA%\hesiod on Windows,
$XDG_CONFIG_HOME/hesiod elsewhere, and ~/.hesiod when neither is set.
*/
func Dir() string {
	if runtime.GOOS == "windows" {
		if d := os.Getenv("APPDATA"); d != "" {
			return filepath.Join(d, appDir)
		}
	} else if d := os.Getenv("XDG_CONFIG_HOME"); d != "" {
		return filepath.Join(d, appDir)
	}
	home, err := homedir.Dir()
	if err != nil {
		instance.logger.WPrintf("No home directory, using the working directory: %v", err)
		return "." + appDir
	}
	return filepath.Join(home, "."+appDir)
}

func DefaultPath() string {
	return filepath.Join(Dir(), fileName)
}

type Store struct {
	mtx      sync.RWMutex
	path     string
	settings Settings
}

// NewStore returns a Store holding the defaults, an empty path uses DefaultPath. Call Load to read the file.
func NewStore(path string) *Store {
	if path == "" {
		path = DefaultPath()
	}
	if p, err := homedir.Expand(path); err == nil {
		path = p
	}
	return &Store{path: path, settings: Defaults()}
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Get() Settings {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.settings.clone()
}

func (s *Store) Update(fn func(*Settings)) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	fn(&s.settings)
}

/*
Load reads the file into the store and never fails. A file that cannot be
read or parsed resets to the defaults. Sections and fields are decoded one
by one so a field of the wrong type keeps its previous value.
*/
func (s *Store) Load() Settings {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			instance.logger.WPrintf("Failed to read %q, using defaults: %v", s.path, err)
		}
		s.settings = Defaults()
		return s.settings.clone()
	}

	var sections map[string]json.RawMessage
	if err := json.Unmarshal(data, &sections); err != nil {
		instance.logger.WPrintf("Failed to parse %q, using defaults: %v", s.path, err)
		s.settings = Defaults()
		return s.settings.clone()
	}

	root := reflect.ValueOf(&s.settings).Elem()
	for i := 0; i < root.NumField(); i++ {
		raw, ok := sections[jsonName(root.Type().Field(i))]
		if !ok {
			continue
		}
		decodeSection(root.Type().Field(i).Name, root.Field(i), raw)
	}
	return s.settings.clone()
}

func jsonName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "" {
		return f.Name
	}
	return name
}

func decodeSection(section string, v reflect.Value, raw json.RawMessage) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		instance.logger.WPrintf("Ignoring section %q: %v", section, err)
		return
	}
	for i := 0; i < v.NumField(); i++ {
		f := v.Type().Field(i)
		raw, ok := fields[jsonName(f)]
		if !ok {
			continue
		}
		if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			instance.logger.WPrintf("Ignoring %s.%s: null", section, jsonName(f))
			continue
		}
		tmp := reflect.New(f.Type)
		if err := json.Unmarshal(raw, tmp.Interface()); err != nil {
			instance.logger.WPrintf("Ignoring %s.%s: %v", section, jsonName(f), err)
			continue
		}
		v.Field(i).Set(tmp.Elem())
	}
}

// Save writes the settings through a temporary file and a rename so readers never see a partial file.
func (s *Store) Save() error {
	s.mtx.RLock()
	data, err := json.MarshalIndent(&s.settings, "", "  ")
	s.mtx.RUnlock()
	if err != nil {
		return debug.ErrorWrapf(err, "Failed to encode settings")
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return debug.ErrorWrapf(err, "Failed to create %q", dir)
	}
	f, err := os.CreateTemp(dir, fileName+".*")
	if err != nil {
		return debug.ErrorWrapf(err, "Failed to create temporary file in %q", dir)
	}
	defer os.Remove(f.Name())

	if _, err := f.Write(append(data, '\n')); err != nil {
		f.Close()
		return debug.ErrorWrapf(err, "Failed to write %q", f.Name())
	}
	if err := f.Close(); err != nil {
		return debug.ErrorWrapf(err, "Failed to write %q", f.Name())
	}
	if err := os.Rename(f.Name(), s.path); err != nil {
		return debug.ErrorWrapf(err, "Failed to replace %q", s.path)
	}
	return nil
}

/*
Watch reloads the store whenever the file is written, created or replaced
and calls fn with the new settings. It watches the parent directory so
atomic replacements are seen, and returns once the watcher is running. The
watcher stops when ctx is done.
*/
func (s *Store) Watch(ctx context.Context, fn func(Settings)) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return debug.ErrorWrapf(err, "Failed to create %q", dir)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return debug.ErrorWrapf(err, "Failed to create settings watcher")
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return debug.ErrorWrapf(err, "Failed to watch %q", dir)
	}

	target := filepath.Clean(s.path)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target || !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
					continue
				}
				fn(s.Load())
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				instance.logger.WPrintf("Settings watcher: %v", err)
			}
		}
	}()
	return nil
}
