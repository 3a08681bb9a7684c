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

package vkc

import (
	"bytes"
	"fmt"

	vk "github.com/vulkan-go/vulkan"
	"goarrg.com/debug"
	"goarrg.com/gmath"
)

var (
	MinAPI = vk.MakeVersion(1, 2, 0)
	MaxAPI = vk.MakeVersion(1, 4, 0)
)

const (
	validationLayerName       = "VK_LAYER_KHRONOS_validation"
	debugUtilsExtensionName   = "VK_EXT_debug_utils"
	debugReportExtensionName  = "VK_EXT_debug_report"
	defaultApplicationName    = "hesiod"
	defaultPreferredGPUVendor = ""
	defaultAssetDir           = "shaders/spv"
)

type Config struct {
	ApplicationName string
	API             uint32

	// Validation enables the khronos validation layer when it is installed,
	// a missing layer is never an error.
	Validation bool

	// PreferredDevice, if not empty, is matched against the device name before
	// the discrete/integrated ranking is applied.
	PreferredDevice string

	// Disabled skips initialization entirely and leaves the Context in the failed state.
	Disabled bool

	// AssetDir is the directory holding ${shader}.spv files.
	AssetDir string
}

// DefaultConfig returns the config used when the application has no overrides.
func DefaultConfig() Config {
	return Config{
		ApplicationName: defaultApplicationName,
		API:             MinAPI,
		Validation:      debugBuild,
		PreferredDevice: defaultPreferredGPUVendor,
		AssetDir:        defaultAssetDir,
	}
}

func vkAPI2String(api uint32) string {
	return fmt.Sprintf("%d.%d.%d", ((api >> 22) & 0x7F), ((api >> 12) & 0x3FF), (api & 0xFFF))
}

func (c *Config) MarshalJSON() ([]byte, error) {
	buff := bytes.Buffer{}
	buff.WriteString("{")

	buff.WriteString(fmt.Sprintf("\"ApplicationName\": %q,", c.ApplicationName))
	buff.WriteString(fmt.Sprintf("\"API\": %q,", vkAPI2String(c.API)))
	buff.WriteString(fmt.Sprintf("\"Validation\": %t,", c.Validation))
	buff.WriteString(fmt.Sprintf("\"PreferredDevice\": %q,", c.PreferredDevice))
	buff.WriteString(fmt.Sprintf("\"Disabled\": %t,", c.Disabled))
	buff.WriteString(fmt.Sprintf("\"AssetDir\": %q", c.AssetDir))

	buff.WriteString("}")
	return buff.Bytes(), nil
}

func (c *Config) validate() error {
	if c.ApplicationName == "" {
		c.ApplicationName = defaultApplicationName
	}
	if c.API == 0 {
		c.API = MinAPI
	} else if !gmath.InRange(c.API, MinAPI, MaxAPI) {
		return debug.Errorf("Config.API [%q] is outside of valid api range [%q, %q]",
			vkAPI2String(c.API), vkAPI2String(MinAPI), vkAPI2String(MaxAPI))
	}
	if c.AssetDir == "" {
		c.AssetDir = "."
	}
	return nil
}
