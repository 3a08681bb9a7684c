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
	"cmp"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	vk "github.com/vulkan-go/vulkan"
	"goarrg.com/debug"
	"golang.org/x/exp/constraints"
)

func toHex(v any) string {
	switch t := v.(type) {
	case vk.DescriptorSetLayout, vk.DescriptorPool, vk.DescriptorSet,
		vk.PipelineLayout, vk.Pipeline, vk.ShaderModule, vk.Buffer, vk.DeviceMemory:
		return fmt.Sprintf("%p", t)
	case uint32:
		return fmt.Sprintf("0x%08X", t)
	case uint64, uintptr:
		return fmt.Sprintf("0x%016X", t)
	}
	abort("Unknown/Unhandled type: %T", v)
	return ""
}

func jsonString(target any) string {
	bytes, err := json.Marshal(target)
	if err != nil {
		abort("%s", err)
	}
	return strings.TrimSpace(string(bytes))
}

func prettyString(target json.Marshaler) string {
	bytes, err := json.MarshalIndent(target, "", "    ")
	if err != nil {
		abort("%s", err)
	}
	return strings.TrimSpace(string(bytes))
}

func hasBits[N constraints.Unsigned](t, want N) bool {
	return (t & want) == want
}

func mapRunFuncSorted[M ~map[K]V, K cmp.Ordered, V any](m M, f func(K, V) error) error {
	if len(m) == 0 {
		return debug.Errorf("Empty map")
	}

	for _, k := range slices.Sorted(maps.Keys(m)) {
		err := f(k, m[k])
		if err != nil {
			return err
		}
	}

	return nil
}

// cString returns s with the NUL terminator the binding expects on every string it passes to C.
func cString(s string) string {
	if strings.HasSuffix(s, "\x00") {
		return s
	}
	return s + "\x00"
}

func cStrings(s []string) []string {
	ret := make([]string, len(s))
	for i := range s {
		ret[i] = cString(s[i])
	}
	return ret
}
