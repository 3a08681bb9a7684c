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
	"fmt"
	"strings"
	"unsafe"

	vk "github.com/vulkan-go/vulkan"
	"goarrg.com/debug"
)

var instance = struct {
	logger *debug.Logger
}{
	logger: debug.NewLogger("hesiod", "vkc"),
}

func abort(fmt string, args ...any) {
	instance.logger.EPrintf(fmt, args...)
	panic("Fatal Error")
}

func SetLogLevel(l uint32) {
	instance.logger.SetLevel(l)
}

// messageCodeBlacklist holds validation message codes that are noise for compute only workloads.
var messageCodeBlacklist = map[int32]struct{}{
	-840639837: {}, // BestPractices-AllocateMemory-SetPriority
	948173112:  {}, // BestPractices-Pipeline-NoRendering
}

func vkDebugReport(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType,
	object uint64, location uint, messageCode int32, pLayerPrefix string, pMessage string,
	pUserData unsafe.Pointer,
) vk.Bool32 {
	if _, blacklisted := messageCodeBlacklist[messageCode]; blacklisted {
		return vk.False
	}

	format := ""
	if flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0 {
		format += "[VkPer] "
	} else {
		format += "[VkVal] "
	}
	format += fmt.Sprintf("[%s: %d] ", strings.TrimRight(pLayerPrefix, "\x00"), messageCode)
	if object != 0 {
		format += fmt.Sprintf("[Obj: 0x%X] ", object)
	}
	message := strings.TrimSpace(strings.TrimRight(pMessage, "\x00"))

	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		instance.logger.EPrintf("%s\n%s", format, message)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit|vk.DebugReportPerformanceWarningBit) != 0:
		instance.logger.WPrintf("%s\n%s", format, message)
	default:
		instance.logger.VPrintf("%s\n%s", format, message)
	}

	return vk.False
}
