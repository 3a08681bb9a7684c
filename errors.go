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

// ErrorDeviceInitFailed is returned by every GPU operation once the Context has failed to initialize.
type ErrorDeviceInitFailed struct{}

func (ErrorDeviceInitFailed) Is(target error) bool {
	_, ok := target.(ErrorDeviceInitFailed)
	return ok
}

func (ErrorDeviceInitFailed) Error() string {
	return "Device Init Failed"
}

type ErrorNoSuitableDevice struct{}

func (ErrorNoSuitableDevice) Is(target error) bool {
	_, ok := target.(ErrorNoSuitableDevice)
	return ok
}

func (ErrorNoSuitableDevice) Error() string {
	return "No Suitable Device"
}

type ErrorUnsupportedMemoryType struct{}

func (ErrorUnsupportedMemoryType) Is(target error) bool {
	_, ok := target.(ErrorUnsupportedMemoryType)
	return ok
}

func (ErrorUnsupportedMemoryType) Error() string {
	return "Unsupported Memory Type"
}

type ErrorAllocationFailed struct{}

func (ErrorAllocationFailed) Is(target error) bool {
	_, ok := target.(ErrorAllocationFailed)
	return ok
}

func (ErrorAllocationFailed) Error() string {
	return "Allocation Failed"
}

type ErrorNotHostVisible struct{}

func (ErrorNotHostVisible) Is(target error) bool {
	_, ok := target.(ErrorNotHostVisible)
	return ok
}

func (ErrorNotHostVisible) Error() string {
	return "Memory Not Host Visible"
}

type ErrorShaderBuildFailed struct{}

func (ErrorShaderBuildFailed) Is(target error) bool {
	_, ok := target.(ErrorShaderBuildFailed)
	return ok
}

func (ErrorShaderBuildFailed) Error() string {
	return "Shader Build Failed"
}

// ErrorPipelineUnready is a soft failure, callers are expected to fall back to the CPU.
type ErrorPipelineUnready struct{}

func (ErrorPipelineUnready) Is(target error) bool {
	_, ok := target.(ErrorPipelineUnready)
	return ok
}

func (ErrorPipelineUnready) Error() string {
	return "Pipeline Unready"
}
