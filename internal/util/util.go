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

package util

import (
	"unsafe"

	"goarrg.com/debug"
)

var instance = struct {
	logger *debug.Logger
}{
	logger: debug.NewLogger("hesiod", "internal", "util"),
}

func abort(fmt string, args ...any) {
	instance.logger.EPrintf(fmt, args...)
	panic("Fatal Error")
}

/*
AsBytes returns a byte view of the value pointed to by data, the view aliases
data and is only valid while data is alive. T must not contain pointers.
*/
func AsBytes[T comparable](data *T) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(data)), unsafe.Sizeof(*data))
}

// SliceAsBytes returns a byte view aliasing data.
func SliceAsBytes[T comparable](data []T) []byte {
	if len(data) == 0 {
		return nil
	}
	return unsafe.Slice(
		(*byte)(unsafe.Pointer(unsafe.SliceData(data))), uintptr(len(data))*unsafe.Sizeof(data[0]),
	)
}

// BytesAsUint32 reinterprets data as a []uint32, len(data) must be a multiple of 4.
func BytesAsUint32(data []byte) []uint32 {
	if len(data)%4 != 0 {
		abort("BytesAsUint32: len(data) [%d] is not a multiple of 4", len(data))
	}
	if len(data) == 0 {
		return nil
	}
	// copy so the result is always 4 byte aligned
	ret := make([]uint32, len(data)/4)
	copy(SliceAsBytes(ret), data)
	return ret
}
