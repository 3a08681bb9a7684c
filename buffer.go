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
	"strings"
	"unsafe"

	vk "github.com/vulkan-go/vulkan"
	"goarrg.com/debug"

	"hesiod.dev/vkc/internal/util"
)

type BufferUsageFlags uint32

const (
	BufferUsageTransferSrc   BufferUsageFlags = BufferUsageFlags(vk.BufferUsageTransferSrcBit)
	BufferUsageTransferDst   BufferUsageFlags = BufferUsageFlags(vk.BufferUsageTransferDstBit)
	BufferUsageUniformBuffer BufferUsageFlags = BufferUsageFlags(vk.BufferUsageUniformBufferBit)
	BufferUsageStorageBuffer BufferUsageFlags = BufferUsageFlags(vk.BufferUsageStorageBufferBit)
)

func (u BufferUsageFlags) HasBits(want BufferUsageFlags) bool {
	return hasBits(u, want)
}

func (u BufferUsageFlags) String() string {
	str := ""
	if u.HasBits(BufferUsageTransferSrc) {
		str += "TransferSrc|"
	}
	if u.HasBits(BufferUsageTransferDst) {
		str += "TransferDst|"
	}
	if u.HasBits(BufferUsageUniformBuffer) {
		str += "UniformBuffer|"
	}
	if u.HasBits(BufferUsageStorageBuffer) {
		str += "StorageBuffer|"
	}
	return strings.TrimSuffix(str, "|")
}

type MemoryPropertyFlags uint32

const (
	MemoryPropertyDeviceLocal  MemoryPropertyFlags = MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)
	MemoryPropertyHostVisible  MemoryPropertyFlags = MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit)
	MemoryPropertyHostCoherent MemoryPropertyFlags = MemoryPropertyFlags(vk.MemoryPropertyHostCoherentBit)
	MemoryPropertyHostCached   MemoryPropertyFlags = MemoryPropertyFlags(vk.MemoryPropertyHostCachedBit)
)

func (m MemoryPropertyFlags) HasBits(want MemoryPropertyFlags) bool {
	return hasBits(m, want)
}

func (m MemoryPropertyFlags) String() string {
	str := ""
	if m.HasBits(MemoryPropertyDeviceLocal) {
		str += "DeviceLocal|"
	}
	if m.HasBits(MemoryPropertyHostVisible) {
		str += "HostVisible|"
	}
	if m.HasBits(MemoryPropertyHostCoherent) {
		str += "HostCoherent|"
	}
	if m.HasBits(MemoryPropertyHostCached) {
		str += "HostCached|"
	}
	return strings.TrimSuffix(str, "|")
}

/*
DeviceBuffer is a buffer bound to its own allocation. It is move-only, pass
it by pointer and Destroy it exactly once through its owner.
*/
type DeviceBuffer struct {
	noCopy util.NoCopy
	ctx    *Context

	bufferSize     uint64
	allocationSize uint64
	usageFlags     BufferUsageFlags
	memoryFlags    MemoryPropertyFlags

	vkBuffer       vk.Buffer
	vkDeviceMemory vk.DeviceMemory
}

/*
NewBuffer creates a buffer of size bytes and binds it to memory with every
bit of memFlags. Intermediate objects are released on failure.
*/
func NewBuffer(ctx *Context, size uint64, usage BufferUsageFlags, memFlags MemoryPropertyFlags) (*DeviceBuffer, error) {
	if err := ctx.checkReady(); err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, debug.ErrorWrapf(ErrorAllocationFailed{}, "Buffer size must be > 0")
	}
	if usage.HasBits(BufferUsageStorageBuffer) && ctx.properties.Limits.MaxStorageBufferRange > 0 &&
		size > uint64(ctx.properties.Limits.MaxStorageBufferRange) {
		return nil, debug.ErrorWrapf(ErrorAllocationFailed{}, "Buffer size [%d] is larger than Limits.MaxStorageBufferRange [%d]",
			size, ctx.properties.Limits.MaxStorageBufferRange)
	}

	b := &DeviceBuffer{
		ctx:         ctx,
		bufferSize:  size,
		usageFlags:  usage,
		memoryFlags: memFlags,
	}
	b.noCopy.Init()

	bufferInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       vk.BufferUsageFlags(usage),
		SharingMode: vk.SharingModeExclusive,
	}
	var buffer vk.Buffer
	if res := vk.CreateBuffer(ctx.vkDevice, &bufferInfo, nil, &buffer); res != vk.Success {
		return nil, debug.ErrorWrapf(ErrorAllocationFailed{}, "CreateBuffer(size: %d, usage: %s): %v", size, usage, vk.Error(res))
	}

	var requirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(ctx.vkDevice, buffer, &requirements)
	requirements.Deref()

	memoryType, err := ctx.FindMemoryType(requirements.MemoryTypeBits, memFlags)
	if err != nil {
		vk.DestroyBuffer(ctx.vkDevice, buffer, nil)
		return nil, debug.ErrorWrapf(ErrorAllocationFailed{}, "%v", err)
	}

	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  requirements.Size,
		MemoryTypeIndex: memoryType,
	}
	var memory vk.DeviceMemory
	if res := vk.AllocateMemory(ctx.vkDevice, &allocInfo, nil, &memory); res != vk.Success {
		vk.DestroyBuffer(ctx.vkDevice, buffer, nil)
		return nil, debug.ErrorWrapf(ErrorAllocationFailed{}, "AllocateMemory(size: %d, flags: %s): %v",
			uint64(requirements.Size), memFlags, vk.Error(res))
	}

	if res := vk.BindBufferMemory(ctx.vkDevice, buffer, memory, 0); res != vk.Success {
		vk.FreeMemory(ctx.vkDevice, memory, nil)
		vk.DestroyBuffer(ctx.vkDevice, buffer, nil)
		return nil, debug.ErrorWrapf(ErrorAllocationFailed{}, "BindBufferMemory: %v", vk.Error(res))
	}

	b.vkBuffer = buffer
	b.vkDeviceMemory = memory
	b.allocationSize = uint64(requirements.Size)
	return b, nil
}

// NewStorageBuffer creates device local storage usable as a transfer source and destination.
func NewStorageBuffer(ctx *Context, size uint64) (*DeviceBuffer, error) {
	return NewBuffer(ctx, size,
		BufferUsageStorageBuffer|BufferUsageTransferSrc|BufferUsageTransferDst,
		MemoryPropertyDeviceLocal)
}

func NewStagingBuffer(ctx *Context, size uint64) (*DeviceBuffer, error) {
	return NewBuffer(ctx, size,
		BufferUsageTransferSrc|BufferUsageTransferDst,
		MemoryPropertyHostVisible|MemoryPropertyHostCoherent)
}

/*
NewHostStorageBuffer creates storage that the host can map directly. Cached
memory is preferred for readback, coherent memory is used when the device
has no cached type.
*/
func NewHostStorageBuffer(ctx *Context, size uint64) (*DeviceBuffer, error) {
	usage := BufferUsageStorageBuffer | BufferUsageTransferSrc | BufferUsageTransferDst
	if ctx.HasMemoryType(MemoryPropertyHostVisible | MemoryPropertyHostCached) {
		return NewBuffer(ctx, size, usage, MemoryPropertyHostVisible|MemoryPropertyHostCached)
	}
	return NewBuffer(ctx, size, usage, MemoryPropertyHostVisible|MemoryPropertyHostCoherent)
}

func (b *DeviceBuffer) Size() uint64 {
	b.noCopy.Check()
	return b.bufferSize
}

func (b *DeviceBuffer) Usage() BufferUsageFlags {
	b.noCopy.Check()
	return b.usageFlags
}

func (b *DeviceBuffer) MemoryFlags() MemoryPropertyFlags {
	b.noCopy.Check()
	return b.memoryFlags
}

func (b *DeviceBuffer) HostVisible() bool {
	b.noCopy.Check()
	return b.memoryFlags.HasBits(MemoryPropertyHostVisible)
}

func (b *DeviceBuffer) VkBuffer() vk.Buffer {
	b.noCopy.Check()
	return b.vkBuffer
}

func (b *DeviceBuffer) mappedRange() vk.MappedMemoryRange {
	return vk.MappedMemoryRange{
		SType:  vk.StructureTypeMappedMemoryRange,
		Memory: b.vkDeviceMemory,
		Offset: 0,
		Size:   vk.DeviceSize(b.allocationSize),
	}
}

func (b *DeviceBuffer) mapMemory(op string, offset uint64, n int) (unsafe.Pointer, error) {
	b.noCopy.Check()
	if !b.memoryFlags.HasBits(MemoryPropertyHostVisible) {
		return nil, debug.ErrorWrapf(ErrorNotHostVisible{}, "%s on buffer with memory [%s]", op, b.memoryFlags)
	}
	if offset+uint64(n) > b.bufferSize {
		abort("%s(offset: %d, len(data): %d) will overflow buffer of size %d", op, offset, n, b.bufferSize)
	}

	var ptr unsafe.Pointer
	if res := vk.MapMemory(b.ctx.vkDevice, b.vkDeviceMemory, 0, vk.DeviceSize(b.allocationSize), 0, &ptr); res != vk.Success {
		return nil, debug.ErrorWrapf(vk.Error(res), "%s: failed to map memory", op)
	}
	return unsafe.Add(ptr, offset), nil
}

// Upload copies data to the start of the buffer.
func (b *DeviceBuffer) Upload(data []byte) error {
	return b.UploadAt(0, data)
}

// UploadAt copies data to the buffer starting at offset bytes.
func (b *DeviceBuffer) UploadAt(offset uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	ptr, err := b.mapMemory("Upload", offset, len(data))
	if err != nil {
		return err
	}
	defer vk.UnmapMemory(b.ctx.vkDevice, b.vkDeviceMemory)

	copy(unsafe.Slice((*byte)(ptr), len(data)), data)
	if !b.memoryFlags.HasBits(MemoryPropertyHostCoherent) {
		if res := vk.FlushMappedMemoryRanges(b.ctx.vkDevice, 1, []vk.MappedMemoryRange{b.mappedRange()}); res != vk.Success {
			return debug.ErrorWrapf(vk.Error(res), "Upload: failed to flush memory")
		}
	}
	return nil
}

// Download copies len(data) bytes from the start of the buffer.
func (b *DeviceBuffer) Download(data []byte) error {
	return b.DownloadAt(0, data)
}

// DownloadAt copies len(data) bytes from the buffer starting at offset bytes.
func (b *DeviceBuffer) DownloadAt(offset uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	ptr, err := b.mapMemory("Download", offset, len(data))
	if err != nil {
		return err
	}
	defer vk.UnmapMemory(b.ctx.vkDevice, b.vkDeviceMemory)

	if !b.memoryFlags.HasBits(MemoryPropertyHostCoherent) {
		if res := vk.InvalidateMappedMemoryRanges(b.ctx.vkDevice, 1, []vk.MappedMemoryRange{b.mappedRange()}); res != vk.Success {
			return debug.ErrorWrapf(vk.Error(res), "Download: failed to invalidate memory")
		}
	}
	copy(data, unsafe.Slice((*byte)(ptr), len(data)))
	return nil
}

func (b *DeviceBuffer) UploadFloats(data []float32) error {
	return b.Upload(util.SliceAsBytes(data))
}

func (b *DeviceBuffer) DownloadFloats(data []float32) error {
	return b.Download(util.SliceAsBytes(data))
}

func (b *DeviceBuffer) Destroy() {
	if b.noCopy.Closed() {
		return
	}
	b.noCopy.Check()
	vk.DestroyBuffer(b.ctx.vkDevice, b.vkBuffer, nil)
	vk.FreeMemory(b.ctx.vkDevice, b.vkDeviceMemory, nil)
	b.noCopy.Close()
}
