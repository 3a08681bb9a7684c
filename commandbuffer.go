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
	"runtime"
	"unsafe"

	vk "github.com/vulkan-go/vulkan"
	"goarrg.com/debug"
	"goarrg.com/gmath"

	"hesiod.dev/vkc/internal/util"
)

type PipelineStage uint32

const (
	PipelineStageTopOfPipe     PipelineStage = PipelineStage(vk.PipelineStageTopOfPipeBit)
	PipelineStageTransfer      PipelineStage = PipelineStage(vk.PipelineStageTransferBit)
	PipelineStageComputeShader PipelineStage = PipelineStage(vk.PipelineStageComputeShaderBit)
	PipelineStageHost          PipelineStage = PipelineStage(vk.PipelineStageHostBit)
	PipelineStageBottomOfPipe  PipelineStage = PipelineStage(vk.PipelineStageBottomOfPipeBit)
)

type AccessFlags uint32

const (
	AccessFlagNone          AccessFlags = 0
	AccessFlagShaderRead    AccessFlags = AccessFlags(vk.AccessShaderReadBit)
	AccessFlagShaderWrite   AccessFlags = AccessFlags(vk.AccessShaderWriteBit)
	AccessFlagTransferRead  AccessFlags = AccessFlags(vk.AccessTransferReadBit)
	AccessFlagTransferWrite AccessFlags = AccessFlags(vk.AccessTransferWriteBit)
	AccessFlagHostRead      AccessFlags = AccessFlags(vk.AccessHostReadBit)
	AccessFlagHostWrite     AccessFlags = AccessFlags(vk.AccessHostWriteBit)
)

type MemoryBarrierInfo struct {
	Stage  PipelineStage
	Access AccessFlags
}

type MemoryBarrier struct {
	Src MemoryBarrierInfo
	Dst MemoryBarrierInfo
}

/*
CommandBuffer is only valid inside the record callback of
Context.SubmitAndWait. The first recording error is kept and returned by
SubmitAndWait, later commands are dropped.
*/
type CommandBuffer struct {
	noCopy          util.NoCopy
	ctx             *Context
	vkCommandBuffer vk.CommandBuffer
	err             error
}

func (cb *CommandBuffer) setErr(err error) {
	if cb.err == nil {
		cb.err = err
	}
}

// Err returns the first recording error.
func (cb *CommandBuffer) Err() error {
	return cb.err
}

func (cb *CommandBuffer) MemoryBarrier(barriers ...MemoryBarrier) {
	cb.noCopy.Check()
	if cb.err != nil || len(barriers) == 0 {
		return
	}

	var srcStage, dstStage PipelineStage
	infos := make([]vk.MemoryBarrier, 0, len(barriers))
	for _, b := range barriers {
		srcStage |= b.Src.Stage
		dstStage |= b.Dst.Stage
		infos = append(infos, vk.MemoryBarrier{
			SType:         vk.StructureTypeMemoryBarrier,
			SrcAccessMask: vk.AccessFlags(b.Src.Access),
			DstAccessMask: vk.AccessFlags(b.Dst.Access),
		})
	}
	if srcStage == 0 {
		srcStage = PipelineStageTopOfPipe
	}
	if dstStage == 0 {
		dstStage = PipelineStageBottomOfPipe
	}
	vk.CmdPipelineBarrier(cb.vkCommandBuffer, vk.PipelineStageFlags(srcStage), vk.PipelineStageFlags(dstStage), 0,
		uint32(len(infos)), infos, 0, nil, 0, nil)
}

// ComputeBarrier makes shader writes of the previous dispatch visible to the next one.
func (cb *CommandBuffer) ComputeBarrier() {
	cb.MemoryBarrier(MemoryBarrier{
		Src: MemoryBarrierInfo{Stage: PipelineStageComputeShader, Access: AccessFlagShaderWrite},
		Dst: MemoryBarrierInfo{Stage: PipelineStageComputeShader, Access: AccessFlagShaderRead},
	})
}

// FillBuffer writes value to size bytes starting at offset, size and offset must be multiples of 4.
func (cb *CommandBuffer) FillBuffer(buffer *DeviceBuffer, offset, size uint64, value uint32) {
	cb.noCopy.Check()
	if cb.err != nil {
		return
	}
	if (offset%4) != 0 || (size%4) != 0 {
		abort("FillBuffer(offset: %d, size: %d) is not 4 byte aligned", offset, size)
	}
	if offset+size > buffer.Size() {
		abort("FillBuffer(offset: %d, size: %d) will overflow buffer of size %d", offset, size, buffer.Size())
	}
	vk.CmdFillBuffer(cb.vkCommandBuffer, buffer.VkBuffer(), vk.DeviceSize(offset), vk.DeviceSize(size), value)
}

type BufferCopyRegion struct {
	SrcBufferOffset uint64
	DstBufferOffset uint64
	Size            uint64
}

func (cb *CommandBuffer) CopyBuffer(bIn, bOut *DeviceBuffer, regions []BufferCopyRegion) {
	cb.noCopy.Check()
	if cb.err != nil || len(regions) == 0 {
		return
	}
	vkRegions := make([]vk.BufferCopy, len(regions))
	for i, r := range regions {
		vkRegions[i] = vk.BufferCopy{
			SrcOffset: vk.DeviceSize(r.SrcBufferOffset),
			DstOffset: vk.DeviceSize(r.DstBufferOffset),
			Size:      vk.DeviceSize(r.Size),
		}
	}
	vk.CmdCopyBuffer(cb.vkCommandBuffer, bIn.VkBuffer(), bOut.VkBuffer(), uint32(len(vkRegions)), vkRegions)
}

// LocalSize2D is the workgroup edge of every 2D image shader.
const LocalSize2D = 16

// GroupCount2D returns the workgroups needed to cover a width x height image with LocalSize2D groups.
func GroupCount2D(width, height int) gmath.Extent3u32 {
	return gmath.Extent3u32{
		X: uint32((width + LocalSize2D - 1) / LocalSize2D),
		Y: uint32((height + LocalSize2D - 1) / LocalSize2D),
		Z: 1,
	}
}

type DispatchInfo struct {
	PushConstants []byte
	DescriptorSet *DescriptorSet
	GroupCount    gmath.Extent3u32
}

// Dispatch binds p and info.DescriptorSet, pushes info.PushConstants and records the dispatch.
func (cb *CommandBuffer) Dispatch(p *PipelineEntry, info DispatchInfo) {
	cb.noCopy.Check()
	if cb.err != nil {
		return
	}
	p.noCopy.Check()

	if uint32(len(info.PushConstants)) != p.pushConstantSize {
		cb.setErr(debug.Errorf("Dispatch %q: push constant size [%d] != pipeline push constant size [%d]",
			p.name, len(info.PushConstants), p.pushConstantSize))
		return
	}
	if info.GroupCount.Z == 0 {
		info.GroupCount.Z = 1
	}
	if info.GroupCount.X == 0 || info.GroupCount.Y == 0 {
		return
	}
	limits := cb.ctx.properties.Limits.MaxComputeWorkGroupCount
	if limits.X > 0 && (info.GroupCount.X > limits.X || info.GroupCount.Y > limits.Y || info.GroupCount.Z > limits.Z) {
		cb.setErr(debug.Errorf("Dispatch %q: group count %+v would exceed Limits.MaxComputeWorkGroupCount %+v",
			p.name, info.GroupCount, limits))
		return
	}

	vk.CmdBindPipeline(cb.vkCommandBuffer, vk.PipelineBindPointCompute, p.vkPipeline)
	if info.DescriptorSet != nil {
		info.DescriptorSet.noCopy.Check()
		vk.CmdBindDescriptorSets(cb.vkCommandBuffer, vk.PipelineBindPointCompute, p.vkPipelineLayout, 0, 1,
			[]vk.DescriptorSet{info.DescriptorSet.vkDescriptorSet}, 0, nil)
	}
	if p.pushConstantSize > 0 {
		vk.CmdPushConstants(cb.vkCommandBuffer, p.vkPipelineLayout, vk.ShaderStageFlags(vk.ShaderStageComputeBit), 0,
			p.pushConstantSize, unsafe.Pointer(unsafe.SliceData(info.PushConstants)))
		runtime.KeepAlive(info.PushConstants)
	}
	vk.CmdDispatch(cb.vkCommandBuffer, info.GroupCount.X, info.GroupCount.Y, info.GroupCount.Z)
}
