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

package erosion

import (
	"math"
	"time"
	"unsafe"

	"goarrg.com/debug"

	"hesiod.dev/vkc"
	"hesiod.dev/vkc/heightmap"
	"hesiod.dev/vkc/internal/util"
)

const (
	Shader      = "hydraulic_stream"
	numBindings = 4
	headroom    = 1.25
)

/*
Pipeline owns the erosion buffers across calls. The heightmap, flow, erosion
and mask buffers live in device local memory, sized for the largest tile seen
plus headroom, and are only reallocated when a larger tile shows up. The
descriptor set is rebound on every reallocation. All host traffic goes through
one staging buffer holding two tiles, copies to and from it are recorded in
the same submissions as the dispatches.

During stage 1 the flow and erosion buffers ping-pong: even iterations read
flow and write erosion, odd iterations the other way around.
*/
type Pipeline struct {
	ctx   *vkc.Context
	cache *vkc.PipelineCache

	entry    *vkc.PipelineEntry
	set      *vkc.DescriptorSet
	capacity int

	heightmap *vkc.DeviceBuffer
	flow      *vkc.DeviceBuffer
	erosion   *vkc.DeviceBuffer
	mask      *vkc.DeviceBuffer
	staging   *vkc.DeviceBuffer
}

func NewPipeline(ctx *vkc.Context, cache *vkc.PipelineCache) *Pipeline {
	return &Pipeline{ctx: ctx, cache: cache}
}

func (p *Pipeline) Ready() bool {
	return p.ctx.Ready()
}

// Capacity returns the current buffer capacity in pixels.
func (p *Pipeline) Capacity() int {
	return p.capacity
}

func unready(err error) error {
	return debug.ErrorWrapf(vkc.ErrorPipelineUnready{}, "%s: %v", Shader, err)
}

func (p *Pipeline) buffers() []**vkc.DeviceBuffer {
	return []**vkc.DeviceBuffer{&p.heightmap, &p.flow, &p.erosion, &p.mask, &p.staging}
}

func (p *Pipeline) destroyBuffers() {
	for _, b := range p.buffers() {
		if *b != nil {
			(*b).Destroy()
			*b = nil
		}
	}
	p.capacity = 0
}

func (p *Pipeline) ensure(pixels int) error {
	if p.entry == nil {
		entry, err := p.cache.Entry(Shader, numBindings, uint32(unsafe.Sizeof(Push{})))
		if err != nil {
			return err
		}
		p.entry = entry
	}
	if p.set == nil {
		set, err := p.entry.NewDescriptorSet()
		if err != nil {
			return err
		}
		p.set = set
	}
	if pixels <= p.capacity {
		return nil
	}

	p.destroyBuffers()
	capacity := int(math.Ceil(float64(pixels) * headroom))
	size := uint64(4 * capacity)
	for _, b := range p.buffers()[:numBindings] {
		buf, err := vkc.NewStorageBuffer(p.ctx, size)
		if err != nil {
			p.destroyBuffers()
			return err
		}
		*b = buf
	}
	staging, err := vkc.NewStagingBuffer(p.ctx, 2*size)
	if err != nil {
		p.destroyBuffers()
		return err
	}
	p.staging = staging
	p.set.Bind(p.heightmap, p.flow, p.erosion, p.mask)
	p.capacity = capacity
	instance.logger.VPrintf("Resized buffers to [%d] pixels", capacity)
	return nil
}

func hostToTransfer(cb *vkc.CommandBuffer) {
	cb.MemoryBarrier(vkc.MemoryBarrier{
		Src: vkc.MemoryBarrierInfo{Stage: vkc.PipelineStageHost, Access: vkc.AccessFlagHostWrite},
		Dst: vkc.MemoryBarrierInfo{Stage: vkc.PipelineStageTransfer, Access: vkc.AccessFlagTransferRead},
	})
}

func transferToCompute(cb *vkc.CommandBuffer) {
	cb.MemoryBarrier(vkc.MemoryBarrier{
		Src: vkc.MemoryBarrierInfo{Stage: vkc.PipelineStageTransfer, Access: vkc.AccessFlagTransferWrite},
		Dst: vkc.MemoryBarrierInfo{
			Stage: vkc.PipelineStageComputeShader, Access: vkc.AccessFlagShaderRead | vkc.AccessFlagShaderWrite,
		},
	})
}

func computeToTransfer(cb *vkc.CommandBuffer) {
	cb.MemoryBarrier(vkc.MemoryBarrier{
		Src: vkc.MemoryBarrierInfo{Stage: vkc.PipelineStageComputeShader, Access: vkc.AccessFlagShaderWrite},
		Dst: vkc.MemoryBarrierInfo{Stage: vkc.PipelineStageTransfer, Access: vkc.AccessFlagTransferRead},
	})
}

func transferToHost(cb *vkc.CommandBuffer) {
	cb.MemoryBarrier(vkc.MemoryBarrier{
		Src: vkc.MemoryBarrierInfo{Stage: vkc.PipelineStageTransfer, Access: vkc.AccessFlagTransferWrite},
		Dst: vkc.MemoryBarrierInfo{Stage: vkc.PipelineStageHost, Access: vkc.AccessFlagHostRead},
	})
}

/*
Compute erodes one tile in place. mask may be nil, erosionOut, when not nil,
receives the removed material. Any failure is reported as
vkc.ErrorPipelineUnready and leaves z untouched.
*/
func (p *Pipeline) Compute(z []float32, shape heightmap.Shape, mask []float32, params Params, erosionOut []float32) (Metrics, error) {
	n := shape.Size()
	if n == 0 {
		return Metrics{}, nil
	}
	if len(z) != n || (mask != nil && len(mask) != n) || (erosionOut != nil && len(erosionOut) != n) {
		return Metrics{}, unready(debug.Errorf("buffer sizes do not match tile shape %s", shape))
	}

	start := time.Now()
	if err := p.ensure(n); err != nil {
		return Metrics{}, unready(err)
	}

	metrics := Metrics{Iterations: params.IterationCount(shape)}
	if params.MeasureBaseline {
		cpuStart := time.Now()
		StreamErosion(append([]float32(nil), z...), shape, mask, params, nil)
		metrics.CPUBaseline = time.Since(cpuStart)
		start = start.Add(metrics.CPUBaseline)
	}

	if mask == nil {
		mask = make([]float32, n)
		for i := range mask {
			mask[i] = 1
		}
	}
	bytes := uint64(4 * n)
	if err := p.staging.UploadAt(0, util.SliceAsBytes(z)); err != nil {
		return Metrics{}, unready(err)
	}
	if err := p.staging.UploadAt(bytes, util.SliceAsBytes(mask)); err != nil {
		return Metrics{}, unready(err)
	}

	push := params.push(shape)
	size := p.flow.Size()
	result := p.flow
	if metrics.Iterations%2 == 1 {
		result = p.erosion
	}

	// stage 1
	gpuStart := time.Now()
	err := p.ctx.SubmitAndWait(func(cb *vkc.CommandBuffer) {
		hostToTransfer(cb)
		cb.CopyBuffer(p.staging, p.heightmap, []vkc.BufferCopyRegion{{Size: bytes}})
		cb.CopyBuffer(p.staging, p.mask, []vkc.BufferCopyRegion{{SrcBufferOffset: bytes, Size: bytes}})
		cb.FillBuffer(p.flow, 0, size, math.Float32bits(1))
		cb.FillBuffer(p.erosion, 0, size, 0)
		transferToCompute(cb)
		push.PassType = PassFlow
		for i := 0; i < metrics.Iterations; i++ {
			push.Iteration = uint32(i)
			cb.Dispatch(p.entry, vkc.DispatchInfo{
				PushConstants: util.AsBytes(&push),
				DescriptorSet: p.set,
				GroupCount:    vkc.GroupCount2D(shape.X, shape.Y),
			})
			cb.ComputeBarrier()
		}
		computeToTransfer(cb)
		cb.CopyBuffer(result, p.staging, []vkc.BufferCopyRegion{{Size: bytes}})
		transferToHost(cb)
	})
	metrics.GPUTime += time.Since(gpuStart)
	if err != nil {
		return Metrics{}, unready(err)
	}

	// stage 2
	flow := make([]float32, n)
	if err := p.staging.Download(util.SliceAsBytes(flow)); err != nil {
		return Metrics{}, unready(err)
	}
	NormalizeFlow(flow, params.ClippingRatio)
	if err := p.staging.Upload(util.SliceAsBytes(flow)); err != nil {
		return Metrics{}, unready(err)
	}

	// stage 3
	gpuStart = time.Now()
	err = p.ctx.SubmitAndWait(func(cb *vkc.CommandBuffer) {
		hostToTransfer(cb)
		cb.CopyBuffer(p.staging, p.flow, []vkc.BufferCopyRegion{{Size: bytes}})
		transferToCompute(cb)
		push.PassType = PassApply
		push.Iteration = 0
		cb.Dispatch(p.entry, vkc.DispatchInfo{
			PushConstants: util.AsBytes(&push),
			DescriptorSet: p.set,
			GroupCount:    vkc.GroupCount2D(shape.X, shape.Y),
		})
		computeToTransfer(cb)
		cb.CopyBuffer(p.heightmap, p.staging, []vkc.BufferCopyRegion{{Size: bytes}})
		cb.CopyBuffer(p.erosion, p.staging, []vkc.BufferCopyRegion{{DstBufferOffset: bytes, Size: bytes}})
		transferToHost(cb)
	})
	metrics.GPUTime += time.Since(gpuStart)
	if err != nil {
		return Metrics{}, unready(err)
	}

	out := make([]float32, n)
	if err := p.staging.Download(util.SliceAsBytes(out)); err != nil {
		return Metrics{}, unready(err)
	}
	if erosionOut != nil {
		if err := p.staging.DownloadAt(bytes, util.SliceAsBytes(erosionOut)); err != nil {
			return Metrics{}, unready(err)
		}
	}
	copy(z, out)

	metrics.finish(time.Since(start))
	instance.logger.VPrintf("%s %s: %s", Shader, shape, metrics)
	return metrics, nil
}

func (p *Pipeline) Destroy() {
	if p.set != nil {
		p.set.Destroy()
		p.set = nil
	}
	p.destroyBuffers()
	p.entry = nil
}
