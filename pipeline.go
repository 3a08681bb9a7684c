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

	"hesiod.dev/vkc/internal/util"
)

const shaderEntryPoint = "main"

/*
PipelineEntry is a compute pipeline whose descriptor set 0 has numBindings
storage buffers at bindings 0..numBindings-1, all visible to the compute
stage, and an optional push constant range starting at offset 0.
*/
type PipelineEntry struct {
	noCopy util.NoCopy
	ctx    *Context

	name             string
	numBindings      uint32
	pushConstantSize uint32

	vkShaderModule        vk.ShaderModule
	vkDescriptorSetLayout vk.DescriptorSetLayout
	vkPipelineLayout      vk.PipelineLayout
	vkPipeline            vk.Pipeline
}

func NewPipelineEntry(ctx *Context, name string, spirv []uint32, numBindings, pushConstantSize uint32) (*PipelineEntry, error) {
	if err := ctx.checkReady(); err != nil {
		return nil, err
	}
	if len(spirv) == 0 {
		return nil, debug.ErrorWrapf(ErrorShaderBuildFailed{}, "%q: empty SPIR-V", name)
	}
	if (pushConstantSize % 4) != 0 {
		return nil, debug.ErrorWrapf(ErrorShaderBuildFailed{}, "%q: push constant size [%d] is not a multiple of 4", name, pushConstantSize)
	}
	if limit := ctx.properties.Limits.MaxPushConstantsSize; limit > 0 && pushConstantSize > limit {
		return nil, debug.ErrorWrapf(ErrorShaderBuildFailed{}, "%q: push constant size [%d] > Limits.MaxPushConstantsSize [%d]",
			name, pushConstantSize, limit)
	}

	p := &PipelineEntry{
		ctx:              ctx,
		name:             name,
		numBindings:      numBindings,
		pushConstantSize: pushConstantSize,
	}
	p.noCopy.Init()

	if err := p.build(spirv); err != nil {
		p.destroyHandles()
		return nil, debug.ErrorWrapf(ErrorShaderBuildFailed{}, "%q: %v", name, err)
	}
	instance.logger.VPrintf("Created pipeline: %s", prettyString(p))
	return p, nil
}

func (p *PipelineEntry) build(spirv []uint32) error {
	device := p.ctx.vkDevice

	{
		info := vk.ShaderModuleCreateInfo{
			SType:    vk.StructureTypeShaderModuleCreateInfo,
			CodeSize: uint(len(spirv) * 4),
			PCode:    spirv,
		}
		var module vk.ShaderModule
		if res := vk.CreateShaderModule(device, &info, nil, &module); res != vk.Success {
			return debug.ErrorWrapf(vk.Error(res), "CreateShaderModule")
		}
		p.vkShaderModule = module
	}

	{
		bindings := make([]vk.DescriptorSetLayoutBinding, p.numBindings)
		for i := range bindings {
			bindings[i] = vk.DescriptorSetLayoutBinding{
				Binding:         uint32(i),
				DescriptorType:  vk.DescriptorTypeStorageBuffer,
				DescriptorCount: 1,
				StageFlags:      vk.ShaderStageFlags(vk.ShaderStageComputeBit),
			}
		}
		info := vk.DescriptorSetLayoutCreateInfo{
			SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
			BindingCount: uint32(len(bindings)),
			PBindings:    bindings,
		}
		var layout vk.DescriptorSetLayout
		if res := vk.CreateDescriptorSetLayout(device, &info, nil, &layout); res != vk.Success {
			return debug.ErrorWrapf(vk.Error(res), "CreateDescriptorSetLayout")
		}
		p.vkDescriptorSetLayout = layout
	}

	{
		info := vk.PipelineLayoutCreateInfo{
			SType:          vk.StructureTypePipelineLayoutCreateInfo,
			SetLayoutCount: 1,
			PSetLayouts:    []vk.DescriptorSetLayout{p.vkDescriptorSetLayout},
		}
		if p.pushConstantSize > 0 {
			info.PushConstantRangeCount = 1
			info.PPushConstantRanges = []vk.PushConstantRange{{
				StageFlags: vk.ShaderStageFlags(vk.ShaderStageComputeBit),
				Offset:     0,
				Size:       p.pushConstantSize,
			}}
		}
		var layout vk.PipelineLayout
		if res := vk.CreatePipelineLayout(device, &info, nil, &layout); res != vk.Success {
			return debug.ErrorWrapf(vk.Error(res), "CreatePipelineLayout")
		}
		p.vkPipelineLayout = layout
	}

	{
		info := vk.ComputePipelineCreateInfo{
			SType: vk.StructureTypeComputePipelineCreateInfo,
			Stage: vk.PipelineShaderStageCreateInfo{
				SType:  vk.StructureTypePipelineShaderStageCreateInfo,
				Stage:  vk.ShaderStageComputeBit,
				Module: p.vkShaderModule,
				PName:  cString(shaderEntryPoint),
			},
			Layout: p.vkPipelineLayout,
		}
		pipelines := make([]vk.Pipeline, 1)
		if res := vk.CreateComputePipelines(device, vk.PipelineCache(vk.NullHandle), 1,
			[]vk.ComputePipelineCreateInfo{info}, nil, pipelines); res != vk.Success {
			return debug.ErrorWrapf(vk.Error(res), "CreateComputePipelines")
		}
		p.vkPipeline = pipelines[0]
	}

	return nil
}

func (p *PipelineEntry) destroyHandles() {
	device := p.ctx.vkDevice
	if p.vkPipeline != vk.Pipeline(vk.NullHandle) {
		vk.DestroyPipeline(device, p.vkPipeline, nil)
		p.vkPipeline = vk.Pipeline(vk.NullHandle)
	}
	if p.vkPipelineLayout != vk.PipelineLayout(vk.NullHandle) {
		vk.DestroyPipelineLayout(device, p.vkPipelineLayout, nil)
		p.vkPipelineLayout = vk.PipelineLayout(vk.NullHandle)
	}
	if p.vkDescriptorSetLayout != vk.DescriptorSetLayout(vk.NullHandle) {
		vk.DestroyDescriptorSetLayout(device, p.vkDescriptorSetLayout, nil)
		p.vkDescriptorSetLayout = vk.DescriptorSetLayout(vk.NullHandle)
	}
	if p.vkShaderModule != vk.ShaderModule(vk.NullHandle) {
		vk.DestroyShaderModule(device, p.vkShaderModule, nil)
		p.vkShaderModule = vk.ShaderModule(vk.NullHandle)
	}
}

func (p *PipelineEntry) MarshalJSON() ([]byte, error) {
	buff := bytes.Buffer{}
	buff.WriteString("{")

	buff.WriteString(fmt.Sprintf("\"name\": %q,", p.name))
	buff.WriteString(fmt.Sprintf("\"numBindings\": %d,", p.numBindings))
	buff.WriteString(fmt.Sprintf("\"pushConstantSize\": %d,", p.pushConstantSize))
	buff.WriteString(fmt.Sprintf("\"vkPipeline\": %q,", toHex(p.vkPipeline)))
	buff.WriteString(fmt.Sprintf("\"vkPipelineLayout\": %q", toHex(p.vkPipelineLayout)))

	buff.WriteString("}")
	return buff.Bytes(), nil
}

func (p *PipelineEntry) Name() string {
	p.noCopy.Check()
	return p.name
}

func (p *PipelineEntry) NumBindings() uint32 {
	p.noCopy.Check()
	return p.numBindings
}

func (p *PipelineEntry) PushConstantSize() uint32 {
	p.noCopy.Check()
	return p.pushConstantSize
}

func (p *PipelineEntry) Destroy() {
	p.noCopy.Check()
	p.destroyHandles()
	p.noCopy.Close()
}

/*
DescriptorSet is a single set allocated from its own pool against a
PipelineEntry's set layout. Rebinding is allowed while no submission using
the set is in flight.
*/
type DescriptorSet struct {
	noCopy util.NoCopy
	ctx    *Context

	numBindings      uint32
	vkDescriptorPool vk.DescriptorPool
	vkDescriptorSet  vk.DescriptorSet
}

func (p *PipelineEntry) NewDescriptorSet() (*DescriptorSet, error) {
	p.noCopy.Check()

	s := &DescriptorSet{ctx: p.ctx, numBindings: p.numBindings}
	s.noCopy.Init()

	count := p.numBindings
	if count == 0 {
		count = 1
	}
	poolInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       1,
		PoolSizeCount: 1,
		PPoolSizes: []vk.DescriptorPoolSize{{
			Type:            vk.DescriptorTypeStorageBuffer,
			DescriptorCount: count,
		}},
	}
	var pool vk.DescriptorPool
	if res := vk.CreateDescriptorPool(p.ctx.vkDevice, &poolInfo, nil, &pool); res != vk.Success {
		return nil, debug.ErrorWrapf(vk.Error(res), "%q: CreateDescriptorPool", p.name)
	}
	s.vkDescriptorPool = pool

	allocInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     pool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{p.vkDescriptorSetLayout},
	}
	var set vk.DescriptorSet
	if res := vk.AllocateDescriptorSets(p.ctx.vkDevice, &allocInfo, &set); res != vk.Success {
		vk.DestroyDescriptorPool(p.ctx.vkDevice, pool, nil)
		return nil, debug.ErrorWrapf(vk.Error(res), "%q: AllocateDescriptorSets", p.name)
	}
	s.vkDescriptorSet = set
	return s, nil
}

// Bind writes buffers[i] to binding i, each binding covers the whole buffer.
func (s *DescriptorSet) Bind(buffers ...*DeviceBuffer) {
	s.noCopy.Check()
	if uint32(len(buffers)) != s.numBindings {
		abort("Bind: got [%d] buffers for a set with [%d] bindings", len(buffers), s.numBindings)
	}

	writes := make([]vk.WriteDescriptorSet, len(buffers))
	for i, b := range buffers {
		writes[i] = vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          s.vkDescriptorSet,
			DstBinding:      uint32(i),
			DescriptorCount: 1,
			DescriptorType:  vk.DescriptorTypeStorageBuffer,
			PBufferInfo: []vk.DescriptorBufferInfo{{
				Buffer: b.VkBuffer(),
				Offset: 0,
				Range:  vk.DeviceSize(b.Size()),
			}},
		}
	}
	if len(writes) > 0 {
		vk.UpdateDescriptorSets(s.ctx.vkDevice, uint32(len(writes)), writes, 0, nil)
	}
}

func (s *DescriptorSet) Destroy() {
	s.noCopy.Check()
	vk.DestroyDescriptorPool(s.ctx.vkDevice, s.vkDescriptorPool, nil)
	s.noCopy.Close()
}
