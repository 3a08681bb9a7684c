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
	"sync"

	"goarrg.com/asset"
	"goarrg.com/debug"
	"goarrg.com/gmath"
)

func pipelineKey(name string, numBindings, pushConstantSize uint32) string {
	return fmt.Sprintf("%s:%d:%d", name, numBindings, pushConstantSize)
}

/*
PipelineCache builds compute pipelines on first use and keeps them for the
life of the cache. Entries are keyed by shader name, binding count and push
constant size so the same shader can be used with different layouts.
*/
type PipelineCache struct {
	ctx   *Context
	fs    *asset.FileSystem
	mtx   sync.Mutex
	cache map[string]*PipelineEntry
}

// NewPipelineCache loads shaders from ctx's Config.AssetDir.
func NewPipelineCache(ctx *Context) *PipelineCache {
	return NewPipelineCacheFS(ctx, asset.DirFS(ctx.Config().AssetDir))
}

func NewPipelineCacheFS(ctx *Context, fsys *asset.FileSystem) *PipelineCache {
	return &PipelineCache{
		ctx:   ctx,
		fs:    fsys,
		cache: map[string]*PipelineEntry{},
	}
}

func (c *PipelineCache) MarshalJSON() ([]byte, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	buff := bytes.Buffer{}
	buff.WriteString("{")

	{
		buff.WriteString("\"cache\": {")
		err := mapRunFuncSorted(c.cache, func(k string, v *PipelineEntry) error {
			buff.WriteString(fmt.Sprintf("%q: %s,", k, jsonString(v)))
			return nil
		})
		if err == nil {
			buff.Truncate(buff.Len() - 1)
		}
		buff.WriteString("}")
	}

	buff.WriteString("}")
	return buff.Bytes(), nil
}

func (c *PipelineCache) Len() int {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return len(c.cache)
}

func (c *PipelineCache) Has(name string, numBindings, pushConstantSize uint32) bool {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	_, ok := c.cache[pipelineKey(name, numBindings, pushConstantSize)]
	return ok
}

/*
Entry returns the pipeline for the key, building it on a miss. A failed
build leaves the cache untouched so the next call retries.
*/
func (c *PipelineCache) Entry(name string, numBindings, pushConstantSize uint32) (*PipelineEntry, error) {
	if err := c.ctx.checkReady(); err != nil {
		return nil, err
	}

	c.mtx.Lock()
	defer c.mtx.Unlock()

	key := pipelineKey(name, numBindings, pushConstantSize)
	if p, ok := c.cache[key]; ok {
		return p, nil
	}

	spirv, err := LoadSPIRV(c.fs, name)
	if err != nil {
		return nil, err
	}
	p, err := NewPipelineEntry(c.ctx, name, spirv, numBindings, pushConstantSize)
	if err != nil {
		return nil, err
	}
	c.cache[key] = p
	instance.logger.IPrintf("Cached pipeline %q", key)
	return p, nil
}

/*
Dispatch runs shader name once over buffers, bound in order, and blocks until
the GPU is done. A group count Z of 0 is treated as 1.
*/
func (c *PipelineCache) Dispatch(name string, push []byte, buffers []*DeviceBuffer, groups gmath.Extent3u32) error {
	p, err := c.Entry(name, uint32(len(buffers)), uint32(len(push)))
	if err != nil {
		return err
	}

	set, err := p.NewDescriptorSet()
	if err != nil {
		return err
	}
	defer set.Destroy()
	set.Bind(buffers...)

	if groups.Z == 0 {
		groups.Z = 1
	}
	err = c.ctx.SubmitAndWait(func(cb *CommandBuffer) {
		cb.Dispatch(p, DispatchInfo{
			PushConstants: push,
			DescriptorSet: set,
			GroupCount:    groups,
		})
	})
	if err != nil {
		return debug.ErrorWrapf(err, "Dispatch %q", name)
	}
	return nil
}

func (c *PipelineCache) Destroy() {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	instance.logger.VPrintf("Destroying [%d] cached pipelines", len(c.cache))
	for k, p := range c.cache {
		p.Destroy()
		delete(c.cache, k)
	}
}
