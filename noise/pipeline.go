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

package noise

import (
	"goarrg.com/debug"

	"hesiod.dev/vkc"
	"hesiod.dev/vkc/internal/util"
)

const (
	ShaderFBM   = "noise_fbm"
	ShaderGabor = "gabor_wave"
)

/*
Pipeline runs the noise shaders. The compiled pipelines live in the shared
PipelineCache and persist after the first call, output buffers are transient
and allocated per tile.
*/
type Pipeline struct {
	ctx   *vkc.Context
	cache *vkc.PipelineCache
}

func NewPipeline(ctx *vkc.Context, cache *vkc.PipelineCache) *Pipeline {
	return &Pipeline{ctx: ctx, cache: cache}
}

func (p *Pipeline) Ready() bool {
	return p.ctx.Ready()
}

// FBM computes one tile of fractal noise into dst, len(dst) must be push.Width*push.Height.
func (p *Pipeline) FBM(push FBMPush, dst []float32) error {
	n := int(push.Width * push.Height)
	if n == 0 {
		return nil
	}
	if len(dst) != n {
		return debug.Errorf("FBM: len(dst) [%d] != %dx%d", len(dst), push.Width, push.Height)
	}

	out, err := vkc.NewHostStorageBuffer(p.ctx, uint64(4*n))
	if err != nil {
		return err
	}
	defer out.Destroy()

	err = p.cache.Dispatch(ShaderFBM, util.AsBytes(&push), []*vkc.DeviceBuffer{out},
		vkc.GroupCount2D(int(push.Width), int(push.Height)))
	if err != nil {
		return err
	}
	return out.DownloadFloats(dst)
}

/*
GaborWave computes one tile of Gabor noise into dst. ctrl, noiseX and noiseY
are uploaded only when the matching flag in push is set, otherwise the
output buffer stands in for them.
*/
func (p *Pipeline) GaborWave(push GaborPush, dst, ctrl, noiseX, noiseY []float32) error {
	n := int(push.Width * push.Height)
	if n == 0 {
		return nil
	}
	if len(dst) != n {
		return debug.Errorf("GaborWave: len(dst) [%d] != %dx%d", len(dst), push.Width, push.Height)
	}

	out, err := vkc.NewHostStorageBuffer(p.ctx, uint64(4*n))
	if err != nil {
		return err
	}
	defer out.Destroy()

	bindings := []*vkc.DeviceBuffer{out, out, out, out}
	inputs := []struct {
		flag uint32
		data []float32
	}{
		{push.HasCtrl, ctrl},
		{push.HasNoiseX, noiseX},
		{push.HasNoiseY, noiseY},
	}
	for i, in := range inputs {
		if in.flag == 0 {
			continue
		}
		if len(in.data) != n {
			return debug.Errorf("GaborWave: input [%d] has len [%d] != %dx%d", i, len(in.data), push.Width, push.Height)
		}
		b, err := vkc.NewHostStorageBuffer(p.ctx, uint64(4*n))
		if err != nil {
			return err
		}
		defer b.Destroy()
		if err := b.UploadFloats(in.data); err != nil {
			return err
		}
		bindings[i+1] = b
	}

	err = p.cache.Dispatch(ShaderGabor, util.AsBytes(&push), bindings,
		vkc.GroupCount2D(int(push.Width), int(push.Height)))
	if err != nil {
		return err
	}
	return out.DownloadFloats(dst)
}
