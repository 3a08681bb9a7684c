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
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hesiod.dev/vkc"
	"hesiod.dev/vkc/heightmap"
	"hesiod.dev/vkc/internal/util"
)

var unitBBox = heightmap.BBox{XMin: 0, YMin: 0, XMax: 1, YMax: 1}

func TestPushLayout(t *testing.T) {
	assert.Equal(t, uintptr(56), unsafe.Sizeof(FBMPush{}))
	assert.Equal(t, uintptr(68), unsafe.Sizeof(GaborPush{}))

	p := DefaultParams()
	p.Seed = 42
	push := NewFBMPush(p, heightmap.Shape{X: 32, Y: 16}, heightmap.BBox{XMin: 0.25, YMin: 0.5, XMax: 0.75, YMax: 1})
	b := util.AsBytes(&push)
	require.Len(t, b, 56)
	assert.Equal(t, uint32(32), binary.LittleEndian.Uint32(b[0:]))
	assert.Equal(t, uint32(16), binary.LittleEndian.Uint32(b[4:]))
	assert.Equal(t, uint32(42), binary.LittleEndian.Uint32(b[16:]))
	assert.Equal(t, uint32(8), binary.LittleEndian.Uint32(b[20:]))
	assert.Equal(t, uint32(TypePerlin), binary.LittleEndian.Uint32(b[36:]))
	assert.Equal(t, math.Float32bits(0.25), binary.LittleEndian.Uint32(b[40:]))
	assert.Equal(t, math.Float32bits(1), binary.LittleEndian.Uint32(b[52:]))

	g := NewGaborPush(DefaultGaborParams(), heightmap.Shape{X: 8, Y: 8}, unitBBox, true, false, true)
	gb := util.AsBytes(&g)
	require.Len(t, gb, 68)
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(gb[44:]))
	assert.Equal(t, uint32(0), binary.LittleEndian.Uint32(gb[48:]))
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(gb[52:]))
}

func TestHashRanges(t *testing.T) {
	for i := int32(-50); i < 50; i++ {
		h := hash2(i, -i, 7)
		assert.GreaterOrEqual(t, unit01(h), float32(0))
		assert.Less(t, unit01(h), float32(1))
		assert.GreaterOrEqual(t, unit11(h), float32(-1))
		assert.LessOrEqual(t, unit11(h), float32(1))
	}
	assert.Equal(t, float32(-1), unit11(0))
	assert.Equal(t, float32(1), unit11(0xFFFFFFFF))
	assert.NotEqual(t, hash2(1, 2, 0), hash2(2, 1, 0))
}

func TestFBM(t *testing.T) {
	for _, typ := range []Type{TypePerlin, TypeValue, TypeValueCubic} {
		t.Run(typ.String(), func(t *testing.T) {
			p := DefaultParams()
			p.Type = typ
			push := NewFBMPush(p, heightmap.Shape{X: 32, Y: 32}, unitBBox)

			a := make([]float32, 32*32)
			b := make([]float32, 32*32)
			FBM(push, a, nil, nil, nil)
			FBM(push, b, nil, nil, nil)
			assert.Equal(t, a, b)

			lo, hi := heightmap.ArrayFrom(heightmap.Shape{X: 32, Y: 32}, a).MinMax()
			assert.Less(t, lo, hi)
			assert.GreaterOrEqual(t, lo, float32(-1.5))
			assert.LessOrEqual(t, hi, float32(1.5))
		})
	}
}

func TestFBMTilesAgree(t *testing.T) {
	p := DefaultParams()
	cfg := heightmap.Config{Shape: heightmap.Shape{X: 32, Y: 32}, Tiling: heightmap.Shape{X: 2, Y: 2}}
	h := heightmap.MustNew(cfg, 0)
	for i := range h.Tiles {
		tile := &h.Tiles[i]
		FBM(NewFBMPush(p, tile.Shape, tile.BBox), tile.Data, nil, nil, nil)
	}

	global := make([]float32, 32*32)
	FBM(NewFBMPush(p, cfg.Shape, unitBBox), global, nil, nil, nil)
	assert.InDeltaSlice(t, global, h.ToArray().Data, 1e-4)
}

func TestFBMInputs(t *testing.T) {
	p := DefaultParams()
	push := NewFBMPush(p, heightmap.Shape{X: 4, Y: 4}, unitBBox)
	base := make([]float32, 16)
	FBM(push, base, nil, nil, nil)

	ctrl := make([]float32, 16)
	for i := range ctrl {
		ctrl[i] = 2
	}
	scaled := make([]float32, 16)
	FBM(push, scaled, nil, nil, ctrl)
	for i := range base {
		assert.InDelta(t, 2*base[i], scaled[i], 1e-6)
	}

	zero := make([]float32, 16)
	shifted := make([]float32, 16)
	FBM(push, shifted, zero, zero, nil)
	assert.Equal(t, base, shifted)

	push.Octaves = 0
	FBM(push, shifted, nil, nil, nil)
	assert.Equal(t, zero, shifted)
}

func TestGaborWave(t *testing.T) {
	g := DefaultGaborParams()
	push := NewGaborPush(g, heightmap.Shape{X: 32, Y: 32}, unitBBox, false, false, false)
	a := make([]float32, 32*32)
	GaborWave(push, a, nil, nil, nil)

	lo, hi := heightmap.ArrayFrom(heightmap.Shape{X: 32, Y: 32}, a).MinMax()
	assert.Less(t, lo, hi)

	ctrl := make([]float32, 32*32)
	push.HasCtrl = 1
	b := make([]float32, 32*32)
	GaborWave(push, b, ctrl, nil, nil)
	for _, v := range b {
		assert.Equal(t, float32(0), v)
	}

	g.KernelWidth = 0
	GaborWave(NewGaborPush(g, heightmap.Shape{X: 32, Y: 32}, unitBBox, false, false, false), b, nil, nil, nil)
	for _, v := range b {
		assert.Equal(t, float32(0), v)
	}
}

func newTestPipeline(t *testing.T, shader string) *Pipeline {
	t.Helper()
	ctx := vkc.NewContext(vkc.DefaultConfig())
	if !ctx.Ready() {
		t.Skipf("no Vulkan device: %v", ctx.Err())
	}
	t.Cleanup(ctx.Destroy)
	if _, err := os.Stat(filepath.Join(ctx.Config().AssetDir, vkc.ShaderFileName(shader))); err != nil {
		t.Skipf("%s not built: %v", shader, err)
	}
	cache := vkc.NewPipelineCache(ctx)
	t.Cleanup(cache.Destroy)
	return NewPipeline(ctx, cache)
}

func TestFBMParity(t *testing.T) {
	pipeline := newTestPipeline(t, ShaderFBM)
	for _, typ := range []Type{TypePerlin, TypeValue, TypeValueCubic} {
		t.Run(typ.String(), func(t *testing.T) {
			p := DefaultParams()
			p.Type = typ
			push := NewFBMPush(p, heightmap.Shape{X: 40, Y: 24}, unitBBox)

			cpu := make([]float32, 40*24)
			gpu := make([]float32, 40*24)
			FBM(push, cpu, nil, nil, nil)
			require.NoError(t, pipeline.FBM(push, gpu))
			assert.InDeltaSlice(t, cpu, gpu, 1e-3)
		})
	}
}

func TestGaborParity(t *testing.T) {
	pipeline := newTestPipeline(t, ShaderGabor)
	push := NewGaborPush(DefaultGaborParams(), heightmap.Shape{X: 32, Y: 32}, unitBBox, true, false, false)
	ctrl := make([]float32, 32*32)
	for i := range ctrl {
		ctrl[i] = float32(i%32) / 32
	}

	cpu := make([]float32, 32*32)
	gpu := make([]float32, 32*32)
	GaborWave(push, cpu, ctrl, nil, nil)
	require.NoError(t, pipeline.GaborWave(push, gpu, ctrl, nil, nil))
	assert.InDeltaSlice(t, cpu, gpu, 1e-3)
}
