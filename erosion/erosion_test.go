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
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hesiod.dev/vkc"
	"hesiod.dev/vkc/heightmap"
)

func ramp4x4() []float32 {
	z := make([]float32, 16)
	for i := range z {
		z[i] = float32(i)
	}
	return z
}

func TestPushSize(t *testing.T) {
	assert.Equal(t, uintptr(28), unsafe.Sizeof(Push{}))
}

func TestIterationCount(t *testing.T) {
	p := DefaultParams()
	assert.Equal(t, 32, p.IterationCount(heightmap.Shape{X: 32, Y: 8}))
	assert.Equal(t, 1, p.IterationCount(heightmap.Shape{X: 1, Y: 1}))
	p.Iterations = 5
	assert.Equal(t, 5, p.IterationCount(heightmap.Shape{X: 32, Y: 8}))
}

func TestFlowAccumulation(t *testing.T) {
	// a 1D slope: everything drains toward x=0
	shape := heightmap.Shape{X: 4, Y: 1}
	z := []float32{0, 1, 2, 3}
	flow := FlowAccumulation(z, shape, 0.1, 4)
	assert.InDeltaSlice(t, []float32{4, 3, 2, 1}, flow, 1e-6)

	flat := FlowAccumulation(make([]float32, 9), heightmap.Shape{X: 3, Y: 3}, 0.1, 3)
	for _, v := range flat {
		assert.Equal(t, float32(1), v)
	}
}

func TestNormalizeFlow(t *testing.T) {
	flow := FlowAccumulation(ramp4x4(), heightmap.Shape{X: 4, Y: 4}, 0.1, 4)
	NormalizeFlow(flow, 10)

	var sum float32
	lo, hi := float32(math.Inf(1)), float32(math.Inf(-1))
	for _, v := range flow {
		sum += v
		lo = min(lo, v)
		hi = max(hi, v)
	}
	assert.GreaterOrEqual(t, lo, float32(0))
	assert.LessOrEqual(t, hi, float32(1))
	assert.Greater(t, sum, float32(0))
	assert.Equal(t, float32(0), lo)
	assert.Equal(t, float32(1), hi)

	constant := []float32{3, 3, 3}
	NormalizeFlow(constant, 10)
	assert.Equal(t, []float32{0, 0, 0}, constant)

	// clipping: vmax = 0.5 * sqrt(mean) caps the outlier
	clipped := []float32{1, 1, 1, 100}
	NormalizeFlow(clipped, 0.5)
	assert.Equal(t, []float32{0, 0, 0, 1}, clipped)

	NormalizeFlow(nil, 10)
}

func TestStreamErosion(t *testing.T) {
	shape := heightmap.Shape{X: 4, Y: 4}
	z := ramp4x4()
	erosionMap := make([]float32, 16)
	StreamErosion(z, shape, nil, DefaultParams(), erosionMap)

	for i, v := range z {
		assert.False(t, math.IsNaN(float64(v)))
		assert.InDelta(t, float32(i)-erosionMap[i], v, 1e-6)
		assert.GreaterOrEqual(t, erosionMap[i], float32(0))
		assert.LessOrEqual(t, erosionMap[i], float32(0.05)+1e-6)
	}

	// the lowest corner collects the most flow
	assert.InDelta(t, 0.05, erosionMap[0], 1e-6)

	masked := ramp4x4()
	StreamErosion(masked, shape, make([]float32, 16), DefaultParams(), nil)
	assert.Equal(t, ramp4x4(), masked)

	single := []float32{7}
	StreamErosion(single, heightmap.Shape{X: 1, Y: 1}, nil, DefaultParams(), nil)
	assert.Equal(t, []float32{7}, single)
}

func TestMetrics(t *testing.T) {
	m := Metrics{Iterations: 4, CPUBaseline: 200 * time.Millisecond}
	m.finish(100 * time.Millisecond)
	assert.Equal(t, 25*time.Millisecond, m.PerIteration)
	assert.Equal(t, 5*time.Millisecond, m.StallEstimate)
	assert.InDelta(t, 2.0, m.Speedup(), 1e-9)
	assert.Equal(t, 0.0, Metrics{}.Speedup())
}

func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()
	ctx := vkc.NewContext(vkc.DefaultConfig())
	if !ctx.Ready() {
		t.Skipf("no Vulkan device: %v", ctx.Err())
	}
	t.Cleanup(ctx.Destroy)
	if _, err := os.Stat(filepath.Join(ctx.Config().AssetDir, vkc.ShaderFileName(Shader))); err != nil {
		t.Skipf("%s not built: %v", Shader, err)
	}
	cache := vkc.NewPipelineCache(ctx)
	t.Cleanup(cache.Destroy)
	p := NewPipeline(ctx, cache)
	t.Cleanup(p.Destroy)
	return p
}

func TestDisabledPipeline(t *testing.T) {
	cfg := vkc.DefaultConfig()
	cfg.Disabled = true
	ctx := vkc.NewContext(cfg)
	p := NewPipeline(ctx, vkc.NewPipelineCache(ctx))
	assert.False(t, p.Ready())

	z := ramp4x4()
	_, err := p.Compute(z, heightmap.Shape{X: 4, Y: 4}, nil, DefaultParams(), nil)
	assert.True(t, errors.Is(err, vkc.ErrorPipelineUnready{}))
	assert.Equal(t, ramp4x4(), z)
	assert.Equal(t, 0, p.Capacity())
}

func TestParity(t *testing.T) {
	p := newTestPipeline(t)
	shape := heightmap.Shape{X: 4, Y: 4}

	cpu := ramp4x4()
	StreamErosion(cpu, shape, nil, DefaultParams(), nil)

	gpu := ramp4x4()
	erosionMap := make([]float32, 16)
	metrics, err := p.Compute(gpu, shape, nil, DefaultParams(), erosionMap)
	require.NoError(t, err)
	assert.Equal(t, 4, metrics.Iterations)
	assert.InDeltaSlice(t, cpu, gpu, 1e-3)
	for _, v := range gpu {
		assert.False(t, math.IsNaN(float64(v)))
	}
	assert.Equal(t, 20, p.Capacity())

	for _, b := range []*vkc.DeviceBuffer{p.heightmap, p.flow, p.erosion, p.mask} {
		assert.True(t, b.MemoryFlags().HasBits(vkc.MemoryPropertyDeviceLocal))
	}
	assert.True(t, p.staging.HostVisible())
	assert.Equal(t, uint64(2*4*20), p.staging.Size())

	masked := ramp4x4()
	mask := make([]float32, 16)
	_, err = p.Compute(masked, shape, mask, DefaultParams(), erosionMap)
	require.NoError(t, err)
	assert.Equal(t, ramp4x4(), masked)
	assert.Equal(t, make([]float32, 16), erosionMap)
}

func TestResize(t *testing.T) {
	p := newTestPipeline(t)
	params := DefaultParams()
	params.MeasureBaseline = true

	small := make([]float32, 16)
	_, err := p.Compute(small, heightmap.Shape{X: 4, Y: 4}, nil, params, nil)
	require.NoError(t, err)
	assert.Equal(t, 20, p.Capacity())

	z := make([]float32, 32*32)
	for i := range z {
		z[i] = float32(i%32) * float32(i/32)
	}
	cpu := append([]float32(nil), z...)
	StreamErosion(cpu, heightmap.Shape{X: 32, Y: 32}, nil, params, nil)

	metrics, err := p.Compute(z, heightmap.Shape{X: 32, Y: 32}, nil, params, nil)
	require.NoError(t, err)
	assert.Equal(t, 1280, p.Capacity())
	assert.Greater(t, metrics.CPUBaseline, time.Duration(0))
	assert.InDeltaSlice(t, cpu, z, 1e-3)

	// a smaller tile reuses the buffers
	_, err = p.Compute(small, heightmap.Shape{X: 4, Y: 4}, nil, params, nil)
	require.NoError(t, err)
	assert.Equal(t, 1280, p.Capacity())

	one := []float32{3}
	_, err = p.Compute(one, heightmap.Shape{X: 1, Y: 1}, nil, params, nil)
	require.NoError(t, err)
	assert.Equal(t, []float32{3}, one)
}
