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

package node

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hesiod.dev/vkc"
	"hesiod.dev/vkc/heightmap"
)

var testConfig = heightmap.Config{
	Shape:   heightmap.Shape{X: 32, Y: 32},
	Tiling:  heightmap.Shape{X: 2, Y: 2},
	Overlap: 0.25,
}

func disabledGPU(t *testing.T) *GPU {
	t.Helper()
	cfg := vkc.DefaultConfig()
	cfg.Disabled = true
	g := NewGPU(cfg)
	require.False(t, g.Ready())
	t.Cleanup(g.Destroy)
	return g
}

func mustNode(t *testing.T, id string, kind Kind) *Node {
	t.Helper()
	n, err := New(id, kind, testConfig)
	require.NoError(t, err)
	return n
}

// source returns a computed noise_fbm node, its output is remapped to [0, 1].
func source(t *testing.T, d *Dispatcher, seed int) *Node {
	t.Helper()
	n := mustNode(t, "noise", KindNoiseFBM)
	n.Attrs["seed"] = seed
	_, err := d.Compute(n)
	require.NoError(t, err)
	return n
}

func TestKinds(t *testing.T) {
	kinds := Kinds()
	require.Len(t, kinds, 13)
	assert.IsNonDecreasing(t, kinds)

	for _, k := range kinds {
		op, ok := Lookup(k)
		require.True(t, ok)
		assert.NotNil(t, op.CPU, k)
		assert.NotNil(t, op.Vulkan, k)

		n, err := New("n", k, testConfig)
		require.NoError(t, err)
		require.NotNil(t, n.Out(), k)
		assert.Equal(t, 4, n.Out().Len())
		assert.Equal(t, op.Primitive, n.Attrs.Bool("remap"), k)
		assert.NotEmpty(t, op.Inputs, k)
		assert.Equal(t, op.Primitive, n.AcceptsInput(PortEnvelope), k)
		assert.False(t, n.AcceptsInput(PortOutput), k)
	}

	n := mustNode(t, "erode", KindHydraulicStream)
	assert.NotNil(t, n.Output(PortErosionMap))
	assert.True(t, n.AcceptsInput(PortMask))
	assert.False(t, mustNode(t, "fold", KindFold).AcceptsInput(PortMask))
	assert.True(t, mustNode(t, "mix", KindBlend).AcceptsInput(PortInput2))
	assert.False(t, mustNode(t, "mix", KindBlend).AcceptsInput(PortInput))
	assert.False(t, mustNode(t, "abs", KindAbs).AcceptsInput("inptu"))

	_, err := New("bad", Kind("voronoi"), testConfig)
	assert.Error(t, err)
	_, err = New("bad", KindAbs, heightmap.Config{Shape: heightmap.Shape{X: 30, Y: 32}, Tiling: heightmap.Shape{X: 4, Y: 4}})
	assert.Error(t, err)
}

func TestAttrs(t *testing.T) {
	a := Attrs{"f32": float32(1.5), "f64": 2.5, "int": 3, "u32": uint32(4), "b": true, "s": "add"}
	assert.Equal(t, float32(1.5), a.Float("f32"))
	assert.Equal(t, float32(2.5), a.Float("f64"))
	assert.Equal(t, float32(3), a.Float("int"))
	assert.Equal(t, 2, a.Int("f64"))
	assert.Equal(t, 4, a.Int("u32"))
	assert.True(t, a.Bool("b"))
	assert.Equal(t, "add", a.String("s"))

	assert.Zero(t, a.Float("missing"))
	assert.Zero(t, a.Int("s"))
	assert.False(t, a.Bool("f32"))
	assert.Empty(t, a.String("int"))

	c := a.Clone()
	c["int"] = 10
	assert.Equal(t, 3, a.Int("int"))
}

func TestBackendString(t *testing.T) {
	assert.Equal(t, "none", BackendNone.String())
	assert.Equal(t, "cpu", BackendCPU.String())
	assert.Equal(t, "vulkan", BackendVulkan.String())
	assert.Equal(t, "opencl", BackendOpenCL.String())
}

func TestPreferences(t *testing.T) {
	p := Preferences{GPU: true, Disabled: map[Kind]bool{KindBlend: true}}
	assert.True(t, p.GPUEnabled(KindAbs))
	assert.False(t, p.GPUEnabled(KindBlend))
	assert.False(t, Preferences{}.GPUEnabled(KindAbs))
}

func TestUnsupportedBlendFallsBack(t *testing.T) {
	reg := prometheus.NewRegistry()
	d := NewDispatcher(disabledGPU(t), Preferences{GPU: true}, reg)

	a, b := source(t, d, 1), source(t, d, 2)
	n := mustNode(t, "blend", KindBlend)
	n.Attrs["method"] = string(heightmap.BlendOverlay)
	n.Connect(PortInput1, a.Out())
	n.Connect(PortInput2, b.Out())

	backend, err := d.Compute(n)
	require.NoError(t, err)
	assert.Equal(t, BackendCPU, backend)
	assert.Equal(t, BackendCPU, n.Runtime.LastBackend)
	assert.Equal(t, 1, n.Runtime.EvalCount)

	want := heightmap.Blend(a.Out().ToArray(), b.Out().ToArray(), heightmap.BlendOverlay, 0)
	assert.InDeltaSlice(t, want.Data, n.Out().ToArray().Data, 1e-5)

	assert.Equal(t, float64(1), testutil.ToFloat64(d.metrics.fallbacks.WithLabelValues(string(KindBlend))))
	assert.Equal(t, float64(1), testutil.ToFloat64(d.metrics.computes.WithLabelValues(string(KindBlend), "cpu")))
}

func TestPartialGPUAttemptNotCountedAsSanitized(t *testing.T) {
	op := operators[KindAbs]
	t.Cleanup(func() { operators[KindAbs] = op })
	partial := op
	partial.Vulkan = func(n *Node, _ *GPU) bool {
		n.sanitized = 7
		return false
	}
	operators[KindAbs] = partial

	d := NewDispatcher(disabledGPU(t), Preferences{GPU: true}, prometheus.NewRegistry())
	n := mustNode(t, "abs", KindAbs)
	n.Connect(PortInput, source(t, d, 1).Out())

	backend, err := d.Compute(n)
	require.NoError(t, err)
	assert.Equal(t, BackendCPU, backend)
	assert.Zero(t, n.sanitized)
	assert.Equal(t, float64(1), testutil.ToFloat64(d.metrics.fallbacks.WithLabelValues(string(KindAbs))))
	assert.Equal(t, float64(0), testutil.ToFloat64(d.metrics.sanitized.WithLabelValues(string(KindAbs))))
}

func TestGPUDisabledByPreferences(t *testing.T) {
	d := NewDispatcher(disabledGPU(t), Preferences{GPU: false}, prometheus.NewRegistry())
	n := source(t, d, 0)
	assert.Equal(t, BackendCPU, n.Runtime.LastBackend)
	assert.Zero(t, testutil.ToFloat64(d.metrics.fallbacks.WithLabelValues(string(KindNoiseFBM))))

	d.SetPreferences(Preferences{GPU: true, Disabled: map[Kind]bool{KindNoiseFBM: true}})
	_, err := d.Compute(n)
	require.NoError(t, err)
	assert.Zero(t, testutil.ToFloat64(d.metrics.fallbacks.WithLabelValues(string(KindNoiseFBM))))
	assert.Equal(t, 2, n.Runtime.EvalCount)
}

func TestNilGPU(t *testing.T) {
	d := NewDispatcher(nil, Preferences{GPU: true}, nil)
	backend, err := d.Compute(mustNode(t, "noise", KindNoiseFBM))
	require.NoError(t, err)
	assert.Equal(t, BackendCPU, backend)
}

func TestUnreadyGPURejectsEveryKind(t *testing.T) {
	g := disabledGPU(t)
	d := NewDispatcher(nil, Preferences{}, nil)
	in := source(t, d, 3)

	for _, k := range Kinds() {
		n := mustNode(t, "n", k)
		for _, port := range []string{PortInput, PortInput1, PortInput2} {
			n.Connect(port, in.Out())
		}
		op, _ := Lookup(k)
		assert.False(t, op.Vulkan(n, g), k)
	}
}

func TestUnsupportedVariants(t *testing.T) {
	d := NewDispatcher(nil, Preferences{}, nil)
	in := source(t, d, 4).Out()
	g := disabledGPU(t)

	tests := []struct {
		kind  Kind
		setup func(n *Node)
	}{
		{KindNoiseFBM, func(n *Node) { n.Connect(PortDX, in) }},
		{KindNoiseFBM, func(n *Node) { n.Connect(PortControl, in) }},
		{KindGain, func(n *Node) { n.Connect(PortInput, in); n.Connect(PortMask, in) }},
		{KindGammaCorrection, func(n *Node) { n.Connect(PortInput, in); n.Connect(PortMask, in) }},
		{KindSmoothCpulse, func(n *Node) { n.Connect(PortInput, in); n.Connect(PortMask, in) }},
		{KindSmoothCpulse, func(n *Node) { n.Connect(PortInput, in); n.Attrs["radius"] = float32(2) }},
		{KindHydraulicBlur, func(n *Node) { n.Connect(PortInput, in); n.Attrs["radius"] = float32(3) }},
		{KindGradientNorm, func(n *Node) { n.Connect(PortInput, in); n.Attrs["smoothing_radius"] = float32(0.1) }},
		{KindBlend, func(n *Node) { n.Connect(PortInput1, in) }},
		{KindBlend, func(n *Node) {
			n.Connect(PortInput1, in)
			n.Connect(PortInput2, in)
			n.Attrs["method"] = string(heightmap.BlendGradients)
		}},
		{KindAbs, func(n *Node) {}},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			n := mustNode(t, "n", tt.kind)
			tt.setup(n)
			op, _ := Lookup(tt.kind)
			assert.False(t, op.Vulkan(n, g))
		})
	}
}

func TestZeroTilingIsNoop(t *testing.T) {
	n, err := New("empty", KindNoiseFBM, heightmap.Config{Shape: heightmap.Shape{X: 32, Y: 32}})
	require.NoError(t, err)

	d := NewDispatcher(nil, Preferences{GPU: true}, prometheus.NewRegistry())
	backend, err := d.Compute(n)
	require.NoError(t, err)
	assert.Equal(t, BackendNone, backend)
	assert.Equal(t, BackendNone, n.Runtime.LastBackend)
	assert.Equal(t, 1, n.Runtime.EvalCount)
	assert.Zero(t, n.Out().Len())
}

func TestIncompatibleInput(t *testing.T) {
	other, err := New("other", KindNoiseFBM, heightmap.Config{Shape: heightmap.Shape{X: 16, Y: 16}, Tiling: heightmap.Shape{X: 1, Y: 1}})
	require.NoError(t, err)
	n := mustNode(t, "abs", KindAbs)
	n.Connect(PortInput, other.Out())

	_, err = NewDispatcher(nil, Preferences{}, nil).Compute(n)
	assert.Error(t, err)

	n.Connect(PortInput, nil)
	assert.False(t, n.Connected(PortInput))
}

func TestComputeIsIdempotent(t *testing.T) {
	d := NewDispatcher(nil, Preferences{}, nil)
	n := source(t, d, 5)
	first := n.Out().Clone()

	_, err := d.Compute(n)
	require.NoError(t, err)
	assert.Equal(t, first.Flatten(), n.Out().Flatten())
	assert.Equal(t, 2, n.Runtime.EvalCount)
}

func TestPrimitivePostProcess(t *testing.T) {
	d := NewDispatcher(nil, Preferences{}, nil)
	cfg := heightmap.Config{Shape: heightmap.Shape{X: 32, Y: 32}, Tiling: heightmap.Shape{X: 2, Y: 2}}
	noiseNode := func(id string, seed int) *Node {
		n, err := New(id, KindNoiseFBM, cfg)
		require.NoError(t, err)
		n.Attrs["seed"] = seed
		return n
	}

	n := noiseNode("noise", 6)
	_, err := d.Compute(n)
	require.NoError(t, err)
	lo, hi := n.Out().MinMax()
	assert.InDelta(t, 0, lo, 1e-5)
	assert.InDelta(t, 1, hi, 1e-5)

	n.Attrs["remap_min"] = float32(-2)
	n.Attrs["remap_max"] = float32(3)
	_, err = d.Compute(n)
	require.NoError(t, err)
	lo, hi = n.Out().MinMax()
	assert.InDelta(t, -2, lo, 1e-4)
	assert.InDelta(t, 3, hi, 1e-4)

	env := noiseNode("env", 0)
	n.Connect(PortEnvelope, env.Out())
	_, err = d.Compute(n)
	require.NoError(t, err)
	for _, v := range n.Out().Flatten() {
		assert.Equal(t, float32(-2), v)
	}

	plain, inv := noiseNode("plain", 7), noiseNode("inv", 7)
	inv.Attrs["inverse"] = true
	_, err = d.Compute(plain)
	require.NoError(t, err)
	_, err = d.Compute(inv)
	require.NoError(t, err)
	a, b := plain.Out().ToArray(), inv.Out().ToArray()
	for i := range a.Data {
		assert.InDelta(t, 1-a.Data[i], b.Data[i], 1e-4)
	}
}

func TestOperatorsCPU(t *testing.T) {
	d := NewDispatcher(nil, Preferences{}, nil)
	in := source(t, d, 8)

	t.Run("Abs", func(t *testing.T) {
		n := mustNode(t, "abs", KindAbs)
		n.Attrs["vshift"] = float32(0.5)
		n.Connect(PortInput, in.Out())
		_, err := d.Compute(n)
		require.NoError(t, err)
		for _, v := range n.Out().Flatten() {
			assert.GreaterOrEqual(t, v, float32(0))
			assert.LessOrEqual(t, v, float32(0.5))
		}
	})

	t.Run("Unconnected", func(t *testing.T) {
		n := mustNode(t, "abs", KindAbs)
		n.Out().Tiles[0].Data[0] = 3
		_, err := d.Compute(n)
		require.NoError(t, err)
		for _, v := range n.Out().Flatten() {
			assert.Zero(t, v)
		}
	})

	t.Run("Blend", func(t *testing.T) {
		a := mustNode(t, "a", KindAbs)
		b := mustNode(t, "b", KindAbs)
		for i := range a.Out().Tiles {
			for k := range a.Out().Tiles[i].Data {
				a.Out().Tiles[i].Data[k] = 0.25
				b.Out().Tiles[i].Data[k] = 0.5
			}
		}
		n := mustNode(t, "blend", KindBlend)
		n.Connect(PortInput1, a.Out())
		n.Connect(PortInput2, b.Out())
		_, err := d.Compute(n)
		require.NoError(t, err)
		for _, v := range n.Out().Flatten() {
			assert.InDelta(t, 0.75, v, 1e-6)
		}

		n.Connect(PortInput2, nil)
		_, err = d.Compute(n)
		require.NoError(t, err)
		for _, v := range n.Out().Flatten() {
			assert.InDelta(t, 0.25, v, 1e-6)
		}
	})

	t.Run("HydraulicStream", func(t *testing.T) {
		n := mustNode(t, "erode", KindHydraulicStream)
		n.Attrs["iterations"] = 16
		n.Connect(PortInput, in.Out())
		_, err := d.Compute(n)
		require.NoError(t, err)

		before, after := in.Out().ToArray(), n.Out().ToArray()
		emap := n.Output(PortErosionMap).ToArray()
		var eroded float32
		for i := range before.Data {
			assert.GreaterOrEqual(t, emap.Data[i], float32(0))
			eroded += emap.Data[i]
			assert.LessOrEqual(t, after.Data[i], before.Data[i]+1e-5)
		}
		assert.Greater(t, eroded, float32(0))
	})

	t.Run("Clamp", func(t *testing.T) {
		n := mustNode(t, "clamp", KindClamp)
		n.Attrs["vmin"] = float32(0.25)
		n.Attrs["vmax"] = float32(0.75)
		n.Connect(PortInput, in.Out())
		_, err := d.Compute(n)
		require.NoError(t, err)
		lo, hi := n.Out().MinMax()
		assert.InDelta(t, 0.25, lo, 1e-6)
		assert.InDelta(t, 0.75, hi, 1e-6)
	})
}

func newTestGPU(t *testing.T) *GPU {
	t.Helper()
	g := NewGPU(vkc.DefaultConfig())
	t.Cleanup(g.Destroy)
	if !g.Ready() {
		t.Skipf("no Vulkan device: %v", g.Ctx.Err())
	}
	return g
}

func shaderBuilt(g *GPU, name string) bool {
	_, err := os.Stat(filepath.Join(g.Ctx.Config().AssetDir, vkc.ShaderFileName(name)))
	return err == nil
}

func TestParity(t *testing.T) {
	g := newTestGPU(t)
	cpu := NewDispatcher(nil, Preferences{}, nil)
	gpu := NewDispatcher(g, Preferences{GPU: true}, nil)
	a, b := source(t, cpu, 9), source(t, cpu, 10)

	tests := []struct {
		kind   Kind
		shader string
		attrs  Attrs
	}{
		{KindAbs, "abs", Attrs{"vshift": float32(0.5)}},
		{KindClamp, "clamp", Attrs{"vmin": float32(0.2), "vmax": float32(0.8), "smooth": true}},
		{KindGain, "gain", nil},
		{KindGammaCorrection, "gamma_correction", nil},
		{KindFold, "fold", Attrs{"vmin": float32(0.2), "vmax": float32(0.6)}},
		{KindRescale, "rescale", Attrs{"scaling": float32(2), "vref": float32(0.5)}},
		{KindSmoothCpulse, "smooth_cpulse", Attrs{"radius": float32(0.1)}},
		{KindBlend, "blend", Attrs{"method": string(heightmap.BlendMaximumSmooth)}},
		{KindGradientNorm, "gradient_norm", nil},
		{KindHydraulicBlur, "hydraulic_blur", Attrs{"radius": float32(0.1)}},
		{KindHydraulicStream, "hydraulic_stream", Attrs{"iterations": 16}},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if !shaderBuilt(g, tt.shader) {
				t.Skipf("%s not built", tt.shader)
			}
			build := func() *Node {
				n := mustNode(t, "n", tt.kind)
				for k, v := range tt.attrs {
					n.Attrs[k] = v
				}
				n.Connect(PortInput, a.Out())
				n.Connect(PortInput1, a.Out())
				n.Connect(PortInput2, b.Out())
				return n
			}
			want, got := build(), build()
			_, err := cpu.Compute(want)
			require.NoError(t, err)
			backend, err := gpu.Compute(got)
			require.NoError(t, err)
			assert.Equal(t, BackendVulkan, backend)
			assert.InDeltaSlice(t, want.Out().Flatten(), got.Out().Flatten(), 1e-3)
		})
	}
}
