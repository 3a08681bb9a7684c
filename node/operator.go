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
	"maps"
	"slices"

	"hesiod.dev/vkc/erosion"
	"hesiod.dev/vkc/heightmap"
	"hesiod.dev/vkc/noise"
)

// Kernel radius limits of the GPU shaders, in pixels.
const (
	maxSmoothRadius        = 32
	maxHydraulicBlurRadius = 64
)

/*
Operator is one row of the node kind table. CPU is the reference
implementation and must fully overwrite the outputs. Vulkan is optional and
returns false when it cannot handle the node as configured, the dispatcher
then runs CPU.
*/
type Operator struct {
	Setup  func(*Node)
	CPU    func(*Node)
	Vulkan func(*Node, *GPU) bool

	// Inputs lists the ports the kind reads, primitives also take PortEnvelope.
	Inputs []string

	// Primitive operators generate data from coordinates and get envelope, inverse and remap post-processing.
	Primitive bool
}

var (
	coordinatePorts   = []string{PortControl, PortDX, PortDY, PortEnvelope}
	filterPorts       = []string{PortInput}
	maskedFilterPorts = []string{PortInput, PortMask}
)

var operators = map[Kind]Operator{
	KindNoiseFBM:        {Setup: setupNoiseFBM, CPU: cpuNoiseFBM, Vulkan: vulkanNoiseFBM, Inputs: coordinatePorts, Primitive: true},
	KindGaborWave:       {Setup: setupGaborWave, CPU: cpuGaborWave, Vulkan: vulkanGaborWave, Inputs: coordinatePorts, Primitive: true},
	KindAbs:             {Setup: setupAbs, CPU: cpuAbs, Vulkan: vulkanAbs, Inputs: filterPorts},
	KindClamp:           {Setup: setupClamp, CPU: cpuClamp, Vulkan: vulkanClamp, Inputs: filterPorts},
	KindGain:            {Setup: setupGain, CPU: cpuGain, Vulkan: vulkanGain, Inputs: maskedFilterPorts},
	KindGammaCorrection: {Setup: setupGammaCorrection, CPU: cpuGammaCorrection, Vulkan: vulkanGammaCorrection, Inputs: maskedFilterPorts},
	KindFold:            {Setup: setupFold, CPU: cpuFold, Vulkan: vulkanFold, Inputs: filterPorts},
	KindRescale:         {Setup: setupRescale, CPU: cpuRescale, Vulkan: vulkanRescale, Inputs: filterPorts},
	KindSmoothCpulse:    {Setup: setupSmoothCpulse, CPU: cpuSmoothCpulse, Vulkan: vulkanSmoothCpulse, Inputs: maskedFilterPorts},
	KindBlend:           {Setup: setupBlend, CPU: cpuBlend, Vulkan: vulkanBlend, Inputs: []string{PortInput1, PortInput2}},
	KindGradientNorm:    {Setup: setupGradientNorm, CPU: cpuGradientNorm, Vulkan: vulkanGradientNorm, Inputs: filterPorts},
	KindHydraulicBlur:   {Setup: setupHydraulicBlur, CPU: cpuHydraulicBlur, Vulkan: vulkanHydraulicBlur, Inputs: filterPorts},
	KindHydraulicStream: {Setup: setupHydraulicStream, CPU: cpuHydraulicStream, Vulkan: vulkanHydraulicStream, Inputs: maskedFilterPorts},
}

func Lookup(kind Kind) (Operator, bool) {
	op, ok := operators[kind]
	return op, ok
}

func Kinds() []Kind {
	return slices.Sorted(maps.Keys(operators))
}

func tileArray(h *heightmap.Heightmap, i int) heightmap.Array {
	t := &h.Tiles[i]
	return heightmap.ArrayFrom(t.Shape, t.Data)
}

// tileData returns tile i of port's value, nil when the port is not connected.
func tileData(n *Node, port string, i int) []float32 {
	if in := n.Input(port); in != nil {
		return in.Tiles[i].Data
	}
	return nil
}

func tileMask(n *Node, i int) *heightmap.Array {
	if !n.Connected(PortMask) {
		return nil
	}
	a := tileArray(n.Input(PortMask), i)
	return &a
}

// copyInput copies port's value into the main output, or zeroes it when port is not connected.
func copyInput(n *Node, port string) *heightmap.Heightmap {
	out := n.Out()
	in := n.Input(port)
	for i := range out.Tiles {
		if in == nil {
			clear(out.Tiles[i].Data)
		} else {
			copy(out.Tiles[i].Data, in.Tiles[i].Data)
		}
	}
	return out
}

func forEachTile(h *heightmap.Heightmap, f func(i int, a heightmap.Array)) {
	for i := range h.Tiles {
		f(i, tileArray(h, i))
	}
}

// noise_fbm

func setupNoiseFBM(n *Node) {
	p := noise.DefaultParams()
	n.Attrs["noise_type"] = int(p.Type)
	n.Attrs["kw"] = p.Kw[0]
	n.Attrs["seed"] = int(p.Seed)
	n.Attrs["octaves"] = int(p.Octaves)
	n.Attrs["weight"] = p.Weight
	n.Attrs["persistence"] = p.Persistence
	n.Attrs["lacunarity"] = p.Lacunarity
}

func noiseParams(n *Node) noise.Params {
	kw := n.Attrs.Float("kw")
	return noise.Params{
		Type:        noise.Type(n.Attrs.Int("noise_type")),
		Kw:          [2]float32{kw, kw},
		Seed:        uint32(n.Attrs.Int("seed")),
		Octaves:     int32(n.Attrs.Int("octaves")),
		Weight:      n.Attrs.Float("weight"),
		Persistence: n.Attrs.Float("persistence"),
		Lacunarity:  n.Attrs.Float("lacunarity"),
	}
}

func cpuNoiseFBM(n *Node) {
	p := noiseParams(n)
	out := n.Out()
	for i := range out.Tiles {
		t := &out.Tiles[i]
		noise.FBM(noise.NewFBMPush(p, t.Shape, t.BBox), t.Data,
			tileData(n, PortDX, i), tileData(n, PortDY, i), tileData(n, PortControl, i))
	}
}

func vulkanNoiseFBM(n *Node, g *GPU) bool {
	if n.Connected(PortDX) || n.Connected(PortDY) || n.Connected(PortControl) || !g.Ready() {
		return false
	}
	p := noiseParams(n)
	out := n.Out()
	for i := range out.Tiles {
		t := &out.Tiles[i]
		if err := g.Noise.FBM(noise.NewFBMPush(p, t.Shape, t.BBox), t.Data); err != nil {
			instance.logger.WPrintf("%s: tile %d: %v", n, i, err)
			return false
		}
		g.sanitize(n, t.Data)
	}
	return true
}

// gabor_wave

func setupGaborWave(n *Node) {
	p := noise.DefaultGaborParams()
	n.Attrs["kw"] = p.Kw[0]
	n.Attrs["seed"] = int(p.Seed)
	n.Attrs["angle"] = p.Angle
	n.Attrs["angle_spread_ratio"] = p.AngleSpreadRatio
	n.Attrs["kernel_width"] = p.KernelWidth
	n.Attrs["displacement"] = p.Displacement
	n.Attrs["amplitude"] = p.Amplitude
}

func gaborParams(n *Node) noise.GaborParams {
	kw := n.Attrs.Float("kw")
	return noise.GaborParams{
		Kw:               [2]float32{kw, kw},
		Seed:             uint32(n.Attrs.Int("seed")),
		Angle:            n.Attrs.Float("angle"),
		AngleSpreadRatio: n.Attrs.Float("angle_spread_ratio"),
		KernelWidth:      n.Attrs.Float("kernel_width"),
		Displacement:     n.Attrs.Float("displacement"),
		Amplitude:        n.Attrs.Float("amplitude"),
	}
}

func gaborPush(n *Node, t *heightmap.Tile) noise.GaborPush {
	return noise.NewGaborPush(gaborParams(n), t.Shape, t.BBox,
		n.Connected(PortControl), n.Connected(PortDX), n.Connected(PortDY))
}

func cpuGaborWave(n *Node) {
	out := n.Out()
	for i := range out.Tiles {
		t := &out.Tiles[i]
		noise.GaborWave(gaborPush(n, t), t.Data,
			tileData(n, PortControl, i), tileData(n, PortDX, i), tileData(n, PortDY, i))
	}
}

// vulkanGaborWave handles every input combination, the push record carries the connection flags.
func vulkanGaborWave(n *Node, g *GPU) bool {
	if !g.Ready() {
		return false
	}
	out := n.Out()
	for i := range out.Tiles {
		t := &out.Tiles[i]
		err := g.Noise.GaborWave(gaborPush(n, t), t.Data,
			tileData(n, PortControl, i), tileData(n, PortDX, i), tileData(n, PortDY, i))
		if err != nil {
			instance.logger.WPrintf("%s: tile %d: %v", n, i, err)
			return false
		}
		g.sanitize(n, t.Data)
	}
	return true
}

// abs

func setupAbs(n *Node) {
	n.Attrs["vshift"] = float32(0)
}

func cpuAbs(n *Node) {
	vshift := n.Attrs.Float("vshift")
	forEachTile(copyInput(n, PortInput), func(_ int, a heightmap.Array) {
		heightmap.Abs(a, vshift)
	})
}

func vulkanAbs(n *Node, g *GPU) bool {
	if !n.Connected(PortInput) {
		return false
	}
	vshift := n.Attrs.Float("vshift")
	return g.runTiles(n, "abs", []*heightmap.Heightmap{n.Input(PortInput)}, func(t *heightmap.Tile) []byte {
		s := tileShape(t)
		return bytesOf(pushScalar{Width: s.Width, Height: s.Height, Value: vshift})
	})
}

// clamp

func setupClamp(n *Node) {
	n.Attrs["vmin"] = float32(0)
	n.Attrs["vmax"] = float32(1)
	n.Attrs["smooth"] = false
	n.Attrs["k"] = float32(0.05)
}

func cpuClamp(n *Node) {
	vmin, vmax := n.Attrs.Float("vmin"), n.Attrs.Float("vmax")
	smooth, k := n.Attrs.Bool("smooth"), n.Attrs.Float("k")
	forEachTile(copyInput(n, PortInput), func(_ int, a heightmap.Array) {
		heightmap.Clamp(a, vmin, vmax, smooth, k)
	})
}

func vulkanClamp(n *Node, g *GPU) bool {
	if !n.Connected(PortInput) {
		return false
	}
	push := pushClamp{VMin: n.Attrs.Float("vmin"), VMax: n.Attrs.Float("vmax"), K: n.Attrs.Float("k")}
	if n.Attrs.Bool("smooth") {
		push.Smooth = 1
	}
	return g.runTiles(n, "clamp", []*heightmap.Heightmap{n.Input(PortInput)}, func(t *heightmap.Tile) []byte {
		s := tileShape(t)
		push.Width, push.Height = s.Width, s.Height
		return bytesOf(push)
	})
}

// gain

func setupGain(n *Node) {
	n.Attrs["gain"] = float32(2)
}

func cpuGain(n *Node) {
	gain := n.Attrs.Float("gain")
	forEachTile(copyInput(n, PortInput), func(i int, a heightmap.Array) {
		heightmap.Gain(a, gain, tileMask(n, i))
	})
}

func vulkanGain(n *Node, g *GPU) bool {
	if !n.Connected(PortInput) || n.Connected(PortMask) {
		return false
	}
	gain := n.Attrs.Float("gain")
	return g.runTiles(n, "gain", []*heightmap.Heightmap{n.Input(PortInput)}, func(t *heightmap.Tile) []byte {
		s := tileShape(t)
		return bytesOf(pushScalar{Width: s.Width, Height: s.Height, Value: gain})
	})
}

// gamma_correction

func setupGammaCorrection(n *Node) {
	n.Attrs["gamma"] = float32(2)
}

func cpuGammaCorrection(n *Node) {
	gamma := n.Attrs.Float("gamma")
	forEachTile(copyInput(n, PortInput), func(i int, a heightmap.Array) {
		heightmap.GammaCorrection(a, gamma, tileMask(n, i))
	})
}

func vulkanGammaCorrection(n *Node, g *GPU) bool {
	if !n.Connected(PortInput) || n.Connected(PortMask) {
		return false
	}
	gamma := n.Attrs.Float("gamma")
	return g.runTiles(n, "gamma_correction", []*heightmap.Heightmap{n.Input(PortInput)}, func(t *heightmap.Tile) []byte {
		s := tileShape(t)
		return bytesOf(pushScalar{Width: s.Width, Height: s.Height, Value: gamma})
	})
}

// fold

func setupFold(n *Node) {
	n.Attrs["vmin"] = float32(0)
	n.Attrs["vmax"] = float32(1)
	n.Attrs["iterations"] = 3
	n.Attrs["k"] = float32(0.05)
}

func cpuFold(n *Node) {
	vmin, vmax := n.Attrs.Float("vmin"), n.Attrs.Float("vmax")
	iterations, k := n.Attrs.Int("iterations"), n.Attrs.Float("k")
	forEachTile(copyInput(n, PortInput), func(_ int, a heightmap.Array) {
		heightmap.Fold(a, vmin, vmax, iterations, k)
	})
}

func vulkanFold(n *Node, g *GPU) bool {
	if !n.Connected(PortInput) {
		return false
	}
	push := pushFold{
		VMin:       n.Attrs.Float("vmin"),
		VMax:       n.Attrs.Float("vmax"),
		Iterations: int32(n.Attrs.Int("iterations")),
		K:          n.Attrs.Float("k"),
	}
	return g.runTiles(n, "fold", []*heightmap.Heightmap{n.Input(PortInput)}, func(t *heightmap.Tile) []byte {
		s := tileShape(t)
		push.Width, push.Height = s.Width, s.Height
		return bytesOf(push)
	})
}

// rescale

func setupRescale(n *Node) {
	n.Attrs["scaling"] = float32(1)
	n.Attrs["vref"] = float32(0)
}

func cpuRescale(n *Node) {
	scaling, vref := n.Attrs.Float("scaling"), n.Attrs.Float("vref")
	forEachTile(copyInput(n, PortInput), func(_ int, a heightmap.Array) {
		heightmap.Rescale(a, scaling, vref)
	})
}

func vulkanRescale(n *Node, g *GPU) bool {
	if !n.Connected(PortInput) {
		return false
	}
	push := pushRescale{Scaling: n.Attrs.Float("scaling"), VRef: n.Attrs.Float("vref")}
	return g.runTiles(n, "rescale", []*heightmap.Heightmap{n.Input(PortInput)}, func(t *heightmap.Tile) []byte {
		s := tileShape(t)
		push.Width, push.Height = s.Width, s.Height
		return bytesOf(push)
	})
}

// smooth_cpulse

func setupSmoothCpulse(n *Node) {
	n.Attrs["radius"] = float32(0.05)
}

func cpuSmoothCpulse(n *Node) {
	ir := n.radiusPixels("radius")
	forEachTile(copyInput(n, PortInput), func(i int, a heightmap.Array) {
		heightmap.SmoothCpulse(a, ir, tileMask(n, i))
	})
}

func vulkanSmoothCpulse(n *Node, g *GPU) bool {
	ir := n.radiusPixels("radius")
	if !n.Connected(PortInput) || n.Connected(PortMask) || ir > maxSmoothRadius {
		return false
	}
	return g.runTiles(n, "smooth_cpulse", []*heightmap.Heightmap{n.Input(PortInput)}, func(t *heightmap.Tile) []byte {
		s := tileShape(t)
		return bytesOf(pushKernel{Width: s.Width, Height: s.Height, Radius: int32(ir)})
	})
}

// blend

func setupBlend(n *Node) {
	n.Attrs["method"] = string(heightmap.BlendAdd)
	n.Attrs["k"] = float32(0.1)
}

func cpuBlend(n *Node) {
	a, b := n.Input(PortInput1), n.Input(PortInput2)
	switch {
	case b == nil:
		copyInput(n, PortInput1)
		return
	case a == nil:
		copyInput(n, PortInput2)
		return
	}

	method := heightmap.BlendMethod(n.Attrs.String("method"))
	k := n.Attrs.Float("k")
	forEachTile(n.Out(), func(i int, out heightmap.Array) {
		copy(out.Data, heightmap.Blend(tileArray(a, i), tileArray(b, i), method, k).Data)
	})
}

func vulkanBlend(n *Node, g *GPU) bool {
	method := heightmap.BlendMethod(n.Attrs.String("method"))
	if !n.Connected(PortInput1) || !n.Connected(PortInput2) || method.ShaderIndex() < 0 {
		return false
	}
	push := pushBlend{Method: method.ShaderIndex(), K: n.Attrs.Float("k")}
	inputs := []*heightmap.Heightmap{n.Input(PortInput1), n.Input(PortInput2)}
	return g.runTiles(n, "blend", inputs, func(t *heightmap.Tile) []byte {
		s := tileShape(t)
		push.Width, push.Height = s.Width, s.Height
		return bytesOf(push)
	})
}

// gradient_norm

func setupGradientNorm(n *Node) {
	n.Attrs["smoothing_radius"] = float32(0)
}

func cpuGradientNorm(n *Node) {
	in := n.Input(PortInput)
	ir := n.radiusPixels("smoothing_radius")
	forEachTile(n.Out(), func(i int, out heightmap.Array) {
		if in == nil {
			clear(out.Data)
			return
		}
		copy(out.Data, heightmap.GradientNorm(tileArray(in, i)).Data)
		heightmap.SmoothCpulse(out, ir, nil)
	})
}

func vulkanGradientNorm(n *Node, g *GPU) bool {
	if !n.Connected(PortInput) || n.radiusPixels("smoothing_radius") > 0 {
		return false
	}
	return g.runTiles(n, "gradient_norm", []*heightmap.Heightmap{n.Input(PortInput)}, func(t *heightmap.Tile) []byte {
		return bytesOf(tileShape(t))
	})
}

// hydraulic_blur

func setupHydraulicBlur(n *Node) {
	n.Attrs["radius"] = float32(0.1)
	n.Attrs["k"] = float32(0.1)
}

func cpuHydraulicBlur(n *Node) {
	ir, k := n.radiusPixels("radius"), n.Attrs.Float("k")
	forEachTile(copyInput(n, PortInput), func(_ int, a heightmap.Array) {
		heightmap.HydraulicBlur(a, ir, k)
	})
}

func vulkanHydraulicBlur(n *Node, g *GPU) bool {
	ir, k := n.radiusPixels("radius"), n.Attrs.Float("k")
	if !n.Connected(PortInput) || ir > maxHydraulicBlurRadius {
		return false
	}
	return g.runTiles(n, "hydraulic_blur", []*heightmap.Heightmap{n.Input(PortInput)}, func(t *heightmap.Tile) []byte {
		s := tileShape(t)
		return bytesOf(pushKernel{Width: s.Width, Height: s.Height, Radius: int32(ir), K: k})
	})
}

// hydraulic_stream

func setupHydraulicStream(n *Node) {
	p := erosion.DefaultParams()
	n.Attrs["c_erosion"] = p.CErosion
	n.Attrs["talus_ref"] = p.TalusRef
	n.Attrs["clipping_ratio"] = p.ClippingRatio
	n.Attrs["iterations"] = p.Iterations
	n.Outputs[PortErosionMap] = heightmap.MustNew(n.Config, 0)
}

func erosionParams(n *Node) erosion.Params {
	return erosion.Params{
		CErosion:      n.Attrs.Float("c_erosion"),
		TalusRef:      n.Attrs.Float("talus_ref"),
		ClippingRatio: n.Attrs.Float("clipping_ratio"),
		Iterations:    n.Attrs.Int("iterations"),
	}
}

func cpuHydraulicStream(n *Node) {
	params := erosionParams(n)
	emap := n.Output(PortErosionMap)
	out := copyInput(n, PortInput)
	for i := range out.Tiles {
		t := &out.Tiles[i]
		if !n.Connected(PortInput) {
			clear(emap.Tiles[i].Data)
			continue
		}
		erosion.StreamErosion(t.Data, t.Shape, tileData(n, PortMask, i), params, emap.Tiles[i].Data)
	}
}

func vulkanHydraulicStream(n *Node, g *GPU) bool {
	if !n.Connected(PortInput) || !g.Ready() {
		return false
	}
	params := erosionParams(n)
	emap := n.Output(PortErosionMap)
	out := copyInput(n, PortInput)
	n.ErosionMetrics = erosion.Metrics{}
	for i := range out.Tiles {
		t := &out.Tiles[i]
		m, err := g.Erosion.Compute(t.Data, t.Shape, tileData(n, PortMask, i), params, emap.Tiles[i].Data)
		if err != nil {
			instance.logger.WPrintf("%s: tile %d: %v", n, i, err)
			return false
		}
		g.sanitize(n, t.Data)
		g.sanitize(n, emap.Tiles[i].Data)
		n.ErosionMetrics.Add(m)
	}
	return true
}
