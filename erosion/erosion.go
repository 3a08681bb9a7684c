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

/*
Package erosion implements stream power hydraulic erosion in three stages:
flow accumulation by Jacobi relaxation over the 8 neighbors, a global clip and
remap of the accumulated flow, and an apply pass that lowers the terrain by
c_erosion * flow * mask. Stages 1 and 3 run on the GPU when available, stage
2 always runs on the CPU.
*/
package erosion

import (
	"fmt"
	"time"
	"unsafe"

	"github.com/chewxy/math32"
	"goarrg.com/debug"

	"hesiod.dev/vkc/heightmap"
)

var instance = struct {
	logger *debug.Logger
}{
	logger: debug.NewLogger("hesiod", "erosion"),
}

func SetLogLevel(l uint32) {
	instance.logger.SetLevel(l)
}

const (
	PassFlow  uint32 = 0
	PassApply uint32 = 1
)

// Push is the push constant record of the hydraulic_stream shader.
type Push struct {
	Width         uint32
	Height        uint32
	CErosion      float32
	TalusRef      float32
	ClippingRatio float32
	Iteration     uint32
	PassType      uint32
}

var _ = [1]struct{}{}[unsafe.Sizeof(Push{})-28]

type Params struct {
	CErosion      float32
	TalusRef      float32
	ClippingRatio float32

	// Iterations is the relaxation pass count, 0 uses max(width, height).
	Iterations int

	// MeasureBaseline also runs the CPU implementation to fill Metrics.CPUBaseline.
	MeasureBaseline bool
}

func DefaultParams() Params {
	return Params{
		CErosion:      0.05,
		TalusRef:      0.1,
		ClippingRatio: 10,
	}
}

func (p Params) IterationCount(shape heightmap.Shape) int {
	if p.Iterations > 0 {
		return p.Iterations
	}
	return max(shape.X, shape.Y)
}

func (p Params) push(shape heightmap.Shape) Push {
	return Push{
		Width:         uint32(shape.X),
		Height:        uint32(shape.Y),
		CErosion:      p.CErosion,
		TalusRef:      p.TalusRef,
		ClippingRatio: p.ClippingRatio,
	}
}

// stallFraction is the share of the total time reported as barrier stalls, it is an estimate and not measured.
const stallFraction = 0.05

type Metrics struct {
	Iterations    int
	GPUTime       time.Duration
	PerIteration  time.Duration
	StallEstimate time.Duration
	CPUBaseline   time.Duration
	Total         time.Duration
}

// Speedup is CPUBaseline/Total, 0 when no baseline was measured.
func (m Metrics) Speedup() float64 {
	if m.CPUBaseline == 0 || m.Total == 0 {
		return 0
	}
	return float64(m.CPUBaseline) / float64(m.Total)
}

func (m Metrics) String() string {
	return fmt.Sprintf("iterations: %d gpu: %v per iteration: %v stall (est.): %v cpu: %v total: %v speedup: %.2fx",
		m.Iterations, m.GPUTime, m.PerIteration, m.StallEstimate, m.CPUBaseline, m.Total, m.Speedup())
}

func (m *Metrics) finish(total time.Duration) {
	m.Total = total
	if m.Iterations > 0 {
		m.PerIteration = total / time.Duration(m.Iterations)
	}
	m.StallEstimate = time.Duration(float64(total) * stallFraction)
}

// Add accumulates o into m, used to total the tiles of one heightmap.
func (m *Metrics) Add(o Metrics) {
	m.Iterations += o.Iterations
	m.GPUTime += o.GPUTime
	m.CPUBaseline += o.CPUBaseline
	m.finish(m.Total + o.Total)
}

// neighbors are visited in this order by both implementations so the float sums match.
var neighbors = [8]struct {
	di, dj int
	dist   float32
}{
	{-1, -1, 1.41421356}, {0, -1, 1}, {1, -1, 1.41421356},
	{-1, 0, 1}, {1, 0, 1},
	{-1, 1, 1.41421356}, {0, 1, 1}, {1, 1, 1.41421356},
}

// flowWeight is the share of q's outflow sent downhill to a neighbor dh lower at distance dist.
func flowWeight(dh, dist, talusRef float32) float32 {
	s := dh / dist
	if s <= 0 {
		return 0
	}
	return math32.Max(s, talusRef)
}

/*
FlowAccumulation returns the drainage accumulated at every pixel of z after
iterations Jacobi passes. Every pixel starts with 1 and receives the flow of
its higher neighbors, split in proportion to their downhill weights.
*/
func FlowAccumulation(z []float32, shape heightmap.Shape, talusRef float32, iterations int) []float32 {
	n := shape.Size()
	at := func(i, j int) float32 { return z[j*shape.X+i] }
	inside := func(i, j int) bool { return i >= 0 && j >= 0 && i < shape.X && j < shape.Y }

	outflow := make([]float32, n)
	for j := 0; j < shape.Y; j++ {
		for i := 0; i < shape.X; i++ {
			var sum float32
			for _, nb := range neighbors {
				if inside(i+nb.di, j+nb.dj) {
					sum += flowWeight(at(i, j)-at(i+nb.di, j+nb.dj), nb.dist, talusRef)
				}
			}
			outflow[j*shape.X+i] = sum
		}
	}

	flow := make([]float32, n)
	next := make([]float32, n)
	for i := range flow {
		flow[i] = 1
	}
	for it := 0; it < iterations; it++ {
		for j := 0; j < shape.Y; j++ {
			for i := 0; i < shape.X; i++ {
				acc := float32(1)
				for _, nb := range neighbors {
					qi, qj := i+nb.di, j+nb.dj
					if !inside(qi, qj) {
						continue
					}
					q := qj*shape.X + qi
					w := flowWeight(z[q]-at(i, j), nb.dist, talusRef)
					if w > 0 {
						acc += flow[q] * w / outflow[q]
					}
				}
				next[j*shape.X+i] = acc
			}
		}
		flow, next = next, flow
	}
	return flow
}

/*
NormalizeFlow clips flow to [0, clippingRatio * sqrt(mean)] and remaps the
result to [0, 1], a constant field becomes 0.
*/
func NormalizeFlow(flow []float32, clippingRatio float32) {
	if len(flow) == 0 {
		return
	}
	var sum float64
	for _, v := range flow {
		sum += float64(v)
	}
	vmax := clippingRatio * math32.Sqrt(float32(sum/float64(len(flow))))

	lo, hi := math32.Inf(1), math32.Inf(-1)
	for i, v := range flow {
		v = math32.Max(0, math32.Min(vmax, v))
		flow[i] = v
		lo = math32.Min(lo, v)
		hi = math32.Max(hi, v)
	}
	if hi == lo {
		for i := range flow {
			flow[i] = 0
		}
		return
	}
	for i, v := range flow {
		flow[i] = (v - lo) / (hi - lo)
	}
}

// Apply lowers z by cErosion * flow * mask and writes the removed amount to erosionOut when not nil.
func Apply(z, flow, mask []float32, cErosion float32, erosionOut []float32) {
	for i := range z {
		m := float32(1)
		if mask != nil {
			m = mask[i]
		}
		e := cErosion * flow[i] * m
		z[i] -= e
		if erosionOut != nil {
			erosionOut[i] = e
		}
	}
}

// StreamErosion is the CPU implementation of all three stages on one tile.
func StreamErosion(z []float32, shape heightmap.Shape, mask []float32, params Params, erosionOut []float32) {
	if shape.Size() == 0 {
		return
	}
	flow := FlowAccumulation(z, shape, params.TalusRef, params.IterationCount(shape))
	NormalizeFlow(flow, params.ClippingRatio)
	Apply(z, flow, mask, params.CErosion, erosionOut)
}
