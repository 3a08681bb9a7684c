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

package heightmap

import (
	"github.com/chewxy/math32"
)

func lerp(a, b, t float32) float32 {
	return a + (b-a)*t
}

func clamp01(v float32) float32 {
	return math32.Max(0, math32.Min(1, v))
}

func SmoothMax(a, b, k float32) float32 {
	if k <= 0 {
		return math32.Max(a, b)
	}
	h := clamp01(0.5 + 0.5*(a-b)/k)
	return lerp(b, a, h) + k*h*(1-h)
}

func SmoothMin(a, b, k float32) float32 {
	if k <= 0 {
		return math32.Min(a, b)
	}
	h := clamp01(0.5 + 0.5*(b-a)/k)
	return lerp(b, a, h) - k*h*(1-h)
}

func applyMask(a Array, orig []float32, mask *Array) {
	if mask == nil {
		return
	}
	for i := range a.Data {
		a.Data[i] = lerp(orig[i], a.Data[i], mask.Data[i])
	}
}

// Abs replaces v by |v - vshift|.
func Abs(a Array, vshift float32) {
	for i, v := range a.Data {
		a.Data[i] = math32.Abs(v - vshift)
	}
}

// Clamp clamps to [vmin, vmax], with smoothed corners of width k when smooth is set.
func Clamp(a Array, vmin, vmax float32, smooth bool, k float32) {
	for i, v := range a.Data {
		if smooth {
			a.Data[i] = SmoothMin(SmoothMax(v, vmin, k), vmax, k)
		} else {
			a.Data[i] = math32.Max(vmin, math32.Min(vmax, v))
		}
	}
}

// Gain applies a symmetric power curve to values in [0, 1].
func Gain(a Array, gain float32, mask *Array) {
	var orig []float32
	if mask != nil {
		orig = append(orig, a.Data...)
	}
	for i, v := range a.Data {
		v = clamp01(v)
		if v < 0.5 {
			a.Data[i] = 0.5 * math32.Pow(2*v, gain)
		} else {
			a.Data[i] = 1 - 0.5*math32.Pow(2-2*v, gain)
		}
	}
	applyMask(a, orig, mask)
}

func GammaCorrection(a Array, gamma float32, mask *Array) {
	var orig []float32
	if mask != nil {
		orig = append(orig, a.Data...)
	}
	for i, v := range a.Data {
		a.Data[i] = math32.Pow(math32.Max(v, 0), gamma)
	}
	applyMask(a, orig, mask)
}

// Fold reflects values back into [vmin, vmax] iterations times, k smooths the creases.
func Fold(a Array, vmin, vmax float32, iterations int, k float32) {
	sabs := func(x float32) float32 {
		if k <= 0 {
			return math32.Abs(x)
		}
		return math32.Sqrt(x*x + k*k)
	}
	for i, v := range a.Data {
		for it := 0; it < iterations; it++ {
			v = vmin + sabs(v-vmin)
			v = vmax - sabs(vmax-v)
		}
		a.Data[i] = v
	}
}

func Rescale(a Array, scaling, vref float32) {
	for i, v := range a.Data {
		a.Data[i] = vref + scaling*(v-vref)
	}
}

// CpulseKernel returns the normalized cubic pulse of half width radius.
func CpulseKernel(radius int) []float32 {
	if radius <= 0 {
		return []float32{1}
	}
	k := make([]float32, 2*radius+1)
	var sum float32
	for r := -radius; r <= radius; r++ {
		t := math32.Abs(float32(r)) / float32(radius+1)
		k[r+radius] = 1 - t*t*(3-2*t)
		sum += k[r+radius]
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

func convolve1D(a Array, kernel []float32, horizontal bool) Array {
	ret := NewArray(a.Shape)
	radius := len(kernel) / 2
	for j := 0; j < a.Shape.Y; j++ {
		for i := 0; i < a.Shape.X; i++ {
			var sum float32
			for r := -radius; r <= radius; r++ {
				if horizontal {
					sum += kernel[r+radius] * a.AtClamped(i+r, j)
				} else {
					sum += kernel[r+radius] * a.AtClamped(i, j+r)
				}
			}
			ret.Set(i, j, sum)
		}
	}
	return ret
}

// SmoothCpulse blurs with a separable cubic pulse kernel.
func SmoothCpulse(a Array, radius int, mask *Array) {
	if radius <= 0 || a.Shape.Size() == 0 {
		return
	}
	var orig []float32
	if mask != nil {
		orig = append(orig, a.Data...)
	}
	kernel := CpulseKernel(radius)
	tmp := convolve1D(convolve1D(a, kernel, true), kernel, false)
	copy(a.Data, tmp.Data)
	applyMask(a, orig, mask)
}

// GradientNorm returns |grad a| in height units per pixel, central differences inside and one sided on the border.
func GradientNorm(a Array) Array {
	ret := NewArray(a.Shape)
	for j := 0; j < a.Shape.Y; j++ {
		for i := 0; i < a.Shape.X; i++ {
			gx := gradient1D(a, i, j, true)
			gy := gradient1D(a, i, j, false)
			ret.Set(i, j, math32.Sqrt(gx*gx+gy*gy))
		}
	}
	return ret
}

func gradient1D(a Array, i, j int, horizontal bool) float32 {
	n, p := a.Shape.X, i
	if !horizontal {
		n, p = a.Shape.Y, j
	}
	if n < 2 {
		return 0
	}
	at := func(q int) float32 {
		if horizontal {
			return a.At(q, j)
		}
		return a.At(i, q)
	}
	switch p {
	case 0:
		return at(1) - at(0)
	case n - 1:
		return at(n-1) - at(n-2)
	default:
		return 0.5 * (at(p+1) - at(p-1))
	}
}

// HydraulicBlur fills valleys up to the blurred surface, k smooths the transition.
func HydraulicBlur(a Array, radius int, k float32) {
	blurred := a.Clone()
	SmoothCpulse(blurred, radius, nil)
	for i, v := range a.Data {
		a.Data[i] = SmoothMax(v, blurred.Data[i], k)
	}
}

type BlendMethod string

const (
	BlendAdd           BlendMethod = "add"
	BlendMaximum       BlendMethod = "maximum"
	BlendMaximumSmooth BlendMethod = "maximum_smooth"
	BlendMinimum       BlendMethod = "minimum"
	BlendMinimumSmooth BlendMethod = "minimum_smooth"
	BlendMultiply      BlendMethod = "multiply"
	BlendNegate        BlendMethod = "negate"
	BlendSubstract     BlendMethod = "substract"
	BlendExclusion     BlendMethod = "exclusion"
	BlendGradients     BlendMethod = "gradients"
	BlendOverlay       BlendMethod = "overlay"
	BlendSoft          BlendMethod = "soft"
)

// ShaderIndex is the method id used by the blend shader, -1 for methods only the CPU implements.
func (m BlendMethod) ShaderIndex() int32 {
	switch m {
	case BlendAdd:
		return 0
	case BlendMaximum:
		return 1
	case BlendMaximumSmooth:
		return 2
	case BlendMinimum:
		return 3
	case BlendMinimumSmooth:
		return 4
	case BlendMultiply:
		return 5
	case BlendNegate:
		return 6
	case BlendSubstract:
		return 7
	default:
		return -1
	}
}

func blendPixel(a, b float32, method BlendMethod, k float32) float32 {
	switch method {
	case BlendAdd:
		return a + b
	case BlendMaximum:
		return math32.Max(a, b)
	case BlendMaximumSmooth:
		return SmoothMax(a, b, k)
	case BlendMinimum:
		return math32.Min(a, b)
	case BlendMinimumSmooth:
		return SmoothMin(a, b, k)
	case BlendMultiply:
		return a * b
	case BlendNegate:
		return math32.Abs(a - b)
	case BlendSubstract:
		return a - b
	case BlendExclusion:
		return a + b - 2*a*b
	case BlendOverlay:
		if a < 0.5 {
			return 2 * a * b
		}
		return 1 - 2*(1-a)*(1-b)
	case BlendSoft:
		return (1-2*b)*a*a + 2*b*a
	default:
		return a
	}
}

// Blend combines a and b into a new array.
func Blend(a, b Array, method BlendMethod, k float32) Array {
	ret := NewArray(a.Shape)
	if method == BlendGradients {
		ga := GradientNorm(a)
		gb := GradientNorm(b)
		for i := range ret.Data {
			w := ga.Data[i] + gb.Data[i]
			if w == 0 {
				ret.Data[i] = 0.5 * (a.Data[i] + b.Data[i])
			} else {
				ret.Data[i] = (a.Data[i]*ga.Data[i] + b.Data[i]*gb.Data[i]) / w
			}
		}
		return ret
	}
	for i := range ret.Data {
		ret.Data[i] = blendPixel(a.Data[i], b.Data[i], method, k)
	}
	return ret
}
