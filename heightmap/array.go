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

import "github.com/chewxy/math32"

// Array is a row-major float field.
type Array struct {
	Shape Shape
	Data  []float32
}

func NewArray(shape Shape) Array {
	return Array{Shape: shape, Data: make([]float32, shape.Size())}
}

func ArrayFrom(shape Shape, data []float32) Array {
	if len(data) != shape.Size() {
		panic("ArrayFrom: len(data) does not match shape")
	}
	return Array{Shape: shape, Data: data}
}

func (a Array) Clone() Array {
	return Array{Shape: a.Shape, Data: append([]float32(nil), a.Data...)}
}

func (a Array) At(i, j int) float32 {
	return a.Data[j*a.Shape.X+i]
}

// AtClamped reads with coordinates clamped to the array bounds.
func (a Array) AtClamped(i, j int) float32 {
	return a.Data[clampInt(j, 0, a.Shape.Y-1)*a.Shape.X+clampInt(i, 0, a.Shape.X-1)]
}

func (a Array) Set(i, j int, v float32) {
	a.Data[j*a.Shape.X+i] = v
}

func (a Array) MinMax() (float32, float32) {
	if len(a.Data) == 0 {
		return 0, 0
	}
	vmin, vmax := a.Data[0], a.Data[0]
	for _, v := range a.Data[1:] {
		vmin = math32.Min(vmin, v)
		vmax = math32.Max(vmax, v)
	}
	return vmin, vmax
}

func (a Array) Mean() float32 {
	if len(a.Data) == 0 {
		return 0
	}
	var sum float64
	for _, v := range a.Data {
		sum += float64(v)
	}
	return float32(sum / float64(len(a.Data)))
}
