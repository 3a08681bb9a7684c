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
Package noise generates fractal and Gabor noise tiles, on the GPU through a
compute shader and on the CPU through a reference implementation that uses
the same hash and float operation order.
*/
package noise

import (
	"fmt"
	"unsafe"

	"goarrg.com/debug"

	"hesiod.dev/vkc/heightmap"
)

var instance = struct {
	logger *debug.Logger
}{
	logger: debug.NewLogger("hesiod", "noise"),
}

func SetLogLevel(l uint32) {
	instance.logger.SetLevel(l)
}

type Type int32

const (
	TypePerlin Type = iota
	TypeValue
	TypeValueCubic
)

func (t Type) String() string {
	switch t {
	case TypePerlin:
		return "Perlin"
	case TypeValue:
		return "Value"
	case TypeValueCubic:
		return "ValueCubic"
	default:
		return fmt.Sprintf("Unknown: %d", int32(t))
	}
}

// Params are the tile independent FBM settings.
type Params struct {
	Type Type
	// Kw is the base wavenumber in x and y, in periods over the unit square.
	Kw          [2]float32
	Seed        uint32
	Octaves     int32
	Weight      float32
	Persistence float32
	Lacunarity  float32
}

func DefaultParams() Params {
	return Params{
		Type:        TypePerlin,
		Kw:          [2]float32{2, 2},
		Octaves:     8,
		Weight:      0.7,
		Persistence: 0.5,
		Lacunarity:  2,
	}
}

// FBMPush is the push constant record of the noise_fbm shader.
type FBMPush struct {
	Width       uint32
	Height      uint32
	KwX         float32
	KwY         float32
	Seed        uint32
	Octaves     int32
	Weight      float32
	Persistence float32
	Lacunarity  float32
	NoiseType   int32
	BBox        [4]float32
}

var _ = [1]struct{}{}[unsafe.Sizeof(FBMPush{})-56]

func NewFBMPush(p Params, shape heightmap.Shape, bbox heightmap.BBox) FBMPush {
	return FBMPush{
		Width:       uint32(shape.X),
		Height:      uint32(shape.Y),
		KwX:         p.Kw[0],
		KwY:         p.Kw[1],
		Seed:        p.Seed,
		Octaves:     p.Octaves,
		Weight:      p.Weight,
		Persistence: p.Persistence,
		Lacunarity:  p.Lacunarity,
		NoiseType:   int32(p.Type),
		BBox:        bbox.Array(),
	}
}

// GaborParams are the tile independent Gabor wave settings.
type GaborParams struct {
	Kw   [2]float32
	Seed uint32
	// Angle is the base orientation in degrees.
	Angle            float32
	AngleSpreadRatio float32
	// KernelWidth is the impulse cell size in unit square coordinates.
	KernelWidth  float32
	Displacement float32
	Amplitude    float32
}

func DefaultGaborParams() GaborParams {
	return GaborParams{
		Kw:               [2]float32{16, 16},
		AngleSpreadRatio: 0.25,
		KernelWidth:      0.1,
		Displacement:     0.1,
		Amplitude:        1,
	}
}

// GaborPush is the push constant record of the gabor_wave shader.
type GaborPush struct {
	Width            uint32
	Height           uint32
	KwX              float32
	KwY              float32
	Seed             uint32
	Angle            float32
	AngleSpreadRatio float32
	BBox             [4]float32
	HasCtrl          uint32
	HasNoiseX        uint32
	HasNoiseY        uint32
	KernelWidth      float32
	Displacement     float32
	Amplitude        float32
}

var _ = [1]struct{}{}[unsafe.Sizeof(GaborPush{})-68]

func boolU32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

func NewGaborPush(p GaborParams, shape heightmap.Shape, bbox heightmap.BBox, hasCtrl, hasNoiseX, hasNoiseY bool) GaborPush {
	return GaborPush{
		Width:            uint32(shape.X),
		Height:           uint32(shape.Y),
		KwX:              p.Kw[0],
		KwY:              p.Kw[1],
		Seed:             p.Seed,
		Angle:            p.Angle,
		AngleSpreadRatio: p.AngleSpreadRatio,
		BBox:             bbox.Array(),
		HasCtrl:          boolU32(hasCtrl),
		HasNoiseX:        boolU32(hasNoiseX),
		HasNoiseY:        boolU32(hasNoiseY),
		KernelWidth:      p.KernelWidth,
		Displacement:     p.Displacement,
		Amplitude:        p.Amplitude,
	}
}

// pixelCenter maps pixel (i, j) of a tile to unit square coordinates.
func pixelCenter(width, height uint32, bbox [4]float32, i, j uint32) (float32, float32) {
	x := bbox[0] + (float32(i)+0.5)*(bbox[2]-bbox[0])/float32(width)
	y := bbox[1] + (float32(j)+0.5)*(bbox[3]-bbox[1])/float32(height)
	return x, y
}
