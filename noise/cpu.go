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
	"github.com/chewxy/math32"
)

// Hash functions and constants below are mirrored in shaders/hash.glsl.

func hashU(h uint32) uint32 {
	h ^= h >> 16
	h *= 0x7feb352d
	h ^= h >> 15
	h *= 0x846ca68b
	h ^= h >> 16
	return h
}

func hash2(x, y int32, seed uint32) uint32 {
	return hashU(seed ^ hashU(uint32(x)*0x27d4eb2d^uint32(y)*0x165667b1))
}

// unit01 maps the top 24 bits of h to [0, 1).
func unit01(h uint32) float32 {
	return float32(h>>8) * (1.0 / 16777216.0)
}

// unit11 maps the top 24 bits of h to [-1, 1].
func unit11(h uint32) float32 {
	return float32(h>>8)/16777215*2 - 1
}

const sqrtHalf = 0.70710678

var gradients = [8][2]float32{
	{1, 0}, {-1, 0}, {0, 1}, {0, -1},
	{sqrtHalf, sqrtHalf}, {-sqrtHalf, sqrtHalf}, {sqrtHalf, -sqrtHalf}, {-sqrtHalf, -sqrtHalf},
}

func lerp(a, b, t float32) float32 {
	return a + (b-a)*t
}

func quintic(t float32) float32 {
	return t * t * t * (t*(t*6-15) + 10)
}

func cubic(a, b, c, d, t float32) float32 {
	return b + 0.5*t*(c-a+t*(2*a-5*b+4*c-d+t*(3*(b-c)+d-a)))
}

func perlin(x, y float32, seed uint32) float32 {
	x0, y0 := math32.Floor(x), math32.Floor(y)
	ix, iy := int32(x0), int32(y0)
	fx, fy := x-x0, y-y0

	g := func(di, dj int32) float32 {
		gr := gradients[hash2(ix+di, iy+dj, seed)&7]
		return gr[0]*(fx-float32(di)) + gr[1]*(fy-float32(dj))
	}

	u, v := quintic(fx), quintic(fy)
	return 1.4142135 * lerp(lerp(g(0, 0), g(1, 0), u), lerp(g(0, 1), g(1, 1), u), v)
}

func value(x, y float32, seed uint32) float32 {
	x0, y0 := math32.Floor(x), math32.Floor(y)
	ix, iy := int32(x0), int32(y0)
	u, v := quintic(x-x0), quintic(y-y0)

	a := unit11(hash2(ix, iy, seed))
	b := unit11(hash2(ix+1, iy, seed))
	c := unit11(hash2(ix, iy+1, seed))
	d := unit11(hash2(ix+1, iy+1, seed))
	return lerp(lerp(a, b, u), lerp(c, d, u), v)
}

func valueCubic(x, y float32, seed uint32) float32 {
	x0, y0 := math32.Floor(x), math32.Floor(y)
	ix, iy := int32(x0), int32(y0)
	fx, fy := x-x0, y-y0

	var rows [4]float32
	for j := int32(0); j < 4; j++ {
		row := [4]float32{}
		for i := int32(0); i < 4; i++ {
			row[i] = unit11(hash2(ix+i-1, iy+j-1, seed))
		}
		rows[j] = cubic(row[0], row[1], row[2], row[3], fx)
	}
	return cubic(rows[0], rows[1], rows[2], rows[3], fy) * (1 / (1.5 * 1.5))
}

func sample(t Type, x, y float32, seed uint32) float32 {
	switch t {
	case TypeValue:
		return value(x, y, seed)
	case TypeValueCubic:
		return valueCubic(x, y, seed)
	default:
		return perlin(x, y, seed)
	}
}

// fbm sums Octaves layers, each weighted by the previous one, normalized by the total amplitude.
func fbm(p *FBMPush, x, y float32) float32 {
	x *= p.KwX
	y *= p.KwY

	var sum, norm float32
	amp := float32(1)
	for i := int32(0); i < p.Octaves; i++ {
		n := sample(Type(p.NoiseType), x, y, p.Seed+uint32(i))
		sum += n * amp
		norm += amp
		amp *= lerp(1, math32.Min(n+1, 2)*0.5, p.Weight) * p.Persistence
		x *= p.Lacunarity
		y *= p.Lacunarity
	}
	if norm == 0 {
		return 0
	}
	return sum / norm
}

/*
FBM fills dst, a Width*Height tile, with fractal noise. dx and dy, when not
nil, displace the sampling position in unit square coordinates and ctrl
scales the result, all three are per pixel and may be nil.
*/
func FBM(p FBMPush, dst, dx, dy, ctrl []float32) {
	for j := uint32(0); j < p.Height; j++ {
		for i := uint32(0); i < p.Width; i++ {
			idx := j*p.Width + i
			x, y := pixelCenter(p.Width, p.Height, p.BBox, i, j)
			if dx != nil {
				x += dx[idx]
			}
			if dy != nil {
				y += dy[idx]
			}
			v := fbm(&p, x, y)
			if ctrl != nil {
				v *= ctrl[idx]
			}
			dst[idx] = v
		}
	}
}

const gaborImpulses = 8

func gabor(p *GaborPush, x, y float32) float32 {
	c := p.KernelWidth
	if c <= 0 {
		return 0
	}
	cx := int32(math32.Floor(x / c))
	cy := int32(math32.Floor(y / c))
	theta0 := p.Angle * (math32.Pi / 180)

	var sum float32
	for dj := int32(-1); dj <= 1; dj++ {
		for di := int32(-1); di <= 1; di++ {
			ci, cj := cx+di, cy+dj
			for k := uint32(0); k < gaborImpulses; k++ {
				h := hash2(ci, cj, p.Seed+k)
				ox := unit01(h)
				h = hashU(h)
				oy := unit01(h)
				h = hashU(h)
				w := float32(1)
				if h&1 != 0 {
					w = -1
				}
				h = hashU(h)
				theta := theta0 + p.AngleSpreadRatio*math32.Pi*(unit01(h)-0.5)

				ddx := x - (float32(ci)+ox)*c
				ddy := y - (float32(cj)+oy)*c
				r2 := (ddx*ddx + ddy*ddy) / (c * c)
				phase := 2 * math32.Pi * (p.KwX*math32.Cos(theta)*ddx + p.KwY*math32.Sin(theta)*ddy)
				sum += w * math32.Exp(-math32.Pi*r2) * math32.Cos(phase)
			}
		}
	}
	return sum * p.Amplitude
}

/*
GaborWave fills dst with sparse Gabor noise. ctrl scales the result and
noiseX/noiseY displace the sampling position by Displacement times their
value, each is only read when its flag in p is set.
*/
func GaborWave(p GaborPush, dst, ctrl, noiseX, noiseY []float32) {
	for j := uint32(0); j < p.Height; j++ {
		for i := uint32(0); i < p.Width; i++ {
			idx := j*p.Width + i
			x, y := pixelCenter(p.Width, p.Height, p.BBox, i, j)
			if p.HasNoiseX != 0 {
				x += p.Displacement * noiseX[idx]
			}
			if p.HasNoiseY != 0 {
				y += p.Displacement * noiseY[idx]
			}
			v := gabor(&p, x, y)
			if p.HasCtrl != 0 {
				v *= ctrl[idx]
			}
			dst[idx] = v
		}
	}
}
