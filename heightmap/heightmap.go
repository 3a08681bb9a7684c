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
Package heightmap holds tiled 2D float fields. A Heightmap covers the unit
square in world coordinates and is split into Tiling.X * Tiling.Y tiles of
identical shape, each padded by an overlap band shared with its neighbors.
*/
package heightmap

import (
	"fmt"
	"math"

	"github.com/chewxy/math32"
	"goarrg.com/debug"
)

type Shape struct {
	X, Y int
}

func (s Shape) Size() int {
	return s.X * s.Y
}

func (s Shape) String() string {
	return fmt.Sprintf("%dx%d", s.X, s.Y)
}

type BBox struct {
	XMin, YMin, XMax, YMax float32
}

func (b BBox) Array() [4]float32 {
	return [4]float32{b.XMin, b.YMin, b.XMax, b.YMax}
}

type Config struct {
	Shape  Shape
	Tiling Shape

	// Overlap is the fraction of a tile's core size added as padding on each side, in [0, 0.5].
	Overlap float32
}

func (c Config) Validate() error {
	if c.Shape.X < 0 || c.Shape.Y < 0 || c.Tiling.X < 0 || c.Tiling.Y < 0 {
		return debug.Errorf("Negative shape [%s] or tiling [%s]", c.Shape, c.Tiling)
	}
	if c.Tiling.Size() == 0 {
		return nil
	}
	if c.Shape.X%c.Tiling.X != 0 || c.Shape.Y%c.Tiling.Y != 0 {
		return debug.Errorf("Shape [%s] is not divisible by tiling [%s]", c.Shape, c.Tiling)
	}
	if c.Overlap < 0 || c.Overlap > 0.5 || math32.IsNaN(c.Overlap) {
		return debug.Errorf("Overlap [%f] is outside of [0, 0.5]", c.Overlap)
	}
	return nil
}

// Core returns the tile shape without the overlap band.
func (c Config) Core() Shape {
	if c.Tiling.Size() == 0 {
		return Shape{}
	}
	return Shape{c.Shape.X / c.Tiling.X, c.Shape.Y / c.Tiling.Y}
}

// Buffer returns the overlap band width in pixels on each side of a tile.
func (c Config) Buffer() Shape {
	core := c.Core()
	return Shape{
		int(math.Round(float64(c.Overlap) * float64(core.X))),
		int(math.Round(float64(c.Overlap) * float64(core.Y))),
	}
}

func (c Config) TileShape() Shape {
	core := c.Core()
	buf := c.Buffer()
	return Shape{core.X + 2*buf.X, core.Y + 2*buf.Y}
}

type Tile struct {
	Shape Shape
	Data  []float32
	BBox  BBox

	// Index is the tile position in the tiling grid.
	Index Shape
	// Origin is the global pixel of Data[0], negative on the domain border.
	Origin Shape
}

func (t *Tile) At(i, j int) float32 {
	return t.Data[j*t.Shape.X+i]
}

func (t *Tile) Set(i, j int, v float32) {
	t.Data[j*t.Shape.X+i] = v
}

type Heightmap struct {
	Config Config
	Tiles  []Tile
}

// New returns a Heightmap filled with fill. A zero tiling gives a Heightmap with no tiles.
func New(cfg Config, fill float32) (*Heightmap, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	h := &Heightmap{Config: cfg}
	if cfg.Tiling.Size() == 0 {
		return h, nil
	}

	core := cfg.Core()
	buf := cfg.Buffer()
	shape := cfg.TileShape()
	h.Tiles = make([]Tile, 0, cfg.Tiling.Size())

	for ty := 0; ty < cfg.Tiling.Y; ty++ {
		for tx := 0; tx < cfg.Tiling.X; tx++ {
			origin := Shape{tx*core.X - buf.X, ty*core.Y - buf.Y}
			t := Tile{
				Shape:  shape,
				Data:   make([]float32, shape.Size()),
				Index:  Shape{tx, ty},
				Origin: origin,
				BBox: BBox{
					XMin: float32(origin.X) / float32(cfg.Shape.X),
					YMin: float32(origin.Y) / float32(cfg.Shape.Y),
					XMax: float32(origin.X+shape.X) / float32(cfg.Shape.X),
					YMax: float32(origin.Y+shape.Y) / float32(cfg.Shape.Y),
				},
			}
			if fill != 0 {
				for i := range t.Data {
					t.Data[i] = fill
				}
			}
			h.Tiles = append(h.Tiles, t)
		}
	}
	return h, nil
}

// MustNew is New for configs already known to be valid.
func MustNew(cfg Config, fill float32) *Heightmap {
	h, err := New(cfg, fill)
	if err != nil {
		panic(err)
	}
	return h
}

func (h *Heightmap) Len() int {
	return len(h.Tiles)
}

func (h *Heightmap) Clone() *Heightmap {
	ret := &Heightmap{Config: h.Config, Tiles: make([]Tile, len(h.Tiles))}
	for i, t := range h.Tiles {
		ret.Tiles[i] = t
		ret.Tiles[i].Data = append([]float32(nil), t.Data...)
	}
	return ret
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ToArray assembles the core region of every tile into one global array.
func (h *Heightmap) ToArray() Array {
	ret := NewArray(h.Config.Shape)
	if len(h.Tiles) == 0 {
		return ret
	}
	core := h.Config.Core()
	buf := h.Config.Buffer()

	for ti := range h.Tiles {
		t := &h.Tiles[ti]
		for j := 0; j < core.Y; j++ {
			gy := t.Index.Y*core.Y + j
			for i := 0; i < core.X; i++ {
				gx := t.Index.X*core.X + i
				ret.Data[gy*ret.Shape.X+gx] = t.At(i+buf.X, j+buf.Y)
			}
		}
	}
	return ret
}

// FromArray fills every tile, overlap included, from a global array, clamping at the domain border.
func (h *Heightmap) FromArray(a Array) {
	if a.Shape != h.Config.Shape {
		panic(fmt.Sprintf("FromArray: shape %s != heightmap shape %s", a.Shape, h.Config.Shape))
	}
	for ti := range h.Tiles {
		t := &h.Tiles[ti]
		for j := 0; j < t.Shape.Y; j++ {
			gy := clampInt(t.Origin.Y+j, 0, a.Shape.Y-1)
			for i := 0; i < t.Shape.X; i++ {
				gx := clampInt(t.Origin.X+i, 0, a.Shape.X-1)
				t.Set(i, j, a.Data[gy*a.Shape.X+gx])
			}
		}
	}
}

/*
SmoothOverlap makes every tile agree on the pixels they share. Each global
pixel becomes the average of the tiles covering it, weighted by a linear
ramp that is 1 in a tile's core and falls off across the overlap band.
*/
func (h *Heightmap) SmoothOverlap() {
	buf := h.Config.Buffer()
	if len(h.Tiles) <= 1 || (buf.X == 0 && buf.Y == 0) {
		return
	}

	shape := h.Config.Shape
	sum := make([]float32, shape.Size())
	weights := make([]float32, shape.Size())

	ramp := func(i, n, b int) float32 {
		if b == 0 {
			return 1
		}
		d := float32(min(i, n-1-i)) + 0.5
		return math32.Min(d/float32(2*b), 1)
	}

	for ti := range h.Tiles {
		t := &h.Tiles[ti]
		for j := 0; j < t.Shape.Y; j++ {
			gy := t.Origin.Y + j
			if gy < 0 || gy >= shape.Y {
				continue
			}
			wy := ramp(j, t.Shape.Y, buf.Y)
			for i := 0; i < t.Shape.X; i++ {
				gx := t.Origin.X + i
				if gx < 0 || gx >= shape.X {
					continue
				}
				w := wy * ramp(i, t.Shape.X, buf.X)
				sum[gy*shape.X+gx] += w * t.At(i, j)
				weights[gy*shape.X+gx] += w
			}
		}
	}

	a := Array{Shape: shape, Data: sum}
	for i := range a.Data {
		if weights[i] > 0 {
			a.Data[i] /= weights[i]
		}
	}
	h.FromArray(a)
}

func (h *Heightmap) MinMax() (float32, float32) {
	vmin, vmax := math32.Inf(1), math32.Inf(-1)
	for ti := range h.Tiles {
		for _, v := range h.Tiles[ti].Data {
			vmin = math32.Min(vmin, v)
			vmax = math32.Max(vmax, v)
		}
	}
	if len(h.Tiles) == 0 {
		return 0, 0
	}
	return vmin, vmax
}

// Remap linearly maps the heightmap's [min, max] to [vmin, vmax], a constant heightmap becomes vmin.
func (h *Heightmap) Remap(vmin, vmax float32) {
	lo, hi := h.MinMax()
	for ti := range h.Tiles {
		d := h.Tiles[ti].Data
		for i := range d {
			if hi == lo {
				d[i] = vmin
			} else {
				d[i] = vmin + (d[i]-lo)*(vmax-vmin)/(hi-lo)
			}
		}
	}
}

// Inverse mirrors values around the middle of the current range.
func (h *Heightmap) Inverse() {
	lo, hi := h.MinMax()
	for ti := range h.Tiles {
		d := h.Tiles[ti].Data
		for i := range d {
			d[i] = hi + lo - d[i]
		}
	}
}

func (h *Heightmap) Multiply(other *Heightmap) {
	for ti := range h.Tiles {
		d := h.Tiles[ti].Data
		o := other.Tiles[ti].Data
		for i := range d {
			d[i] *= o[i]
		}
	}
}

// Flatten concatenates the tile buffers in tile order.
func (h *Heightmap) Flatten() []float32 {
	n := 0
	for ti := range h.Tiles {
		n += len(h.Tiles[ti].Data)
	}
	ret := make([]float32, 0, n)
	for ti := range h.Tiles {
		ret = append(ret, h.Tiles[ti].Data...)
	}
	return ret
}

// Unflatten is the inverse of Flatten.
func (h *Heightmap) Unflatten(data []float32) error {
	n := 0
	for ti := range h.Tiles {
		n += len(h.Tiles[ti].Data)
	}
	if n != len(data) {
		return debug.Errorf("Unflatten: len(data) [%d] != heightmap size [%d]", len(data), n)
	}
	off := 0
	for ti := range h.Tiles {
		off += copy(h.Tiles[ti].Data, data[off:])
	}
	return nil
}
