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
	"goarrg.com/debug"

	"hesiod.dev/vkc"
	"hesiod.dev/vkc/erosion"
	"hesiod.dev/vkc/heightmap"
	"hesiod.dev/vkc/internal/util"
	"hesiod.dev/vkc/noise"
)

/*
GPU bundles the long lived GPU state handed to the Vulkan routines: the
device context, the shared pipeline cache and the specialized pipelines.
Every member is usable when the context failed to initialize, calls then
fail and the dispatcher falls back to the CPU.
*/
type GPU struct {
	Ctx     *vkc.Context
	Cache   *vkc.PipelineCache
	Noise   *noise.Pipeline
	Erosion *erosion.Pipeline
}

func NewGPU(cfg vkc.Config) *GPU {
	ctx := vkc.NewContext(cfg)
	cache := vkc.NewPipelineCache(ctx)
	return &GPU{
		Ctx:     ctx,
		Cache:   cache,
		Noise:   noise.NewPipeline(ctx, cache),
		Erosion: erosion.NewPipeline(ctx, cache),
	}
}

func (g *GPU) Ready() bool {
	return g != nil && g.Ctx.Ready()
}

func (g *GPU) Destroy() {
	g.Erosion.Destroy()
	g.Cache.Destroy()
	g.Ctx.Destroy()
}

// sanitize scrubs a readback and adds the replaced count to the node's total.
func (g *GPU) sanitize(n *Node, data []float32) {
	n.sanitized += vkc.Sanitize(data, float32(vkc.SanitizeLimit))
}

/*
runTile dispatches shader over one tile. Every input gets its own transient
buffer bound in order, the output buffer is bound last and downloaded into
out.
*/
func (g *GPU) runTile(shader string, shape heightmap.Shape, push []byte, inputs [][]float32, out []float32) error {
	size := uint64(4 * shape.Size())
	buffers := make([]*vkc.DeviceBuffer, 0, len(inputs)+1)
	defer func() {
		for _, b := range buffers {
			b.Destroy()
		}
	}()

	for _, in := range inputs {
		b, err := vkc.NewHostStorageBuffer(g.Ctx, size)
		if err != nil {
			return err
		}
		buffers = append(buffers, b)
		if err := b.UploadFloats(in); err != nil {
			return err
		}
	}
	o, err := vkc.NewHostStorageBuffer(g.Ctx, size)
	if err != nil {
		return err
	}
	buffers = append(buffers, o)

	if err := g.Cache.Dispatch(shader, push, buffers, vkc.GroupCount2D(shape.X, shape.Y)); err != nil {
		return err
	}
	return o.DownloadFloats(out)
}

/*
runTiles runs shader over every tile of n's main output, reading the same
tile of each input. push builds the record for one tile. It returns false on
the first failure.
*/
func (g *GPU) runTiles(n *Node, shader string, inputs []*heightmap.Heightmap, push func(t *heightmap.Tile) []byte) bool {
	if !g.Ready() {
		return false
	}
	out := n.Out()
	for i := range out.Tiles {
		t := &out.Tiles[i]
		data := make([][]float32, len(inputs))
		for k, in := range inputs {
			data[k] = in.Tiles[i].Data
		}
		if err := g.runTile(shader, t.Shape, push(t), data, t.Data); err != nil {
			instance.logger.WPrintf("%s: %s tile %d: %v", n, shader, i, err)
			return false
		}
		g.sanitize(n, t.Data)
	}
	return true
}

// Push records of the generic operator shaders, all start with the tile width and height.

type pushShape struct {
	Width, Height uint32
}

type pushScalar struct {
	Width, Height uint32
	Value         float32
}

type pushClamp struct {
	Width, Height uint32
	VMin, VMax    float32
	Smooth        uint32
	K             float32
}

type pushFold struct {
	Width, Height uint32
	VMin, VMax    float32
	Iterations    int32
	K             float32
}

type pushRescale struct {
	Width, Height uint32
	Scaling, VRef float32
}

type pushKernel struct {
	Width, Height uint32
	Radius        int32
	K             float32
}

type pushBlend struct {
	Width, Height uint32
	Method        int32
	K             float32
}

func tileShape(t *heightmap.Tile) pushShape {
	return pushShape{Width: uint32(t.Shape.X), Height: uint32(t.Shape.Y)}
}

func bytesOf[T comparable](v T) []byte {
	return append([]byte(nil), util.AsBytes(&v)...)
}

func checkCompatible(n *Node) error {
	for port, in := range n.Inputs {
		if in == nil {
			continue
		}
		if in.Config != n.Config {
			return debug.Errorf("%s: input %q config %+v does not match node config %+v", n, port, in.Config, n.Config)
		}
	}
	return nil
}
