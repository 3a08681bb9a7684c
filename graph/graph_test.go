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

package graph

import (
	"bytes"
	"context"
	"slices"
	"testing"

	"github.com/muesli/termenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hesiod.dev/vkc"
	"hesiod.dev/vkc/heightmap"
	"hesiod.dev/vkc/node"
	"hesiod.dev/vkc/preview"
	"hesiod.dev/vkc/termlog"
)

var testConfig = heightmap.Config{
	Shape:   heightmap.Shape{X: 32, Y: 32},
	Tiling:  heightmap.Shape{X: 2, Y: 2},
	Overlap: 0.25,
}

type fixture struct {
	graph *Graph
	cache *preview.Cache
	log   *bytes.Buffer
}

// newFixture builds a graph whose GPU failed to initialize.
func newFixture(t *testing.T) fixture {
	t.Helper()
	cfg := vkc.DefaultConfig()
	cfg.Disabled = true
	gpu := node.NewGPU(cfg)
	t.Cleanup(gpu.Destroy)

	var buf bytes.Buffer
	cache := preview.New(64)
	d := node.NewDispatcher(gpu, node.Preferences{GPU: true}, prometheus.NewRegistry())
	log := termlog.New(&buf, termlog.LevelDebug, termenv.WithProfile(termenv.Ascii))
	return fixture{graph: New("test", testConfig, d, cache, log), cache: cache, log: &buf}
}

// terrain adds a 10 node graph.
func terrain(t *testing.T, g *Graph) {
	t.Helper()
	nodes := []struct {
		id   string
		kind node.Kind
	}{
		{"base", node.KindNoiseFBM},
		{"detail", node.KindNoiseFBM},
		{"waves", node.KindGaborWave},
		{"abs", node.KindAbs},
		{"gain", node.KindGain},
		{"mix", node.KindBlend},
		{"fold", node.KindFold},
		{"rescale", node.KindRescale},
		{"erode", node.KindHydraulicStream},
		{"clamp", node.KindClamp},
	}
	for _, n := range nodes {
		_, err := g.AddNode(n.id, n.kind)
		require.NoError(t, err)
	}
	require.NoError(t, g.SetAttr("detail", "seed", 3))
	require.NoError(t, g.SetAttr("erode", "iterations", 8))

	links := []Link{
		{"base", node.PortOutput, "abs", node.PortInput},
		{"detail", node.PortOutput, "waves", node.PortControl},
		{"abs", node.PortOutput, "gain", node.PortInput},
		{"gain", node.PortOutput, "mix", node.PortInput1},
		{"waves", node.PortOutput, "mix", node.PortInput2},
		{"mix", node.PortOutput, "fold", node.PortInput},
		{"fold", node.PortOutput, "rescale", node.PortInput},
		{"rescale", node.PortOutput, "erode", node.PortInput},
		{"erode", node.PortOutput, "clamp", node.PortInput},
	}
	for _, l := range links {
		require.NoError(t, g.Connect(l.From, l.FromPort, l.To, l.ToPort))
	}
}

func TestCacheHitRate(t *testing.T) {
	f := newFixture(t)
	terrain(t, f.graph)

	report, err := f.graph.Update(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, report.Computed)
	assert.Zero(t, report.Cached)
	assert.Zero(t, f.cache.HitRate())
	for id, b := range report.Backends {
		assert.Equal(t, node.BackendCPU, b, id)
	}
	first := f.graph.Node("clamp").Out().Flatten()

	f.cache.ResetStats()
	report, err = f.graph.Update(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Computed)
	assert.Equal(t, 10, report.Cached)
	assert.Equal(t, float64(100), f.cache.HitRate())
	assert.Equal(t, first, f.graph.Node("clamp").Out().Flatten())

	assert.Contains(t, f.log.String(), `Graph "test": computing 10 nodes`)
	assert.Contains(t, f.log.String(), "Node clamp(clamp): cache hit")
}

func TestSetAttrInvalidatesDownstream(t *testing.T) {
	f := newFixture(t)
	terrain(t, f.graph)
	_, err := f.graph.Update(context.Background())
	require.NoError(t, err)
	before := f.graph.Node("clamp").Out().Flatten()

	require.NoError(t, f.graph.SetAttr("fold", "iterations", 1))
	for _, id := range []string{"fold", "rescale", "erode", "clamp"} {
		assert.False(t, f.cache.Has(cacheKey(id, node.PortOutput)), id)
	}
	assert.False(t, f.cache.Has(cacheKey("erode", node.PortErosionMap)))
	assert.True(t, f.cache.Has(cacheKey("mix", node.PortOutput)))

	report, err := f.graph.Update(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, report.Computed)
	assert.Equal(t, 6, report.Cached)
	assert.NotEqual(t, before, f.graph.Node("clamp").Out().Flatten())
}

func TestTopologicalOrder(t *testing.T) {
	f := newFixture(t)
	terrain(t, f.graph)

	order, err := f.graph.TopologicalOrder()
	require.NoError(t, err)
	require.Len(t, order, 10)
	for _, l := range f.graph.Links() {
		assert.Less(t, slices.Index(order, l.From), slices.Index(order, l.To), "%s -> %s", l.From, l.To)
	}

	assert.Equal(t, []string{"mix", "fold", "rescale", "erode", "clamp"}, f.graph.Downstream("gain"))
	assert.Empty(t, f.graph.Downstream("clamp"))
}

func TestConnectErrors(t *testing.T) {
	f := newFixture(t)
	terrain(t, f.graph)
	g := f.graph

	assert.Error(t, g.Connect("clamp", node.PortOutput, "abs", node.PortInput))
	assert.Error(t, g.Connect("abs", node.PortOutput, "abs", node.PortInput))
	assert.Error(t, g.Connect("missing", node.PortOutput, "abs", node.PortInput))
	assert.Error(t, g.Connect("abs", node.PortErosionMap, "fold", node.PortInput))
	assert.Error(t, g.Connect("abs", node.PortOutput, "fold", "inptu"))
	assert.Error(t, g.Connect("abs", node.PortOutput, "fold", node.PortMask))
	assert.Empty(t, g.nodes["fold"].Inputs["inptu"])
	_, err := g.AddNode("abs", node.KindAbs)
	assert.Error(t, err)

	order, err := g.TopologicalOrder()
	require.NoError(t, err)
	assert.Len(t, order, 10)
}

func TestDisconnectAndRemove(t *testing.T) {
	f := newFixture(t)
	terrain(t, f.graph)
	g := f.graph
	_, err := g.Update(context.Background())
	require.NoError(t, err)

	require.NoError(t, g.Disconnect("waves", node.PortControl))
	assert.False(t, g.Node("waves").Connected(node.PortControl))
	assert.False(t, f.cache.Has(cacheKey("clamp", node.PortOutput)))
	assert.True(t, f.cache.Has(cacheKey("detail", node.PortOutput)))

	require.NoError(t, g.RemoveNode("fold"))
	assert.Nil(t, g.Node("fold"))
	assert.Equal(t, 9, g.Len())
	assert.False(t, g.Node("rescale").Connected(node.PortInput))
	assert.Len(t, g.Links(), 6)
	assert.Error(t, g.RemoveNode("fold"))

	report, err := g.Update(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 9, report.Computed+report.Cached)
}

func TestUpdateCancelled(t *testing.T) {
	f := newFixture(t)
	terrain(t, f.graph)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.graph.Update(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
