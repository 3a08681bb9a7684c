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
Package graph evaluates a DAG of nodes. Update walks the nodes in
topological order and computes each one through a node.Dispatcher unless
the preview cache still holds all of its outputs. Editing a node drops it
and everything downstream from the cache.
*/
package graph

import (
	"context"
	"maps"
	"slices"
	"time"

	"goarrg.com/debug"

	"hesiod.dev/vkc/heightmap"
	"hesiod.dev/vkc/internal/container"
	"hesiod.dev/vkc/node"
	"hesiod.dev/vkc/preview"
	"hesiod.dev/vkc/termlog"
)

var instance = struct {
	logger *debug.Logger
}{
	logger: debug.NewLogger("hesiod", "graph"),
}

func SetLogLevel(l uint32) {
	instance.logger.SetLevel(l)
}

// Link feeds output FromPort of node From into input ToPort of node To.
type Link struct {
	From, FromPort string
	To, ToPort     string
}

type Report struct {
	Computed int
	Cached   int
	Duration time.Duration
	Backends map[string]node.Backend
}

type Graph struct {
	ID     string
	Config heightmap.Config

	dispatcher *node.Dispatcher
	cache      *preview.Cache
	log        *termlog.Logger

	nodes map[string]*node.Node
	order []string
	links map[string]map[string]Link
}

// New returns an empty graph, every node added to it shares cfg.
func New(id string, cfg heightmap.Config, d *node.Dispatcher, cache *preview.Cache, log *termlog.Logger) *Graph {
	return &Graph{
		ID:         id,
		Config:     cfg,
		dispatcher: d,
		cache:      cache,
		log:        log,
		nodes:      map[string]*node.Node{},
		links:      map[string]map[string]Link{},
	}
}

func cacheKey(id, port string) string {
	return id + "/" + port
}

func (g *Graph) AddNode(id string, kind node.Kind) (*node.Node, error) {
	if _, ok := g.nodes[id]; ok {
		return nil, debug.Errorf("Graph %q: duplicate node id %q", g.ID, id)
	}
	n, err := node.New(id, kind, g.Config)
	if err != nil {
		return nil, err
	}
	g.nodes[id] = n
	g.order = append(g.order, id)
	return n, nil
}

func (g *Graph) Node(id string) *node.Node {
	return g.nodes[id]
}

func (g *Graph) Len() int {
	return len(g.nodes)
}

// Nodes returns the node ids in insertion order.
func (g *Graph) Nodes() []string {
	return slices.Clone(g.order)
}

func (g *Graph) Links() []Link {
	var ret []Link
	for _, id := range g.order {
		for _, port := range slices.Sorted(maps.Keys(g.links[id])) {
			ret = append(ret, g.links[id][port])
		}
	}
	return ret
}

func (g *Graph) mustNode(id string) (*node.Node, error) {
	n, ok := g.nodes[id]
	if !ok {
		return nil, debug.Errorf("Graph %q: no node %q", g.ID, id)
	}
	return n, nil
}

// Connect links from.fromPort to to.toPort, replacing the previous link of the input. Unknown ports and links that would form a cycle are rejected.
func (g *Graph) Connect(from, fromPort, to, toPort string) error {
	src, err := g.mustNode(from)
	if err != nil {
		return err
	}
	dst, err := g.mustNode(to)
	if err != nil {
		return err
	}
	out := src.Output(fromPort)
	if out == nil {
		return debug.Errorf("Graph %q: node %s has no output %q", g.ID, src, fromPort)
	}
	if !dst.AcceptsInput(toPort) {
		return debug.Errorf("Graph %q: node %s has no input %q", g.ID, dst, toPort)
	}
	if from == to || slices.Contains(g.Downstream(to), from) {
		return debug.Errorf("Graph %q: linking %s to %s creates a cycle", g.ID, src, dst)
	}

	if g.links[to] == nil {
		g.links[to] = map[string]Link{}
	}
	g.links[to][toPort] = Link{From: from, FromPort: fromPort, To: to, ToPort: toPort}
	dst.Connect(toPort, out)
	g.invalidate(to)
	return nil
}

func (g *Graph) Disconnect(to, toPort string) error {
	dst, err := g.mustNode(to)
	if err != nil {
		return err
	}
	if _, ok := g.links[to][toPort]; !ok {
		return nil
	}
	delete(g.links[to], toPort)
	dst.Connect(toPort, nil)
	g.invalidate(to)
	return nil
}

// RemoveNode deletes id with every link touching it.
func (g *Graph) RemoveNode(id string) error {
	if _, err := g.mustNode(id); err != nil {
		return err
	}
	g.invalidate(id)
	for _, to := range g.order {
		for port, l := range g.links[to] {
			if l.From == id {
				delete(g.links[to], port)
				g.nodes[to].Connect(port, nil)
			}
		}
	}
	delete(g.links, id)
	delete(g.nodes, id)
	g.order = slices.DeleteFunc(g.order, func(s string) bool { return s == id })
	return nil
}

// SetAttr changes one attribute and drops the node and its downstream chain from the preview cache.
func (g *Graph) SetAttr(id, key string, value any) error {
	n, err := g.mustNode(id)
	if err != nil {
		return err
	}
	n.Attrs[key] = value
	g.invalidate(id)
	return nil
}

func (g *Graph) cacheKeys(id string) []string {
	n := g.nodes[id]
	if n == nil {
		return nil
	}
	var keys []string
	for _, port := range slices.Sorted(maps.Keys(n.Outputs)) {
		keys = append(keys, cacheKey(id, port))
	}
	return keys
}

func (g *Graph) invalidate(id string) {
	keys := g.cacheKeys(id)
	for _, d := range g.Downstream(id) {
		keys = append(keys, g.cacheKeys(d)...)
	}
	if len(keys) > 0 {
		g.cache.InvalidateChain(keys[0], keys[1:])
	}
}

// Downstream returns every node reachable from id, in insertion order.
func (g *Graph) Downstream(id string) []string {
	reached := map[string]bool{}
	stack := container.Stack[string]{}
	stack.Push(id)
	for !stack.Empty() {
		cur := stack.Pop()
		for _, to := range g.order {
			if reached[to] {
				continue
			}
			for _, l := range g.links[to] {
				if l.From == cur {
					reached[to] = true
					stack.Push(to)
					break
				}
			}
		}
	}
	return slices.DeleteFunc(g.Nodes(), func(s string) bool { return !reached[s] })
}

/*
TopologicalOrder returns the node ids with every node after all of its
upstream nodes. Nodes are visited depth first from the insertion order so
the result is deterministic.
*/
func (g *Graph) TopologicalOrder() ([]string, error) {
	const (
		unvisited = iota
		visiting
		done
	)
	type frame struct {
		id       string
		expanded bool
	}

	state := make(map[string]int, len(g.nodes))
	order := make([]string, 0, len(g.nodes))
	stack := container.Stack[frame]{}

	for _, root := range g.order {
		if state[root] == done {
			continue
		}
		stack.Push(frame{id: root})
		for !stack.Empty() {
			f := stack.Pop()
			if f.expanded {
				state[f.id] = done
				order = append(order, f.id)
				continue
			}
			switch state[f.id] {
			case done:
				continue
			case visiting:
				return nil, debug.Errorf("Graph %q: cycle through node %q", g.ID, f.id)
			}
			state[f.id] = visiting
			stack.Push(frame{id: f.id, expanded: true})

			ports := slices.Sorted(maps.Keys(g.links[f.id]))
			for i := len(ports) - 1; i >= 0; i-- {
				from := g.links[f.id][ports[i]].From
				switch state[from] {
				case visiting:
					return nil, debug.Errorf("Graph %q: cycle through node %q", g.ID, from)
				case unvisited:
					stack.Push(frame{id: from})
				}
			}
		}
	}
	return order, nil
}

// restore fills every output of n from the preview cache, it reports false when any output is missing.
func (g *Graph) restore(n *node.Node) bool {
	ports := slices.Sorted(maps.Keys(n.Outputs))
	values := make([][]float32, len(ports))
	for i, port := range ports {
		data, ok := g.cache.Retrieve(cacheKey(n.ID, port))
		if !ok {
			return false
		}
		values[i] = data
	}
	for i, port := range ports {
		if err := n.Outputs[port].Unflatten(values[i]); err != nil {
			instance.logger.WPrintf("%s: cached %q does not fit: %v", n, port, err)
			return false
		}
	}
	return true
}

/*
Update brings every node up to date. Nodes whose outputs are all in the
preview cache are restored from it, the others are computed and stored. ctx
is checked between nodes.
*/
func (g *Graph) Update(ctx context.Context) (Report, error) {
	start := time.Now()
	report := Report{Backends: map[string]node.Backend{}}

	order, err := g.TopologicalOrder()
	if err != nil {
		return report, err
	}
	g.log.GraphComputeStart(g.ID, len(order))

	for _, id := range order {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		n := g.nodes[id]
		if g.restore(n) {
			report.Cached++
			g.log.NodeCompute(termlog.NodeEvent{ID: id, Kind: string(n.Kind), CacheHit: true})
			continue
		}

		backend, err := g.dispatcher.Compute(n)
		if err != nil {
			g.log.Errorf("Node %s: %v", n, err)
			return report, debug.ErrorWrapf(err, "Graph %q", g.ID)
		}
		for port, h := range n.Outputs {
			g.cache.Store(cacheKey(id, port), h.Flatten())
		}
		report.Computed++
		report.Backends[id] = backend

		threads := 1
		if backend != node.BackendCPU {
			threads = 0
		}
		g.log.NodeCompute(termlog.NodeEvent{
			ID:       id,
			Kind:     string(n.Kind),
			Backend:  backend.String(),
			Duration: n.Runtime.LastDuration,
			Threads:  threads,
		})
	}

	report.Duration = time.Since(start)
	g.log.GraphComputeEnd(g.ID, report.Duration, report.Computed, report.Cached)
	return report, nil
}
