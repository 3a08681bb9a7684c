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
Package node computes graph nodes. Every node kind is a row in a table of
(setup, cpu, vulkan) functions and the Dispatcher picks the backend per
call: the Vulkan routine when the user allows it and it accepts the node's
inputs and attributes, the CPU reference otherwise.
*/
package node

import (
	"fmt"
	"slices"
	"time"

	"goarrg.com/debug"
	"golang.org/x/exp/maps"

	"hesiod.dev/vkc/erosion"
	"hesiod.dev/vkc/heightmap"
)

var instance = struct {
	logger *debug.Logger
}{
	logger: debug.NewLogger("hesiod", "node"),
}

func SetLogLevel(l uint32) {
	instance.logger.SetLevel(l)
}

type Kind string

const (
	KindNoiseFBM        Kind = "noise_fbm"
	KindGaborWave       Kind = "gabor_wave"
	KindAbs             Kind = "abs"
	KindClamp           Kind = "clamp"
	KindGain            Kind = "gain"
	KindGammaCorrection Kind = "gamma_correction"
	KindFold            Kind = "fold"
	KindRescale         Kind = "rescale"
	KindSmoothCpulse    Kind = "smooth_cpulse"
	KindBlend           Kind = "blend"
	KindGradientNorm    Kind = "gradient_norm"
	KindHydraulicBlur   Kind = "hydraulic_blur"
	KindHydraulicStream Kind = "hydraulic_stream"
)

// Port names shared by the node kinds.
const (
	PortInput      = "input"
	PortInput1     = "input_1"
	PortInput2     = "input_2"
	PortDX         = "dx"
	PortDY         = "dy"
	PortControl    = "control"
	PortEnvelope   = "envelope"
	PortMask       = "mask"
	PortOutput     = "output"
	PortErosionMap = "erosion_map"
)

type Backend int

const (
	BackendNone Backend = iota
	BackendCPU
	BackendVulkan
	BackendOpenCL
)

func (b Backend) String() string {
	switch b {
	case BackendNone:
		return "none"
	case BackendCPU:
		return "cpu"
	case BackendVulkan:
		return "vulkan"
	case BackendOpenCL:
		return "opencl"
	default:
		return fmt.Sprintf("Unknown: %d", int(b))
	}
}

type RuntimeInfo struct {
	Created      time.Time
	LastUpdate   time.Time
	LastDuration time.Duration
	EvalCount    int
	LastBackend  Backend
}

func (r *RuntimeInfo) record(b Backend, start time.Time) {
	r.LastUpdate = time.Now()
	r.LastDuration = r.LastUpdate.Sub(start)
	r.EvalCount++
	r.LastBackend = b
}

// Attrs holds a node's attribute values, numbers may be stored as any Go numeric type.
type Attrs map[string]any

func (a Attrs) Clone() Attrs {
	return maps.Clone(a)
}

func (a Attrs) Float(key string) float32 {
	switch v := a[key].(type) {
	case float32:
		return v
	case float64:
		return float32(v)
	case int:
		return float32(v)
	case int32:
		return float32(v)
	case uint32:
		return float32(v)
	default:
		return 0
	}
}

func (a Attrs) Int(key string) int {
	switch v := a[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case uint32:
		return int(v)
	case float32:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func (a Attrs) Bool(key string) bool {
	v, _ := a[key].(bool)
	return v
}

func (a Attrs) String(key string) string {
	v, _ := a[key].(string)
	return v
}

/*
Node is one instance of a node kind. Inputs holds the connected upstream
outputs by port name, an absent or nil entry means the port is not
connected. Outputs are allocated by the kind's setup routine and owned by
the node.
*/
type Node struct {
	ID      string
	Kind    Kind
	Attrs   Attrs
	Config  heightmap.Config
	Inputs  map[string]*heightmap.Heightmap
	Outputs map[string]*heightmap.Heightmap
	Runtime RuntimeInfo

	// ErosionMetrics totals the tiles of the last GPU hydraulic_stream run.
	ErosionMetrics erosion.Metrics

	// sanitized counts values replaced after GPU readbacks during the current compute.
	sanitized int
}

// New creates a node of a registered kind and runs its setup routine.
func New(id string, kind Kind, cfg heightmap.Config) (*Node, error) {
	op, ok := operators[kind]
	if !ok {
		return nil, debug.Errorf("Unknown node kind %q", kind)
	}
	if err := cfg.Validate(); err != nil {
		return nil, debug.ErrorWrapf(err, "Node %q", id)
	}
	n := &Node{
		ID:      id,
		Kind:    kind,
		Attrs:   Attrs{},
		Config:  cfg,
		Inputs:  map[string]*heightmap.Heightmap{},
		Outputs: map[string]*heightmap.Heightmap{},
		Runtime: RuntimeInfo{Created: time.Now()},
	}
	if op.Primitive {
		n.Attrs["inverse"] = false
		n.Attrs["remap"] = true
		n.Attrs["remap_min"] = float32(0)
		n.Attrs["remap_max"] = float32(1)
	}
	op.Setup(n)
	if _, ok := n.Outputs[PortOutput]; !ok {
		n.Outputs[PortOutput] = heightmap.MustNew(cfg, 0)
	}
	return n, nil
}

// AcceptsInput reports whether the node kind reads port.
func (n *Node) AcceptsInput(port string) bool {
	return slices.Contains(operators[n.Kind].Inputs, port)
}

func (n *Node) Input(port string) *heightmap.Heightmap {
	return n.Inputs[port]
}

func (n *Node) Connected(port string) bool {
	return n.Inputs[port] != nil
}

func (n *Node) Output(port string) *heightmap.Heightmap {
	return n.Outputs[port]
}

// Out returns the main output.
func (n *Node) Out() *heightmap.Heightmap {
	return n.Outputs[PortOutput]
}

// Connect sets the value feeding port, nil disconnects it.
func (n *Node) Connect(port string, h *heightmap.Heightmap) {
	if h == nil {
		delete(n.Inputs, port)
		return
	}
	n.Inputs[port] = h
}

// radiusPixels converts the fractional "radius" attribute to pixels of the global shape.
func (n *Node) radiusPixels(key string) int {
	return int(n.Attrs.Float(key) * float32(n.Config.Shape.X))
}

func (n *Node) String() string {
	return fmt.Sprintf("%s(%s)", n.ID, n.Kind)
}
