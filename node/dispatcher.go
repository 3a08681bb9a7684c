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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"goarrg.com/debug"
)

// Preferences is the user's backend choice, GPU is the global switch and Disabled turns it off per kind.
type Preferences struct {
	GPU      bool
	Disabled map[Kind]bool
}

func (p Preferences) GPUEnabled(kind Kind) bool {
	return p.GPU && !p.Disabled[kind]
}

type metrics struct {
	computes  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	fallbacks *prometheus.CounterVec
	sanitized *prometheus.CounterVec
}

// newMetrics registers on reg, a nil reg creates unregistered collectors.
func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		computes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hesiod_node_computes_total",
			Help: "Number of node computations by kind and backend",
		}, []string{"kind", "backend"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hesiod_node_compute_duration_seconds",
			Help:    "Duration of node computations by kind and backend",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.15, 0.5, 1, 5},
		}, []string{"kind", "backend"}),
		fallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hesiod_node_gpu_fallbacks_total",
			Help: "Number of GPU attempts that fell back to the CPU",
		}, []string{"kind"}),
		sanitized: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hesiod_node_sanitized_values_total",
			Help: "Number of GPU readback values replaced by zero",
		}, []string{"kind"}),
	}
}

/*
Dispatcher computes nodes on the backend allowed by Preferences. It is
synchronous and not safe for concurrent use, the graph runtime calls it
serially in topological order.
*/
type Dispatcher struct {
	gpu     *GPU
	prefs   Preferences
	metrics *metrics
}

// NewDispatcher returns a dispatcher using gpu, which may be nil for CPU only operation.
func NewDispatcher(gpu *GPU, prefs Preferences, reg prometheus.Registerer) *Dispatcher {
	return &Dispatcher{
		gpu:     gpu,
		prefs:   prefs,
		metrics: newMetrics(reg),
	}
}

func (d *Dispatcher) Preferences() Preferences {
	return d.prefs
}

func (d *Dispatcher) SetPreferences(p Preferences) {
	d.prefs = p
}

/*
Compute runs n's operator and its post-processing and returns the backend
used. A heightmap without tiles makes it a no-op reported as BackendNone.
*/
func (d *Dispatcher) Compute(n *Node) (Backend, error) {
	op, ok := operators[n.Kind]
	if !ok {
		return BackendNone, debug.Errorf("Unknown node kind %q", n.Kind)
	}
	if err := checkCompatible(n); err != nil {
		return BackendNone, err
	}

	start := time.Now()
	if n.Config.Tiling.Size() == 0 {
		n.Runtime.record(BackendNone, start)
		return BackendNone, nil
	}

	backend := BackendCPU
	n.sanitized = 0
	if d.prefs.GPUEnabled(n.Kind) && op.Vulkan != nil && d.gpu != nil {
		if op.Vulkan(n, d.gpu) {
			backend = BackendVulkan
		} else {
			d.metrics.fallbacks.WithLabelValues(string(n.Kind)).Inc()
			instance.logger.VPrintf("%s: GPU path unavailable, falling back to CPU", n)
		}
	}
	if backend == BackendCPU {
		n.sanitized = 0
		op.CPU(n)
	}
	if n.sanitized > 0 {
		instance.logger.WPrintf("%s: replaced [%d] invalid GPU readback values with 0", n, n.sanitized)
		d.metrics.sanitized.WithLabelValues(string(n.Kind)).Add(float64(n.sanitized))
	}

	postProcess(n, op)
	n.Runtime.record(backend, start)

	labels := []string{string(n.Kind), backend.String()}
	d.metrics.computes.WithLabelValues(labels...).Inc()
	d.metrics.duration.WithLabelValues(labels...).Observe(n.Runtime.LastDuration.Seconds())
	return backend, nil
}

// postProcess applies the envelope, inverse and remap attributes of primitives, then smooths every output's overlap.
func postProcess(n *Node, op Operator) {
	out := n.Out()
	if op.Primitive {
		if env := n.Input(PortEnvelope); env != nil {
			out.Multiply(env)
		}
		if n.Attrs.Bool("inverse") {
			out.Inverse()
		}
		if n.Attrs.Bool("remap") {
			out.Remap(n.Attrs.Float("remap_min"), n.Attrs.Float("remap_max"))
		}
	}
	for _, h := range n.Outputs {
		h.SmoothOverlap()
	}
}
