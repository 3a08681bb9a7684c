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

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"goarrg.com/debug"

	"hesiod.dev/vkc"
	"hesiod.dev/vkc/graph"
	"hesiod.dev/vkc/heightmap"
	"hesiod.dev/vkc/node"
	"hesiod.dev/vkc/preview"
	"hesiod.dev/vkc/settings"
	"hesiod.dev/vkc/termlog"
)

var flags flag.FlagSet

type shape heightmap.Shape

func (s *shape) UnmarshalText(data []byte) error {
	w, h, ok := strings.Cut(string(data), "x")
	if !ok {
		return debug.Errorf("Shape not in the format \"WxH\"")
	}
	x, err := strconv.Atoi(w)
	if err != nil {
		return debug.ErrorWrapf(err, "Invalid shape")
	}
	y, err := strconv.Atoi(h)
	if err != nil {
		return debug.ErrorWrapf(err, "Invalid shape")
	}
	*s = shape{X: x, Y: y}
	return nil
}

func (s shape) MarshalText() (text []byte, err error) {
	return fmt.Appendf(nil, "%dx%d", s.X, s.Y), nil
}

type options struct {
	settingsPath string
	assets       string
	size         shape
	tiling       shape
	overlap      float64
	gpu          bool
	iterations   int
	runs         int
	metrics      bool
	dumpCache    bool
	save         bool
}

func main() {
	debug.SetLevel(debug.LogLevelWarn)

	flags.Usage = help
	flags.Init("", flag.ExitOnError)

	o := options{}
	v := flags.Bool("v", false, "Verbose - Print high level tasks")
	vv := flags.Bool("vv", false, "Very Verbose - Print everything")

	flags.StringVar(&o.settingsPath, "settings", "", "Sets the settings file.\n"+
		"Defaults to settings.json in the platform config directory.")
	flags.StringVar(&o.assets, "assets", "", "Sets the directory holding the compiled ${shader}.spv files.\n"+
		"Overrides vulkan.asset_dir from the settings.")
	flags.TextVar(&o.size, "size", shape{X: 256, Y: 256}, "Sets the heightmap shape in the format \"WxH\".")
	flags.TextVar(&o.tiling, "tiling", shape{X: 4, Y: 4}, "Sets the tiling in the format \"WxH\", the shape must divide evenly.")
	flags.Float64Var(&o.overlap, "overlap", 0.25, "Sets the tile overlap as a fraction of the tile size, in [0, 0.5].")
	flags.BoolVar(&o.gpu, "gpu", true, "Allows Vulkan compute. Overrides performance.use_gpu from the settings.")
	flags.IntVar(&o.iterations, "iterations", 0, "Sets the erosion relaxation pass count, 0 uses max(width, height) of a tile.\n"+
		"Overrides performance.erosion_iterations from the settings.")
	flags.IntVar(&o.runs, "runs", 2, "Sets how many times the graph is evaluated.")
	flags.BoolVar(&o.metrics, "metrics", false, "Prints the dispatcher metrics in the Prometheus text format.")
	flags.BoolVar(&o.dumpCache, "dump-pipelines", false, "Prints the pipeline cache as JSON.")
	flags.BoolVar(&o.save, "save-settings", false, "Writes the effective settings back to the settings file.")

	err := flags.Parse(os.Args[1:])
	if err != nil {
		panic(err)
	}

	if *v {
		debug.SetLevel(debug.LogLevelInfo)
	} else if *vv {
		debug.SetLevel(debug.LogLevelVerbose)
	}
	if len(flags.Args()) > 0 {
		debug.EPrintf("hsdc does not take positional arguments.")
		help()
		os.Exit(2)
	}

	store := settings.NewStore(o.settingsPath)
	store.Load()
	applyFlags(store, o)
	if o.save {
		if err := store.Save(); err != nil {
			debug.WPrintf("%v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, store.Get(), o); err != nil {
		debug.EPrintf("%v", err)
		os.Exit(1)
	}
}

// applyFlags overrides the loaded settings with the flags given on the command line.
func applyFlags(store *settings.Store, o options) {
	set := map[string]bool{}
	flags.Visit(func(f *flag.Flag) { set[f.Name] = true })

	store.Update(func(s *settings.Settings) {
		if set["assets"] {
			s.Vulkan.AssetDir = o.assets
		}
		if set["gpu"] {
			s.Performance.UseGPU = o.gpu
		}
		if set["iterations"] {
			s.Performance.ErosionIterations = o.iterations
		}
	})
}

func vulkanConfig(s settings.Settings) vkc.Config {
	cfg := vkc.DefaultConfig()
	cfg.Validation = s.Vulkan.Validation
	cfg.PreferredDevice = s.Vulkan.PreferredDevice
	cfg.Disabled = !s.Performance.UseGPU
	if s.Vulkan.AssetDir != "" {
		cfg.AssetDir = s.Vulkan.AssetDir
	}
	return cfg
}

func preferences(s settings.Settings) node.Preferences {
	p := node.Preferences{GPU: s.Performance.UseGPU, Disabled: map[node.Kind]bool{}}
	for _, k := range s.Performance.DisabledGPUNodes {
		p.Disabled[node.Kind(k)] = true
	}
	return p
}

func run(ctx context.Context, s settings.Settings, o options) error {
	log := termlog.Default()
	log.SetLevel(termlog.Level(s.Logging.Level))
	log.SetStutterThreshold(time.Duration(s.Logging.StutterThresholdMS) * time.Millisecond)

	gpu := node.NewGPU(vulkanConfig(s))
	defer gpu.Destroy()
	if gpu.Ready() {
		p := gpu.Ctx.Properties()
		log.VulkanInfo("%s (%s, %s)", p.Name, p.Type, p.Vendor)
	} else if s.Performance.UseGPU {
		log.VulkanError(gpu.Ctx.Err())
	}

	reg := prometheus.NewRegistry()
	cache := preview.New(s.Performance.PreviewCacheMB)
	d := node.NewDispatcher(gpu, preferences(s), reg)

	cfg := heightmap.Config{
		Shape:   heightmap.Shape(o.size),
		Tiling:  heightmap.Shape(o.tiling),
		Overlap: float32(o.overlap),
	}
	g := graph.New("hsdc", cfg, d, cache, log)
	if err := buildTerrain(g, s.Performance.ErosionIterations); err != nil {
		return err
	}

	for i := 0; i < o.runs; i++ {
		cache.ResetStats()
		report, err := g.Update(ctx)
		if err != nil {
			return err
		}
		printReport(i, g, report, cache)
	}

	if erode := g.Node("erode"); erode.Runtime.LastBackend == node.BackendVulkan {
		fmt.Printf("\nErosion: %v\n", erode.ErosionMetrics)
	}
	if o.dumpCache {
		j, err := json.MarshalIndent(gpu.Cache, "", "  ")
		if err != nil {
			return debug.ErrorWrapf(err, "Failed to encode pipeline cache")
		}
		fmt.Printf("\n%s\n", j)
	}
	if o.metrics {
		return printMetrics(reg)
	}
	return nil
}

// buildTerrain adds noise_fbm -> gain -> hydraulic_stream -> clamp.
func buildTerrain(g *graph.Graph, iterations int) error {
	nodes := []struct {
		id   string
		kind node.Kind
	}{
		{"noise", node.KindNoiseFBM},
		{"gain", node.KindGain},
		{"erode", node.KindHydraulicStream},
		{"clamp", node.KindClamp},
	}
	for _, n := range nodes {
		if _, err := g.AddNode(n.id, n.kind); err != nil {
			return err
		}
	}
	if err := g.SetAttr("erode", "iterations", iterations); err != nil {
		return err
	}
	for i := 1; i < len(nodes); i++ {
		if err := g.Connect(nodes[i-1].id, node.PortOutput, nodes[i].id, node.PortInput); err != nil {
			return err
		}
	}
	return nil
}

func printReport(run int, g *graph.Graph, report graph.Report, cache *preview.Cache) {
	fmt.Printf("\nRun %d: %v, %d computed, %d cached\n", run+1, report.Duration, report.Computed, report.Cached)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "node\tkind\tbackend\ttime\tevaluations\n")
	for _, id := range g.Nodes() {
		n := g.Node(id)
		backend := "cache"
		if b, ok := report.Backends[id]; ok {
			backend = b.String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%d\n", id, n.Kind, backend, n.Runtime.LastDuration, n.Runtime.EvalCount)
	}
	w.Flush()

	fmt.Printf("Preview cache: hit rate %.1f%%, %.2f MB (%.1f%% of limit), %d entries\n",
		cache.HitRate(), cache.MemoryUsageMB(), cache.CachePercentage(), cache.Len())
}

func printMetrics(reg *prometheus.Registry) error {
	families, err := reg.Gather()
	if err != nil {
		return debug.ErrorWrapf(err, "Failed to gather metrics")
	}
	fmt.Println()
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(os.Stdout, mf); err != nil {
			return debug.ErrorWrapf(err, "Failed to write metrics")
		}
	}
	return nil
}

func help() {
	fmt.Fprintf(os.Stderr, "hsdc builds a small terrain graph (noise_fbm -> gain -> hydraulic_stream -> clamp),\n"+
		"evaluates it several times and prints the backend, timing and preview cache statistics of every run.\n"+
		"\nThe first run computes every node, later runs are served by the preview cache.\n"+
		"Vulkan is used when a device is available and the shaders are compiled, see shaders/generate.go.\n"+
		"\n")
	args := ""
	flags.VisitAll(func(f *flag.Flag) {
		n, u := flag.UnquoteUsage(f)
		if f.DefValue != "" {
			u += "\n\nDefaults to \"" + f.DefValue + "\"."
		}
		args += "\t-" + f.Name + " " + n + "\n\t\t" + strings.ReplaceAll(strings.TrimSpace(u), "\n", "\n\t\t") + "\n"
	})
	fmt.Fprintf(os.Stderr, "Usage:\n\t%s [arguments]\n\nArguments:\n%s", filepath.Base(os.Args[0]), args)
}
