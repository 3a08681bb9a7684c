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
Package termlog prints the user facing events of a graph evaluation to a
terminal. Lines are colored by severity when the output supports it and
filtered by a level from 0 (errors only) to 4 (trace).
*/
package termlog

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/muesli/termenv"
)

type Level int

const (
	LevelError Level = iota
	LevelWarning
	LevelInfo
	LevelDebug
	LevelTrace
)

func (l Level) String() string {
	switch l {
	case LevelError:
		return "ERROR"
	case LevelWarning:
		return "WARN"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	case LevelTrace:
		return "TRACE"
	default:
		return fmt.Sprintf("Unknown: %d", int(l))
	}
}

func (l Level) color() termenv.Color {
	switch l {
	case LevelError:
		return termenv.ANSIRed
	case LevelWarning:
		return termenv.ANSIYellow
	case LevelInfo:
		return termenv.ANSIGreen
	case LevelDebug:
		return termenv.ANSICyan
	default:
		return termenv.ANSIBrightBlack
	}
}

const DefaultStutterThreshold = 150 * time.Millisecond

type NodeEvent struct {
	ID       string
	Kind     string
	Backend  string
	Duration time.Duration
	CacheHit bool

	// Threads is the number of CPU threads used, 0 when the node ran on a device.
	Threads int
}

type Logger struct {
	mtx     sync.Mutex
	out     *termenv.Output
	level   Level
	stutter time.Duration
}

// New returns a Logger writing to w, opts can force a color profile.
func New(w io.Writer, level Level, opts ...termenv.OutputOption) *Logger {
	return &Logger{
		out:     termenv.NewOutput(w, opts...),
		level:   clampLevel(level),
		stutter: DefaultStutterThreshold,
	}
}

// Default writes to stderr at LevelInfo.
func Default() *Logger {
	return New(os.Stderr, LevelInfo)
}

func clampLevel(l Level) Level {
	return max(LevelError, min(LevelTrace, l))
}

func (l *Logger) Level() Level {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return l.level
}

// SetLevel sets the most verbose level printed, values outside 0..4 are clamped.
func (l *Logger) SetLevel(level Level) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.level = clampLevel(level)
}

func (l *Logger) SetStutterThreshold(d time.Duration) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.stutter = d
}

func (l *Logger) Enabled(level Level) bool {
	return level <= l.Level()
}

func (l *Logger) print(level Level, format string, args ...any) {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	if level > l.level {
		return
	}
	tag := l.out.String(fmt.Sprintf("[%-5s]", level)).Foreground(level.color())
	if level <= LevelWarning {
		tag = tag.Bold()
	}
	fmt.Fprintf(l.out, "%s %s %s\n",
		l.out.String(time.Now().Format("15:04:05.000")).Faint(), tag, fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(format string, args ...any) {
	l.print(LevelError, format, args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	l.print(LevelWarning, format, args...)
}

func (l *Logger) Infof(format string, args ...any) {
	l.print(LevelInfo, format, args...)
}

func (l *Logger) Debugf(format string, args ...any) {
	l.print(LevelDebug, format, args...)
}

func (l *Logger) Tracef(format string, args ...any) {
	l.print(LevelTrace, format, args...)
}

func (l *Logger) GraphComputeStart(graph string, nodes int) {
	l.print(LevelInfo, "Graph %q: computing %d nodes", graph, nodes)
}

func (l *Logger) GraphComputeEnd(graph string, d time.Duration, computed, cached int) {
	l.print(LevelInfo, "Graph %q: done in %v (%d computed, %d from cache)", graph, d, computed, cached)
}

// NodeCompute reports one node and adds a stutter warning when it took longer than the threshold.
func (l *Logger) NodeCompute(e NodeEvent) {
	if e.CacheHit {
		l.print(LevelDebug, "Node %s(%s): cache hit", e.ID, e.Kind)
		return
	}
	l.print(LevelInfo, "Node %s(%s): %s %v threads: %d", e.ID, e.Kind, e.Backend, e.Duration, e.Threads)

	l.mtx.Lock()
	stutter := l.stutter
	l.mtx.Unlock()
	if stutter > 0 && e.Duration > stutter {
		l.print(LevelWarning, "Stutter: node %s(%s) took %v on %s (threshold %v)", e.ID, e.Kind, e.Duration, e.Backend, stutter)
	}
}

func (l *Logger) VulkanInfo(format string, args ...any) {
	l.print(LevelInfo, "[Vulkan] "+format, args...)
}

func (l *Logger) VulkanError(err error) {
	l.print(LevelError, "[Vulkan] %v", err)
}
