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

package vkc

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"goarrg.com/debug"
	"goarrg.com/gmath"

	"hesiod.dev/vkc/internal/util"
)

func newTestContext(t *testing.T) *Context {
	t.Helper()
	cfg := DefaultConfig()
	ctx := NewContext(cfg)
	if !ctx.Ready() {
		t.Skipf("no Vulkan device: %v", ctx.Err())
	}
	t.Cleanup(ctx.Destroy)
	return ctx
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{}
	require.NoError(t, cfg.validate())
	assert.Equal(t, defaultApplicationName, cfg.ApplicationName)
	assert.Equal(t, MinAPI, cfg.API)
	assert.Equal(t, ".", cfg.AssetDir)

	cfg = Config{API: MaxAPI + 1}
	assert.Error(t, cfg.validate())
}

func TestDisabledContext(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Disabled = true
	ctx := NewContext(cfg)

	assert.False(t, ctx.Ready())
	assert.Equal(t, StateFailed, ctx.State())
	assert.True(t, errors.Is(ctx.Err(), ErrorDeviceInitFailed{}))

	_, err := ctx.FindMemoryType(^uint32(0), MemoryPropertyDeviceLocal)
	assert.True(t, errors.Is(err, ErrorDeviceInitFailed{}))

	err = ctx.SubmitAndWait(func(*CommandBuffer) { t.Fatal("record called on failed context") })
	assert.True(t, errors.Is(err, ErrorDeviceInitFailed{}))

	_, err = NewStorageBuffer(ctx, 64)
	assert.True(t, errors.Is(err, ErrorDeviceInitFailed{}))

	cache := NewPipelineCache(ctx)
	err = cache.Dispatch("abs", make([]byte, 12), nil, gmath.Extent3u32{X: 1, Y: 1})
	assert.True(t, errors.Is(err, ErrorDeviceInitFailed{}))
	assert.Equal(t, 0, cache.Len())

	ctx.Destroy()
}

func TestFailKeepsCause(t *testing.T) {
	c := &Context{}
	c.noCopy.Init()
	c.fail(debug.ErrorWrapf(ErrorNoSuitableDevice{}, "No physical devices"))

	assert.Equal(t, StateFailed, c.State())
	assert.True(t, errors.Is(c.Err(), ErrorDeviceInitFailed{}))
	assert.True(t, errors.Is(c.Err(), ErrorNoSuitableDevice{}))
	assert.False(t, errors.Is(c.Err(), ErrorAllocationFailed{}))
	assert.Contains(t, c.Err().Error(), "No physical devices")
}

func TestBufferRoundTrip(t *testing.T) {
	ctx := newTestContext(t)

	staging, err := NewStagingBuffer(ctx, 16)
	require.NoError(t, err)
	defer staging.Destroy()

	in := []float32{1, 2, 3, 4}
	require.NoError(t, staging.UploadFloats(in))
	out := make([]float32, 4)
	require.NoError(t, staging.DownloadFloats(out))
	assert.Equal(t, in, out)
	staging.Destroy()

	device, err := NewStorageBuffer(ctx, 16)
	require.NoError(t, err)
	defer device.Destroy()

	if !ctx.HasMemoryType(MemoryPropertyDeviceLocal | MemoryPropertyHostVisible) {
		err = device.Upload(make([]byte, 16))
		assert.True(t, errors.Is(err, ErrorNotHostVisible{}))
	}
}

func TestCopyThroughDeviceBuffer(t *testing.T) {
	ctx := newTestContext(t)

	staging, err := NewStagingBuffer(ctx, 32)
	require.NoError(t, err)
	defer staging.Destroy()
	device, err := NewStorageBuffer(ctx, 16)
	require.NoError(t, err)
	defer device.Destroy()

	in := []float32{1, 2, 3, 4}
	require.NoError(t, staging.UploadAt(16, util.SliceAsBytes(in)))
	require.NoError(t, ctx.SubmitAndWait(func(cb *CommandBuffer) {
		cb.CopyBuffer(staging, device, []BufferCopyRegion{{SrcBufferOffset: 16, Size: 16}})
		cb.MemoryBarrier(MemoryBarrier{
			Src: MemoryBarrierInfo{Stage: PipelineStageTransfer, Access: AccessFlagTransferWrite},
			Dst: MemoryBarrierInfo{Stage: PipelineStageTransfer, Access: AccessFlagTransferRead},
		})
		cb.CopyBuffer(device, staging, []BufferCopyRegion{{Size: 16}})
		cb.MemoryBarrier(MemoryBarrier{
			Src: MemoryBarrierInfo{Stage: PipelineStageTransfer, Access: AccessFlagTransferWrite},
			Dst: MemoryBarrierInfo{Stage: PipelineStageHost, Access: AccessFlagHostRead},
		})
	}))

	out := make([]float32, 8)
	require.NoError(t, staging.DownloadFloats(out))
	assert.Equal(t, []float32{1, 2, 3, 4, 1, 2, 3, 4}, out)

	tail := make([]float32, 2)
	require.NoError(t, staging.DownloadAt(24, util.SliceAsBytes(tail)))
	assert.Equal(t, []float32{3, 4}, tail)
	assert.Panics(t, func() { _ = staging.UploadAt(24, make([]byte, 16)) })
}

func TestFillBuffer(t *testing.T) {
	ctx := newTestContext(t)

	b, err := NewHostStorageBuffer(ctx, 64)
	require.NoError(t, err)
	defer b.Destroy()

	require.NoError(t, ctx.SubmitAndWait(func(cb *CommandBuffer) {
		cb.FillBuffer(b, 0, 64, math.Float32bits(1))
		cb.MemoryBarrier(MemoryBarrier{
			Src: MemoryBarrierInfo{Stage: PipelineStageTransfer, Access: AccessFlagTransferWrite},
			Dst: MemoryBarrierInfo{Stage: PipelineStageHost, Access: AccessFlagHostRead},
		})
	}))

	out := make([]float32, 16)
	require.NoError(t, b.DownloadFloats(out))
	for _, v := range out {
		assert.Equal(t, float32(1), v)
	}
}

func TestPipelineCacheReuse(t *testing.T) {
	ctx := newTestContext(t)
	if _, err := os.Stat(filepath.Join(ctx.Config().AssetDir, "abs.spv")); err != nil {
		t.Skipf("abs.spv not built: %v", err)
	}
	cache := NewPipelineCache(ctx)
	defer cache.Destroy()

	in, err := NewHostStorageBuffer(ctx, 16)
	require.NoError(t, err)
	defer in.Destroy()
	out, err := NewHostStorageBuffer(ctx, 16)
	require.NoError(t, err)
	defer out.Destroy()

	push12 := make([]byte, 12)
	push16 := make([]byte, 16)
	groups := gmath.Extent3u32{X: 1, Y: 1}

	require.NoError(t, cache.Dispatch("abs", push12, []*DeviceBuffer{in, out}, groups))
	require.NoError(t, cache.Dispatch("abs", push12, []*DeviceBuffer{in, out}, groups))
	assert.Equal(t, 1, cache.Len())
	assert.True(t, cache.Has("abs", 2, 12))

	require.NoError(t, cache.Dispatch("abs", push16, []*DeviceBuffer{in, out}, groups))
	assert.Equal(t, 2, cache.Len())
	assert.True(t, cache.Has("abs", 2, 16))
}

func TestPipelineCacheMissingShader(t *testing.T) {
	ctx := newTestContext(t)
	cache := NewPipelineCache(ctx)
	defer cache.Destroy()

	b, err := NewHostStorageBuffer(ctx, 16)
	require.NoError(t, err)
	defer b.Destroy()

	err = cache.Dispatch("does_not_exist", nil, []*DeviceBuffer{b}, gmath.Extent3u32{X: 1, Y: 1})
	assert.True(t, errors.Is(err, ErrorShaderBuildFailed{}))
	assert.Equal(t, 0, cache.Len())
}
