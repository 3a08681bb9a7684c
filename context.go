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
	"bytes"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	vk "github.com/vulkan-go/vulkan"
	"goarrg.com/debug"
	"goarrg.com/gmath"

	"hesiod.dev/vkc/internal/util"
)

type State uint32

const (
	StateUninitialized State = iota
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "Ready"
	case StateFailed:
		return "Failed"
	default:
		return "Uninitialized"
	}
}

var (
	loaderInitOnce sync.Once
	loaderInitErr  error
)

func initLoader() error {
	loaderInitOnce.Do(func() {
		defer func() {
			if r := recover(); r != nil {
				loaderInitErr = debug.Errorf("Vulkan loader panicked: %v", r)
			}
		}()
		vk.SetDefaultGetInstanceProcAddr()
		if err := vk.Init(); err != nil {
			loaderInitErr = debug.ErrorWrapf(err, "Failed to load Vulkan")
		}
	})
	return loaderInitErr
}

/*
Context owns the Vulkan instance, the selected physical device, the logical
device with a single compute queue and the command pool used for one shot
submissions. A Context that failed to initialize stays usable as a value,
every GPU operation on it returns ErrorDeviceInitFailed.
*/
type Context struct {
	noCopy util.NoCopy
	mtx    sync.Mutex

	config Config
	state  State
	err    error

	vkInstance       vk.Instance
	vkDebugCallback  vk.DebugReportCallback
	vkPhysicalDevice vk.PhysicalDevice
	vkDevice         vk.Device
	vkQueue          vk.Queue
	vkCommandPool    vk.CommandPool

	properties Properties
}

/*
NewContext runs the full initialization protocol and never fails, callers
check Ready and fall back to the CPU when it is false.
*/
func NewContext(cfg Config) *Context {
	c := &Context{config: cfg}
	c.noCopy.Init()

	if err := c.config.validate(); err != nil {
		c.fail(err)
		return c
	}
	if c.config.Disabled {
		c.fail(debug.Errorf("GPU disabled by config"))
		return c
	}

	start := time.Now()
	instance.logger.IPrintf("User requested config: %s", prettyString(&c.config))

	if err := c.init(); err != nil {
		c.destroyHandles()
		c.fail(err)
		return c
	}

	c.state = StateReady
	instance.logger.IPrintf("%s", prettyString(&c.properties))
	instance.logger.IPrintf("Initialization took: %v", time.Since(start))
	return c
}

// fail keeps err matchable with errors.Is next to ErrorDeviceInitFailed.
func (c *Context) fail(err error) {
	c.state = StateFailed
	c.err = errors.Join(ErrorDeviceInitFailed{}, err)
	instance.logger.WPrintf("GPU unavailable, falling back to CPU: %v", err)
}

func (c *Context) init() error {
	if err := initLoader(); err != nil {
		return err
	}
	if err := c.createInstance(); err != nil {
		return err
	}
	if err := c.selectPhysicalDevice(); err != nil {
		return err
	}
	if err := c.createDevice(); err != nil {
		return err
	}
	return c.createCommandPool()
}

func enumerateInstanceLayers() map[string]bool {
	var count uint32
	if vk.EnumerateInstanceLayerProperties(&count, nil) != vk.Success {
		return nil
	}
	props := make([]vk.LayerProperties, count)
	if vk.EnumerateInstanceLayerProperties(&count, props) != vk.Success {
		return nil
	}
	ret := make(map[string]bool, count)
	for i := range props {
		props[i].Deref()
		ret[vk.ToString(props[i].LayerName[:])] = true
	}
	return ret
}

func enumerateInstanceExtensions() map[string]bool {
	var count uint32
	if vk.EnumerateInstanceExtensionProperties("", &count, nil) != vk.Success {
		return nil
	}
	props := make([]vk.ExtensionProperties, count)
	if vk.EnumerateInstanceExtensionProperties("", &count, props) != vk.Success {
		return nil
	}
	ret := make(map[string]bool, count)
	for i := range props {
		props[i].Deref()
		ret[vk.ToString(props[i].ExtensionName[:])] = true
	}
	return ret
}

func (c *Context) createInstance() error {
	var layers, extensions []string
	debugReport := false

	if c.config.Validation {
		if enumerateInstanceLayers()[validationLayerName] {
			layers = append(layers, validationLayerName)
		} else {
			instance.logger.WPrintf("Validation requested but %q is not installed", validationLayerName)
		}

		available := enumerateInstanceExtensions()
		if available[debugUtilsExtensionName] {
			extensions = append(extensions, debugUtilsExtensionName)
		}
		if available[debugReportExtensionName] {
			extensions = append(extensions, debugReportExtensionName)
			debugReport = len(layers) > 0
		}
	}

	appInfo := vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		PApplicationName:   cString(c.config.ApplicationName),
		ApplicationVersion: vk.MakeVersion(1, 0, 0),
		PEngineName:        cString("hesiod"),
		EngineVersion:      vk.MakeVersion(1, 0, 0),
		ApiVersion:         c.config.API,
	}
	info := vk.InstanceCreateInfo{
		SType:                   vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo:        &appInfo,
		EnabledLayerCount:       uint32(len(layers)),
		PpEnabledLayerNames:     cStrings(layers),
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: cStrings(extensions),
	}

	instance.logger.IPrintf("CreateInstance layers: %v extensions: %v", layers, extensions)
	var vkInstance vk.Instance
	if res := vk.CreateInstance(&info, nil, &vkInstance); res != vk.Success {
		return debug.ErrorWrapf(vk.Error(res), "Failed to create instance")
	}
	c.vkInstance = vkInstance
	if err := vk.InitInstance(c.vkInstance); err != nil {
		return debug.ErrorWrapf(err, "Failed to load instance functions")
	}

	if debugReport {
		cbInfo := vk.DebugReportCallbackCreateInfo{
			SType: vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags: vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit |
				vk.DebugReportPerformanceWarningBit),
			PfnCallback: vkDebugReport,
		}
		var cb vk.DebugReportCallback
		if res := vk.CreateDebugReportCallback(c.vkInstance, &cbInfo, nil, &cb); res != vk.Success {
			instance.logger.WPrintf("Failed to create debug report callback: %v", vk.Error(res))
		} else {
			c.vkDebugCallback = cb
		}
	}
	return nil
}

func (c *Context) selectPhysicalDevice() error {
	var count uint32
	if res := vk.EnumeratePhysicalDevices(c.vkInstance, &count, nil); res != vk.Success {
		return debug.ErrorWrapf(vk.Error(res), "Failed to enumerate physical devices")
	}
	if count == 0 {
		return debug.ErrorWrapf(ErrorNoSuitableDevice{}, "No physical devices")
	}
	devices := make([]vk.PhysicalDevice, count)
	if res := vk.EnumeratePhysicalDevices(c.vkInstance, &count, devices); res != vk.Success {
		return debug.ErrorWrapf(vk.Error(res), "Failed to enumerate physical devices")
	}

	candidates := make([]deviceCandidate, 0, len(devices))
	allProps := make([]vk.PhysicalDeviceProperties, len(devices))
	for i, d := range devices {
		vk.GetPhysicalDeviceProperties(d, &allProps[i])
		allProps[i].Deref()

		var numFamilies uint32
		vk.GetPhysicalDeviceQueueFamilyProperties(d, &numFamilies, nil)
		families := make([]vk.QueueFamilyProperties, numFamilies)
		vk.GetPhysicalDeviceQueueFamilyProperties(d, &numFamilies, families)

		candidate := deviceCandidate{
			name:       vk.ToString(allProps[i].DeviceName[:]),
			deviceType: DeviceType(allProps[i].DeviceType),
		}
		for j := range families {
			families[j].Deref()
			candidate.queueFamilies = append(candidate.queueFamilies, QueueFlags(families[j].QueueFlags))
		}
		instance.logger.VPrintf("Found device [%d]: %q type: %s queues: %v", i, candidate.name, candidate.deviceType, candidate.queueFamilies)
		candidates = append(candidates, candidate)
	}

	selected, err := selectDevice(candidates, c.config.PreferredDevice)
	if err != nil {
		return err
	}
	family, _ := selectQueueFamily(candidates[selected].queueFamilies)

	props := allProps[selected]
	props.Limits.Deref()

	var memProps vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(devices[selected], &memProps)
	memProps.Deref()

	c.vkPhysicalDevice = devices[selected]
	c.properties = Properties{
		Name:        candidates[selected].name,
		Vendor:      VendorID(props.VendorID),
		Type:        candidates[selected].deviceType,
		API:         props.ApiVersion,
		QueueFamily: family,
		QueueFlags:  candidates[selected].queueFamilies[family],
		Limits: Limits{
			MaxPushConstantsSize:           props.Limits.MaxPushConstantsSize,
			MaxStorageBufferRange:          props.Limits.MaxStorageBufferRange,
			MaxComputeWorkGroupInvocations: props.Limits.MaxComputeWorkGroupInvocations,
			MaxComputeWorkGroupCount: gmath.Extent3u32{
				X: props.Limits.MaxComputeWorkGroupCount[0],
				Y: props.Limits.MaxComputeWorkGroupCount[1],
				Z: props.Limits.MaxComputeWorkGroupCount[2],
			},
		},
	}
	for i := uint32(0); i < memProps.MemoryTypeCount; i++ {
		t := memProps.MemoryTypes[i]
		t.Deref()
		c.properties.MemoryTypes = append(c.properties.MemoryTypes, MemoryType{
			Flags:     MemoryPropertyFlags(t.PropertyFlags),
			HeapIndex: t.HeapIndex,
		})
	}

	if props.ApiVersion < MinAPI {
		return debug.ErrorWrapf(ErrorNoSuitableDevice{}, "Device %q supports API [%s] < [%s]",
			c.properties.Name, vkAPI2String(props.ApiVersion), vkAPI2String(MinAPI))
	}
	return nil
}

func (c *Context) createDevice() error {
	queueInfo := vk.DeviceQueueCreateInfo{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: c.properties.QueueFamily,
		QueueCount:       1,
		PQueuePriorities: []float32{1.0},
	}
	info := vk.DeviceCreateInfo{
		SType:                vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount: 1,
		PQueueCreateInfos:    []vk.DeviceQueueCreateInfo{queueInfo},
	}

	instance.logger.IPrintf("CreateDevice %q queue family [%d]", c.properties.Name, c.properties.QueueFamily)
	var device vk.Device
	if res := vk.CreateDevice(c.vkPhysicalDevice, &info, nil, &device); res != vk.Success {
		return debug.ErrorWrapf(vk.Error(res), "Failed to create device")
	}
	c.vkDevice = device

	var queue vk.Queue
	vk.GetDeviceQueue(c.vkDevice, c.properties.QueueFamily, 0, &queue)
	c.vkQueue = queue
	return nil
}

func (c *Context) createCommandPool() error {
	info := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
		QueueFamilyIndex: c.properties.QueueFamily,
	}
	var pool vk.CommandPool
	if res := vk.CreateCommandPool(c.vkDevice, &info, nil, &pool); res != vk.Success {
		return debug.ErrorWrapf(vk.Error(res), "Failed to create command pool")
	}
	c.vkCommandPool = pool
	return nil
}

func (c *Context) MarshalJSON() ([]byte, error) {
	buff := bytes.Buffer{}
	buff.WriteString("{")

	buff.WriteString(fmt.Sprintf("\"State\": %q,", c.state.String()))
	buff.WriteString(fmt.Sprintf("\"Config\": %s,", jsonString(&c.config)))
	if c.err != nil {
		buff.WriteString(fmt.Sprintf("\"Error\": %q,", c.err.Error()))
	}
	buff.WriteString(fmt.Sprintf("\"Properties\": %s", jsonString(&c.properties)))

	buff.WriteString("}")
	return buff.Bytes(), nil
}

func (c *Context) State() State {
	c.noCopy.Check()
	return c.state
}

func (c *Context) Ready() bool {
	c.noCopy.Check()
	return c.state == StateReady
}

// Err returns the initialization failure, nil when Ready.
func (c *Context) Err() error {
	c.noCopy.Check()
	return c.err
}

func (c *Context) checkReady() error {
	c.noCopy.Check()
	if c.state != StateReady {
		if c.err != nil {
			return c.err
		}
		return ErrorDeviceInitFailed{}
	}
	return nil
}

func (c *Context) Config() Config {
	c.noCopy.Check()
	return c.config
}

func (c *Context) Properties() Properties {
	c.noCopy.Check()
	ret := c.properties
	ret.MemoryTypes = slices.Clone(c.properties.MemoryTypes)
	return ret
}

func (c *Context) Instance() vk.Instance {
	c.noCopy.Check()
	return c.vkInstance
}

func (c *Context) PhysicalDevice() vk.PhysicalDevice {
	c.noCopy.Check()
	return c.vkPhysicalDevice
}

func (c *Context) Device() vk.Device {
	c.noCopy.Check()
	return c.vkDevice
}

func (c *Context) ComputeQueue() vk.Queue {
	c.noCopy.Check()
	return c.vkQueue
}

func (c *Context) ComputeQueueFamily() uint32 {
	c.noCopy.Check()
	return c.properties.QueueFamily
}

func (c *Context) FindMemoryType(typeFilter uint32, props MemoryPropertyFlags) (uint32, error) {
	if err := c.checkReady(); err != nil {
		return 0, err
	}
	return findMemoryType(c.properties.MemoryTypes, typeFilter, props)
}

// HasMemoryType reports whether any memory type has every bit of props.
func (c *Context) HasMemoryType(props MemoryPropertyFlags) bool {
	_, err := c.FindMemoryType(^uint32(0), props)
	return err == nil
}

/*
SubmitAndWait records into a fresh primary command buffer, submits it to the
compute queue and blocks until the fence signals. Submissions are serialized
on the Context.
*/
func (c *Context) SubmitAndWait(record func(*CommandBuffer)) error {
	if err := c.checkReady(); err != nil {
		return err
	}

	c.mtx.Lock()
	defer c.mtx.Unlock()

	allocInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        c.vkCommandPool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	commandBuffers := make([]vk.CommandBuffer, 1)
	if res := vk.AllocateCommandBuffers(c.vkDevice, &allocInfo, commandBuffers); res != vk.Success {
		return debug.ErrorWrapf(vk.Error(res), "Failed to allocate command buffer")
	}
	defer vk.FreeCommandBuffers(c.vkDevice, c.vkCommandPool, 1, commandBuffers)

	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if res := vk.BeginCommandBuffer(commandBuffers[0], &beginInfo); res != vk.Success {
		return debug.ErrorWrapf(vk.Error(res), "Failed to begin command buffer")
	}

	cb := CommandBuffer{ctx: c, vkCommandBuffer: commandBuffers[0]}
	cb.noCopy.Init()
	record(&cb)
	cb.noCopy.Close()
	if cb.err != nil {
		vk.EndCommandBuffer(commandBuffers[0])
		return cb.err
	}

	if res := vk.EndCommandBuffer(commandBuffers[0]); res != vk.Success {
		return debug.ErrorWrapf(vk.Error(res), "Failed to end command buffer")
	}

	fenceInfo := vk.FenceCreateInfo{SType: vk.StructureTypeFenceCreateInfo}
	var fence vk.Fence
	if res := vk.CreateFence(c.vkDevice, &fenceInfo, nil, &fence); res != vk.Success {
		return debug.ErrorWrapf(vk.Error(res), "Failed to create fence")
	}
	defer vk.DestroyFence(c.vkDevice, fence, nil)

	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    commandBuffers,
	}
	if res := vk.QueueSubmit(c.vkQueue, 1, []vk.SubmitInfo{submitInfo}, fence); res != vk.Success {
		return debug.ErrorWrapf(vk.Error(res), "Failed to submit command buffer")
	}
	if res := vk.WaitForFences(c.vkDevice, 1, []vk.Fence{fence}, vk.True, vk.MaxUint64); res != vk.Success {
		return debug.ErrorWrapf(vk.Error(res), "Failed to wait for fence")
	}
	return nil
}

func (c *Context) destroyHandles() {
	if c.vkDevice != nil {
		vk.DeviceWaitIdle(c.vkDevice)
		if c.vkCommandPool != vk.CommandPool(vk.NullHandle) {
			vk.DestroyCommandPool(c.vkDevice, c.vkCommandPool, nil)
			c.vkCommandPool = vk.CommandPool(vk.NullHandle)
		}
		vk.DestroyDevice(c.vkDevice, nil)
		c.vkDevice = nil
	}
	if c.vkInstance != nil {
		if c.vkDebugCallback != vk.DebugReportCallback(vk.NullHandle) {
			vk.DestroyDebugReportCallback(c.vkInstance, c.vkDebugCallback, nil)
			c.vkDebugCallback = vk.DebugReportCallback(vk.NullHandle)
		}
		vk.DestroyInstance(c.vkInstance, nil)
		c.vkInstance = nil
	}
}

// Destroy waits for the device to go idle and releases every handle owned by the Context.
func (c *Context) Destroy() {
	c.noCopy.Check()
	c.mtx.Lock()
	defer c.mtx.Unlock()

	c.destroyHandles()
	if c.state == StateReady {
		c.state = StateUninitialized
		c.err = debug.ErrorWrapf(ErrorDeviceInitFailed{}, "Context destroyed")
	}
}
