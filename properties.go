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
	"fmt"
	"strings"

	vk "github.com/vulkan-go/vulkan"
	"goarrg.com/debug"
	"goarrg.com/gmath"
)

type VendorID uint32

const (
	VendorAMD    VendorID = 0x1002
	VendorNVIDIA VendorID = 0x10de
	VendorIntel  VendorID = 0x8086
)

func (id VendorID) String() string {
	switch id {
	case VendorAMD:
		return "AMD"
	case VendorNVIDIA:
		return "NVIDIA"
	case VendorIntel:
		return "Intel"
	default:
		return fmt.Sprintf("Unknown: 0x%04X", uint32(id))
	}
}

type DeviceType uint32

const (
	DeviceTypeOther         DeviceType = DeviceType(vk.PhysicalDeviceTypeOther)
	DeviceTypeIntegratedGPU DeviceType = DeviceType(vk.PhysicalDeviceTypeIntegratedGpu)
	DeviceTypeDiscreteGPU   DeviceType = DeviceType(vk.PhysicalDeviceTypeDiscreteGpu)
	DeviceTypeVirtualGPU    DeviceType = DeviceType(vk.PhysicalDeviceTypeVirtualGpu)
	DeviceTypeCPU           DeviceType = DeviceType(vk.PhysicalDeviceTypeCpu)
)

func (t DeviceType) String() string {
	switch t {
	case DeviceTypeIntegratedGPU:
		return "IntegratedGPU"
	case DeviceTypeDiscreteGPU:
		return "DiscreteGPU"
	case DeviceTypeVirtualGPU:
		return "VirtualGPU"
	case DeviceTypeCPU:
		return "CPU"
	default:
		return "Other"
	}
}

type QueueFlags uint32

const (
	QueueGraphics QueueFlags = QueueFlags(vk.QueueGraphicsBit)
	QueueCompute  QueueFlags = QueueFlags(vk.QueueComputeBit)
	QueueTransfer QueueFlags = QueueFlags(vk.QueueTransferBit)
)

func (f QueueFlags) HasBits(want QueueFlags) bool {
	return hasBits(f, want)
}

func (f QueueFlags) String() string {
	str := ""
	if f.HasBits(QueueGraphics) {
		str += "Graphics|"
	}
	if f.HasBits(QueueCompute) {
		str += "Compute|"
	}
	if f.HasBits(QueueTransfer) {
		str += "Transfer|"
	}
	return strings.TrimSuffix(str, "|")
}

type MemoryType struct {
	Flags     MemoryPropertyFlags
	HeapIndex uint32
}

type Limits struct {
	MaxPushConstantsSize           uint32
	MaxStorageBufferRange          uint32
	MaxComputeWorkGroupInvocations uint32
	MaxComputeWorkGroupCount       gmath.Extent3u32
}

type Properties struct {
	Name        string
	Vendor      VendorID
	Type        DeviceType
	API         uint32
	QueueFamily uint32
	QueueFlags  QueueFlags
	Limits      Limits
	MemoryTypes []MemoryType
}

func (p *Properties) MarshalJSON() ([]byte, error) {
	buff := bytes.Buffer{}
	buff.WriteString("{")

	buff.WriteString(fmt.Sprintf("\"Name\": %q,", p.Name))
	buff.WriteString(fmt.Sprintf("\"Vendor\": %q,", p.Vendor.String()))
	buff.WriteString(fmt.Sprintf("\"Type\": %q,", p.Type.String()))
	buff.WriteString(fmt.Sprintf("\"API\": %q,", vkAPI2String(p.API)))
	buff.WriteString(fmt.Sprintf("\"QueueFamily\": %d,", p.QueueFamily))
	buff.WriteString(fmt.Sprintf("\"QueueFlags\": %q,", p.QueueFlags.String()))
	buff.WriteString(fmt.Sprintf("\"Limits\": %s,", jsonString(p.Limits)))

	buff.WriteString("\"MemoryTypes\": [")
	if len(p.MemoryTypes) > 0 {
		for _, t := range p.MemoryTypes {
			buff.WriteString(fmt.Sprintf("{\"Flags\": %q, \"HeapIndex\": %d},", t.Flags.String(), t.HeapIndex))
		}
		buff.Truncate(buff.Len() - 1)
	}
	buff.WriteString("]")

	buff.WriteString("}")
	return buff.Bytes(), nil
}

// findMemoryType returns the first memory type allowed by typeFilter that has every bit of want.
func findMemoryType(types []MemoryType, typeFilter uint32, want MemoryPropertyFlags) (uint32, error) {
	for i, t := range types {
		if i >= 32 {
			break
		}
		if (typeFilter&(1<<uint32(i))) != 0 && t.Flags.HasBits(want) {
			return uint32(i), nil
		}
	}
	return 0, debug.ErrorWrapf(ErrorUnsupportedMemoryType{}, "No memory type in filter [0x%08X] supports [%s]", typeFilter, want.String())
}

type deviceCandidate struct {
	name          string
	deviceType    DeviceType
	queueFamilies []QueueFlags
}

/*
selectQueueFamily prefers a dedicated compute family (compute without graphics)
and otherwise takes the first family that supports compute.
*/
func selectQueueFamily(families []QueueFlags) (uint32, bool) {
	for i, f := range families {
		if f.HasBits(QueueCompute) && !f.HasBits(QueueGraphics) {
			return uint32(i), true
		}
	}
	for i, f := range families {
		if f.HasBits(QueueCompute) {
			return uint32(i), true
		}
	}
	return 0, false
}

/*
selectDevice returns the index of the device to use: a device whose name
contains preferred wins, then the first discrete GPU with compute, then any
device with compute.
*/
func selectDevice(candidates []deviceCandidate, preferred string) (int, error) {
	if preferred != "" {
		for i, c := range candidates {
			if _, ok := selectQueueFamily(c.queueFamilies); ok && strings.Contains(strings.ToLower(c.name), strings.ToLower(preferred)) {
				return i, nil
			}
		}
	}
	for i, c := range candidates {
		if _, ok := selectQueueFamily(c.queueFamilies); ok && c.deviceType == DeviceTypeDiscreteGPU {
			return i, nil
		}
	}
	for i, c := range candidates {
		if _, ok := selectQueueFamily(c.queueFamilies); ok {
			return i, nil
		}
	}
	return -1, debug.ErrorWrapf(ErrorNoSuitableDevice{}, "None of the [%d] devices expose a compute queue", len(candidates))
}
