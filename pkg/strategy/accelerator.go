// Copyright 2026 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package strategy

import (
	"fmt"
	"strings"
)

// Device identifies one accelerator device inside a worker, e.g. xla:1.
type Device struct {
	Type  string
	Index int
}

func (d Device) String() string {
	return fmt.Sprintf("%s:%d", d.Type, d.Index)
}

// AcceleratorBackend describes the devices a worker trains on. Strategies
// depend on this interface rather than on a device runtime so that tests can
// substitute their own backend.
type AcceleratorBackend interface {
	// Name is the plural device name used in user-facing messages.
	Name() string
	// DeviceType is the device runtime type: "xla", "cuda" or "cpu".
	DeviceType() string
	DevicesPerHost() int
	// RootDevice is the device a worker with the given local rank trains on.
	RootDevice(localRank int) Device
}

const (
	DeviceTypeXLA  = "xla"
	DeviceTypeCUDA = "cuda"
	DeviceTypeCPU  = "cpu"
)

// Default devices per host when the caller does not request a count.
const (
	defaultTPUDevicesPerHost = 4
	defaultGPUDevicesPerHost = 1
)

type tpuBackend struct{ devices int }

func (tpuBackend) Name() string          { return "TPUs" }
func (tpuBackend) DeviceType() string    { return DeviceTypeXLA }
func (b tpuBackend) DevicesPerHost() int { return b.devices }

// XLA numbers the devices of a host from 1.
func (tpuBackend) RootDevice(localRank int) Device {
	return Device{Type: DeviceTypeXLA, Index: localRank + 1}
}

type gpuBackend struct{ devices int }

func (gpuBackend) Name() string          { return "GPUs" }
func (gpuBackend) DeviceType() string    { return DeviceTypeCUDA }
func (b gpuBackend) DevicesPerHost() int { return b.devices }
func (gpuBackend) RootDevice(localRank int) Device {
	return Device{Type: DeviceTypeCUDA, Index: localRank}
}

type cpuBackend struct{}

func (cpuBackend) Name() string        { return "CPUs" }
func (cpuBackend) DeviceType() string  { return DeviceTypeCPU }
func (cpuBackend) DevicesPerHost() int { return 1 }
func (cpuBackend) RootDevice(int) Device {
	return Device{Type: DeviceTypeCPU}
}

// BackendFor picks the backend for a GKE accelerator type. devicesPerHost of
// zero selects the backend default.
func BackendFor(acceleratorType string, devicesPerHost int) (AcceleratorBackend, error) {
	if devicesPerHost < 0 {
		return nil, fmt.Errorf("devices per host must not be negative, got %d", devicesPerHost)
	}
	switch {
	case strings.HasPrefix(acceleratorType, "tpu-"):
		if devicesPerHost == 0 {
			devicesPerHost = defaultTPUDevicesPerHost
		}
		return tpuBackend{devices: devicesPerHost}, nil
	case strings.HasPrefix(acceleratorType, "nvidia-"):
		if devicesPerHost == 0 {
			devicesPerHost = defaultGPUDevicesPerHost
		}
		return gpuBackend{devices: devicesPerHost}, nil
	case acceleratorType == "":
		if devicesPerHost > 1 {
			return nil, fmt.Errorf("CPU workloads run one device per host, got %d", devicesPerHost)
		}
		return cpuBackend{}, nil
	}
	return nil, fmt.Errorf("unsupported accelerator type %q", acceleratorType)
}
