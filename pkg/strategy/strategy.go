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
	"strconv"

	"train-toolkit/pkg/dataloader"

	"github.com/sirupsen/logrus"
)

// Strategy names accepted by New.
const (
	NameSpawn = "spawn"
	NameDDP   = "ddp"
)

// Environment variables passed to every spawned worker.
const (
	EnvStrategy       = "GTRAIN_STRATEGY"
	EnvWorldSize      = "GTRAIN_WORLD_SIZE"
	EnvNumHosts       = "GTRAIN_NUM_HOSTS"
	EnvDevicesPerHost = "GTRAIN_DEVICES_PER_HOST"
	EnvDeviceType     = "GTRAIN_DEVICE_TYPE"
	EnvXLADebug       = "PT_XLA_DEBUG"
)

// Strategy is a distributed execution mode. Connect and ProcessDataloader
// must run before any worker is spawned.
type Strategy interface {
	Name() string
	Backend() AcceleratorBackend
	// Connect attaches the job's dataloaders.
	Connect(spec dataloader.Spec) error
	// ProcessDataloader checks a dataloader bound after Connect.
	ProcessDataloader(h dataloader.Handle) (dataloader.Handle, error)
	// CleanLoggers drops experiment handles ahead of spawning.
	CleanLoggers(logger ExperimentLogger) error
	WorldSize() int
	WorkerEnv() map[string]string
}

// New returns the strategy registered under name.
func New(name string, backend AcceleratorBackend, numHosts int, debug bool) (Strategy, error) {
	if backend == nil {
		return nil, fmt.Errorf("strategy %q requires an accelerator backend", name)
	}
	if numHosts < 1 {
		return nil, fmt.Errorf("strategy %q requires at least one host, got %d", name, numHosts)
	}
	base := baseStrategy{backend: backend, numHosts: numHosts, debug: debug}
	switch name {
	case NameSpawn, "":
		return &SpawnStrategy{baseStrategy: base}, nil
	case NameDDP:
		return &DDPStrategy{baseStrategy: base}, nil
	}
	return nil, fmt.Errorf("unknown strategy %q, expected %q or %q", name, NameSpawn, NameDDP)
}

type baseStrategy struct {
	backend  AcceleratorBackend
	numHosts int
	debug    bool
}

func (b baseStrategy) Backend() AcceleratorBackend { return b.backend }

func (b baseStrategy) WorldSize() int {
	return b.numHosts * b.backend.DevicesPerHost()
}

// RootDevice is the device the first local worker trains on.
func (b baseStrategy) RootDevice() Device {
	return b.backend.RootDevice(0)
}

func (b baseStrategy) OnTPU() bool { return b.backend.DeviceType() == DeviceTypeXLA }
func (b baseStrategy) OnGPU() bool { return b.backend.DeviceType() == DeviceTypeCUDA }

func (b baseStrategy) CleanLoggers(logger ExperimentLogger) error {
	return cleanLoggers(logger)
}

func (b baseStrategy) workerEnv(name string) map[string]string {
	env := map[string]string{
		EnvStrategy:       name,
		EnvWorldSize:      strconv.Itoa(b.WorldSize()),
		EnvNumHosts:       strconv.Itoa(b.numHosts),
		EnvDevicesPerHost: strconv.Itoa(b.backend.DevicesPerHost()),
		EnvDeviceType:     b.backend.DeviceType(),
	}
	if b.debug && b.OnTPU() {
		env[EnvXLADebug] = "1"
	}
	return env
}

// SpawnStrategy launches a fixed number of worker processes per host and
// partitions a known number of batches across them, so every dataloader must
// report its length.
type SpawnStrategy struct {
	baseStrategy
}

func (s *SpawnStrategy) Name() string { return NameSpawn }

func (s *SpawnStrategy) guard() Guard {
	return Guard{Accelerator: s.backend.Name()}
}

func (s *SpawnStrategy) Connect(spec dataloader.Spec) error {
	logrus.Debugf("Connecting %d dataloaders to the %s strategy on %s", spec.Count(), NameSpawn, s.backend.Name())
	return s.guard().Validate(spec)
}

func (s *SpawnStrategy) ProcessDataloader(h dataloader.Handle) (dataloader.Handle, error) {
	if err := s.guard().ValidateSingle(h); err != nil {
		return nil, err
	}
	return h, nil
}

func (s *SpawnStrategy) WorkerEnv() map[string]string {
	return s.workerEnv(NameSpawn)
}

// DDPStrategy runs workers that rendezvous at startup and stream batches
// independently; it accepts iterable dataloaders.
type DDPStrategy struct {
	baseStrategy
}

func (s *DDPStrategy) Name() string { return NameDDP }

func (s *DDPStrategy) Connect(spec dataloader.Spec) error {
	logrus.Debugf("Connecting %d dataloaders to the %s strategy on %s", spec.Count(), NameDDP, s.backend.Name())
	return nil
}

func (s *DDPStrategy) ProcessDataloader(h dataloader.Handle) (dataloader.Handle, error) {
	return h, nil
}

func (s *DDPStrategy) WorkerEnv() map[string]string {
	return s.workerEnv(NameDDP)
}
