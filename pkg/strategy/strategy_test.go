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
	"errors"
	"testing"

	"train-toolkit/pkg/dataloader"

	. "gopkg.in/check.v1"
)

// Hook up gocheck into the "go test" runner.
func Test(t *testing.T) { TestingT(t) }

type MySuite struct{}

var _ = Suite(&MySuite{})

var (
	sized   = dataloader.SizedHandle{Name: "random", Length: 64}
	noLen   = dataloader.UnsizedIterableHandle{Name: "stream"}
	tpuOnly = fakeBackend{name: "TPUs", deviceType: DeviceTypeXLA, devices: 8}
)

// fakeBackend stands in for an accelerator runtime.
type fakeBackend struct {
	name       string
	deviceType string
	devices    int
}

func (b fakeBackend) Name() string        { return b.name }
func (b fakeBackend) DeviceType() string  { return b.deviceType }
func (b fakeBackend) DevicesPerHost() int { return b.devices }
func (b fakeBackend) RootDevice(localRank int) Device {
	return Device{Type: b.deviceType, Index: localRank + 1}
}

// cursorHandle records whether anything advanced its iteration state.
type cursorHandle struct {
	known        bool
	position     int
	lengthChecks int
}

func (h *cursorHandle) HasKnownLength() bool {
	h.lengthChecks++
	return h.known
}

func (h *cursorHandle) Next() {
	h.position++
}

type fakeLogger struct {
	experiment bool
	err        error
}

func (l *fakeLogger) ResetExperiment() error {
	l.experiment = false
	return l.err
}

func (s *MySuite) TestGuardAcceptsKnownLengths(c *C) {
	g := Guard{Accelerator: "TPUs"}
	spec := dataloader.Spec{
		Train:   dataloader.Single(sized),
		Val:     dataloader.Sequence(sized, sized),
		Predict: dataloader.Sequence(),
	}
	c.Check(g.Validate(spec), IsNil)
	c.Check(g.Validate(dataloader.Spec{}), IsNil)
}

func (s *MySuite) TestGuardRejectsEachRole(c *C) {
	g := Guard{Accelerator: "TPUs"}
	for _, role := range dataloader.Roles {
		var spec dataloader.Spec
		spec.Set(role, dataloader.Single(noLen))

		err := g.Validate(spec)
		c.Assert(err, ErrorMatches, "TPUs do not currently support iterable dataloaders.*")

		var cfgErr *ConfigurationError
		c.Assert(errors.As(err, &cfgErr), Equals, true)
		c.Check(cfgErr.Role, Equals, role)
		c.Check(cfgErr.Index, Equals, 0)
	}
}

func (s *MySuite) TestGuardChecksWholeSequence(c *C) {
	g := Guard{Accelerator: "TPUs"}
	spec := dataloader.Spec{Val: dataloader.Sequence(sized, noLen)}

	err := g.Validate(spec)
	c.Assert(err, ErrorMatches, `.*\(val dataloader 1: stream \(iterable\)\)`)
}

func (s *MySuite) TestGuardStopsAtFirstOffender(c *C) {
	g := Guard{}
	later := &cursorHandle{known: false}
	spec := dataloader.Spec{
		Train: dataloader.Sequence(sized, noLen),
		Test:  dataloader.Single(later),
	}

	err := g.Validate(spec)
	var cfgErr *ConfigurationError
	c.Assert(errors.As(err, &cfgErr), Equals, true)
	c.Check(cfgErr.Role, Equals, dataloader.Train)
	c.Check(cfgErr.Index, Equals, 1)
	c.Check(later.lengthChecks, Equals, 0)
	c.Check(err, ErrorMatches, "this strategy does not currently support iterable dataloaders.*")
}

func (s *MySuite) TestGuardIsIdempotent(c *C) {
	g := Guard{Accelerator: "GPUs"}
	spec := dataloader.Spec{Predict: dataloader.Single(noLen)}
	first := g.Validate(spec)
	second := g.Validate(spec)
	c.Assert(first, NotNil)
	c.Check(second, DeepEquals, first)
}

func (s *MySuite) TestValidateSingle(c *C) {
	g := Guard{Accelerator: "TPUs"}
	c.Check(g.ValidateSingle(sized), IsNil)
	c.Check(g.ValidateSingle(nil), IsNil)
	c.Check(g.ValidateSingle(noLen), ErrorMatches, `TPUs do not currently support iterable dataloaders, the dataloader must report a known length \(stream \(iterable\)\)`)
}

func (s *MySuite) TestValidateSingleLeavesHandleUntouched(c *C) {
	g := Guard{Accelerator: "TPUs"}
	h := &cursorHandle{known: false}
	h.Next()

	c.Assert(g.ValidateSingle(h), NotNil)
	c.Check(h.position, Equals, 1)
	c.Check(h.HasKnownLength(), Equals, false)
}

func (s *MySuite) TestSpawnConnectFailsEarly(c *C) {
	st, err := New(NameSpawn, tpuOnly, 1, false)
	c.Assert(err, IsNil)

	err = st.Connect(dataloader.Spec{Val: dataloader.Sequence(sized, noLen)})
	c.Check(err, ErrorMatches, "TPUs do not currently support.*")

	_, err = st.ProcessDataloader(noLen)
	c.Check(err, ErrorMatches, "TPUs do not currently support.*")

	h, err := st.ProcessDataloader(sized)
	c.Check(err, IsNil)
	c.Check(h, Equals, dataloader.Handle(sized))
}

func (s *MySuite) TestDDPAcceptsIterables(c *C) {
	st, err := New(NameDDP, tpuOnly, 2, false)
	c.Assert(err, IsNil)
	c.Check(st.Connect(dataloader.Spec{Train: dataloader.Single(noLen)}), IsNil)
	_, err = st.ProcessDataloader(noLen)
	c.Check(err, IsNil)
}

func (s *MySuite) TestSpawnDevices(c *C) {
	backend, err := BackendFor("tpu-v4-podslice", 1)
	c.Assert(err, IsNil)
	st, err := New(NameSpawn, backend, 1, true)
	c.Assert(err, IsNil)

	spawn := st.(*SpawnStrategy)
	c.Check(spawn.OnTPU(), Equals, true)
	c.Check(spawn.OnGPU(), Equals, false)
	c.Check(spawn.RootDevice(), Equals, Device{Type: "xla", Index: 1})
	c.Check(spawn.RootDevice().String(), Equals, "xla:1")
}

func (s *MySuite) TestWorkerEnv(c *C) {
	st, err := New(NameSpawn, tpuOnly, 2, true)
	c.Assert(err, IsNil)
	c.Check(st.WorldSize(), Equals, 16)
	c.Check(st.WorkerEnv(), DeepEquals, map[string]string{
		EnvStrategy:       "spawn",
		EnvWorldSize:      "16",
		EnvNumHosts:       "2",
		EnvDevicesPerHost: "8",
		EnvDeviceType:     "xla",
		EnvXLADebug:       "1",
	})

	gpu := fakeBackend{name: "GPUs", deviceType: DeviceTypeCUDA, devices: 2}
	st, err = New(NameDDP, gpu, 1, true)
	c.Assert(err, IsNil)
	_, debug := st.WorkerEnv()[EnvXLADebug]
	c.Check(debug, Equals, false)
}

func (s *MySuite) TestNewRejectsBadInput(c *C) {
	_, err := New("horovod", tpuOnly, 1, false)
	c.Check(err, ErrorMatches, `unknown strategy "horovod".*`)
	_, err = New(NameSpawn, nil, 1, false)
	c.Check(err, ErrorMatches, ".*requires an accelerator backend")
	_, err = New(NameSpawn, tpuOnly, 0, false)
	c.Check(err, ErrorMatches, ".*requires at least one host, got 0")
}

func (s *MySuite) TestCleanLoggers(c *C) {
	st, err := New(NameSpawn, tpuOnly, 1, false)
	c.Assert(err, IsNil)

	single := &fakeLogger{experiment: true}
	c.Check(st.CleanLoggers(single), IsNil)
	c.Check(single.experiment, Equals, false)

	one := &fakeLogger{experiment: true}
	wrapped := CollectLoggers(one)
	_, isCollection := wrapped.(LoggerCollection)
	c.Check(isCollection, Equals, true)
	c.Check(st.CleanLoggers(wrapped), IsNil)
	c.Check(one.experiment, Equals, false)

	a, b := &fakeLogger{experiment: true}, &fakeLogger{experiment: true, err: errors.New("closed twice")}
	collection := CollectLoggers(a, b)
	_, isCollection = collection.(LoggerCollection)
	c.Check(isCollection, Equals, true)
	c.Check(st.CleanLoggers(collection), ErrorMatches, "failed to reset experiment loggers: logger 1: closed twice")
	c.Check(a.experiment, Equals, false)
	c.Check(b.experiment, Equals, false)

	c.Check(st.CleanLoggers(CollectLoggers()), IsNil)
}
