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

package shell

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"os/exec"
	"strings"
	"time"
)

// CommandResult holds the outcome of an external command.
// ExitCode is -1 when the command could not be started.
type CommandResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Command is an external command with optional standard input.
type Command struct {
	ctx   context.Context
	name  string
	args  []string
	input string
}

// NewCommand prepares a command without running it.
func NewCommand(name string, args ...string) *Command {
	return &Command{ctx: context.Background(), name: name, args: args}
}

// SetInput sets the content piped to the command's standard input.
func (c *Command) SetInput(input string) {
	c.input = input
}

// WithContext binds the command to ctx; cancelling ctx kills the process.
func (c *Command) WithContext(ctx context.Context) *Command {
	c.ctx = ctx
	return c
}

// String renders the command line for logging.
func (c *Command) String() string {
	return strings.Join(append([]string{c.name}, c.args...), " ")
}

// Execute runs the command to completion and captures its output.
func (c *Command) Execute() CommandResult {
	cmd := exec.CommandContext(c.ctx, c.name, c.args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if c.input != "" {
		cmd.Stdin = strings.NewReader(c.input)
	}

	err := cmd.Run()
	res := CommandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		res.ExitCode = -1
		if res.Stderr == "" {
			res.Stderr = err.Error()
		}
	}
	return res
}

// ExecuteCommand runs name with args and captures its output.
func ExecuteCommand(name string, args ...string) CommandResult {
	return NewCommand(name, args...).Execute()
}

// Executor runs external commands. The local implementation shells out;
// tests substitute a recorder.
type Executor interface {
	Execute(ctx context.Context, input string, name string, args ...string) CommandResult
}

// LocalExecutor runs commands on the local machine.
type LocalExecutor struct{}

func (LocalExecutor) Execute(ctx context.Context, input string, name string, args ...string) CommandResult {
	cmd := NewCommand(name, args...).WithContext(ctx)
	cmd.SetInput(input)
	return cmd.Execute()
}

// RandomString returns a random lowercase string of the given length.
func RandomString(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyz0123456789"
	seededRand := rand.New(rand.NewSource(time.Now().UnixNano()))
	b := make([]byte, length)
	for i := range b {
		b[i] = charset[seededRand.Intn(len(charset))]
	}
	return string(b)
}
