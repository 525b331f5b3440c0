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

// Package logging is the printf-style console logger used by gtrain commands.
package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var (
	logger   = newLogger(os.Stdout)
	exitFunc = os.Exit
)

func init() {
	color.NoColor = !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd())
}

// consoleFormatter prints bare messages; warnings and errors get a colored prefix.
type consoleFormatter struct{}

func (consoleFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b bytes.Buffer
	switch entry.Level {
	case logrus.WarnLevel:
		b.WriteString(color.YellowString("Warning: "))
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		b.WriteString(color.RedString("Error: "))
	}
	b.WriteString(entry.Message)
	b.WriteByte('\n')
	return b.Bytes(), nil
}

func newLogger(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(consoleFormatter{})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetOutput redirects all console output.
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
}

// SetVerbose enables debug output.
func SetVerbose(verbose bool) {
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
		return
	}
	logger.SetLevel(logrus.InfoLevel)
}

// Logger exposes the underlying logrus logger for callers that need fields.
func Logger() *logrus.Logger {
	return logger
}

func Debug(f string, a ...any) {
	logger.Debugf(f, a...)
}

func Info(f string, a ...any) {
	logger.Infof(f, a...)
}

func Warn(f string, a ...any) {
	logger.Warnf(f, a...)
}

func Error(f string, a ...any) {
	logger.Errorf(f, a...)
}

// Fatal logs the message as an error and exits with status 1.
func Fatal(f string, a ...any) {
	logger.Log(logrus.ErrorLevel, fmt.Sprintf(f, a...))
	exitFunc(1)
}
