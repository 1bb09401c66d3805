/*
Copyright 2024 The Pinacle Authors.

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

// Package plog builds the zap logger every binary in this module starts
// with, from flag-parsed options shared across all the cmd/ entrypoints.
package plog

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options are the flag-parsed logging options every binary exposes.
type Options struct {
	Debug  bool
	Format string // "console" or "json"
}

// NewDefaultOptions returns the default logging options.
func NewDefaultOptions() *Options {
	return &Options{Debug: false, Format: "console"}
}

// Validate checks that Format is one this package knows how to build.
func (o *Options) Validate() error {
	switch o.Format {
	case "console", "json":
		return nil
	default:
		return fmt.Errorf("invalid log format %q, must be \"console\" or \"json\"", o.Format)
	}
}

// New builds a *zap.Logger for the given options.
func New(opts *Options) *zap.Logger {
	level := zap.InfoLevel
	if opts.Debug {
		level = zap.DebugLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.Encoding = opts.Format
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		// Building the logger itself failing is an environment problem we
		// cannot log about; fall back to a bare-bones logger.
		logger = zap.NewNop()
	}
	return logger
}
