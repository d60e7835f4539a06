/*
Copyright 2025 Kunpeto.

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

// Package log provides the shared zap logger bootstrap used by every
// service entry point. Components receive a *zap.Logger via constructor
// injection; only main packages call New.
package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options controls logger construction.
type Options struct {
	// Development switches to the console encoder with human-readable
	// timestamps and enables DPanic panics.
	Development bool
	// Level is the minimum enabled level. Zero value is Info.
	Level zapcore.Level
	// ServiceName is attached to every entry as the "service" field.
	ServiceName string
}

// New builds a zap logger according to opts. It never fails; an invalid
// configuration falls back to the production default.
func New(opts Options) *zap.Logger {
	var cfg zap.Config
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(opts.Level)

	logger, err := cfg.Build(zap.AddCaller())
	if err != nil {
		logger = zap.Must(zap.NewProduction())
	}
	if opts.ServiceName != "" {
		logger = logger.With(zap.String("service", opts.ServiceName))
	}
	return logger
}

// Sync flushes buffered entries. Safe to defer from main; sync errors on
// stderr/stdout sinks are expected and ignored.
func Sync(l *zap.Logger) {
	_ = l.Sync()
}
