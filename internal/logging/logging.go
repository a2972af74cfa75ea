/*
Copyright 2025 Jordi Gil.

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

// Package logging builds the zap logger shared by every component, plus
// a logr.Logger bridge for code that accepts logr.Logger instead of
// *zap.Logger. Every constructor in this module, the scheduler's
// included, takes *zap.Logger directly.
package logging

import (
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jordigilh/ralph-core/internal/config"
)

// New builds a *zap.Logger from cfg: human-readable console output when
// Format is "console", JSON output (the production default) otherwise. An
// unparseable level falls back to info rather than failing the whole
// process over a typo in a config file.
func New(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	zapCfg.OutputPaths = []string{"stdout"}
	zapCfg.ErrorOutputPaths = []string{"stderr"}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}

// ToLogr bridges logger to logr.Logger for components that accept the
// generic interface rather than the concrete zap type.
func ToLogr(logger *zap.Logger) logr.Logger {
	return zapr.NewLogger(logger)
}
