/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package logging builds the zap core used by every MoneyClaw subsystem and
// hands it out as a logr.Logger, so components never import zap directly.
package logging

import (
	"github.com/go-logr/logr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls logger construction.
type Config struct {
	// Development selects a human-readable console encoder instead of JSON.
	Development bool

	// Level is one of "debug", "info", "warn", "error". Defaults to "info".
	Level string
}

// New builds a logr.Logger backed by zap according to cfg.
func New(cfg Config) (logr.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return logr.Logger{}, err
		}
	}

	zapCfg := zap.NewProductionConfig()
	if cfg.Development {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	zl, err := zapCfg.Build()
	if err != nil {
		return logr.Logger{}, err
	}

	return zapr(zl), nil
}

// zapr adapts a *zap.Logger to logr.Logger without pulling in the
// go-logr/zapr module for a single call site.
func zapr(zl *zap.Logger) logr.Logger {
	return logr.New(&sink{l: zl.Sugar()})
}

type sink struct {
	l         *zap.SugaredLogger
	name      string
	keysAndVs []interface{}
}

func (s *sink) Init(info logr.RuntimeInfo) {}

func (s *sink) Enabled(level int) bool { return true }

func (s *sink) Info(level int, msg string, keysAndValues ...interface{}) {
	args := append(append([]interface{}{}, s.keysAndVs...), keysAndValues...)
	s.l.Infow(msg, args...)
}

func (s *sink) Error(err error, msg string, keysAndValues ...interface{}) {
	args := append(append([]interface{}{}, s.keysAndVs...), keysAndValues...)
	args = append(args, "error", err)
	s.l.Errorw(msg, args...)
}

func (s *sink) WithValues(keysAndValues ...interface{}) logr.LogSink {
	return &sink{
		l:         s.l,
		name:      s.name,
		keysAndVs: append(append([]interface{}{}, s.keysAndVs...), keysAndValues...),
	}
}

func (s *sink) WithName(name string) logr.LogSink {
	newName := name
	if s.name != "" {
		newName = s.name + "." + name
	}
	return &sink{l: s.l.Named(name), name: newName, keysAndVs: s.keysAndVs}
}
