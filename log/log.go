// Package log provides the small structured-logging seam the builder
// takes as an optional dependency, the same Logger-interface-plus-
// Helper shape the saferwall/pe library exposes, without requiring
// every caller to pull in a concrete logging library.
package log

import (
	"go.uber.org/zap"
)

// Logger is the interface peemit depends on. Callers that already run
// a logging stack can adapt it to this shape; callers that don't can
// use NewProduction, and a nil Logger handed to NewHelper is a no-op.
type Logger interface {
	Debugf(template string, args ...interface{})
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Errorf(template string, args ...interface{})
}

// Helper wraps a Logger and is what components actually hold a
// reference to, so a nil Logger never needs checking at call sites.
type Helper struct {
	l Logger
}

// NewHelper wraps logger. A nil logger yields a no-op Helper.
func NewHelper(logger Logger) *Helper {
	if logger == nil {
		logger = noop{}
	}
	return &Helper{l: logger}
}

func (h *Helper) Debugf(template string, args ...interface{}) {
	if h == nil {
		return
	}
	h.l.Debugf(template, args...)
}

func (h *Helper) Infof(template string, args ...interface{}) {
	if h == nil {
		return
	}
	h.l.Infof(template, args...)
}

func (h *Helper) Warnf(template string, args ...interface{}) {
	if h == nil {
		return
	}
	h.l.Warnf(template, args...)
}

func (h *Helper) Errorf(template string, args ...interface{}) {
	if h == nil {
		return
	}
	h.l.Errorf(template, args...)
}

type noop struct{}

func (noop) Debugf(string, ...interface{}) {}
func (noop) Infof(string, ...interface{})  {}
func (noop) Warnf(string, ...interface{})  {}
func (noop) Errorf(string, ...interface{}) {}

// zapLogger adapts *zap.SugaredLogger to Logger.
type zapLogger struct {
	s *zap.SugaredLogger
}

func (z zapLogger) Debugf(template string, args ...interface{}) { z.s.Debugf(template, args...) }
func (z zapLogger) Infof(template string, args ...interface{})  { z.s.Infof(template, args...) }
func (z zapLogger) Warnf(template string, args ...interface{})  { z.s.Warnf(template, args...) }
func (z zapLogger) Errorf(template string, args ...interface{}) { z.s.Errorf(template, args...) }

// NewProduction builds the default Logger, a zap production logger
// in sugared form. Suitable for the cmd/peemit-dump driver; library
// callers are expected to supply their own Logger via BuilderOptions.
func NewProduction() (Logger, error) {
	zl, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return zapLogger{s: zl.Sugar()}, nil
}
