// Package log builds the process-wide zap.Logger used throughout soapyfile,
// mirroring the debug/production config split the LeoCommon client tooling
// uses.
package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a *zap.Logger. debug selects zap's development preset (human
// readable, ISO8601 timestamps, caller info); otherwise the production
// preset is used with millisecond epoch timestamps.
func New(debug bool) (*zap.Logger, error) {
	var config zap.Config
	var encoderConf zapcore.EncoderConfig

	if debug {
		config = zap.NewDevelopmentConfig()
		encoderConf = zap.NewDevelopmentEncoderConfig()
		encoderConf.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		config = zap.NewProductionConfig()
		encoderConf = zap.NewProductionEncoderConfig()
		encoderConf.EncodeTime = zapcore.EpochMillisTimeEncoder
	}
	config.EncoderConfig = encoderConf

	return config.Build()
}

// Must wraps New and panics on error, for callers at process startup where
// there is no sensible fallback.
func Must(debug bool) *zap.Logger {
	l, err := New(debug)
	if err != nil {
		panic(err)
	}
	return l
}
