package logging

import (
	"go.uber.org/zap/zapcore"
)

// newSampledCore samples Trace, Debug and Info independently using the
// per-level settings in cfg. Warn and above always pass: tier failures and
// degraded results are logged at Warn and must not be dropped.
func newSampledCore(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	if !cfg.Enabled {
		return core
	}

	cores := []zapcore.Core{&bandCore{Core: core, lo: zapcore.WarnLevel, hi: zapcore.FatalLevel}}
	for _, lvl := range []zapcore.Level{TraceLevel, zapcore.DebugLevel, zapcore.InfoLevel} {
		band := &bandCore{Core: core, lo: lvl, hi: lvl}
		s, ok := cfg.Levels[lvl]
		if !ok || s.Initial <= 0 {
			cores = append(cores, band)
			continue
		}
		cores = append(cores, zapcore.NewSamplerWithOptions(band, cfg.Tick.Duration(), s.Initial, s.Thereafter))
	}
	return zapcore.NewTee(cores...)
}

// bandCore passes only entries with lo <= level <= hi.
type bandCore struct {
	zapcore.Core
	lo, hi zapcore.Level
}

func (c *bandCore) Enabled(lvl zapcore.Level) bool {
	return lvl >= c.lo && lvl <= c.hi && c.Core.Enabled(lvl)
}

func (c *bandCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

func (c *bandCore) With(fields []zapcore.Field) zapcore.Core {
	return &bandCore{Core: c.Core.With(fields), lo: c.lo, hi: c.hi}
}
