package meter

import (
	"log/slog"

	"github.com/meterline/quotagate"
)

// LogMeter logs admission and flush events using slog.
type LogMeter struct {
	Logger *slog.Logger
}

var _ quotagate.Meter = (*LogMeter)(nil)

// NewLogMeter creates a LogMeter with the given logger.
// If logger is nil, slog.Default() is used.
func NewLogMeter(logger *slog.Logger) *LogMeter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMeter{Logger: logger}
}

func (m *LogMeter) OnDecision(e quotagate.DecisionEvent) {
	if e.Admitted {
		m.Logger.Debug("admitted",
			"key", e.Key,
			"tokens", e.Tokens,
		)
	} else {
		m.Logger.Info("denied",
			"key", e.Key,
			"tokens", e.Tokens,
		)
	}
}

func (m *LogMeter) OnFlush(e quotagate.FlushEvent) {
	if e.Err != nil {
		m.Logger.Warn("flush_error",
			"deltas", e.Deltas,
			"keys", e.Keys,
			"duration_ms", e.Duration.Milliseconds(),
			"error", e.Err,
		)
		return
	}
	m.Logger.Info("flush",
		"deltas", e.Deltas,
		"keys", e.Keys,
		"duration_ms", e.Duration.Milliseconds(),
	)
}
