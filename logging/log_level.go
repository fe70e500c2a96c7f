package logging

import (
	"strings"

	"go.uber.org/zap/zapcore"
)

// ParseLogLevelString maps LOG_LEVEL to a zap level. Names are matched
// case-insensitively and "warning" is accepted for warn. Empty or unknown
// names yield defaultLevel.
func ParseLogLevelString(levelStr string, defaultLevel zapcore.Level) zapcore.Level {
	name := strings.ToLower(strings.TrimSpace(levelStr))
	if name == "warning" {
		name = "warn"
	}
	level, err := zapcore.ParseLevel(name)
	if err != nil || name == "" {
		return defaultLevel
	}
	return level
}
