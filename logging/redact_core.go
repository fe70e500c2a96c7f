package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// redactingCore scrubs secrets from messages and fields before they reach
// the wrapped core.
type redactingCore struct {
	zapcore.Core
}

// NewRedactingCore wraps core so every entry passes through the sensitive
// data filter.
func NewRedactingCore(core zapcore.Core) zapcore.Core {
	return &redactingCore{Core: core}
}

func (c *redactingCore) With(fields []zapcore.Field) zapcore.Core {
	return &redactingCore{Core: c.Core.With(redactFields(fields))}
}

func (c *redactingCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *redactingCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	ent.Message = RedactSensitiveData(ent.Message)
	return c.Core.Write(ent, redactFields(fields))
}

func redactFields(fields []zapcore.Field) []zapcore.Field {
	if len(fields) == 0 {
		return fields
	}

	result := make([]zapcore.Field, len(fields))
	for i, field := range fields {
		result[i] = redactField(field)
	}
	return result
}

func redactField(field zapcore.Field) zapcore.Field {
	if field.Type == zapcore.StringType {
		if redacted := RedactField(field.Key, field.String); redacted != field.String {
			return zap.String(field.Key, redacted)
		}
		return field
	}
	if IsSensitiveField(field.Key) {
		return zap.String(field.Key, RedactedPlaceholder)
	}
	if field.Type == zapcore.ErrorType {
		if err, ok := field.Interface.(error); ok && ContainsSensitiveData(err.Error()) {
			return zap.String(field.Key, RedactSensitiveData(err.Error()))
		}
	}
	return field
}
