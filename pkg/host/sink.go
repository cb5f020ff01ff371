package host

import (
	"fmt"
	"log/slog"

	"spbridge/pkg/bridge"
	"spbridge/pkg/script"
)

// LogSink reports aborted calls through slog.
type LogSink struct {
	runtime *Runtime
	logger  *slog.Logger
}

func NewLogSink(r *Runtime, logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{runtime: r, logger: logger}
}

func (s *LogSink) ReportError(pc bridge.Context, id script.FuncID, code bridge.Code, message string) {
	s.logger.Error("❌ Script call aborted",
		"function", s.runtime.FunctionName(id),
		"context", contextName(pc),
		"code", int(code),
		"message", message,
	)
}

func contextName(pc bridge.Context) string {
	if c, ok := pc.(*Context); ok {
		return c.Name()
	}
	return fmt.Sprintf("%T", pc)
}
