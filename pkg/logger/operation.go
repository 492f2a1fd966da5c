package logger

import (
	"context"
	"log/slog"
	"time"
)

// OperationSpec names a logged unit of work. Level applies to the entry and
// success records; failures are always logged at error level.
type OperationSpec struct {
	Component string
	Category  string
	Name      string
	Level     slog.Level
}

// Operation runs fn and logs its entry, success or failure with uniform
// attributes. attrs are appended to every record.
func Operation(ctx context.Context, spec OperationSpec, fn func(ctx context.Context) error, attrs ...any) error {
	log := FromContext(ctx).With(
		"component", spec.Component,
		"category", spec.Category,
		"operation", spec.Name,
	).With(attrs...)

	log.Log(ctx, spec.Level, "operation started")
	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)
	if err != nil {
		log.ErrorContext(ctx, "operation failed",
			"duration_ms", elapsed.Milliseconds(),
			"error", err,
		)
		return err
	}
	log.Log(ctx, spec.Level, "operation succeeded", "duration_ms", elapsed.Milliseconds())
	return nil
}
