// Package utils holds small instrumentation helpers shared by the
// broker and store: defer-friendly operation timers and a
// database query measurer, all logging through zerolog.
package utils

import (
	"time"

	"github.com/rs/zerolog"
)

// slowOperation is the duration past which a routed operation is worth a
// warning; broker frame handling is expected to complete in well under a
// millisecond, so anything near this threshold indicates a stall.
const slowOperation = 5 * time.Second

// slowQuery is the warning threshold for store queries backing the
// monitoring API, which is expected to answer interactively.
const slowQuery = time.Second

// OperationTimer measures the duration of the enclosing call and logs it
// at debug level, warning when it crosses slowOperation.
//
// Usage:
//
//	defer utils.OperationTimer("broker.handle_frontend", log)()
func OperationTimer(operation string, log zerolog.Logger) func() {
	start := time.Now()

	return func() {
		duration := time.Since(start)

		log.Debug().
			Str("operation", operation).
			Dur("duration_ms", duration).
			Msg("operation completed")

		if duration > slowOperation {
			log.Warn().
				Str("operation", operation).
				Dur("duration", duration).
				Msg("slow operation")
		}
	}
}

// MeasureDBQuery measures a store query. The returned func is called
// with the number of rows the query touched once it completes.
func MeasureDBQuery(queryName string, log zerolog.Logger) func(rowsAffected int64) {
	start := time.Now()

	return func(rowsAffected int64) {
		duration := time.Since(start)

		log.Debug().
			Str("query", queryName).
			Dur("duration_ms", duration).
			Int64("rows_affected", rowsAffected).
			Msg("query completed")

		if duration > slowQuery {
			log.Warn().
				Str("query", queryName).
				Dur("duration", duration).
				Int64("rows_affected", rowsAffected).
				Msg("slow query")
		}
	}
}
