package datalog

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// DefaultMaxSkippedRows is how many rows in a row may be skipped before a
// LoggingSession gives up.
const DefaultMaxSkippedRows = 3

// Row is one logged row.
type Row struct {
	Time   time.Time
	Values PcmParameterValues
}

// Strings formats the row's values.
func (r Row) Strings() []string {
	return r.Values.Strings()
}

// LoggingSession starts logging on c and then reads rows until the context
// is canceled. The rows are sent on the returned channel, which is closed
// when the context is canceled, the session fails, or maxSkipped
// consecutive rows are skipped. maxSkipped <= 0 means DefaultMaxSkippedRows.
func LoggingSession(ctx context.Context, c *Controller, maxSkipped int) (<-chan Row, error) {
	if err := c.StartLogging(); err != nil {
		return nil, errors.Wrap(err, "starting logging")
	}
	if maxSkipped <= 0 {
		maxSkipped = DefaultMaxSkippedRows
	}

	results := make(chan Row, 10)
	go processRows(ctx, results, c, maxSkipped)
	return results, nil
}

func processRows(ctx context.Context, results chan<- Row, c *Controller, maxSkipped int) {
	defer close(results)

	skipped := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		values, err := c.GetNextValues()
		if err != nil {
			c.logger.Debug(err.Error())
			if !errors.Is(err, ErrRowSkipped) {
				return
			}
			skipped++
			if skipped == maxSkipped {
				c.logger.Debugf("%d rows skipped in a row, stopping", skipped)
				return
			}
			continue
		}
		skipped = 0

		select {
		case results <- Row{Time: time.Now(), Values: values}:
		case <-ctx.Done():
			return
		}
	}
}
