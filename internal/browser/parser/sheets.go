// internal/browser/parser/sheets.go
package parser

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// ParseSheets parses every input concurrently on a pool sized to GOMAXPROCS. Result i
// always corresponds to inputs[i]; each worker writes only its own slot. The only
// error is cancellation of ctx.
func ParseSheets(ctx context.Context, inputs []string) ([]StyleSheet, error) {
	out := make([]StyleSheet, len(inputs))
	if len(inputs) == 0 {
		return out, nil
	}

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for i := range inputs {
		if groupCtx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			out[i] = NewParser(inputs[i]).Parse()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}
	return out, ctx.Err()
}
