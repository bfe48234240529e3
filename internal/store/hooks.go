package store

import (
	"context"
	"time"

	"github.com/segw-project/segw/pkg/log"
)

type ctxKey string

const ctxKeyBegin ctxKey = "begin"

// Hooks satisfies the sqlhooks.Hooks interface and traces query timing.
type Hooks struct{}

func (h *Hooks) Before(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	log.Debugf("SQL query %s %q", query, args)
	return context.WithValue(ctx, ctxKeyBegin, time.Now()), nil
}

func (h *Hooks) After(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	begin, _ := ctx.Value(ctxKeyBegin).(time.Time)
	log.Debugf("SQL query took %s", time.Since(begin))
	return ctx, nil
}
