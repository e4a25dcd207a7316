package app

import (
	"context"
	"errors"
	"testing"

	"github.com/fjod/boutique/pkg/logger"
	"github.com/stretchr/testify/assert"
)

func TestClose_ReverseOrderAndJoinedErrors(t *testing.T) {
	var order []string
	errRedis := errors.New("redis close failed")
	a := &App{Log: logger.Discard()}
	a.closers = []func(context.Context) error{
		func(context.Context) error { order = append(order, "catalog"); return nil },
		func(context.Context) error { order = append(order, "redis"); return errRedis },
		func(context.Context) error { order = append(order, "queue"); return nil },
	}

	err := a.Close(context.Background())

	assert.ErrorIs(t, err, errRedis)
	assert.Equal(t, []string{"queue", "redis", "catalog"}, order)

	// a second Close is a no-op
	assert.NoError(t, a.Close(context.Background()))
	assert.Len(t, order, 3)
}
