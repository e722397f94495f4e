package composables

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/fleetyard/shipcm/pkg/constants"
)

var ErrNoLogger = errors.New("logger not found")

// UseLogger returns the request-scoped logger from the context.
func UseLogger(ctx context.Context) *logrus.Entry {
	logger := ctx.Value(constants.LoggerKey)
	if logger == nil {
		panic(ErrNoLogger)
	}
	return logger.(*logrus.Entry)
}

func WithLogger(ctx context.Context, logger *logrus.Entry) context.Context {
	return context.WithValue(ctx, constants.LoggerKey, logger)
}

// TryUseLogger fetches the logger without panicking.
func TryUseLogger(ctx context.Context) (*logrus.Entry, bool) {
	logger, ok := ctx.Value(constants.LoggerKey).(*logrus.Entry)
	return logger, ok
}
