package util

import (
	"os"
	"runtime/pprof"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/shopmonkeyus/go-common/logger"
)

// frames between the panic site and the WithStackDepth call below
// (panic -> RecoverPanic -> asError).
const panicDepth = 3

func asError(r any) error {
	if err, ok := r.(error); ok {
		return errors.WithStackDepth(err, panicDepth+1)
	}
	return errors.NewWithDepthf(panicDepth+1, "panic: %v", r)
}

// RecoverPanic recovers from a panic, logs the error with the current
// goroutine stacks and exits the process.
func RecoverPanic(logger logger.Logger) {
	if r := recover(); r != nil {
		var stacks strings.Builder
		pprof.Lookup("goroutine").WriteTo(&stacks, 2)
		logger.Error("a panic has occurred: %s\ncurrent goroutines:\n\n%s", asError(r), stacks.String())
		os.Exit(2) // same exit code as an unrecovered panic
	}
}
