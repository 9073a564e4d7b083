package safe

import (
	"fmt"
	"runtime/debug"

	"github.com/rs/zerolog"
)

// Run calls fn and converts a panic into an error.
func Run(logger zerolog.Logger, name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Str("task", name).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Recovered from panic")
			err = fmt.Errorf("%s panicked: %v", name, r)
		}
	}()
	return fn()
}
