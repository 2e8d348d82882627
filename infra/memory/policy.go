package memory

import (
	"log/slog"
	"os"
)

// exitCodeAbort is the process exit status used by the fail-fast surface.
const exitCodeAbort = 70

// abort emits a diagnostic and terminates the process. Tests replace it.
var abort = func(err error) {
	slog.Error("memory: fail-fast abort", "err", err)
	os.Exit(exitCodeAbort)
}

// Fail applies the build-time failure policy to err. In the default build it
// returns err unchanged; builds tagged ballast_failfast abort instead.
// Containers built on this package route their own capacity, phase and
// reservation errors through it.
func Fail(err error) error {
	if failFast && err != nil {
		abort(err)
	}
	return err
}

// Must returns v, or aborts the process if err is non-nil.
//
//	obj := memory.Must(pool.Create(nil))
func Must[T any](v T, err error) T {
	if err != nil {
		abort(err)
	}
	return v
}

// Check aborts the process if err is non-nil.
func Check(err error) {
	if err != nil {
		abort(err)
	}
}
