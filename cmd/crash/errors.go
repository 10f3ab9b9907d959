package main

import (
	"fmt"
	"io"

	"go.uber.org/multierr"

	crasherr "github.com/ZebulonRouseFrantzich/crash/internal/errors"
)

// reportError prints err as one line per failure and returns the exit code.
// Non-fatal failures are printed as warnings. The code is that of the first
// fatal failure, or 0 when there is none.
func reportError(w io.Writer, err error) int {
	code := 0
	for _, e := range multierr.Errors(err) {
		kind := crasherr.KindOf(e)
		if !crasherr.IsFatal(e) {
			fmt.Fprintf(w, "warning[%s]: %v\n", kind, e)
			continue
		}
		fmt.Fprintf(w, "error[%s]: %v\n", kind, e)
		if code == 0 {
			code = crasherr.ExitCode(e)
		}
	}
	return code
}
