// Command pw scans cloud accounts for public buckets, over-privileged
// roles and instances exposing sensitive ports, and notifies once per
// distinct issue.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	if err == nil {
		return
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintln(os.Stderr, "Error:", ee.err)
		}
		stop()
		os.Exit(ee.code)
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	stop()
	os.Exit(1)
}

// Exit codes returned by pw scan.
const (
	exitEnforcement = 2
	exitTimeout     = 3
)

// exitError carries a process exit code through cobra. A nil err exits
// quietly.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }
