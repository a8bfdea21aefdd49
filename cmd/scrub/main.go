// Command scrub strips metadata from local files with the same pipeline the
// bot and HTTP API use.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"

	"github.com/safesend/safesend/internal/outcome"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand(afero.NewOsFs()).ExecuteContext(ctx); err != nil {
		var oe *outcome.Error
		if !errors.As(err, &oe) {
			fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		}
		stop()
		os.Exit(1)
	}
}
