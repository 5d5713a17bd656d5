// Command cishim-relay is registered as the open command for text files on
// Windows runners. It hands the file to the editor named by EDITOR.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/schaermu/cishim/internal/editor"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := editor.NewRelay().Run(ctx, os.Args[1:])
	stop()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "cishim-relay:", err)
		os.Exit(1)
	}
}
