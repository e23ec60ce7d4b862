// Command g-counter runs the grow-only counter workload node.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/inflation/vortex/internal/workload/gcounter"
	"github.com/inflation/vortex/pkg/vortex"
)

func main() {
	if err := run(); err != nil {
		vortex.Log.WithError(err).Error("node exited with error")
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	node, err := vortex.NewNode(os.Stdin, os.Stdout)
	if err != nil {
		return fmt.Errorf("g-counter: %w", err)
	}

	shutdown, err := vortex.InitTracing(ctx, node.ID)
	if err != nil {
		return fmt.Errorf("g-counter: %w", err)
	}
	defer shutdown(ctx)

	return node.Serve(gcounter.Handler)
}
