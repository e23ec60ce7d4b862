// Command unique-id runs the globally-unique-id generator workload node.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/inflation/vortex/internal/workload/uniqueid"
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
		return fmt.Errorf("unique-id: %w", err)
	}

	shutdown, err := vortex.InitTracing(ctx, node.ID)
	if err != nil {
		return fmt.Errorf("unique-id: %w", err)
	}
	defer shutdown(ctx)

	return node.Serve(uniqueid.Handler)
}
