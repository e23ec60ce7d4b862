// Command broadcast runs the batched-gossip broadcast workload node.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/inflation/vortex/internal/workload/broadcast"
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
		return fmt.Errorf("broadcast: %w", err)
	}

	shutdown, err := vortex.InitTracing(ctx, node.ID)
	if err != nil {
		return fmt.Errorf("broadcast: %w", err)
	}
	defer shutdown(ctx)

	workload := broadcast.New()
	workload.Start(node)
	defer workload.Stop()

	return node.Serve(workload.Handle)
}
