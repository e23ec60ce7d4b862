// Command echo runs the echo workload node.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/inflation/vortex/internal/workload/echo"
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
		return fmt.Errorf("echo: %w", err)
	}

	shutdown, err := vortex.InitTracing(ctx, node.ID)
	if err != nil {
		return fmt.Errorf("echo: %w", err)
	}
	defer shutdown(ctx)

	return node.Serve(echo.Handler)
}
