// Package main is the entry point for the Gridsight anomaly detection service.
package main

import (
	"context"
	"fmt"
	"os"

	"gridsight/bootstrap"
	"gridsight/cmd"
)

// run initializes and starts the Gridsight service.
func run() error {
	ctx := context.Background()

	app, err := bootstrap.NewApp(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	if err := app.Start(ctx); err != nil {
		app.Shutdown()
		return fmt.Errorf("failed to start application: %w", err)
	}

	app.WaitForShutdown()
	app.Shutdown()

	return nil
}

// main dispatches to the CLI for train/predict invocations, otherwise runs
// the HTTP service.
func main() {
	if len(os.Args) > 1 && (os.Args[1] == "train" || os.Args[1] == "predict") {
		detectorCmd := cmd.NewDetectorCmd()
		detectorCmd.SetArgs(os.Args[1:])
		if err := detectorCmd.Execute(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
