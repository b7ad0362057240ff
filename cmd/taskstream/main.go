// Command taskstream is a terminal client for the task-streaming backend:
// it starts tasks, follows their progress streams, and answers
// human-in-loop prompts.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(Run(ctx, os.Args[1:]))
}
