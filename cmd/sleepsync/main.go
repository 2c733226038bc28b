package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sleepsync/sleepsync/internal/cli"
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load(".env")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.ExecuteWithErrorCode(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}
