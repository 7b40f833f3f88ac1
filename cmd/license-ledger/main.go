package main

import (
	"context"
	"log/slog"
	"os"

	"licenseledger/internal/app"
)

func main() {
	application, err := app.NewApplication(context.Background())
	if err != nil {
		slog.Error("failed to initialize application", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := application.Run(); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
