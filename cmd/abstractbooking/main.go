package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/seagate85/AbstractBooking/internal/config"
	"github.com/seagate85/AbstractBooking/internal/deps"
	"github.com/seagate85/AbstractBooking/internal/server"
	"github.com/seagate85/AbstractBooking/internal/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	config := config.NewConfig()
	storage, err := storage.NewPostgresStorage(ctx, config.DatabaseURI, config.CommissionRate)
	if err != nil {
		config.Logger.Fatal(err)
	}

	deps := deps.NewDependencies(config.Key)

	srv := server.NewServer(storage, config, deps)
	if err := srv.Run(ctx); err != nil {
		config.Logger.Fatal(err)
	}
}
