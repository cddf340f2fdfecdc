package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/KKQ-KKQ/sfizz/pkg/runtime"
)

func main() {
	configPath := flag.String("config", "", "path to a conf.yaml overriding the embedded defaults")
	flag.Parse()

	srv, err := runtime.New(*configPath)
	if err != nil {
		fallback, _ := zap.NewProduction()
		defer fallback.Sync()
		fallback.Fatal("failed to start filepoold", zap.Error(err))
	}

	done := make(chan error, 1)
	go func() {
		done <- srv.Run()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-done:
		if err != nil {
			os.Exit(1)
		}
		return
	case <-stop:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
