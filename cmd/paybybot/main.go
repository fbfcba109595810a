package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"paybybot/internal/app"
	"paybybot/internal/config"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", config.DefaultPath, "path to config yaml/json")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	if err := a.Run(ctx); err != nil {
		fmt.Println("fatal run:", err)
		os.Exit(1)
	}
}
