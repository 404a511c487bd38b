package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/martimgil/concurrent-http-server/internal/app"
	"github.com/martimgil/concurrent-http-server/internal/config"
	"github.com/martimgil/concurrent-http-server/pkg/logger"
)

const version = "1.0.0"

func main() {
	showVersion := pflag.BoolP("version", "v", false, "print version and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Println("fileserver version " + version)
		os.Exit(0)
	}

	configPath := "server.conf"
	if pflag.NArg() > 0 {
		configPath = pflag.Arg(0)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal("failed to load configuration: %v", err)
	}

	application, err := app.NewApp(cfg)
	if err != nil {
		logger.Fatal("failed to initialize server: %v", err)
	}

	logger.Info("fileserver starting with config %s", configPath)

	if err := application.Run(); err != nil {
		logger.Fatal("server error: %v", err)
	}
}
