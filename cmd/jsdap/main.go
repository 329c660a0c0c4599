// Command jsdap is a Debug Adapter Protocol server for JavaScript
// runtimes speaking the Chrome DevTools Protocol. It serves DAP over
// stdio when spawned by an editor, or over TCP with -listen.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jsdap/jsdap/internal/adapter"
	"github.com/jsdap/jsdap/internal/config"
	"github.com/jsdap/jsdap/internal/version"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (JSON)")
	listen := flag.String("listen", "", "Serve DAP over TCP on this address instead of stdio")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	checkUpdates := flag.Bool("check-updates", false, "Check for a newer release on startup")
	showVersion := flag.Bool("version", false, "Show version and exit")
	help := flag.Bool("help", false, "Show help and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("jsdap version %s\n", version.Version)
		os.Exit(0)
	}
	if *help {
		printHelp()
		os.Exit(0)
	}

	logger, err := newLogger(*verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	if *checkUpdates {
		go func() {
			info := version.NewChecker().Check(ctx)
			if msg := info.Message(); msg != "" {
				logger.Info(msg)
			}
		}()
	}

	server := adapter.NewServer(logger, cfg)
	if *listen != "" {
		err = server.ListenAndServe(ctx, *listen)
	} else {
		err = server.ServeStdio(ctx)
	}
	if err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

// newLogger builds a stderr logger; stdout belongs to the DAP stream.
func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		cfg.Development = true
	}
	return cfg.Build()
}

func printHelp() {
	fmt.Println(`jsdap: Debug Adapter Protocol server for JavaScript runtimes

Bridges DAP clients (VS Code and other editors) to Chrome DevTools
Protocol runtimes: Chrome, Edge, Node.js and anything else exposing a
DevTools websocket. Source maps, breakpoint prediction, skip files and
exception filters are handled adapter-side.

USAGE:
    jsdap [OPTIONS]

OPTIONS:
    -config <path>     Path to configuration file (JSON)
    -listen <addr>     Serve DAP over TCP (e.g. 127.0.0.1:4711); default stdio
    -verbose           Enable debug logging
    -check-updates     Check for a newer release on startup
    -version           Show version and exit
    -help              Show this help message

CONFIGURATION:
    {
        "sourceMaps": {
            "enabled": true,
            "resolveTimeout": 2000000000,
            "pathOverrides": {
                "webpack:///./*": "${workspaceRoot}/*"
            }
        },
        "prediction": {
            "enabled": true,
            "cacheDir": "~/.cache/jsdap"
        },
        "skipFiles": ["**/node_modules/**"],
        "asyncStackDepth": 32
    }

LAUNCH ARGUMENTS:
    A launch or attach request supplies the runtime endpoint and
    workspace shape:

    {
        "webSocketUrl": "ws://127.0.0.1:9229/devtools/page/...",
        "workspaceRoot": "/path/to/project",
        "sourceMapPathOverrides": { "webpack:///./*": "/path/to/project/*" },
        "skipFiles": ["**/vendor/**"]
    }`)
}
