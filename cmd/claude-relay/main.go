// Command claude-relay is the process entry for the translation proxy: it
// reads configuration from the environment, wires the Registry, Adapter,
// and Proxy Server together, and runs until told to stop.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/halvorsen-dev/claude-relay/internal/adapter"
	"github.com/halvorsen-dev/claude-relay/internal/config"
	"github.com/halvorsen-dev/claude-relay/internal/console"
	"github.com/halvorsen-dev/claude-relay/internal/proxyserver"
	"github.com/halvorsen-dev/claude-relay/internal/registry"
)

// Version is the proxy's reported version, printed on startup and via
// --version.
const Version = "0.1.0"

var (
	flagAdapter string
	flagPort    int
	flagVersion bool
)

func main() {
	os.Exit(run())
}

func run() int {
	rootCmd := &cobra.Command{
		Use:           "claude-relay",
		Short:         "Local translation proxy fronting xAI-style and Groq-style backends",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.Flags().StringVar(&flagAdapter, "adapter", "", "backend adapter to run (xai|groq)")
	rootCmd.Flags().IntVar(&flagPort, "port", 0, "listening port (overrides CLAUDEPROXY_PORT)")
	rootCmd.Flags().BoolVar(&flagVersion, "version", false, "print version and exit")

	exitCode := 0
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		if flagVersion {
			fmt.Println(Version)
			return nil
		}
		code, err := runServer()
		exitCode = code
		return err
	}

	if err := rootCmd.Execute(); err != nil {
		if exitCode == 0 {
			exitCode = 64
		}
		fmt.Fprintln(os.Stderr, color.RedString("error: %v", err))
	}
	return exitCode
}

func runServer() (int, error) {
	if flagAdapter != "" {
		os.Setenv("CLAUDEPROXY_ADAPTER", flagAdapter)
	}
	if flagPort != 0 {
		os.Setenv("CLAUDEPROXY_PORT", fmt.Sprintf("%d", flagPort))
	}

	cfg, err := config.Load()
	if err != nil {
		return 2, err
	}
	if err := cfg.RequireCredential(); err != nil {
		return 4, err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	reg, err := registry.New(cfg.OSFamily)
	if err != nil {
		return 64, fmt.Errorf("building tool registry: %w", err)
	}

	var a *adapter.Adapter
	switch cfg.Adapter {
	case config.AdapterXAI:
		a = adapter.NewXAI(reg, cfg.XAIAPIKey)
	case config.AdapterGroq:
		a = adapter.NewGroq(reg, cfg.GroqAPIKey)
	default:
		return 2, fmt.Errorf("unsupported adapter %q", cfg.Adapter)
	}
	a.HaikuExplainHighReasoning = cfg.HaikuExplainGoesHighReasoning

	srv := proxyserver.New(a, "127.0.0.1", cfg.Port, logger)
	if err := srv.CheckPort(); err != nil {
		return 3, err
	}

	printBanner(cfg, len(reg.ToolsForOS()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- srv.Serve() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go console.Run(ctx, os.Stdin, logger, console.Commands{
		Restart: func() { restartProcess(logger) },
		Quit:    func() { sigCh <- os.Interrupt },
		Help:    printConsoleHelp,
	})

	select {
	case err := <-serveErrCh:
		if err != nil {
			return 64, err
		}
		return 0, nil
	case <-sigCh:
		logger.Info("shutting down, draining in-flight requests")
		if err := srv.Shutdown(context.Background()); err != nil {
			return 64, err
		}
		return 0, nil
	}
}

func restartProcess(logger *slog.Logger) {
	logger.Info("restarting")
	execPath, err := os.Executable()
	if err != nil {
		logger.Error("restart failed: cannot resolve executable path", "error", err)
		return
	}
	if runtime.GOOS == "windows" {
		// syscall.Exec has no Windows implementation; spawn a replacement
		// and exit instead of re-execing in place.
		cmd := exec.Command(execPath, os.Args[1:]...)
		cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
		cmd.Env = os.Environ()
		if err := cmd.Start(); err != nil {
			logger.Error("restart failed", "error", err)
			return
		}
		os.Exit(0)
	}
	if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
		logger.Error("restart failed", "error", err)
	}
}

func printBanner(cfg *config.Config, toolCount int) {
	color.Cyan("claude-relay %s", Version)
	fmt.Printf("  os family : %s\n", cfg.OSFamily)
	fmt.Printf("  adapter   : %s\n", cfg.Adapter)
	fmt.Printf("  listening : 127.0.0.1:%d\n", cfg.Port)
	fmt.Printf("  tools     : %d\n", toolCount)
	fmt.Printf("  runtime   : %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

func printConsoleHelp() {
	fmt.Println("commands: R restart, Q quit, H help")
}
