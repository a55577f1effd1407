// Command mmrld is the privileged module host. `mmrld serve` runs it as a
// daemon on a unix socket; `mmrld host --stdio` serves a single client on
// stdin/stdout, which is how su and container providers launch it.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"mmrl/internal/config"
	"mmrl/internal/platform"
	"mmrl/internal/service"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "mmrld: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "mmrld v%s - privileged module host\n\n", version)
	fmt.Fprintf(os.Stderr, "Usage:\n")
	fmt.Fprintf(os.Stderr, "  mmrld serve [--config path] [--platform name] [--socket path] [--api addr]\n")
	fmt.Fprintf(os.Stderr, "  mmrld host --stdio --platform name [--config path]\n")
}

func run(args []string) error {
	if len(args) == 0 {
		usage()
		return errors.New("missing command")
	}
	switch args[0] {
	case "serve":
		return serve(args[1:])
	case "host":
		return host(args[1:])
	case "help", "-h", "--help":
		usage()
		return nil
	}
	usage()
	return fmt.Errorf("unknown command: %s", args[0])
}

func parse(fs *pflag.FlagSet, args []string) (bool, error) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return false, nil
		}
		return false, err
	}
	if fs.NArg() > 0 {
		return false, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}
	return true, nil
}

func serve(args []string) error {
	fs := pflag.NewFlagSet("mmrld serve", pflag.ContinueOnError)
	configPath := fs.String("config", config.DefaultPath, "path to the YAML config file")
	platformName := fs.String("platform", "", "backend to drive (overrides the config)")
	socketPath := fs.String("socket", "", "unix socket to listen on (overrides the config)")
	apiAddr := fs.String("api", "", "address of the operator HTTP API (overrides the config)")
	if ok, err := parse(fs, args); !ok {
		return err
	}

	logger := log.New(os.Stdout, "[mmrld] ", log.LstdFlags|log.Lmsgprefix)

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		return err
	}
	if *platformName != "" {
		if cfg.Platform, err = platform.Parse(*platformName); err != nil {
			return err
		}
	}
	if *socketPath != "" {
		cfg.SocketPath = *socketPath
	}
	if *apiAddr != "" {
		cfg.APIAddr = *apiAddr
	}
	if !cfg.Platform.IsRoot() {
		return errors.New("no root backend configured: set platform in the config or pass --platform")
	}

	sm, closeShell := privileged(cfg, cfg.Platform, logger)
	defer closeShell()

	h, err := service.NewHost(sm, service.HostConfig{
		SocketPath:   cfg.SocketPath,
		AuditPath:    cfg.AuditLog,
		APIAddr:      cfg.APIAddr,
		AllowedUIDs:  cfg.AllowedUIDs,
		GrantTimeout: cfg.GrantTimeout,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watcher, err := config.NewWatcher(*configPath, cfg, logger)
	if err != nil {
		logger.Printf("warning: config hot reload disabled: %v", err)
	} else {
		watcher.OnReload(func(c *config.Config) { h.SetAllowedUIDs(c.AllowedUIDs) })
		if err := watcher.Start(ctx); err != nil {
			logger.Printf("warning: config hot reload disabled: %v", err)
		}
		defer watcher.Stop()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("received signal %v, shutting down...", sig)
		h.Shutdown()
	}()

	logger.Printf("starting mmrld %s on %s", version, cfg.SocketPath)
	return h.ListenAndServe()
}

// stdio joins stdin and stdout into the single stream a host serves.
type stdio struct {
	io.Reader
	io.Writer
}

func (stdio) Close() error {
	os.Stdin.Close()
	return os.Stdout.Close()
}

func host(args []string) error {
	fs := pflag.NewFlagSet("mmrld host", pflag.ContinueOnError)
	useStdio := fs.Bool("stdio", false, "serve one client on stdin/stdout")
	platformName := fs.String("platform", "", "backend to drive")
	configPath := fs.String("config", config.DefaultPath, "path to the YAML config file")
	if ok, err := parse(fs, args); !ok {
		return err
	}
	if !*useStdio {
		return errors.New("host needs --stdio")
	}

	// stdout carries the protocol.
	logger := log.New(os.Stderr, "[mmrld] ", log.LstdFlags|log.Lmsgprefix)

	p, err := platform.Parse(*platformName)
	if err != nil {
		return err
	}
	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		logger.Printf("warning: using default config: %v", err)
		cfg = config.Default()
	}

	sm, closeShell := privileged(cfg, p, logger)
	defer closeShell()

	h, err := service.NewHost(sm, service.HostConfig{AuditPath: cfg.AuditLog, Logger: logger})
	if err != nil {
		return err
	}
	defer h.Shutdown()

	h.ServeConn(stdio{os.Stdin, os.Stdout}, nil)
	return nil
}
