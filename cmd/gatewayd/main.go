// Package main provides the CLI entry point for the database gateway
// daemon.
//
// The daemon speaks JSON-RPC 2.0 over stdio: one NDJSON request per line
// in, one NDJSON response per line out. Long-running operations (query,
// exec) are dispatched onto a worker goroutine and answered later, once
// the result is ready, rather than blocking the protocol loop.
//
// Usage:
//
//	gatewayd [flags]
//
// Example request:
//
//	{"jsonrpc":"2.0","id":1,"method":"connect","params":{"connstr":"sqlite:///tmp/app.db"}}
//
// Example response:
//
//	{"jsonrpc":"2.0","id":1,"result":{"conn_id":1}}
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mantis/gatewayd/internal/async"
	"github.com/mantis/gatewayd/internal/config"
	"github.com/mantis/gatewayd/internal/dispatcher"
	"github.com/mantis/gatewayd/internal/driver"
	"github.com/mantis/gatewayd/internal/driver/mysql"
	"github.com/mantis/gatewayd/internal/driver/postgres"
	"github.com/mantis/gatewayd/internal/driver/sqlite"
	"github.com/mantis/gatewayd/internal/logging"
	"github.com/mantis/gatewayd/internal/session"
	"github.com/mantis/gatewayd/internal/transport"
)

// Version is set at build time.
var Version = "dev"

// protocolVersion is the JSON-RPC dialect this daemon speaks.
const protocolVersion = "2.0"

func main() {
	cfg := config.Default()
	cfg.RegisterFlags(flag.CommandLine)
	showHelp := flag.Bool("help", false, "Show help message")
	flag.BoolVar(showHelp, "h", false, "Show help message")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.BoolVar(showVersion, "v", false, "Show version information")
	flag.Bool("stdio", true, "Serve over stdin/stdout (default, only mode supported)")
	flag.Parse()

	if *showHelp {
		printHelp()
		os.Exit(0)
	}
	if *showVersion {
		fmt.Printf("gatewayd version %s\n", Version)
		os.Exit(0)
	}

	if err := logging.Setup(cfg.LogLevel, cfg.LogFormat); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		slog.Error("daemon exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	reg := driver.NewRegistry()
	reg.Register(sqlite.New())
	reg.Register(postgres.New())
	reg.Register(mysql.New())
	defer func() {
		for _, name := range reg.Names() {
			if d, err := reg.Get(name); err == nil {
				if err := d.Close(); err != nil {
					slog.Warn("error closing driver at shutdown", "driver", name, "error", err)
				}
			}
		}
	}()

	sessions := session.NewManager(reg)
	defer func() {
		if err := sessions.Close(); err != nil {
			slog.Warn("error closing sessions at shutdown", "error", err)
		}
	}()

	queue := async.NewQueue()
	worker := async.NewWorker(sessions, queue, cfg.MaxFieldSize, cfg.MaxResultRows)
	disp := dispatcher.New(sessions, queue, worker, Version, protocolVersion, reg.Names())

	trans := transport.NewStdioTransport(os.Stdin, os.Stdout)
	loop := transport.NewLoop(trans, disp, queue)
	loop.PollInterval = cfg.PollInterval

	slog.Info("daemon starting", "version", Version, "drivers", reg.Names())
	err := loop.Run(ctx)
	if err == context.Canceled {
		return nil
	}
	return err
}

func printHelp() {
	fmt.Println(`Database Gateway Daemon - JSON-RPC query execution service

USAGE:
    gatewayd [FLAGS]

FLAGS:
    -h, -help               Show this help message
    -v, -version            Show version information
    -stdio                  Serve over stdin/stdout (default, only mode supported)
    -max-result-rows N      Maximum rows returned in a single result set
    -max-field-size N       Maximum bytes for a single text/blob cell
    -poll-interval D        Bounded wait between shutdown-flag re-checks
    -log-level L            Log level: debug, info, warn, error
    -log-format F           Log format: json or text

DESCRIPTION:
    The daemon speaks JSON-RPC 2.0 over stdio, one NDJSON request per
    line in and one NDJSON response per line out. Query and exec calls
    run on a worker goroutine and their responses arrive asynchronously
    once the result is ready.

SUPPORTED DRIVERS:
    - sqlite    Embedded SQLite (pure Go, no cgo)
    - postgres  PostgreSQL
    - mysql     MySQL / MariaDB

METHODS:
    connect, disconnect, connections, tables, schema,
    query, count, exec, update, delete, cancel,
    ping, version, shutdown

EXAMPLE:
    echo '{"jsonrpc":"2.0","id":1,"method":"connect","params":{"connstr":"sqlite:///tmp/app.db"}}' | gatewayd`)
}
