// Command facestream receives OSC face and eye tracking, fuses it on a fixed
// tick and serves the result to local debug, recording and health sinks.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/facestream/internal/config"
	"github.com/banshee-data/facestream/internal/monitoring"
	"github.com/banshee-data/facestream/internal/version"
)

var (
	configPath     = flag.String("config", "", "Receiver config JSON (built-in defaults when empty)")
	listen         = flag.String("listen", "127.0.0.1:8080", "HTTP debug listen address (empty disables)")
	grpcListen     = flag.String("grpc-listen", "", "gRPC health listen address (empty disables)")
	dbPath         = flag.String("db", "", "SQLite session recording path (empty disables)")
	recordInterval = flag.Duration("record-interval", 100*time.Millisecond, "Minimum spacing between recorded frames (0 records every tick)")
	pcapFile       = flag.String("pcap", "", "Replay OSC datagrams from a pcap capture instead of listening")
	ringSize       = flag.Int("ring-size", 900, "Number of recent outputs kept for the debug views")
	logLevel       = flag.String("log-level", "ops", "Log streams to enable: quiet, ops, diag or trace")
	showVersion    = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("facestream"))
		return
	}

	level, err := monitoring.ParseLevel(*logLevel)
	if err != nil {
		log.Fatal(err)
	}
	monitoring.StreamsFor(level, os.Stderr).Apply()
	monitoring.Logf("%s", version.String("facestream"))

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	err = run(ctx, runOptions{
		Config:         cfg,
		ConfigPath:     *configPath,
		HTTPListen:     *listen,
		GRPCListen:     *grpcListen,
		DBPath:         *dbPath,
		RecordInterval: *recordInterval,
		PCAPFile:       *pcapFile,
		RingSize:       *ringSize,
		Reload:         hup,
	})
	if err != nil {
		log.Fatalf("facestream: %v", err)
	}
	monitoring.Logf("graceful shutdown complete")
}

// loadConfig reads path, or returns the built-in defaults when path is
// empty.
func loadConfig(path string) (*config.ReceiverConfig, error) {
	if path == "" {
		return config.DefaultReceiverConfig(), nil
	}
	return config.LoadReceiverConfig(path)
}
