package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"math"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/envnode/internal/admin"
	"github.com/banshee-data/envnode/internal/config"
	"github.com/banshee-data/envnode/internal/link"
	"github.com/banshee-data/envnode/internal/monitoring"
	"github.com/banshee-data/envnode/internal/node"
	"github.com/banshee-data/envnode/internal/peer"
	"github.com/banshee-data/envnode/internal/sensor"
	"github.com/banshee-data/envnode/internal/store"
	"github.com/banshee-data/envnode/internal/uart"
	"github.com/banshee-data/envnode/internal/version"
)

var (
	configPath  = flag.String("config", config.DefaultConfigPath, "Path to the JSON node config")
	port        = flag.String("port", "", "Serial port to use; overrides the config (ignored in dev mode)")
	dbPath      = flag.String("db", "", "Path to the sqlite store; overrides the config")
	adminListen = flag.String("admin", "", "Admin/debug listen address; overrides the config")
	devMode     = flag.Bool("dev", false, "Run against an in-memory companion with synthetic sensors")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

// loadConfig reads path. A missing default config file yields the built-in
// defaults so the binary runs out of the box.
func loadConfig(path string) (*config.NodeConfig, error) {
	cfg, err := config.LoadNodeConfig(path)
	if err != nil {
		if path == config.DefaultConfigPath && errors.Is(err, fs.ErrNotExist) {
			log.Printf("no config at %s, using defaults", path)
			return config.EmptyNodeConfig(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// applyFlags copies non-empty flag overrides into cfg.
func applyFlags(cfg *config.NodeConfig, port, dbPath, adminListen string) {
	if port != "" {
		cfg.Port = &port
	}
	if dbPath != "" {
		cfg.DBPath = &dbPath
	}
	if adminListen != "" {
		cfg.AdminListen = &adminListen
	}
}

// devSensors produces slow sine waves around plausible indoor readings.
func devSensors(start time.Time) sensor.Sensors {
	wave := func(mean, amp float64, period time.Duration) sensor.Reader {
		return sensor.ReaderFunc(func() (float32, error) {
			phase := 2 * math.Pi * float64(time.Since(start)) / float64(period)
			return float32(mean + amp*math.Sin(phase)), nil
		})
	}
	return sensor.Sensors{
		Temperature: wave(21, 1.5, 10*time.Minute),
		Humidity:    wave(45, 5, 15*time.Minute),
		Illuminance: wave(300, 250, 30*time.Minute),
	}
}

func nodeConfig(cfg *config.NodeConfig) node.Config {
	return node.Config{
		Strategy:            cfg.GetStrategy(),
		SampleInterval:      cfg.GetSampleInterval(),
		WakeRetryIterations: cfg.GetWakeRetryIterations(),
		IdleSleep:           cfg.GetIdleSleep(),
		HeartbeatInterval:   cfg.GetHeartbeatInterval(),
		ReplayBacklog:       cfg.GetReplayBacklog(),
	}
}

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println(version.String("envnode"))
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	applyFlags(cfg, *port, *dbPath, *adminListen)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.GetDBPath())
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	id, err := st.NodeID(ctx)
	if err != nil {
		log.Fatalf("failed to load node id: %v", err)
	}
	log.Printf("%s node=%s", version.String("envnode"), id)

	var (
		p       uart.Port
		sensors sensor.Sensors
	)
	if *devMode {
		mp := uart.NewMockPort()
		peer.Attach(mp, peer.WithTimeSyncOnWake(func() uint64 {
			return uint64(time.Now().UnixMilli())
		}))
		p = mp
		sensors = devSensors(time.Now())
		log.Printf("dev mode: in-memory companion, synthetic sensors")
	} else {
		sp, err := uart.Open(cfg.GetPort(), cfg.GetSerial())
		if err != nil {
			log.Fatalf("failed to open serial port: %v", err)
		}
		defer sp.Close()
		p = sp
		sensors = cfg.SensorReaders()
		log.Printf("opened %s at %s", cfg.GetPort(), cfg.GetSerial())
	}

	stats := &monitoring.LinkStats{}
	bridge := link.New(p, append(cfg.LinkOptions(), link.WithStats(stats))...)

	mgr, err := sensor.NewManager(sensors, cfg.GetCapacity())
	if err != nil {
		log.Fatalf("failed to create sensor manager: %v", err)
	}

	n := node.New(nodeConfig(cfg), bridge, mgr, node.WithStore(st))
	defer n.Close()
	if err := n.Restore(ctx); err != nil {
		log.Printf("failed to restore persisted state: %v", err)
	}

	var wg sync.WaitGroup
	if addr := cfg.GetAdminListen(); addr != "" {
		mux := http.NewServeMux()
		if err := admin.Attach(mux, admin.Options{Node: n, Stats: stats, Store: st, NodeID: id.String()}); err != nil {
			log.Fatalf("failed to attach admin routes: %v", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveAdmin(ctx, addr, mux)
		}()
	}

	if err := n.Run(ctx); err != nil {
		log.Printf("node loop: %v", err)
	}
	wg.Wait()
	log.Printf("Graceful shutdown complete")
}

func serveAdmin(ctx context.Context, addr string, mux *http.ServeMux) {
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("admin listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("admin server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down admin server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("admin server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("admin server force close error: %v", err)
		}
	}
}
