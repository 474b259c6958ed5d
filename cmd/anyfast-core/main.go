// Command anyfast-core is the headless façade process: it wires the hosts
// manager, privilege broker, speed tester, health-check supervisor, and
// advisory stores into a single local HTTP API (spec §6).
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/anyfast/anyfast-core/internal/api"
	"github.com/anyfast/anyfast-core/internal/baseline"
	"github.com/anyfast/anyfast-core/internal/broker"
	"github.com/anyfast/anyfast-core/internal/candidate"
	"github.com/anyfast/anyfast-core/internal/config"
	"github.com/anyfast/anyfast-core/internal/facade"
	"github.com/anyfast/anyfast-core/internal/geoipannotate"
	"github.com/anyfast/anyfast-core/internal/healthcheck"
	"github.com/anyfast/anyfast-core/internal/history"
	"github.com/anyfast/anyfast-core/internal/hostsio"
	"github.com/anyfast/anyfast-core/internal/model"
	"github.com/anyfast/anyfast-core/internal/netutil"
	"github.com/anyfast/anyfast-core/internal/pipesvc"
	"github.com/anyfast/anyfast-core/internal/probe"
	"github.com/anyfast/anyfast-core/internal/tester"
)

const downloadTimeout = 15 * time.Second

func main() {
	envCfg, err := config.LoadEnvConfig()
	if err != nil {
		fatalf("%v", err)
	}

	stations, err := config.LoadStations(envCfg.StationsFile)
	if err != nil {
		fatalf("%v", err)
	}
	endpointsFn := func() []model.Endpoint { return stations }
	preferredFn := func() map[string][]string { return nil }
	log.Printf("Loaded %d configured stations", len(stations))

	// Phase 1: direct hosts access, privilege broker.
	direct := hostsio.New()
	serviceClient := pipesvc.NewClient()
	helperRunner := broker.NewHelperRunner()
	brokerSvc := broker.New(direct, serviceClient, helperRunner)
	brokerSvc.RefreshServiceStatus(context.Background())
	log.Println("Privilege broker initialized")

	// Phase 2: candidate sourcing, probing, speed testing.
	downloader := netutil.NewDirectDownloader(downloadTimeout)
	candidates := candidate.New(net.DefaultResolver, downloader, envCfg.CFBestIPFeedURL)
	prober := probe.New()
	speedTester := tester.New(prober, candidates, envCfg.MedianN)
	baselineMap := baseline.New()
	log.Println("Candidate sourcing and tester initialized")

	// Phase 3: GeoIP/ASN diagnostic annotation, best-effort only.
	geoCacheDir := envCfg.GeoIPDBPath
	if geoCacheDir == "" {
		geoCacheDir = filepath.Join(envCfg.StateDir, "geoip")
	}
	annotator := geoipannotate.New(geoipannotate.Config{
		CacheDir:       geoCacheDir,
		UpdateSchedule: envCfg.GeoIPUpdateSchedule,
		Downloader:     downloader,
	})
	if err := annotator.Start(); err != nil {
		log.Printf("Warning: geoip annotator start: %v", err)
	} else {
		log.Println("GeoIP annotator started")
	}
	speedTester.SetAnnotator(annotator)

	// Phase 4: advisory history store.
	historyStore, err := history.Open(envCfg.HistoryDBPath)
	if err != nil {
		fatalf("history store: %v", err)
	}
	log.Println("History store opened")

	// Phase 5: health-check supervisor.
	thresholds := healthcheck.Thresholds{
		CheckInterval:    envCfg.CheckInterval,
		SlowThresholdPct: envCfg.SlowThresholdPct,
		FailureThreshold: envCfg.FailureThreshold,
		MedianN:          envCfg.MedianN,
	}
	checker := healthcheck.New(
		brokerSvc,
		brokerSvc,
		prober,
		func() *tester.Tester { return speedTester },
		baselineMap,
		thresholds,
		endpointsFn,
		preferredFn,
	)
	checker.OnSwitch(func(domain, newIP string, latencyMs float64) {
		log.Printf("[healthcheck] switched domain=%s ip=%s latency=%.1fms", domain, newIP, latencyMs)
	})
	checker.OnTickComplete(func(checked, switched int) {
		log.Printf("[healthcheck] tick complete checked=%d switched=%d", checked, switched)
	})
	log.Println("Health-check supervisor initialized")

	// Phase 6: façade and HTTP API.
	face := facade.New(brokerSvc, speedTester, baselineMap, historyStore, checker, endpointsFn, preferredFn)
	face.StartHealthChecker()
	log.Println("Health-check supervisor started")

	srv := api.NewServer(envCfg.ListenAddress, envCfg.APIPort, envCfg.AdminToken, face, api.DefaultMaxBodyBytes)

	serverErrCh := make(chan error, 1)
	go func() {
		log.Printf("anyfast-core API server starting on %s:%d", envCfg.ListenAddress, envCfg.APIPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	var runtimeErr error
	select {
	case sig := <-quit:
		log.Printf("Received signal %s, shutting down...", sig)
	case err := <-serverErrCh:
		runtimeErr = err
		log.Printf("Received server runtime error (%v), shutting down...", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("API server shutdown error: %v", err)
	}
	log.Println("API server stopped")

	face.StopHealthChecker()
	log.Println("Health-check supervisor stopped")

	annotator.Stop()
	log.Println("GeoIP annotator stopped")

	if err := historyStore.Close(); err != nil {
		log.Printf("History store close error: %v", err)
	}
	log.Println("History store closed")

	if runtimeErr != nil {
		fatalf("runtime server error: %v", runtimeErr)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "fatal: "+format+"\n", args...)
	os.Exit(1)
}
