// Copyright 2026 The mapcache authors.
// SPDX-License-Identifier: Apache-2.0

// mapcache starts an HTTP server that serves cached map tiles, grounded
// on imageproxy's cmd/imageproxy server binary: flags (with an env var
// override, since third_party/envy is an unexported internal package we
// cannot import, so the equivalent MAPCACHE_* override is reimplemented
// locally in env.go), a gorilla/mux router configured the same way
// (SkipClean/UseEncodedPath), and a log.Fatal(server.ListenAndServe()).
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"

	"github.com/tomhel/mapcache/config"
	"github.com/tomhel/mapcache/dispatch"
	"github.com/tomhel/mapcache/metrics"
	"github.com/tomhel/mapcache/pool"
)

var (
	addr        = flag.String("addr", "localhost:8080", "TCP address to listen on")
	metricsAddr = flag.String("metricsAddr", "", "TCP address to serve /metrics on; empty disables it")
	poolMin     = flag.Int("poolMin", 0, "connection pool minimum reserve")
	poolSMax    = flag.Int("poolSMax", 5, "connection pool soft cap")
	poolHMax    = flag.Int("poolHMax", 200, "connection pool hard cap")
	poolTTL     = flag.Duration("poolTTL", 60*time.Second, "connection pool idle TTL")
	poolShared  = flag.Bool("poolSharing", false, "share one connection pool across every alias")
	verbose     = flag.Bool("verbose", false, "enable debug logging")
)

var aliases aliasFlag

func init() {
	flag.Var(&aliases, "alias", "endpoint=configfile pair; may be repeated")
}

func main() {
	applyEnvOverrides("MAPCACHE")
	flag.Parse()

	log := newStartupLogger(*verbose)

	if len(aliases) == 0 {
		log.Fatal("at least one -alias endpoint=configfile must be given")
	}

	zlog, err := newRequestLogger(*verbose)
	if err != nil {
		log.Fatalf("building request logger: %v", err)
	}

	reg := prometheus.NewRegistry()
	met := metrics.New(reg)

	sharedPool := pool.New(pool.Options{
		Min: *poolMin, SMax: *poolSMax, HMax: *poolHMax, AcquireTimeout: 5 * time.Second,
		TTL: *poolTTL,
	}, zlog)
	sharedPool.SetMetrics(met)

	var routerAliases []*config.Alias
	for _, a := range aliases {
		f, err := os.Open(a.configFile)
		if err != nil {
			log.Fatalf("opening config for alias %s: %v", a.endpoint, err)
		}
		cfg, err := config.Parse(f)
		f.Close()
		if err != nil {
			log.Fatalf("parsing config for alias %s: %v", a.endpoint, err)
		}

		p := sharedPool
		if !*poolShared {
			p = pool.New(pool.Options{
				Min: *poolMin, SMax: *poolSMax, HMax: *poolHMax, AcquireTimeout: 5 * time.Second,
				TTL: *poolTTL,
			}, zlog)
			p.SetMetrics(met)
		}

		routerAliases = append(routerAliases, &config.Alias{Endpoint: a.endpoint, Config: cfg, Pool: p})
		log.Infof("registered alias %s -> %s", a.endpoint, a.configFile)
	}

	router := config.NewRouter(routerAliases)
	d := dispatch.New(router, []dispatch.ServiceParser{
		dispatch.TMSParser{}, dispatch.WMSParser{}, dispatch.ProxyParser{},
	}, zlog)

	for _, a := range routerAliases {
		if err := wireAlias(d, a.Endpoint, a.Config, a.Pool, met, zlog); err != nil {
			log.Fatalf("%v", err)
		}
	}

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			log.Infof("metrics listening on %s", *metricsAddr)
			log.Error(http.ListenAndServe(*metricsAddr, mux))
		}()
	}

	r := dispatch.NewMuxRouter(d)
	server := &http.Server{
		Addr:    *addr,
		Handler: r,

		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	fmt.Printf("mapcache listening on %s\n", server.Addr)
	log.Fatal(server.ListenAndServe())
}

func newStartupLogger(verbose bool) *logrus.Logger {
	l := logrus.New()
	if verbose {
		l.SetLevel(logrus.DebugLevel)
	}
	return l
}

func newRequestLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

type aliasSpec struct{ endpoint, configFile string }

type aliasFlag []aliasSpec

func (f *aliasFlag) String() string { return fmt.Sprint(*f) }

func (f *aliasFlag) Set(value string) error {
	for i := 0; i < len(value); i++ {
		if value[i] == '=' {
			*f = append(*f, aliasSpec{endpoint: value[:i], configFile: value[i+1:]})
			return nil
		}
	}
	return fmt.Errorf("mapcache: -alias must be of the form endpoint=configfile, got %q", value)
}
