// Command scramclient runs the SCRAM client engine as a standalone service:
// it loads the configured credentials and cache policy, starts the
// background self-check and the operational HTTP surface, and (when a
// -target address is given) authenticates one configured credential
// against a live Postgres-protocol backend to prove the engine end to end.
package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dbbouncer/scramclient/internal/api"
	"github.com/dbbouncer/scramclient/internal/authenticator"
	"github.com/dbbouncer/scramclient/internal/config"
	"github.com/dbbouncer/scramclient/internal/health"
	"github.com/dbbouncer/scramclient/internal/metrics"
	"github.com/dbbouncer/scramclient/internal/scram"
)

func main() {
	configPath := flag.String("config", "configs/scramclient.yaml", "path to configuration file")
	target := flag.String("target", "", "host:port of a Postgres-protocol backend to authenticate against on startup (optional)")
	credentialName := flag.String("credential", "", "name of the configured credential to use with -target")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading configuration: %v", err)
	}
	for name, cred := range cfg.Credentials {
		log.Printf("[main] loaded credential %q: %+v", name, cred.Redacted())
	}

	m := metrics.New()

	store := scram.NewStore(cfg.Cache.TTL, cfg.Cache.MaxEntries)
	store.StartSweep(cfg.Cache.SweepInterval)

	cacheSizeStop := make(chan struct{})
	go reportCacheSize(store, m, cacheSizeStop)

	hc := health.NewChecker(distinctMechanisms(cfg), m, cfg.SelfCheck.Interval, cfg.SelfCheck.FailureThreshold)
	hc.Start()

	apiServer := api.NewServer(hc, m, store)
	if err := apiServer.Start(cfg.API.Bind, cfg.API.Port); err != nil {
		log.Fatalf("starting API server: %v", err)
	}

	configWatcher, err := config.NewWatcher(*configPath, func(newCfg *config.Config) {
		log.Printf("[main] configuration reloaded, %d credential(s)", len(newCfg.Credentials))
		for name, cred := range newCfg.Credentials {
			log.Printf("[main] reloaded credential %q: %+v", name, cred.Redacted())
		}
	})
	if err != nil {
		log.Fatalf("starting config watcher: %v", err)
	}

	if *target != "" {
		if err := runOnDemandAuth(cfg, store, m, *target, *credentialName); err != nil {
			log.Printf("[main] on-demand authentication against %s failed: %v", *target, err)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("[main] shutting down")
	configWatcher.Stop()
	if err := apiServer.Stop(); err != nil {
		log.Printf("[main] API server shutdown error: %v", err)
	}
	hc.Stop()
	close(cacheSizeStop)
	store.Stop()
}

// reportCacheSize periodically publishes the secret cache's entry count to
// the scram_cache_size gauge, the way pool.go's stats loop periodically
// published pool occupancy in the teacher.
func reportCacheSize(store *scram.Store, m *metrics.Collector, stop <-chan struct{}) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.SetCacheSize(store.Len())
		case <-stop:
			return
		}
	}
}

// runOnDemandAuth dials target and drives the authenticator using the named
// (or, if unnamed, an arbitrary configured) credential, caching the derived secret
// in store for the self-check/API surface to observe afterward.
func runOnDemandAuth(cfg *config.Config, store *scram.Store, m *metrics.Collector, target, credentialName string) error {
	cred, name, err := selectCredential(cfg, credentialName)
	if err != nil {
		return err
	}

	conn, err := net.DialTimeout("tcp", target, 10*time.Second)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", target, err)
	}
	defer conn.Close()

	start := time.Now()
	res, err := authenticator.Authenticate(conn, authenticator.Config{
		User:     cred.User,
		Password: cred.Password,
		Database: cred.Database,
		Store:    store,
		CacheKey: name,
		Metrics:  m,
		Timeout:  10 * time.Second,
	})
	elapsed := time.Since(start)

	mechanism, _ := cred.ScramMechanism()
	if res != nil {
		mechanism = res.Mechanism
	}
	m.AuthCompleted(mechanism.Name(), err == nil)
	if err != nil {
		return err
	}
	log.Printf("[main] authenticated as %q via %s in %s", cred.User, mechanism.Name(), elapsed)
	return nil
}

func selectCredential(cfg *config.Config, name string) (config.Credential, string, error) {
	if name != "" {
		cred, ok := cfg.Credentials[name]
		if !ok {
			return config.Credential{}, "", fmt.Errorf("no configured credential named %q", name)
		}
		return cred, name, nil
	}
	for n, cred := range cfg.Credentials {
		return cred, n, nil
	}
	return config.Credential{}, "", fmt.Errorf("no credentials configured")
}

// distinctMechanisms returns the set of mechanisms named by cfg's
// credentials, defaulting to SCRAM-SHA-256 when none are configured yet so
// the self-checker always has at least one mechanism to exercise.
func distinctMechanisms(cfg *config.Config) []scram.Mechanism {
	seen := make(map[scram.Mechanism]bool)
	var out []scram.Mechanism
	for _, cred := range cfg.Credentials {
		mech, err := cred.ScramMechanism()
		if err != nil {
			continue
		}
		if !seen[mech] {
			seen[mech] = true
			out = append(out, mech)
		}
	}
	if len(out) == 0 {
		out = append(out, scram.SHA256)
	}
	return out
}
