// Command audit is a thin wrapper around the Auditor: it cross-references
// a previously collected images.json snapshot (or every tag the registry
// reports, in -by-registry mode) against the registry's manifests and
// writes registry-check.json / registry-check.csv.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/vgnett/registry-gc/internal/audit"
	"github.com/vgnett/registry-gc/internal/config"
	"github.com/vgnett/registry-gc/internal/model"
	"github.com/vgnett/registry-gc/internal/registry"
	"github.com/vgnett/registry-gc/internal/report"
	"github.com/vgnett/registry-gc/internal/rlog"
)

type repeatedFlag []string

func (r *repeatedFlag) String() string { return fmt.Sprintf("%v", []string(*r)) }
func (r *repeatedFlag) Set(v string) error {
	*r = append(*r, v)
	return nil
}

func main() {
	var repos repeatedFlag
	flag.Var(&repos, "repository", "Restrict to this repository (repeatable)")
	flag.Var(&repos, "r", "shorthand for -repository")
	byRegistry := flag.Bool("by-registry", false, "Walk every tag the registry reports instead of the usage snapshot")
	flag.BoolVar(byRegistry, "R", false, "shorthand for -by-registry")
	usagePath := flag.String("usage", "", "Path to a previously written images.json (defaults to no usage cross-check in by-registry mode)")
	configPath := flag.String("config", "registry-gc.yaml", "Path to config file")
	insecure := flag.Bool("insecure", false, "Skip TLS certificate verification")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	host := flag.Arg(0)

	level := rlog.LevelInfo
	if *debug {
		level = rlog.LevelDebug
	}
	logger := rlog.New(level)
	logger.Banner("Registry GC — Health Auditor")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("loading config: %v", err)
	}
	cfg = cfg.ApplyEnv()
	if host == "" {
		host = cfg.RegistryHost
	}
	if host == "" {
		logger.Fatalf("a registry host is required (positional argument or registry_host in config)")
	}

	clientOpts := []registry.Option{registry.WithRateLimit(20, 50)}
	if cfg.RegistryUsername != "" {
		clientOpts = append(clientOpts, registry.WithBasicAuth(cfg.RegistryUsername, cfg.RegistryPassword))
	}
	if *insecure || cfg.RegistryInsecure {
		clientOpts = append(clientOpts, registry.WithInsecureSkipVerify())
	}
	client := registry.New(host, clientOpts...)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if err := client.Probe(ctx); err != nil {
		logger.Fatalf("registry unavailable: %v", err)
	}

	usage := make(model.ImageUsage)
	if *usagePath != "" {
		usage, err = report.LoadImageUsage(*usagePath)
		if err != nil {
			logger.Fatalf("loading usage snapshot: %v", err)
		}
	}

	a := audit.New(client, host)

	var health model.HealthReport
	if *byRegistry {
		health, err = a.AuditByRegistry(ctx, []string(repos), usage)
	} else {
		if *usagePath == "" {
			logger.Fatalf("-usage is required unless -by-registry is set")
		}
		health, err = a.AuditByUsage(ctx, usage)
	}
	if err != nil {
		logger.Fatalf("audit failed: %v", err)
	}
	logger.Infof("produced %d finding(s)", len(health))

	outDir, err := report.OutputDir(time.Now())
	if err != nil {
		logger.Fatalf("resolving output directory: %v", err)
	}
	if err := report.WriteHealthReport(outDir, health); err != nil {
		logger.Fatalf("writing health report: %v", err)
	}
	logger.Infof("wrote %s/registry-check.json and .csv", outDir)

	if hist, err := report.OpenHistory(cfg.HistoryDBPath); err == nil {
		defer hist.Close()
		if rec, err := hist.RecordRun(report.RunAudit, time.Now(), len(health), 0, 0, 0); err == nil {
			logger.Infof("%s", report.Summary(rec))
		}
	}

	os.Exit(0)
}
