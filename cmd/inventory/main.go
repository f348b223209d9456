// Command inventory is a thin wrapper around the Cluster Inventory
// Collector: it walks the configured kubeconfig contexts (or falls back to
// in-cluster credentials), writes images.json, and exits non-zero on any
// fatal collection error.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/vgnett/registry-gc/internal/config"
	"github.com/vgnett/registry-gc/internal/inventory"
	"github.com/vgnett/registry-gc/internal/model"
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
	var contexts repeatedFlag
	age := flag.Float64("age", 0, "Only include images younger than this many days (0 uses config default)")
	flag.Var(&contexts, "context", "Kubernetes context to collect from (repeatable)")
	flag.Var(&contexts, "c", "shorthand for -context")
	configPath := flag.String("config", "registry-gc.yaml", "Path to config file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	level := rlog.LevelInfo
	if *debug {
		level = rlog.LevelDebug
	}
	logger := rlog.New(level)
	logger.Banner("Registry GC — Cluster Inventory Collector")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("loading config: %v", err)
	}
	cfg = cfg.ApplyEnv()

	maxAge := cfg.MaxAgeDays
	if *age > 0 {
		maxAge = *age
	}

	effectiveContexts := []string(contexts)
	if len(effectiveContexts) == 0 {
		effectiveContexts = cfg.Contexts
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	factory := inventory.NewClientFactory(cfg.KubeconfigPath)
	collector := inventory.NewCollector(factory,
		inventory.WithMaxAgeDays(maxAge),
		inventory.WithKubeconfigPath(cfg.KubeconfigPath),
	)

	if len(effectiveContexts) == 0 {
		logger.Infof("no contexts given, walking every context in the kubeconfig")
	} else {
		logger.Infof("walking %d configured context(s)", len(effectiveContexts))
	}

	usage := make(model.ImageUsage)
	if err := collector.Collect(ctx, effectiveContexts, usage); err != nil {
		logger.Fatalf("inventory collection failed: %v", err)
	}
	logger.Infof("collected %d image usage record(s)", len(usage))

	outDir, err := report.OutputDir(time.Now())
	if err != nil {
		logger.Fatalf("resolving output directory: %v", err)
	}
	if err := report.WriteImageUsage(outDir, usage); err != nil {
		logger.Fatalf("writing images.json: %v", err)
	}
	logger.Infof("wrote %s/images.json", outDir)

	if hist, err := report.OpenHistory(cfg.HistoryDBPath); err == nil {
		defer hist.Close()
		if rec, err := hist.RecordRun(report.RunInventory, time.Now(), len(usage), 0, 0, 0); err == nil {
			logger.Infof("%s", report.Summary(rec))
		}
	}

	os.Exit(0)
}
