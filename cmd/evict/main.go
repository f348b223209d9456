// Command evict is a thin wrapper around the Evictor: it cross-references
// a previously collected images.json snapshot against the registry,
// deletes manifests that are neither in use nor protected by a keep rule,
// and defaults to dry-run unless -delete is passed.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/vgnett/registry-gc/internal/config"
	"github.com/vgnett/registry-gc/internal/evict"
	"github.com/vgnett/registry-gc/internal/keeprules"
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
	deleteArmed := flag.Bool("delete", false, "Actually delete manifests instead of dry-running")
	flag.BoolVar(deleteArmed, "d", false, "shorthand for -delete")
	pause := flag.Bool("pause", false, "Prompt for confirmation before each delete")
	flag.BoolVar(pause, "p", false, "shorthand for -pause")
	concurrency := flag.Int("concurrency", 4, "Max repositories evicted in parallel")
	usagePath := flag.String("usage", "", "Path to a previously written images.json")
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
	logger.Banner("Registry GC — Evictor")

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
	if *usagePath == "" {
		logger.Fatalf("-usage is required (path to an images.json snapshot)")
	}

	usage, err := report.LoadImageUsage(*usagePath)
	if err != nil {
		logger.Fatalf("loading usage snapshot: %v", err)
	}

	rules, err := keeprules.Load(cfg.KeepRulesPath)
	if err != nil {
		logger.Fatalf("loading keep rules: %v", err)
	}

	clientOpts := []registry.Option{registry.WithRateLimit(20, 50)}
	if cfg.RegistryUsername != "" {
		clientOpts = append(clientOpts, registry.WithBasicAuth(cfg.RegistryUsername, cfg.RegistryPassword))
	}
	if *insecure || cfg.RegistryInsecure {
		clientOpts = append(clientOpts, registry.WithInsecureSkipVerify())
	}
	client := registry.New(host, clientOpts...)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	if err := client.Probe(ctx); err != nil {
		logger.Fatalf("registry unavailable: %v", err)
	}

	evictorOpts := []evict.Option{
		evict.WithDryRun(!*deleteArmed),
		evict.WithRepoConcurrency(*concurrency),
		evict.WithLogger(logger),
	}
	if *pause {
		evictorOpts = append(evictorOpts, evict.WithConfirm(confirmFromStdin))
	}
	e := evict.New(client, rules, host, evictorOpts...)

	results, err := e.Process(ctx, []string(repos), usage)
	if err != nil {
		logger.Fatalf("eviction failed: %v", err)
	}

	deleted, wouldDelete, problems := summarize(results)
	logger.Infof("processed %d repositor(y/ies): %d deleted, %d would-delete, %d problem(s)",
		len(results), deleted, wouldDelete, problems)

	if hist, err := report.OpenHistory(cfg.HistoryDBPath); err == nil {
		defer hist.Close()
		if rec, err := hist.RecordRun(report.RunEvict, time.Now(), len(results), deleted, wouldDelete, problems); err == nil {
			logger.Infof("%s", report.Summary(rec))
		}
	}

	os.Exit(0)
}

func summarize(results []evict.RepoResult) (deleted, wouldDelete, problems int) {
	for _, r := range results {
		deleted += len(r.Deleted)
		wouldDelete += len(r.WouldDelete)
		problems += r.Problems
	}
	return deleted, wouldDelete, problems
}

// confirmFromStdin implements the -pause/-p hook: it prompts on stderr and
// reads a yes/no answer from stdin, matching registry-evictor.py's
// pause-before-delete behavior without the Evictor core depending on
// os.Stdin directly.
func confirmFromStdin() bool {
	fmt.Fprint(os.Stderr, "delete this manifest? [y/N] ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	switch line {
	case "y\n", "Y\n", "yes\n":
		return true
	default:
		return false
	}
}
