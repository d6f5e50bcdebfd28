package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/godzooka/grab-ia/internal/config"
	"github.com/godzooka/grab-ia/internal/controller"
	"github.com/godzooka/grab-ia/internal/manifest"
	"github.com/godzooka/grab-ia/internal/progress"
	"github.com/godzooka/grab-ia/internal/readme"
)

// sharedFlags are recognized by both start and resume; engineFlags adds
// the ones only a fresh start needs.
type sharedFlags struct {
	configPath  string
	envPath     string
	workers     int
	bandwidth   string
	metricsAddr string
}

func bindSharedFlags(fs *flag.FlagSet, f *sharedFlags) {
	fs.StringVar(&f.configPath, "config", "", "path to a YAML config file")
	fs.StringVar(&f.envPath, "env", ".env", "path to an optional .env file")
	fs.IntVar(&f.workers, "workers", 0, "override worker_ceiling (0 = no override)")
	fs.StringVar(&f.bandwidth, "bandwidth", "", "override bandwidth_ceiling_bps, e.g. 5MB (empty = no override)")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "address to serve /metrics and /stop on, e.g. :9090 (empty = disabled)")
}

// engineFlags are the fields only meaningful when starting a brand new job.
type engineFlags struct {
	itemsPath      string
	outputRoot     string
	sync           bool
	dynamic        bool
	metadataOnly   bool
	nameRegex      string
	extWhitelist   string
	authPath       string
	manifestURL    string
	downloadURL    string
}

func bindEngineFlags(fs *flag.FlagSet, f *engineFlags) {
	fs.StringVar(&f.itemsPath, "items", "", "path to the input identifier list")
	fs.StringVar(&f.outputRoot, "output", "", "output root directory")
	fs.BoolVar(&f.sync, "sync", false, "skip files that already exist on disk with matching size/digest")
	fs.BoolVar(&f.dynamic, "dynamic", true, "enable dynamic worker scaling")
	fs.BoolVar(&f.metadataOnly, "metadata-only", false, "retain only manifest/metadata files")
	fs.StringVar(&f.nameRegex, "name-regex", "", "retain only files whose name matches this regex")
	fs.StringVar(&f.extWhitelist, "extensions", "", "comma-separated extension whitelist, e.g. mp3,flac")
	fs.StringVar(&f.authPath, "auth", "", "path to a credentials file")
	fs.StringVar(&f.manifestURL, "manifest-url", "", "base URL the engine appends an identifier to for metadata fetch")
	fs.StringVar(&f.downloadURL, "download-url", "", "base URL the engine appends identifier/file to for downloads")
}

// buildConfig layers a baseline < YAML file < .env + environment <
// explicit CLI overrides, matching the engine's documented precedence.
// useDefaults selects config.Default() as the baseline (appropriate for a
// fresh start, where an unspecified worker_ceiling should take the
// engine's conservative default); resume leaves the baseline at the zero
// value so an unspecified --workers/--bandwidth means "keep whatever the
// persisted job already has" rather than silently resetting it.
func buildConfig(shared sharedFlags, engine *engineFlags, useDefaults bool) (config.Config, error) {
	cfg := config.Config{}
	if useDefaults {
		cfg = config.Default()
	}

	if shared.configPath != "" {
		loaded, err := config.LoadFromFile(shared.configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	if err := config.LoadDotEnv(shared.envPath); err != nil {
		return config.Config{}, err
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return config.Config{}, err
	}

	override := config.Config{WorkerCeiling: shared.workers}
	if shared.bandwidth != "" {
		n, err := progress.ParseBytes(shared.bandwidth)
		if err != nil {
			return config.Config{}, fmt.Errorf("parse --bandwidth: %w", err)
		}
		override.BandwidthCeilingBps = n
	}
	if engine != nil {
		override.ItemsPath = engine.itemsPath
		override.OutputRoot = engine.outputRoot
		override.Sync = engine.sync
		override.Dynamic = engine.dynamic
		override.MetadataOnly = engine.metadataOnly
		override.NameRegex = engine.nameRegex
		override.AuthPath = engine.authPath
		override.ManifestURL = engine.manifestURL
		override.DownloadBaseURL = engine.downloadURL
		if engine.extWhitelist != "" {
			override.ExtensionWhitelist = strings.Split(engine.extWhitelist, ",")
		}
	}
	cfg = cfg.Merge(override)

	return cfg, nil
}

// toEngineConfig turns the flat config.Config into the closures the
// controller's EngineConfig expects, one base URL joined with the item
// identifier for the manifest fetch, the other additionally joined with
// the remote file name by the caller.
func toEngineConfig(cfg config.Config) controller.EngineConfig {
	manifestBase := strings.TrimSuffix(cfg.ManifestURL, "/")
	downloadBase := strings.TrimSuffix(cfg.DownloadBaseURL, "/")
	return controller.EngineConfig{
		ItemsPath:           cfg.ItemsPath,
		OutputRoot:          cfg.OutputRoot,
		WorkerCeiling:       cfg.WorkerCeiling,
		BandwidthCeilingBps: cfg.BandwidthCeilingBps,
		Sync:                cfg.Sync,
		Dynamic:             cfg.Dynamic,
		MetadataOnly:        cfg.MetadataOnly,
		NameRegex:           cfg.NameRegex,
		ExtensionWhitelist:  cfg.ExtensionWhitelist,
		AuthPath:            cfg.AuthPath,
		ManifestURL:         func(identifier string) string { return manifestBase + "/" + identifier },
		DownloadBaseURL:     func(identifier string) string { return downloadBase + "/" + identifier },
		OnItemResolved:      writeItemReadme,
	}
}

// writeItemReadme is the CLI's EngineConfig.OnItemResolved collaborator:
// it renders the optional per-item README.txt the engine itself never
// produces.
func writeItemReadme(itemDir, identifier string, files []manifest.RemoteFile) {
	if err := readme.Write(itemDir, identifier, files); err != nil {
		fmt.Fprintf(os.Stderr, "grabia: write %s/README.txt: %v\n", itemDir, err)
	}
}
