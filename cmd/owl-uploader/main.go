package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/spf13/cobra"

	"github.com/openworldlabs/owl-control-uploader/archive"
	"github.com/openworldlabs/owl-control-uploader/batch"
	"github.com/openworldlabs/owl-control-uploader/hwid"
	"github.com/openworldlabs/owl-control-uploader/progress"
	"github.com/openworldlabs/owl-control-uploader/sessions"
	"github.com/openworldlabs/owl-control-uploader/upload"
	"github.com/openworldlabs/owl-control-uploader/upload/network"
	"github.com/openworldlabs/owl-control-uploader/upload/network/transmitter"
)

const (
	defaultAPIURL = "https://api.openworld.ai"

	recordingWidth  = 640
	recordingHeight = 360
	recordingFPS    = 60

	// smaller chunks recover faster after a failed attempt on flaky links
	unreliableChunkSizeHint = 5 * 1024 * 1024
)

type options struct {
	apiToken    string
	apiURL      string
	dataDir     string
	progressOut string
	patterns    []string
	compress    bool
	unreliable  bool
	verbose     bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:           "owl-uploader",
		Short:         "Upload recorded play sessions in resumable chunks",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.apiToken, "api-token", "", "API token used to authenticate uploads (required)")
	cmd.Flags().StringVar(&opts.apiURL, "api-url", defaultAPIURL, "Base URL of the upload API")
	cmd.Flags().StringVar(&opts.dataDir, "data-dir", defaultDataDir(), "Directory scanned for recorded sessions")
	cmd.Flags().StringVar(&opts.progressOut, "progress-file", progress.DefaultProgressPath(), "File the uploader writes progress snapshots to")
	cmd.Flags().StringSliceVar(&opts.patterns, "pattern", nil, "Glob pattern(s) selecting session directories, relative to the data dir")
	cmd.Flags().BoolVar(&opts.compress, "compress", false, "Compress session archives with zstd before uploading")
	cmd.Flags().BoolVar(&opts.unreliable, "unreliable-connections", false, "Tune timeouts and chunk size for flaky networks")
	cmd.Flags().BoolVar(&opts.verbose, "verbose", false, "Enable debug logging")
	if err := cmd.MarkFlagRequired("api-token"); err != nil {
		panic(err)
	}

	return cmd
}

func run(cmd *cobra.Command, opts options) error {
	logger := log.NewLogger()
	logger.EnableDebugLog(opts.verbose)

	if _, err := os.Stat(opts.dataDir); err != nil {
		return fmt.Errorf("data dir %s: %w", opts.dataDir, err)
	}

	envRepo := env.NewRepository()
	service := network.NewAPIClient(retryhttp.NewClient(logger), opts.apiURL, opts.apiToken, logger)
	sender := transmitter.New(service, transmitter.DefaultConfig(opts.unreliable), logger)
	orchestrator := upload.NewOrchestrator(
		service,
		sender,
		progress.NewFileSink(opts.progressOut, logger),
		hwid.NewProvider(envRepo, logger),
		logger,
	)

	config := batch.Config{
		VideoWidth:  recordingWidth,
		VideoHeight: recordingHeight,
		VideoFPS:    recordingFPS,
	}
	if opts.unreliable {
		logger.Infof("Unreliable connection mode: longer attempt timeouts, %d MiB chunk hint", unreliableChunkSizeHint/1024/1024)
		config.ChunkSizeHintBytes = unreliableChunkSizeHint
	}

	runner := batch.NewRunner(
		sessions.NewScanner(opts.dataDir, opts.patterns, logger),
		archive.NewPacker(os.TempDir(), opts.compress, logger),
		orchestrator,
		config,
		logger,
	)

	stats, err := runner.Run(cmd.Context())
	if err != nil {
		return err
	}
	if stats.Uploaded == 0 && stats.Invalid == 0 {
		logger.Printf("Nothing to upload")
	}
	return nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "recordings"
	}
	return filepath.Join(home, "owl-control", "recordings")
}
