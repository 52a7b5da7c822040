package extract

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/yegors/transcribe-gateway/pkg/logger"
)

// waitDelay bounds how long Wait blocks on output pipes held by killed children
const waitDelay = 5 * time.Second

// YTDLPConfig contains settings for the yt-dlp backend
type YTDLPConfig struct {
	Path         string // yt-dlp executable
	SampleRateHz int    // Mono output sample rate
	AudioQuality string // --audio-quality value
}

// YTDLP extracts audio by running yt-dlp with its ffmpeg post-processor
type YTDLP struct {
	config YTDLPConfig
	logger *logger.Logger
}

// NewYTDLP creates a yt-dlp backed extractor
func NewYTDLP(config YTDLPConfig, log *logger.Logger) *YTDLP {
	return &YTDLP{
		config: config,
		logger: log.Named("ytdlp"),
	}
}

// Extract runs yt-dlp and waits for it to exit
func (y *YTDLP) Extract(ctx context.Context, req Request) error {
	args := y.buildArgs(req)
	start := time.Now()

	y.logger.Info("Starting extraction",
		logger.String("url", req.SourceURL),
		logger.String("output", req.OutputPath))

	cmd := exec.CommandContext(ctx, y.config.Path, args...)
	killProcessGroup(cmd)
	cmd.WaitDelay = waitDelay
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		removeOutputs(req.OutputPath)
		exitErr := newExitError("yt-dlp", err, stderr.String())
		y.logger.Warn("Extraction failed",
			logger.String("url", req.SourceURL),
			logger.Int("exit_code", exitErr.ExitCode),
			logger.Error(err))
		return exitErr
	}

	if err := checkOutput("yt-dlp", req.OutputPath); err != nil {
		removeOutputs(req.OutputPath)
		return err
	}

	y.logger.Info("Extraction finished",
		logger.String("output", req.OutputPath),
		logger.Duration("duration", time.Since(start)))
	return nil
}

// buildArgs produces the yt-dlp command line. The output template keeps the stem of
// OutputPath and lets yt-dlp choose the extension, which is mp3 after conversion.
func (y *YTDLP) buildArgs(req Request) []string {
	stem := strings.TrimSuffix(req.OutputPath, filepath.Ext(req.OutputPath))

	args := []string{
		"--no-playlist",
		"--no-progress",
		"-x",
		"--audio-format", "mp3",
		"--audio-quality", y.config.AudioQuality,
		"--postprocessor-args", fmt.Sprintf("ffmpeg:-ac 1 -ar %d", y.config.SampleRateHz),
	}
	if req.CookiesPath != "" {
		args = append(args, "--cookies", req.CookiesPath)
	}
	args = append(args, "-o", stem+".%(ext)s", "--", req.SourceURL)
	return args
}
