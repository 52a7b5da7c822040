package extract

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kkdai/youtube/v2"

	"github.com/yegors/transcribe-gateway/pkg/logger"
)

// NativeConfig contains settings for the in-process YouTube backend
type NativeConfig struct {
	FFmpegPath   string // ffmpeg executable used for transcoding
	SampleRateHz int    // Mono output sample rate
	BitrateKbps  int    // MP3 bitrate
}

// Native downloads the best audio-only stream with kkdai/youtube and pipes it through ffmpeg
type Native struct {
	client     youtube.Client
	config     NativeConfig
	logger     *logger.Logger
	cookieOnce sync.Once
}

// NewNative creates an in-process extractor
func NewNative(config NativeConfig, log *logger.Logger) *Native {
	return &Native{
		client: youtube.Client{},
		config: config,
		logger: log.Named("native-extractor"),
	}
}

// Extract downloads and transcodes the audio track of req.SourceURL
func (n *Native) Extract(ctx context.Context, req Request) error {
	if req.CookiesPath != "" {
		n.cookieOnce.Do(func() {
			n.logger.Warn("Cookie files are not supported by the native extractor and will be ignored",
				logger.String("cookies", req.CookiesPath))
		})
	}

	start := time.Now()
	video, err := n.client.GetVideoContext(ctx, req.SourceURL)
	if err != nil {
		return &ExitError{Tool: "youtube", ExitCode: -1, Diagnostic: "failed to get video: " + err.Error(), Err: err}
	}

	format, err := bestAudioFormat(video.Formats)
	if err != nil {
		return &ExitError{Tool: "youtube", ExitCode: -1, Diagnostic: err.Error(), Err: err}
	}

	n.logger.Info("Starting extraction",
		logger.String("url", req.SourceURL),
		logger.String("title", video.Title),
		logger.String("mime_type", format.MimeType),
		logger.Int("bitrate", format.Bitrate))

	stream, _, err := n.client.GetStreamContext(ctx, video, format)
	if err != nil {
		return &ExitError{Tool: "youtube", ExitCode: -1, Diagnostic: "failed to get stream: " + err.Error(), Err: err}
	}
	defer stream.Close()

	cmd := exec.CommandContext(ctx, n.config.FFmpegPath, n.ffmpegArgs(req.OutputPath)...)
	cmd.Stdin = stream
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		removeOutputs(req.OutputPath)
		return newExitError("ffmpeg", err, stderr.String())
	}
	if err := checkOutput("ffmpeg", req.OutputPath); err != nil {
		removeOutputs(req.OutputPath)
		return err
	}

	n.logger.Info("Extraction finished",
		logger.String("output", req.OutputPath),
		logger.Duration("duration", time.Since(start)))
	return nil
}

func (n *Native) ffmpegArgs(outputPath string) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-i", "pipe:0",
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(n.config.SampleRateHz),
		"-codec:a", "libmp3lame",
		"-b:a", fmt.Sprintf("%dk", n.config.BitrateKbps),
		outputPath,
	}
}

// bestAudioFormat picks the audio-only format with the highest bitrate
func bestAudioFormat(formats youtube.FormatList) (*youtube.Format, error) {
	var audio []*youtube.Format
	for i := range formats {
		if strings.HasPrefix(formats[i].MimeType, "audio/") {
			audio = append(audio, &formats[i])
		}
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("no audio formats available")
	}

	sort.SliceStable(audio, func(i, j int) bool {
		return audio[i].Bitrate > audio[j].Bitrate
	})
	return audio[0], nil
}
