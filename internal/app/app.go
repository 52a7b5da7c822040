// Package app builds the long-lived clients once and wires them into the pipeline.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yegors/transcribe-gateway/internal/api"
	"github.com/yegors/transcribe-gateway/internal/artifact"
	"github.com/yegors/transcribe-gateway/internal/artifact/gcs"
	"github.com/yegors/transcribe-gateway/internal/artifact/local"
	"github.com/yegors/transcribe-gateway/internal/config"
	"github.com/yegors/transcribe-gateway/internal/diarization"
	"github.com/yegors/transcribe-gateway/internal/extract"
	"github.com/yegors/transcribe-gateway/internal/pipeline"
	"github.com/yegors/transcribe-gateway/internal/speech"
	"github.com/yegors/transcribe-gateway/internal/speech/google"
	"github.com/yegors/transcribe-gateway/internal/storage/sqlite"
	"github.com/yegors/transcribe-gateway/internal/websocket"
	"github.com/yegors/transcribe-gateway/pkg/logger"
)

// App holds the wired pipeline and everything that must be closed on shutdown
type App struct {
	Config   *config.Config
	Pipeline *pipeline.Orchestrator
	Jobs     *sqlite.JobStorage // nil when storage is disabled
	Events   *websocket.Server  // nil when websocket is disabled

	logger  *logger.Logger
	closers []func() error
}

// New creates the remote clients described by cfg and wires them together.
// cfg must already be validated.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{Config: cfg, logger: log.Named("app")}

	store, err := a.newStore(ctx, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	recognizer, err := google.NewClient(ctx, cfg.Speech.CredentialsPath, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, recognizer.Close)

	if err := a.assemble(newExtractor(cfg.Extractor, log), store, recognizer, log); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// assemble builds the optional ledger and event hub and the orchestrator on top of the given clients
func (a *App) assemble(extractor extract.Extractor, store artifact.Store, recognizer speech.Recognizer, log *logger.Logger) error {
	cfg := a.Config

	a.Pipeline = pipeline.New(
		pipelineConfig(cfg),
		extractor,
		store,
		recognizer,
		newReducer(cfg.Diarization),
		log,
	)

	if cfg.Storage.Enabled {
		db, err := sqlite.Open(cfg.Storage.SQLitePath, log)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, db.Close)

		jobs, err := sqlite.NewJobStorage(db, log)
		if err != nil {
			return err
		}
		a.Jobs = jobs
		a.Pipeline.SetRecorder(jobs)
	}

	if cfg.WebSocket.Enabled {
		a.Events = websocket.NewServer(log)
		a.Pipeline.SetPublisher(a.Events)
	}

	a.logger.Info("Pipeline ready",
		logger.String("extractor", cfg.Extractor.Backend),
		logger.String("artifact_store", cfg.Artifact.Backend),
		logger.Bool("diarization", cfg.Speech.EnableDiarization),
		logger.Bool("ledger", a.Jobs != nil),
		logger.Bool("events", a.Events != nil))
	return nil
}

func (a *App) newStore(ctx context.Context, log *logger.Logger) (artifact.Store, error) {
	cfg := a.Config.Artifact
	switch cfg.Backend {
	case "local":
		return local.NewStore(cfg.LocalDir, log)
	case "gcs":
		client, err := gcs.NewClient(ctx, gcs.Config{
			Bucket:          cfg.Bucket,
			ProjectID:       cfg.ProjectID,
			CredentialsPath: cfg.CredentialsPath,
			ContentType:     cfg.ContentType,
		}, log)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		return client, nil
	default:
		return nil, fmt.Errorf("unknown artifact backend: %s", cfg.Backend)
	}
}

// JobLedger returns the ledger as the API sees it, or nil when storage is disabled
func (a *App) JobLedger() api.JobLedger {
	if a.Jobs == nil {
		return nil
	}
	return a.Jobs
}

// Close releases every client in reverse construction order
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func newExtractor(cfg config.ExtractorConfig, log *logger.Logger) extract.Extractor {
	if cfg.Backend == "native" {
		return extract.NewNative(extract.NativeConfig{
			FFmpegPath:   cfg.FFmpegPath,
			SampleRateHz: cfg.SampleRateHz,
			BitrateKbps:  cfg.BitrateKbps,
		}, log)
	}
	return extract.NewYTDLP(extract.YTDLPConfig{
		Path:         cfg.YTDLPPath,
		SampleRateHz: cfg.SampleRateHz,
		AudioQuality: cfg.AudioQuality,
	}, log)
}

func newReducer(cfg config.DiarizationConfig) *diarization.Reducer {
	return diarization.NewReducer(diarization.Options{
		UnattributedTagZero: cfg.TagZero == config.TagZeroUnattributed,
		UnattributedLabel:   cfg.UnattributedLabel,
	})
}

func pipelineConfig(cfg *config.Config) pipeline.Config {
	return pipeline.Config{
		ScratchDir:  cfg.Extractor.ScratchDir,
		CookiesPath: cfg.Extractor.CookiesPath,
		Recognition: speech.RecognitionConfig{
			Encoding:                 cfg.Speech.Encoding,
			SampleRateHz:             cfg.Speech.SampleRateHz,
			LanguageCode:             cfg.Speech.LanguageCode,
			AlternativeLanguageCodes: cfg.Speech.AlternativeLanguageCodes,
			EnablePunctuation:        cfg.Speech.EnablePunctuation,
			EnableDiarization:        cfg.Speech.EnableDiarization,
			SpeakerCount:             cfg.Speech.SpeakerCount,
			Model:                    cfg.Speech.Model,
		},
		Diarize:        cfg.Speech.EnableDiarization,
		ExtractTimeout: seconds(cfg.Extractor.TimeoutSeconds),
		UploadTimeout:  seconds(cfg.Artifact.TimeoutSeconds),
		SpeechTimeout:  seconds(cfg.Speech.TimeoutSeconds),
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
