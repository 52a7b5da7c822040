package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yegors/transcribe-gateway/internal/artifact"
	"github.com/yegors/transcribe-gateway/internal/diarization"
	"github.com/yegors/transcribe-gateway/internal/extract"
	"github.com/yegors/transcribe-gateway/internal/speech"
	"github.com/yegors/transcribe-gateway/internal/storage/sqlite"
	"github.com/yegors/transcribe-gateway/pkg/logger"
)

// Event types published while jobs move through the pipeline
const (
	EventArtifactUploaded    = "artifact_uploaded"
	EventJobSubmitted        = "job_submitted"
	EventJobSubmissionFailed = "job_submission_failed"
	EventJobCompleted        = "job_completed"
	EventJobFailed           = "job_failed"
)

// Outcome is the result kind of a successful submission request
type Outcome string

const (
	OutcomeSubmitted  Outcome = "submitted"
	OutcomeUploadOnly Outcome = "upload_only"
)

// State is the remote state of a job as seen by one status query
type State string

const (
	StateProcessing State = "processing"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// SourceRequest is one transcription request
type SourceRequest struct {
	SourceURL string
}

// SubmitResult describes a request that got at least as far as a stored artifact.
// SubmissionErr is set, and JobHandle empty, when the upload worked but the
// recognition job could not be started.
type SubmitResult struct {
	Outcome       Outcome
	JobHandle     string
	StoredURI     string
	ArtifactName  string
	SubmissionErr error
}

// JobStatus is the answer to one status query
type JobStatus struct {
	State      State
	Result     *speech.Result
	Transcript diarization.Transcript
	Cause      error // set when State is StateFailed
}

// Recorder persists accepted submissions
type Recorder interface {
	RecordSubmission(ctx context.Context, record *sqlite.JobRecord) error
}

// Publisher receives pipeline events
type Publisher interface {
	Publish(eventType string, data map[string]any)
}

// Config contains the per-request settings of the orchestrator
type Config struct {
	ScratchDir     string
	CookiesPath    string
	Recognition    speech.RecognitionConfig
	Diarize        bool
	ExtractTimeout time.Duration
	UploadTimeout  time.Duration
	SpeechTimeout  time.Duration
}

// Orchestrator runs extract, upload and submit for each request and answers status queries
type Orchestrator struct {
	extractor  extract.Extractor
	store      artifact.Store
	recognizer speech.Recognizer
	reducer    *diarization.Reducer
	recorder   Recorder
	publisher  Publisher
	config     Config
	logger     *logger.Logger
}

// New creates an orchestrator around already constructed clients
func New(config Config, extractor extract.Extractor, store artifact.Store, recognizer speech.Recognizer, reducer *diarization.Reducer, log *logger.Logger) *Orchestrator {
	if reducer == nil {
		reducer = diarization.NewReducer(diarization.Options{})
	}
	return &Orchestrator{
		extractor:  extractor,
		store:      store,
		recognizer: recognizer,
		reducer:    reducer,
		config:     config,
		logger:     log.Named("pipeline"),
	}
}

// SetRecorder enables the submission ledger
func (o *Orchestrator) SetRecorder(recorder Recorder) {
	o.recorder = recorder
}

// SetPublisher enables event publishing
func (o *Orchestrator) SetPublisher(publisher Publisher) {
	o.publisher = publisher
}

// Submit extracts audio from req.SourceURL, stores it and starts a recognition job.
// The local artifact never outlives the call.
func (o *Orchestrator) Submit(ctx context.Context, req SourceRequest) (*SubmitResult, error) {
	sourceURL := strings.TrimSpace(req.SourceURL)
	if sourceURL == "" {
		return nil, wrap(StageValidate, ErrInvalidRequest, "url is required", nil)
	}

	name := uuid.NewString() + ".mp3"
	localPath := filepath.Join(o.config.ScratchDir, name)
	log := o.logger.With(logger.String("artifact", name))
	start := time.Now()

	if err := o.extract(ctx, sourceURL, localPath); err != nil {
		o.removeLocal(localPath)
		log.Warn("Extraction failed", logger.String("url", sourceURL), logger.Error(err))
		return nil, err
	}

	uri, err := o.upload(ctx, localPath, name)
	o.removeLocal(localPath)
	if err != nil {
		log.Warn("Upload failed", logger.Error(err))
		return nil, err
	}
	log.Info("Artifact uploaded", logger.String("uri", uri))
	o.publish(EventArtifactUploaded, map[string]any{"file": uri})

	result := &SubmitResult{
		Outcome:      OutcomeSubmitted,
		StoredURI:    uri,
		ArtifactName: name,
	}

	handle, err := o.submit(ctx, uri)
	if err != nil {
		result.Outcome = OutcomeUploadOnly
		result.SubmissionErr = err
		log.Warn("Job submission failed", logger.String("uri", uri), logger.Error(err))
		o.publish(EventJobSubmissionFailed, map[string]any{"file": uri, "error": Message(err)})
	} else {
		result.JobHandle = handle
		log.Info("Job submitted",
			logger.String("job_id", handle),
			logger.Duration("elapsed", time.Since(start)))
		o.publish(EventJobSubmitted, map[string]any{"file": uri, "jobId": handle})
	}

	o.record(ctx, sourceURL, result)
	return result, nil
}

// Status performs one status query for handle. It holds no state, so it is safe
// to repeat and to call concurrently.
func (o *Orchestrator) Status(ctx context.Context, handle string) (*JobStatus, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return nil, wrap(StageValidate, ErrInvalidRequest, "jobid is required", nil)
	}

	ctx, cancel := stageContext(ctx, o.config.SpeechTimeout)
	defer cancel()

	st, err := o.recognizer.Check(ctx, handle)
	if err != nil {
		o.logger.Warn("Status query failed", logger.String("job_id", handle), logger.Error(err))
		return nil, wrap(StagePoll, ErrPollFailed, "", err)
	}

	if !st.Done {
		return &JobStatus{State: StateProcessing}, nil
	}

	if st.Err != nil {
		cause := wrap(StagePoll, ErrRemoteJobFailed, "", st.Err)
		o.publish(EventJobFailed, map[string]any{"jobId": handle, "error": Message(cause)})
		return &JobStatus{State: StateFailed, Cause: cause}, nil
	}

	result := st.Result
	if result == nil {
		result = &speech.Result{}
	}

	status := &JobStatus{State: StateDone, Result: result}
	if o.config.Diarize {
		status.Transcript = o.reducer.Reduce(result)
	} else {
		status.Transcript = diarization.Transcript{Lines: []diarization.Line{}, Text: diarization.Plain(result)}
	}

	o.publish(EventJobCompleted, map[string]any{"jobId": handle})
	return status, nil
}

func (o *Orchestrator) extract(ctx context.Context, sourceURL, localPath string) error {
	if err := os.MkdirAll(o.config.ScratchDir, 0o755); err != nil {
		return wrap(StageExtract, ErrExtractionFailed, "failed to create scratch directory", err)
	}

	ctx, cancel := stageContext(ctx, o.config.ExtractTimeout)
	defer cancel()

	err := o.extractor.Extract(ctx, extract.Request{
		SourceURL:   sourceURL,
		OutputPath:  localPath,
		CookiesPath: o.config.CookiesPath,
	})
	if err == nil {
		return nil
	}

	detail := ""
	var exitErr *extract.ExitError
	if errors.As(err, &exitErr) {
		detail = exitErr.Diagnostic
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		detail = fmt.Sprintf("extraction aborted: %v", ctxErr)
	}
	return wrap(StageExtract, ErrExtractionFailed, detail, err)
}

func (o *Orchestrator) upload(ctx context.Context, localPath, name string) (string, error) {
	ctx, cancel := stageContext(ctx, o.config.UploadTimeout)
	defer cancel()

	uri, err := o.store.Upload(ctx, localPath, name)
	if err != nil {
		return "", wrap(StageUpload, ErrUploadFailed, "", err)
	}
	return uri, nil
}

func (o *Orchestrator) submit(ctx context.Context, uri string) (string, error) {
	ctx, cancel := stageContext(ctx, o.config.SpeechTimeout)
	defer cancel()

	handle, err := o.recognizer.Submit(ctx, uri, o.config.Recognition)
	if err != nil {
		return "", wrap(StageSubmit, ErrSubmissionFailed, "", err)
	}
	return handle, nil
}

func (o *Orchestrator) removeLocal(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		o.logger.Warn("Failed to remove local artifact",
			logger.String("path", path),
			logger.Error(err))
	}
}

func (o *Orchestrator) record(ctx context.Context, sourceURL string, result *SubmitResult) {
	if o.recorder == nil {
		return
	}
	rec := &sqlite.JobRecord{
		ArtifactName: result.ArtifactName,
		SourceURL:    sourceURL,
		StoredURI:    result.StoredURI,
		JobHandle:    result.JobHandle,
	}
	if result.SubmissionErr != nil {
		rec.SubmissionError = Message(result.SubmissionErr)
	}
	// The submission already happened; a cancelled request must not lose the record.
	if err := o.recorder.RecordSubmission(context.WithoutCancel(ctx), rec); err != nil {
		o.logger.Warn("Failed to record submission",
			logger.String("artifact", result.ArtifactName),
			logger.Error(err))
	}
}

func (o *Orchestrator) publish(eventType string, data map[string]any) {
	if o.publisher != nil {
		o.publisher.Publish(eventType, data)
	}
}

func stageContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}
