package pipeline_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/yegors/transcribe-gateway/internal/diarization"
	"github.com/yegors/transcribe-gateway/internal/extract"
	"github.com/yegors/transcribe-gateway/internal/pipeline"
	"github.com/yegors/transcribe-gateway/internal/speech"
	"github.com/yegors/transcribe-gateway/internal/storage/sqlite"
	"github.com/yegors/transcribe-gateway/pkg/logger"
)

type fakeExtractor struct {
	mu       sync.Mutex
	err      error
	requests []extract.Request
}

func (f *fakeExtractor) Extract(ctx context.Context, req extract.Request) error {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(req.OutputPath, []byte("ID3"), 0o644)
}

func (f *fakeExtractor) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type fakeStore struct {
	mu    sync.Mutex
	err   error
	names []string
}

func (f *fakeStore) Upload(ctx context.Context, localPath, name string) (string, error) {
	if _, err := os.Stat(localPath); err != nil {
		return "", err
	}
	f.mu.Lock()
	f.names = append(f.names, name)
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return "gs://bucket/" + name, nil
}

func (f *fakeStore) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.names)
}

type fakeRecognizer struct {
	mu        sync.Mutex
	submitErr error
	status    speech.Status
	checkErr  error
	submitted []string
	config    speech.RecognitionConfig
}

func (f *fakeRecognizer) Submit(ctx context.Context, uri string, config speech.RecognitionConfig) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, uri)
	f.config = config
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return "op-" + filepath.Base(uri), nil
}

func (f *fakeRecognizer) Check(ctx context.Context, handle string) (speech.Status, error) {
	return f.status, f.checkErr
}

type fakeRecorder struct {
	records []*sqlite.JobRecord
}

func (f *fakeRecorder) RecordSubmission(ctx context.Context, record *sqlite.JobRecord) error {
	f.records = append(f.records, record)
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []string
}

func (f *fakePublisher) Publish(eventType string, data map[string]any) {
	f.mu.Lock()
	f.events = append(f.events, eventType)
	f.mu.Unlock()
}

type fixture struct {
	scratch    string
	extractor  *fakeExtractor
	store      *fakeStore
	recognizer *fakeRecognizer
	orch       *pipeline.Orchestrator
}

func newFixture(t *testing.T, diarize bool) *fixture {
	t.Helper()
	f := &fixture{
		scratch:    filepath.Join(t.TempDir(), "scratch"),
		extractor:  &fakeExtractor{},
		store:      &fakeStore{},
		recognizer: &fakeRecognizer{},
	}
	f.orch = pipeline.New(pipeline.Config{
		ScratchDir:  f.scratch,
		CookiesPath: "/app/cookies.txt",
		Recognition: speech.RecognitionConfig{Encoding: "MP3", SampleRateHz: 22050, LanguageCode: "en-US"},
		Diarize:     diarize,
	}, f.extractor, f.store, f.recognizer, diarization.NewReducer(diarization.Options{}), logger.NewNop())
	return f
}

func (f *fixture) assertScratchEmpty(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(f.scratch)
	if err != nil && !os.IsNotExist(err) {
		t.Fatalf("read scratch: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("scratch directory not empty: %v", entries)
	}
}

func TestSubmitSuccess(t *testing.T) {
	f := newFixture(t, true)
	rec := &fakeRecorder{}
	pub := &fakePublisher{}
	f.orch.SetRecorder(rec)
	f.orch.SetPublisher(pub)

	res, err := f.orch.Submit(context.Background(), pipeline.SourceRequest{SourceURL: " https://youtu.be/abc "})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if res.Outcome != pipeline.OutcomeSubmitted {
		t.Fatalf("Outcome = %q", res.Outcome)
	}
	if !strings.HasSuffix(res.ArtifactName, ".mp3") || len(res.ArtifactName) != len("00000000-0000-0000-0000-000000000000.mp3") {
		t.Fatalf("ArtifactName = %q", res.ArtifactName)
	}
	if res.StoredURI != "gs://bucket/"+res.ArtifactName {
		t.Fatalf("StoredURI = %q", res.StoredURI)
	}
	if res.JobHandle != "op-"+res.ArtifactName {
		t.Fatalf("JobHandle = %q", res.JobHandle)
	}
	if res.SubmissionErr != nil {
		t.Fatalf("SubmissionErr = %v", res.SubmissionErr)
	}

	req := f.extractor.requests[0]
	if req.SourceURL != "https://youtu.be/abc" || req.CookiesPath != "/app/cookies.txt" {
		t.Fatalf("extract request = %+v", req)
	}
	if req.OutputPath != filepath.Join(f.scratch, res.ArtifactName) {
		t.Fatalf("OutputPath = %q", req.OutputPath)
	}
	if f.recognizer.config.Encoding != "MP3" {
		t.Fatalf("recognition config = %+v", f.recognizer.config)
	}

	if len(rec.records) != 1 || rec.records[0].JobHandle != res.JobHandle {
		t.Fatalf("records = %+v", rec.records)
	}
	if diff := cmp.Diff([]string{pipeline.EventArtifactUploaded, pipeline.EventJobSubmitted}, pub.events); diff != "" {
		t.Fatalf("events (-want +got):\n%s", diff)
	}
	f.assertScratchEmpty(t)
}

func TestSubmitEmptyURL(t *testing.T) {
	f := newFixture(t, true)

	_, err := f.orch.Submit(context.Background(), pipeline.SourceRequest{SourceURL: "   "})
	if !errors.Is(err, pipeline.ErrInvalidRequest) {
		t.Fatalf("err = %v, want ErrInvalidRequest", err)
	}
	if stage, _ := pipeline.StageOf(err); stage != pipeline.StageValidate {
		t.Fatalf("stage = %q", stage)
	}
	if f.extractor.calls() != 0 || f.store.calls() != 0 || len(f.recognizer.submitted) != 0 {
		t.Fatal("no external calls expected for an invalid request")
	}
}

func TestSubmitExtractionFailure(t *testing.T) {
	f := newFixture(t, true)
	f.extractor.err = &extract.ExitError{Tool: "yt-dlp", ExitCode: 1, Diagnostic: "ERROR: Video unavailable"}

	_, err := f.orch.Submit(context.Background(), pipeline.SourceRequest{SourceURL: "https://youtu.be/gone"})
	if !errors.Is(err, pipeline.ErrExtractionFailed) {
		t.Fatalf("err = %v, want ErrExtractionFailed", err)
	}
	if got := pipeline.Message(err); got != "ERROR: Video unavailable" {
		t.Fatalf("Message = %q", got)
	}
	var exitErr *extract.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatal("expected ExitError in chain")
	}
	if f.store.calls() != 0 || len(f.recognizer.submitted) != 0 {
		t.Fatal("nothing may run after a failed extraction")
	}
	f.assertScratchEmpty(t)
}

func TestSubmitUploadFailure(t *testing.T) {
	f := newFixture(t, true)
	f.store.err = errors.New("bucket not found")

	_, err := f.orch.Submit(context.Background(), pipeline.SourceRequest{SourceURL: "https://youtu.be/abc"})
	if !errors.Is(err, pipeline.ErrUploadFailed) {
		t.Fatalf("err = %v, want ErrUploadFailed", err)
	}
	if stage, _ := pipeline.StageOf(err); stage != pipeline.StageUpload {
		t.Fatalf("stage = %q", stage)
	}
	if len(f.recognizer.submitted) != 0 {
		t.Fatal("no submission expected after a failed upload")
	}
	f.assertScratchEmpty(t)
}

func TestSubmitSubmissionFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, true)
	f.recognizer.submitErr = errors.New("permission denied")
	rec := &fakeRecorder{}
	f.orch.SetRecorder(rec)

	res, err := f.orch.Submit(context.Background(), pipeline.SourceRequest{SourceURL: "https://youtu.be/abc"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Outcome != pipeline.OutcomeUploadOnly {
		t.Fatalf("Outcome = %q", res.Outcome)
	}
	if res.StoredURI == "" || res.JobHandle != "" {
		t.Fatalf("result = %+v", res)
	}
	if !errors.Is(res.SubmissionErr, pipeline.ErrSubmissionFailed) {
		t.Fatalf("SubmissionErr = %v", res.SubmissionErr)
	}
	if len(rec.records) != 1 || rec.records[0].SubmissionError != "permission denied" {
		t.Fatalf("records = %+v", rec.records)
	}
	f.assertScratchEmpty(t)
}

func TestSubmitConcurrentNamesAreUnique(t *testing.T) {
	f := newFixture(t, true)

	const n = 32
	var wg sync.WaitGroup
	results := make([]*pipeline.SubmitResult, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.orch.Submit(context.Background(), pipeline.SourceRequest{SourceURL: "https://youtu.be/abc"})
			if err != nil {
				t.Errorf("Submit: %v", err)
				return
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for _, res := range results {
		if res == nil {
			continue
		}
		if seen[res.ArtifactName] {
			t.Fatalf("duplicate artifact name %q", res.ArtifactName)
		}
		seen[res.ArtifactName] = true
	}
	f.assertScratchEmpty(t)
}

func TestStatus(t *testing.T) {
	done := speech.Status{Done: true, Result: &speech.Result{Segments: []speech.Segment{
		{Transcript: "hi there bye", Words: []speech.Word{{Text: "hi", SpeakerTag: 1}, {Text: "there", SpeakerTag: 1}, {Text: "bye", SpeakerTag: 2}}},
	}}}

	tests := []struct {
		name      string
		diarize   bool
		status    speech.Status
		checkErr  error
		wantState pipeline.State
		wantText  string
		wantKind  error
	}{
		{name: "processing", status: speech.Status{}, wantState: pipeline.StateProcessing},
		{name: "done diarized", diarize: true, status: done, wantState: pipeline.StateDone, wantText: "Speaker 2: hi there\n\nSpeaker 3: bye"},
		{name: "done plain", diarize: false, status: done, wantState: pipeline.StateDone, wantText: "hi there bye"},
		{name: "done without result", diarize: true, status: speech.Status{Done: true}, wantState: pipeline.StateDone, wantText: ""},
		{name: "remote failure", status: speech.Status{Done: true, Err: errors.New("audio unreadable")}, wantState: pipeline.StateFailed},
		{name: "poll error", checkErr: errors.New("unavailable"), wantKind: pipeline.ErrPollFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.diarize)
			f.recognizer.status = tt.status
			f.recognizer.checkErr = tt.checkErr

			got, err := f.orch.Status(context.Background(), "op-1")
			if tt.wantKind != nil {
				if !errors.Is(err, tt.wantKind) {
					t.Fatalf("err = %v, want %v", err, tt.wantKind)
				}
				return
			}
			if err != nil {
				t.Fatalf("Status: %v", err)
			}
			if got.State != tt.wantState {
				t.Fatalf("State = %q, want %q", got.State, tt.wantState)
			}
			if got.Transcript.Text != tt.wantText {
				t.Fatalf("Text = %q, want %q", got.Transcript.Text, tt.wantText)
			}
			if tt.wantState == pipeline.StateFailed && !errors.Is(got.Cause, pipeline.ErrRemoteJobFailed) {
				t.Fatalf("Cause = %v", got.Cause)
			}
		})
	}
}

func TestStatusEmptyHandle(t *testing.T) {
	f := newFixture(t, true)
	if _, err := f.orch.Status(context.Background(), ""); !errors.Is(err, pipeline.ErrInvalidRequest) {
		t.Fatalf("err = %v, want ErrInvalidRequest", err)
	}
}

func TestStatusIsIdempotent(t *testing.T) {
	f := newFixture(t, true)
	f.recognizer.status = speech.Status{Done: true, Result: &speech.Result{Segments: []speech.Segment{
		{Words: []speech.Word{{Text: "a", SpeakerTag: 1}, {Text: "b", SpeakerTag: 2}}},
	}}}

	first, err := f.orch.Status(context.Background(), "op-1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	second, err := f.orch.Status(context.Background(), "op-1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if diff := cmp.Diff(first.Transcript, second.Transcript); diff != "" {
		t.Fatalf("second poll differs (-first +second):\n%s", diff)
	}
}

func TestStageErrorFormatting(t *testing.T) {
	err := &pipeline.StageError{
		Stage:  pipeline.StageUpload,
		Kind:   pipeline.ErrUploadFailed,
		Detail: "bucket missing",
		Err:    errors.New("404"),
	}
	if got := err.Error(); got != "upload: upload failed: bucket missing: 404" {
		t.Fatalf("Error() = %q", got)
	}
	if pipeline.Message(err) != "bucket missing" {
		t.Fatalf("Message = %q", pipeline.Message(err))
	}
	if pipeline.Message(errors.New("plain")) != "plain" {
		t.Fatal("Message should fall back to the error string")
	}
}
