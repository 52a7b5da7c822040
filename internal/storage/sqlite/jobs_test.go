package sqlite_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/yegors/transcribe-gateway/internal/storage/sqlite"
	"github.com/yegors/transcribe-gateway/pkg/logger"
)

func newTestStorage(t *testing.T) *sqlite.JobStorage {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "data", "jobs.db"), logger.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	storage, err := sqlite.NewJobStorage(db, logger.NewNop())
	if err != nil {
		t.Fatalf("NewJobStorage: %v", err)
	}
	return storage
}

func TestRecordAndList(t *testing.T) {
	ctx := context.Background()
	storage := newTestStorage(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		rec := &sqlite.JobRecord{
			ArtifactName: fmt.Sprintf("a%d.mp3", i),
			SourceURL:    "https://example.com/v",
			StoredURI:    fmt.Sprintf("gs://bucket/a%d.mp3", i),
			JobHandle:    fmt.Sprintf("op-%d", i),
			CreatedAt:    base.Add(time.Duration(i) * time.Minute),
		}
		if err := storage.RecordSubmission(ctx, rec); err != nil {
			t.Fatalf("RecordSubmission: %v", err)
		}
		if rec.ID == 0 {
			t.Fatal("expected ID to be set")
		}
	}

	got, err := storage.List(ctx, 2, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	names := []string{}
	for _, r := range got {
		names = append(names, r.ArtifactName)
	}
	if diff := cmp.Diff([]string{"a2.mp3", "a1.mp3"}, names); diff != "" {
		t.Fatalf("List names (-want +got):\n%s", diff)
	}
	if !got[0].CreatedAt.Equal(base.Add(2 * time.Minute)) {
		t.Fatalf("CreatedAt = %v", got[0].CreatedAt)
	}

	rest, err := storage.List(ctx, 10, 2)
	if err != nil {
		t.Fatalf("List offset: %v", err)
	}
	if len(rest) != 1 || rest[0].ArtifactName != "a0.mp3" {
		t.Fatalf("offset page = %+v", rest)
	}
}

func TestListEmpty(t *testing.T) {
	got, err := newTestStorage(t).List(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("List = %#v, want empty slice", got)
	}
}

func TestRecordSubmissionFailure(t *testing.T) {
	ctx := context.Background()
	storage := newTestStorage(t)

	rec := &sqlite.JobRecord{
		ArtifactName:    "b.mp3",
		SourceURL:       "https://example.com/v",
		StoredURI:       "gs://bucket/b.mp3",
		SubmissionError: "permission denied",
	}
	if err := storage.RecordSubmission(ctx, rec); err != nil {
		t.Fatalf("RecordSubmission: %v", err)
	}

	got, err := storage.List(ctx, 1, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if got[0].JobHandle != "" || got[0].SubmissionError != "permission denied" {
		t.Fatalf("record = %+v", got[0])
	}
}

func TestGetByHandle(t *testing.T) {
	ctx := context.Background()
	storage := newTestStorage(t)

	rec := &sqlite.JobRecord{ArtifactName: "c.mp3", SourceURL: "u", StoredURI: "gs://b/c.mp3", JobHandle: "op-42"}
	if err := storage.RecordSubmission(ctx, rec); err != nil {
		t.Fatalf("RecordSubmission: %v", err)
	}

	got, err := storage.GetByHandle(ctx, "op-42")
	if err != nil {
		t.Fatalf("GetByHandle: %v", err)
	}
	if got.StoredURI != "gs://b/c.mp3" {
		t.Fatalf("StoredURI = %q", got.StoredURI)
	}

	if _, err := storage.GetByHandle(ctx, "missing"); !errors.Is(err, sqlite.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestArtifactNamesAreUnique(t *testing.T) {
	ctx := context.Background()
	storage := newTestStorage(t)

	rec := sqlite.JobRecord{ArtifactName: "d.mp3", SourceURL: "u", StoredURI: "gs://b/d.mp3"}
	first := rec
	if err := storage.RecordSubmission(ctx, &first); err != nil {
		t.Fatalf("RecordSubmission: %v", err)
	}
	second := rec
	if err := storage.RecordSubmission(ctx, &second); err == nil {
		t.Fatal("expected duplicate artifact name to be rejected")
	}
}
