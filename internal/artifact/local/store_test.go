package local_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yegors/transcribe-gateway/internal/artifact/local"
	"github.com/yegors/transcribe-gateway/pkg/logger"
)

func TestUploadCopiesFile(t *testing.T) {
	dir := t.TempDir()
	store, err := local.NewStore(filepath.Join(dir, "objects"), logger.NewNop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	src := filepath.Join(dir, "audio.mp3")
	if err := os.WriteFile(src, []byte("ID3 fake"), 0o644); err != nil {
		t.Fatal(err)
	}

	uri, err := store.Upload(context.Background(), src, "abc.mp3")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if !strings.HasPrefix(uri, "file://") || !strings.HasSuffix(uri, "/objects/abc.mp3") {
		t.Fatalf("uri = %q", uri)
	}

	data, err := os.ReadFile(filepath.Join(dir, "objects", "abc.mp3"))
	if err != nil {
		t.Fatalf("read object: %v", err)
	}
	if string(data) != "ID3 fake" {
		t.Fatalf("object content = %q", data)
	}
	if _, err := os.Stat(filepath.Join(dir, "objects", "abc.mp3.partial")); !os.IsNotExist(err) {
		t.Fatal("partial file left behind")
	}
}

func TestUploadRejectsPathNames(t *testing.T) {
	store, err := local.NewStore(t.TempDir(), logger.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"", "../escape.mp3", "a/b.mp3"} {
		if _, err := store.Upload(context.Background(), "/dev/null", name); err == nil {
			t.Fatalf("expected error for name %q", name)
		}
	}
}

func TestUploadMissingSource(t *testing.T) {
	store, err := local.NewStore(t.TempDir(), logger.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Upload(context.Background(), filepath.Join(t.TempDir(), "missing.mp3"), "x.mp3"); err == nil {
		t.Fatal("expected error for missing source")
	}
}

func TestUploadHonoursCancellation(t *testing.T) {
	store, err := local.NewStore(t.TempDir(), logger.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.Upload(ctx, "/dev/null", "x.mp3"); err == nil {
		t.Fatal("expected context error")
	}
}
