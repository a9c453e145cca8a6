package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestLocalStoragePutGet(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}
	ctx := context.Background()

	key := TranscriptPath(uuid.New())
	if err := s.Put(ctx, key, "application/json", strings.NewReader(`{"a":1}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(ctx, key, "application/json", strings.NewReader(`{"a":2}`)); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}

	rc, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != `{"a":2}` {
		t.Errorf("Get = %s, want overwritten object", data)
	}

	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete error = %v, want ErrNotFound", err)
	}
}

func TestLocalStorageRejectsTraversal(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}
	err = s.Put(context.Background(), "../escape.json", "application/json", strings.NewReader("{}"))
	if err == nil {
		t.Fatal("expected traversal key to be rejected")
	}
}

func TestTranscriptPath(t *testing.T) {
	id := uuid.MustParse("3fa85f64-5717-4562-b3fc-2c963f66afa6")
	want := "transcripts/3f/3fa85f64-5717-4562-b3fc-2c963f66afa6.json"
	if got := TranscriptPath(id); got != want {
		t.Errorf("TranscriptPath = %s, want %s", got, want)
	}
}
