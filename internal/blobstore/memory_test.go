package blobstore

import (
	"context"
	"errors"
	"testing"

	"blockmail/internal/mail"
)

func TestMemoryStore_UploadGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	id, err := s.Upload(ctx, []byte(`{"a":1}`))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != `{"a":1}` {
		t.Errorf("Get() = %q, want %q", got, `{"a":1}`)
	}

	// Returned slices must not alias the stored bytes.
	got[0] = 'X'
	again, _ := s.Get(ctx, id)
	if string(again) != `{"a":1}` {
		t.Errorf("stored payload was mutated through Get() result: %q", again)
	}
}

func TestMemoryStore_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	a, _ := s.Upload(ctx, []byte("same"))
	b, _ := s.Upload(ctx, []byte("same"))
	if a != b {
		t.Errorf("Upload() ids differ for identical payloads: %q, %q", a, b)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestMemoryStore_Missing(t *testing.T) {
	s := NewMemoryStore()
	got, err := s.Get(context.Background(), "bafkreinotthere")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != nil {
		t.Errorf("Get() = %q, want nil", got)
	}
}

func TestMemoryStore_Failure(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.SetFailure(errors.New("connection refused"))

	if _, err := s.Upload(ctx, []byte("x")); !errors.Is(err, mail.ErrBlobUnavailable) {
		t.Errorf("Upload() error = %v, want ErrBlobUnavailable", err)
	}
	if _, err := s.Get(ctx, "id"); !errors.Is(err, mail.ErrBlobUnavailable) {
		t.Errorf("Get() error = %v, want ErrBlobUnavailable", err)
	}

	s.SetFailure(nil)
	if _, err := s.Upload(ctx, []byte("x")); err != nil {
		t.Errorf("Upload() after clearing failure error = %v", err)
	}

	uploads, gets := s.Calls()
	if uploads != 2 || gets != 1 {
		t.Errorf("Calls() = (%d, %d), want (2, 1)", uploads, gets)
	}
}
