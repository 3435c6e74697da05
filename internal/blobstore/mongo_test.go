package blobstore

import (
	"context"
	"os"
	"testing"
	"time"
)

// Runs against a real server when BLOCKMAIL_TEST_MONGO_URI is set.
func TestMongoStore_Live(t *testing.T) {
	uri := os.Getenv("BLOCKMAIL_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("BLOCKMAIL_TEST_MONGO_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := NewMongoStore(ctx, uri, "blockmail_test", "payloads_"+time.Now().Format("150405"))
	if err != nil {
		t.Fatalf("NewMongoStore() error = %v", err)
	}
	t.Cleanup(func() {
		s.collection.Drop(context.Background())
		s.Close()
	})

	payload := []byte(`{"mongo":true}`)
	id, err := s.Upload(ctx, payload)
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if again, err := s.Upload(ctx, payload); err != nil || again != id {
		t.Errorf("second Upload() = %q, %v; want %q, nil", again, err, id)
	}

	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("Get() = %q, want %q", got, payload)
	}

	missing, _ := ContentID([]byte("missing"))
	if got, err := s.Get(ctx, missing); err != nil || got != nil {
		t.Errorf("Get(missing) = %q, %v; want nil, nil", got, err)
	}
}
