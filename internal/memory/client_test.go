package memory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gitmem/internal/model"
)

func TestUpsert(t *testing.T) {
	var got model.MemoryEntry
	var auth, contentType, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		auth = r.Header.Get("Authorization")
		contentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "key-123", time.Second)
	entry := model.MemoryEntry{
		Content:      "Release v1.2.0 published in acme/api.",
		ContainerTag: "org_1",
		CustomID:     "github:r1:del_1",
		Metadata: model.MemoryMetadata{
			Source:     "github",
			EventType:  "release",
			Repository: "acme/api",
		},
	}
	if err := c.Upsert(context.Background(), entry); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if path != "/documents" {
		t.Fatalf("path=%q", path)
	}
	if auth != "Bearer key-123" {
		t.Fatalf("authorization=%q", auth)
	}
	if contentType != "application/json" {
		t.Fatalf("content-type=%q", contentType)
	}
	if got.CustomID != entry.CustomID || got.Metadata.EventType != "release" {
		t.Fatalf("body=%+v", got)
	}
}

func TestUpsertServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second)
	err := c.Upsert(context.Background(), model.MemoryEntry{CustomID: "x"})
	if err == nil {
		t.Fatalf("expected error on 500")
	}
}

func TestUpsertNoBaseURL(t *testing.T) {
	c := NewClient("", "", time.Second)
	if err := c.Upsert(context.Background(), model.MemoryEntry{}); err == nil {
		t.Fatalf("expected error without base url")
	}
}
