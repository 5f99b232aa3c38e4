package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/vibecode/vibecode/internal/api"
	"github.com/vibecode/vibecode/internal/metadata"
	"github.com/vibecode/vibecode/internal/models"
	"github.com/vibecode/vibecode/internal/protocol"
	"github.com/vibecode/vibecode/internal/retry"
)

func testClient(handler http.Handler) (*Client, *httptest.Server) {
	ts := httptest.NewServer(handler)
	c := New(Config{
		BaseURL: ts.URL,
		RetryConfig: retry.Config{
			MaxAttempts: 3,
			InitialWait: time.Millisecond,
			MaxWait:     time.Millisecond,
		},
	})
	return c, ts
}

func TestServerError_Retry(t *testing.T) {
	var attempts atomic.Int32
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]models.ProjectMetadata{{ID: "p1", Name: "One"}})
	}))
	defer ts.Close()

	list, err := c.ListProjects(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 1 || list[0].ID != "p1" {
		t.Errorf("list = %+v", list)
	}
	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
	if !c.IsOnline() {
		t.Error("client should be online after a success")
	}
}

func TestClientError_NotRetried(t *testing.T) {
	var attempts atomic.Int32
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(protocol.ErrorResponse{Error: "project not found", Code: 404})
	}))
	defer ts.Close()

	_, err := c.LoadState(context.Background(), "missing")
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %T: %v", err, err)
	}
	if se.StatusCode != http.StatusNotFound || se.Message != "project not found" {
		t.Errorf("status error = %+v", se)
	}
	if !IsNotFound(err) {
		t.Error("IsNotFound should match a 404")
	}
	if attempts.Load() != 1 {
		t.Errorf("expected exactly 1 attempt, got %d", attempts.Load())
	}
	if !c.IsOnline() {
		t.Error("client should stay online after a 4xx")
	}
}

func TestUnreachable_GoesOffline(t *testing.T) {
	c, ts := testClient(http.NotFoundHandler())
	ts.Close()

	if err := c.Ping(context.Background()); err == nil {
		t.Fatal("expected ping error")
	}
	if c.IsOnline() {
		t.Error("client should be offline")
	}
	if err := c.SaveState(context.Background(), "p", &protocol.SaveStateRequest{}); err == nil {
		t.Fatal("expected save error")
	} else if !retry.IsRetryable(err) {
		t.Errorf("transport failure should be retryable: %v", err)
	}
}

func TestSaveState_LargeBodyCompressed(t *testing.T) {
	var encoding string
	var rootNodes int
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		encoding = r.Header.Get("Content-Encoding")
		var body io.Reader = r.Body
		if encoding == "gzip" {
			gr, err := gzip.NewReader(r.Body)
			if err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			body = gr
		}
		var req protocol.SaveStateRequest
		if err := json.NewDecoder(body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		rootNodes = len(req.RootNodes)
		json.NewEncoder(w).Encode(protocol.SuccessResponse{Success: true})
	}))
	defer ts.Close()

	big := strings.Repeat("x", compressThreshold)
	err := c.SaveState(context.Background(), "p", &protocol.SaveStateRequest{
		RootNodes: []*models.FileNode{models.NewFile("a", "a", "a", &big)},
	})
	if err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	if encoding != "gzip" || rootNodes != 1 {
		t.Errorf("encoding = %q, nodes = %d", encoding, rootNodes)
	}
}

func TestAgainstServer(t *testing.T) {
	store, err := metadata.Open(context.Background(),
		"sqlite://"+filepath.Join(t.TempDir(), "client.db"), metadata.Options{})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	c, ts := testClient(api.NewServer(store, nil, nil, 1<<20).Handler())
	defer ts.Close()
	ctx := context.Background()

	if err := c.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	p, err := c.CreateProject(ctx, "", "Client", nil)
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}

	roots := []*models.FileNode{models.NewFile("a.txt", "a.txt", "a.txt", models.StringPtr("hi"))}
	if err := c.SaveState(ctx, p.ID, &protocol.SaveStateRequest{RootNodes: roots, KnowledgeBase: "notes"}); err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	state, err := c.LoadState(ctx, p.ID)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if len(state.RootNodes) != 1 || state.RootNodes[0].Text() != "hi" {
		t.Errorf("roots = %+v", state.RootNodes)
	}
	if !strings.Contains(state.KnowledgeBase, "notes") {
		t.Errorf("knowledge = %s", state.KnowledgeBase)
	}

	msgs := []models.ChatMessage{{ID: "m1", Role: models.RoleUser, Text: "hi", Timestamp: time.Now().UTC()}}
	if n, err := c.SaveChat(ctx, p.ID, msgs); err != nil || n != 1 {
		t.Fatalf("SaveChat = %d, %v", n, err)
	}
	got, err := c.LoadChat(ctx, p.ID)
	if err != nil || len(got) != 1 {
		t.Fatalf("LoadChat = %+v, %v", got, err)
	}

	if _, err := c.PutArchive(ctx, p.ID, []byte("zip")); err == nil {
		t.Error("archive upload should fail without blob storage")
	}

	if err := c.DeleteProject(ctx, p.ID); err != nil {
		t.Fatalf("DeleteProject: %v", err)
	}
	if _, err := c.LoadState(ctx, p.ID); !IsNotFound(err) {
		t.Errorf("LoadState after delete: %v", err)
	}
}
