package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/LeventeLantos/sms-tracker/internal/config"
	"github.com/LeventeLantos/sms-tracker/internal/model"
	"github.com/LeventeLantos/sms-tracker/internal/repo"
	"github.com/LeventeLantos/sms-tracker/internal/tracker"
)

func TestLoggingMiddleware_PassesThroughAndCapturesStatus(t *testing.T) {
	handler := loggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d", http.StatusCreated, rr.Code)
	}

	if body := rr.Body.String(); body != "ok" {
		t.Fatalf("expected body %q, got %q", "ok", body)
	}
}

func TestOpenRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		r, closeFn, err := openRepository(ctx, &config.Config{Store: config.StoreConfig{Driver: config.DriverMemory}}, nil)
		if err != nil {
			t.Fatalf("openRepository() error: %v", err)
		}
		defer closeFn()
		if _, ok := r.(*repo.MemorySubmissionRepo); !ok {
			t.Fatalf("expected memory repo, got %T", r)
		}
	})

	t.Run("sqlite", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "tracker.db")
		r, closeFn, err := openRepository(ctx, &config.Config{Store: config.StoreConfig{Driver: config.DriverSQLite, SQLitePath: path}}, nil)
		if err != nil {
			t.Fatalf("openRepository() error: %v", err)
		}
		defer closeFn()

		rec := model.NewSubmission("inst-1", "", "", []string{"a"}, time.Now())
		if err := r.Put(ctx, rec); err != nil {
			t.Fatalf("Put() error: %v", err)
		}
		ids, err := r.ListInstanceIDs(ctx)
		if err != nil || len(ids) != 1 {
			t.Fatalf("expected one stored id, got %v %v", ids, err)
		}
	})

	t.Run("redis without client", func(t *testing.T) {
		_, _, err := openRepository(ctx, &config.Config{Store: config.StoreConfig{Driver: config.DriverRedis}}, nil)
		if err == nil {
			t.Fatalf("expected error, got nil")
		}
	})

	t.Run("unknown", func(t *testing.T) {
		_, _, err := openRepository(ctx, &config.Config{Store: config.StoreConfig{Driver: "mongo"}}, nil)
		if err == nil {
			t.Fatalf("expected error, got nil")
		}
	})
}

func TestRecoverSubmissions_DefersPartsLeftSending(t *testing.T) {
	ctx := context.Background()
	mem := repo.NewMemorySubmissionRepo()

	prev := tracker.New(mem)
	if err := prev.SaveSubmission(ctx, model.NewSubmission("inst-1", "", "", []string{"a", "b"}, time.Now())); err != nil {
		t.Fatalf("SaveSubmission() error: %v", err)
	}
	_ = prev.MarkMessageAsSending(ctx, "inst-1", 1)

	tr := tracker.New(mem)
	if err := recoverSubmissions(ctx, tr, slog.New(slog.NewTextHandler(io.Discard, nil))); err != nil {
		t.Fatalf("recoverSubmissions() error: %v", err)
	}

	rec, err := tr.GetSubmissionModel(ctx, "inst-1")
	if err != nil {
		t.Fatalf("GetSubmissionModel() error: %v", err)
	}
	p := rec.Messages[0]
	if p.State != model.Failed || p.ResultCode == nil || *p.ResultCode != model.ResultDeferred {
		t.Fatalf("expected part 1 deferred, got %+v", p)
	}
	if rec.Messages[1].State != model.NotSent {
		t.Fatalf("expected part 2 untouched, got %s", rec.Messages[1].State)
	}
}
