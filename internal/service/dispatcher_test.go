package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/LeventeLantos/sms-tracker/internal/client"
	"github.com/LeventeLantos/sms-tracker/internal/model"
	"github.com/LeventeLantos/sms-tracker/internal/repo"
	"github.com/LeventeLantos/sms-tracker/internal/service"
	"github.com/LeventeLantos/sms-tracker/internal/tracker"
)

func newTracker(t *testing.T, id string, texts ...string) *tracker.Tracker {
	t.Helper()
	tr := tracker.New(repo.NewMemorySubmissionRepo())
	if err := tr.SaveSubmission(context.Background(), model.NewSubmission(id, "f", "Form", texts, time.Now())); err != nil {
		t.Fatalf("SaveSubmission() error: %v", err)
	}
	return tr
}

func TestDispatcher_SendsAllPartsThroughGateway(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		refs []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		refs = append(refs, body["reference"])
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message":   "Accepted",
			"messageId": "67f2f8a8-ea58-4ed0-a6f9-ff217df4d849",
		})
	}))
	t.Cleanup(srv.Close)

	tr := newTracker(t, "inst-1", "a", "b", "c")
	d := service.NewDispatcher(client.NewGatewayClient(srv.URL), tr, 160)

	res, err := d.Dispatch(context.Background(), "inst-1", "+361234567")
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}
	if res.Sent != 3 || res.Failed != 0 || !res.Completed || res.Status != model.StatusComplete {
		t.Fatalf("unexpected result: %+v", res)
	}

	mu.Lock()
	defer mu.Unlock()
	if strings.Join(refs, ",") != "inst-1/1,inst-1/2,inst-1/3" {
		t.Fatalf("expected parts in order, got %v", refs)
	}
}

type scriptedClient struct {
	mu    sync.Mutex
	errs  []error
	calls []string
}

func (c *scriptedClient) Send(ctx context.Context, phoneNumber, message, reference string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, reference)
	if len(c.errs) == 0 {
		return "remote", nil
	}
	err := c.errs[0]
	c.errs = c.errs[1:]
	return "remote", err
}

func TestDispatcher_StopsAtFirstFailureAndRetries(t *testing.T) {
	t.Parallel()

	c := &scriptedClient{errs: []error{nil, &client.StatusError{StatusCode: 500, Body: "x"}}}
	tr := newTracker(t, "inst-1", "a", "b", "c")
	d := service.NewDispatcher(c, tr, 160)
	ctx := context.Background()

	res, err := d.Dispatch(ctx, "inst-1", "+36")
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}
	if res.Sent != 1 || res.Failed != 1 || res.Completed || res.Status != model.StatusFailed {
		t.Fatalf("unexpected result: %+v", res)
	}

	rec, _ := tr.GetSubmissionModel(ctx, "inst-1")
	if rec.Messages[1].State != model.Failed || *rec.Messages[1].ResultCode != model.ResultErrorGenericFailure {
		t.Fatalf("expected part 2 failed, got %+v", rec.Messages[1])
	}
	if rec.Messages[2].State != model.NotSent {
		t.Fatalf("expected part 3 untouched, got %s", rec.Messages[2].State)
	}

	res, err = d.Dispatch(ctx, "inst-1", "+36")
	if err != nil {
		t.Fatalf("retry Dispatch() error: %v", err)
	}
	if res.Sent != 2 || !res.Completed || res.Status != model.StatusComplete {
		t.Fatalf("unexpected retry result: %+v", res)
	}

	want := "inst-1/1,inst-1/2,inst-1/2,inst-1/3"
	if got := strings.Join(c.calls, ","); got != want {
		t.Fatalf("expected calls %s, got %s", want, got)
	}
}

// slowClient holds each send open until release is closed.
type slowClient struct {
	started chan struct{}
	release chan struct{}
	mu      sync.Mutex
	calls   []string
}

func (c *slowClient) Send(ctx context.Context, phoneNumber, message, reference string) (string, error) {
	c.mu.Lock()
	c.calls = append(c.calls, reference)
	c.mu.Unlock()
	c.started <- struct{}{}
	<-c.release
	return "remote", nil
}

func TestDispatcher_OverlappingDispatchSendsEachPartOnce(t *testing.T) {
	t.Parallel()

	c := &slowClient{started: make(chan struct{}, 4), release: make(chan struct{})}
	tr := newTracker(t, "inst-1", "a")
	d := service.NewDispatcher(c, tr, 160)
	ctx := context.Background()

	first := make(chan service.Result, 1)
	go func() {
		res, err := d.Dispatch(ctx, "inst-1", "+36")
		if err != nil {
			t.Errorf("first Dispatch() error: %v", err)
		}
		first <- res
	}()

	select {
	case <-c.started:
	case <-time.After(2 * time.Second):
		t.Fatalf("first dispatch never reached the gateway")
	}

	// The part is in flight; a retry must not transmit it again.
	res, err := d.Dispatch(ctx, "inst-1", "+36")
	if err != nil {
		t.Fatalf("second Dispatch() error: %v", err)
	}
	if res.Sent != 0 || res.Failed != 0 || res.Status != model.StatusInProgress {
		t.Fatalf("unexpected second result: %+v", res)
	}

	close(c.release)
	res = <-first
	if res.Sent != 1 || !res.Completed || res.Status != model.StatusComplete {
		t.Fatalf("unexpected first result: %+v", res)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.calls) != 1 {
		t.Fatalf("expected one gateway send, got %v", c.calls)
	}
}

func TestDispatcher_FailsWhenContentTooLong(t *testing.T) {
	t.Parallel()

	c := &scriptedClient{}
	tr := newTracker(t, "inst-1", "abcd")
	d := service.NewDispatcher(c, tr, 3)

	res, err := d.Dispatch(context.Background(), "inst-1", "+36")
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}
	if res.Failed != 1 || res.Status != model.StatusFailed {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(c.calls) != 0 {
		t.Fatalf("expected no gateway call, got %v", c.calls)
	}
}

func TestDispatcher_UnknownSubmission(t *testing.T) {
	t.Parallel()

	d := service.NewDispatcher(&scriptedClient{}, tracker.New(repo.NewMemorySubmissionRepo()), 160)
	_, err := d.Dispatch(context.Background(), "missing", "+36")
	if !errors.Is(err, tracker.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResultCodeFor(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"ok", nil, model.ResultOK},
		{"refused", &client.StatusError{StatusCode: 400}, model.ResultErrorGenericFailure},
		{"wrapped refusal", errors.Join(errors.New("x"), &client.StatusError{StatusCode: 503}), model.ResultErrorGenericFailure},
		{"unreachable", errors.New("dial tcp: connection refused"), model.ResultErrorNoService},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := service.ResultCodeFor(tc.err); got != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, got)
			}
		})
	}
}

func TestSplitPayload(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		max     int
		want    []string
	}{
		{"empty", "", 3, nil},
		{"fits", "abc", 3, []string{"abc"}},
		{"splits", "abcdefg", 3, []string{"abc", "def", "g"}},
		{"runes not bytes", "ááááá", 2, []string{"áá", "áá", "á"}},
		{"no max", "abcdef", 0, []string{"abcdef"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := service.SplitPayload(tc.payload, tc.max)
			if strings.Join(got, "|") != strings.Join(tc.want, "|") || len(got) != len(tc.want) {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}
