package delivery

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Sternrassler/album-export/pkg/upstream"
)

type recordedEvent struct {
	name string
	data any
}

type recordingSink struct {
	events []recordedEvent
	failAt int
}

func (s *recordingSink) Send(event string, data any) error {
	if s.failAt > 0 && len(s.events)+1 == s.failAt {
		return errors.New("client gone")
	}
	s.events = append(s.events, recordedEvent{name: event, data: data})
	return nil
}

func TestStreamProgress_Complete(t *testing.T) {
	f := &scriptedFetcher{pages: []*upstream.PostPage{
		ranked(true, 1, 2),
		ranked(false, 3),
	}}
	sink := &recordingSink{}

	if err := StreamProgress(context.Background(), newPager(f), "Saga-Writer.txt", sink); err != nil {
		t.Fatalf("StreamProgress() error = %v", err)
	}

	want := []recordedEvent{
		{name: EventProgress, data: ProgressEvent{PostsProcessed: 2, CurrentBatch: 2}},
		{name: EventProgress, data: ProgressEvent{PostsProcessed: 3, CurrentBatch: 1}},
		{name: EventComplete, data: CompleteEvent{Filename: "Saga-Writer.txt", PostsProcessed: 3}},
	}
	if len(sink.events) != len(want) {
		t.Fatalf("Expected %d events, got %d: %+v", len(want), len(sink.events), sink.events)
	}
	for i := range want {
		if sink.events[i] != want[i] {
			t.Errorf("event %d = %+v, want %+v", i, sink.events[i], want[i])
		}
	}
}

func TestStreamProgress_ErrorIsTerminal(t *testing.T) {
	f := &scriptedFetcher{
		pages: []*upstream.PostPage{ranked(true, 1)},
		errs:  map[int]error{1: &upstream.HTTPError{StatusCode: 503}},
	}
	sink := &recordingSink{}

	if err := StreamProgress(context.Background(), newPager(f), "x.txt", sink); err != nil {
		t.Fatalf("StreamProgress() error = %v", err)
	}

	if len(sink.events) != 2 {
		t.Fatalf("Expected progress + error, got %+v", sink.events)
	}
	last := sink.events[1]
	if last.name != EventError {
		t.Fatalf("Expected terminal error event, got %q", last.name)
	}
	if got := last.data.(ErrorEvent).Message; got != "Failed to fetch data (HTTP 503)" {
		t.Errorf("error message = %q", got)
	}
	for _, ev := range sink.events {
		if ev.name == EventComplete {
			t.Error("complete event must not follow an error")
		}
	}
}

func TestStreamProgress_EmptyAlbum(t *testing.T) {
	f := &scriptedFetcher{pages: []*upstream.PostPage{{}}}
	sink := &recordingSink{}

	if err := StreamProgress(context.Background(), newPager(f), "x.txt", sink); err != nil {
		t.Fatalf("StreamProgress() error = %v", err)
	}
	if len(sink.events) != 1 || sink.events[0].name != EventError {
		t.Fatalf("Expected a single error event, got %+v", sink.events)
	}
	if got := sink.events[0].data.(ErrorEvent).Message; got != "No posts found in this album" {
		t.Errorf("error message = %q", got)
	}
}

func TestStreamProgress_SinkFailureStopsFetching(t *testing.T) {
	f := &scriptedFetcher{pages: []*upstream.PostPage{
		ranked(true, 1),
		ranked(true, 2),
		ranked(false, 3),
	}}
	sink := &recordingSink{failAt: 1}

	err := StreamProgress(context.Background(), newPager(f), "x.txt", sink)
	if err == nil {
		t.Fatal("Expected sink error")
	}
	if f.calls != 1 {
		t.Errorf("Expected fetching to stop after the failed send, got %d calls", f.calls)
	}
}

func TestSSEWriter(t *testing.T) {
	rec := httptest.NewRecorder()

	sse, err := NewSSEWriter(rec)
	if err != nil {
		t.Fatalf("NewSSEWriter() error = %v", err)
	}
	if err := sse.Send(EventProgress, ProgressEvent{PostsProcessed: 5, CurrentBatch: 5}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if err := sse.Send(EventComplete, CompleteEvent{Filename: "a.txt", PostsProcessed: 5}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("Cache-Control = %q", cc)
	}
	if !rec.Flushed {
		t.Error("Expected the recorder to be flushed")
	}

	want := "event: progress\ndata: {\"posts_processed\":5,\"current_batch\":5}\n\n" +
		"event: complete\ndata: {\"filename\":\"a.txt\",\"posts_processed\":5}\n\n"
	if rec.Body.String() != want {
		t.Errorf("body = %q, want %q", rec.Body.String(), want)
	}
}

type plainWriter struct{ header http.Header }

func (w *plainWriter) Header() http.Header         { return w.header }
func (w *plainWriter) Write(b []byte) (int, error) { return len(b), nil }
func (w *plainWriter) WriteHeader(int)             {}

func TestNewSSEWriter_RequiresFlusher(t *testing.T) {
	_, err := NewSSEWriter(&plainWriter{header: http.Header{}})
	if !errors.Is(err, ErrStreamingUnsupported) {
		t.Errorf("Expected ErrStreamingUnsupported, got %v", err)
	}
}

func TestStreamProgress_OverSSE(t *testing.T) {
	f := &scriptedFetcher{pages: []*upstream.PostPage{ranked(false, 1, 2, 3)}}
	rec := httptest.NewRecorder()
	sse, err := NewSSEWriter(rec)
	if err != nil {
		t.Fatal(err)
	}

	if err := StreamProgress(context.Background(), newPager(f), "f.txt", sse); err != nil {
		t.Fatalf("StreamProgress() error = %v", err)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"posts_processed":3`) || !strings.HasSuffix(body, "event: complete\ndata: {\"filename\":\"f.txt\",\"posts_processed\":3}\n\n") {
		t.Errorf("unexpected stream %q", body)
	}
}
