package insight

import (
	"errors"
	"io"
	"strings"
	"testing"
)

// chunkedReader returns at most chunkSize bytes per Read, forcing the parser
// to reassemble frames split at arbitrary byte boundaries.
type chunkedReader struct {
	data      string
	chunkSize int
	pos       int
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	end := r.pos + r.chunkSize
	if end > len(r.data) {
		end = len(r.data)
	}
	n := copy(p, r.data[r.pos:end])
	r.pos += n
	return n, nil
}

type recording struct {
	order   []string
	sources []Source
	chunks  []string
	done    string
	errMsg  string
}

func recordingHandlers(rec *recording) StreamHandlers {
	return StreamHandlers{
		OnSources: func(s []Source) {
			rec.order = append(rec.order, "sources")
			rec.sources = s
		},
		OnStart: func(string) {
			rec.order = append(rec.order, "start")
		},
		OnChunk: func(c string) {
			rec.order = append(rec.order, "chunk")
			rec.chunks = append(rec.chunks, c)
		},
		OnDone: func(_, full string) {
			rec.order = append(rec.order, "done")
			rec.done = full
		},
		OnError: func(msg string) {
			rec.order = append(rec.order, "error")
			rec.errMsg = msg
		},
	}
}

const happyStream = "event: sources\n" +
	`data: {"sources":[{"name":"Doc A","url":"https://a.test"}]}` + "\n\n" +
	"event: start\n" +
	`data: {"message":"Generating response"}` + "\n\n" +
	"event: chunk\n" +
	`data: {"content":"Hello"}` + "\n\n" +
	"event: chunk\n" +
	`data: {"content":", world"}` + "\n\n" +
	"event: done\n" +
	`data: {"message":"Response complete","fullContent":"Hello, world"}` + "\n\n"

func TestConsumeEventStream_FullSequence(t *testing.T) {
	var rec recording
	err := consumeEventStream(strings.NewReader(happyStream), recordingHandlers(&rec))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"sources", "start", "chunk", "chunk", "done"}
	if len(rec.order) != len(want) {
		t.Fatalf("expected %v, got %v", want, rec.order)
	}
	for i := range want {
		if rec.order[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, rec.order)
		}
	}
	if len(rec.sources) != 1 || rec.sources[0].Name != "Doc A" {
		t.Errorf("unexpected sources: %v", rec.sources)
	}
	if rec.chunks[0] != "Hello" || rec.chunks[1] != ", world" {
		t.Errorf("unexpected chunks: %v", rec.chunks)
	}
	if rec.done != "Hello, world" {
		t.Errorf("expected full content on done, got %q", rec.done)
	}
}

func TestConsumeEventStream_SplitAcrossReads(t *testing.T) {
	// One byte per read is the worst case for frame reassembly.
	for _, chunkSize := range []int{1, 3, 7, 4096} {
		var rec recording
		r := &chunkedReader{data: happyStream, chunkSize: chunkSize}

		if err := consumeEventStream(r, recordingHandlers(&rec)); err != nil {
			t.Fatalf("chunk size %d: unexpected error: %v", chunkSize, err)
		}
		if rec.done != "Hello, world" {
			t.Errorf("chunk size %d: expected reassembled stream, got %q", chunkSize, rec.done)
		}
		if len(rec.chunks) != 2 {
			t.Errorf("chunk size %d: expected 2 chunks, got %d", chunkSize, len(rec.chunks))
		}
	}
}

func TestConsumeEventStream_ErrorEvent(t *testing.T) {
	stream := "event: sources\n" +
		`data: {"sources":[]}` + "\n\n" +
		"event: start\n" +
		`data: {"message":"Generating response"}` + "\n\n" +
		"event: error\n" +
		`data: {"error":"The assistant is temporarily unavailable. Please try again."}` + "\n\n"

	var rec recording
	err := consumeEventStream(strings.NewReader(stream), recordingHandlers(&rec))

	var streamErr *StreamError
	if !errors.As(err, &streamErr) {
		t.Fatalf("expected StreamError, got %v", err)
	}
	if streamErr.Message != "The assistant is temporarily unavailable. Please try again." {
		t.Errorf("unexpected message: %q", streamErr.Message)
	}
	if rec.order[len(rec.order)-1] != "error" {
		t.Errorf("expected OnError invoked last, got %v", rec.order)
	}
}

func TestConsumeEventStream_StopsAfterDone(t *testing.T) {
	stream := "event: done\n" +
		`data: {"message":"Response complete","fullContent":"x"}` + "\n\n" +
		"event: chunk\n" +
		`data: {"content":"late"}` + "\n\n"

	var rec recording
	if err := consumeEventStream(strings.NewReader(stream), recordingHandlers(&rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rec.chunks) != 0 {
		t.Errorf("expected no events consumed after done, got %v", rec.chunks)
	}
}

func TestConsumeEventStream_CRLFLines(t *testing.T) {
	stream := "event: chunk\r\n" +
		"data: {\"content\":\"hi\"}\r\n\r\n" +
		"event: done\r\n" +
		"data: {\"message\":\"Response complete\",\"fullContent\":\"hi\"}\r\n\r\n"

	var rec recording
	if err := consumeEventStream(strings.NewReader(stream), recordingHandlers(&rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rec.chunks) != 1 || rec.chunks[0] != "hi" {
		t.Errorf("expected CRLF frames parsed, got %v", rec.chunks)
	}
}

func TestConsumeEventStream_DataWithoutEventIgnored(t *testing.T) {
	stream := `data: {"content":"orphan"}` + "\n\n" +
		"event: done\n" +
		`data: {"message":"Response complete","fullContent":""}` + "\n\n"

	var rec recording
	if err := consumeEventStream(strings.NewReader(stream), recordingHandlers(&rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rec.chunks) != 0 {
		t.Errorf("expected orphan data ignored, got %v", rec.chunks)
	}
}

func TestConsumeEventStream_EOFWithoutTerminal(t *testing.T) {
	stream := "event: chunk\n" + `data: {"content":"partial"}` + "\n\n"

	var rec recording
	if err := consumeEventStream(strings.NewReader(stream), recordingHandlers(&rec)); err != nil {
		t.Fatalf("expected clean return on EOF, got %v", err)
	}
	if len(rec.chunks) != 1 {
		t.Errorf("expected delivered chunk kept, got %v", rec.chunks)
	}
}

func TestConsumeEventStream_NilHandlers(t *testing.T) {
	if err := consumeEventStream(strings.NewReader(happyStream), StreamHandlers{}); err != nil {
		t.Fatalf("expected nil handlers tolerated, got %v", err)
	}
}
