package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kingrea/codeforge/internal/jobs"
)

func TestStartJobRoundTrip(t *testing.T) {
	msg := ClientMsg{StartJob: &StartJob{JobID: "abc"}}
	payload, err := EncodeClient(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(payload) != `{"startJob":{"jobId":"abc"}}` {
		t.Fatalf("unexpected payload %s", payload)
	}
	dec := NewDecoder(0)
	dec.Feed(Frame(payload))
	got, ok, err := dec.Next()
	if err != nil || !ok {
		t.Fatalf("next: ok=%v err=%v", ok, err)
	}
	decoded, err := DecodeClient(got)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := cmp.Diff(msg, decoded); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
	if decoded.Kind() != "startJob" {
		t.Fatalf("kind = %q", decoded.Kind())
	}
}

func TestFrameLayout(t *testing.T) {
	frame := Frame([]byte(`{}`))
	if string(frame[:4]) != "MSG:" {
		t.Fatalf("missing delimiter: %q", frame[:4])
	}
	if size := binary.BigEndian.Uint32(frame[4:8]); size != 2 {
		t.Fatalf("length prefix = %d, want 2", size)
	}
}

func TestTruncatedFrameYieldsNoMessage(t *testing.T) {
	frame := Frame([]byte(`{"stopJob":{"jobId":"x"}}`))
	dec := NewDecoder(0)
	for cut := 0; cut < len(frame); cut++ {
		dec = NewDecoder(0)
		dec.Feed(frame[:cut])
		payload, ok, err := dec.Next()
		if err != nil || ok || payload != nil {
			t.Fatalf("cut %d: expected no message, got ok=%v err=%v", cut, ok, err)
		}
	}
	dec.Feed(frame[len(frame)-1:])
	if _, ok, err := dec.Next(); !ok || err != nil {
		t.Fatalf("completing the frame must yield a message: ok=%v err=%v", ok, err)
	}
}

func TestDecoderSkipsGarbageAndHandlesChunks(t *testing.T) {
	first := Frame([]byte(`{"a":1}`))
	second := Frame([]byte(`{"b":2}`))
	stream := append([]byte("noise MS"), first...)
	stream = append(stream, []byte("xx")...)
	stream = append(stream, second...)

	dec := NewDecoder(0)
	var got []string
	for _, b := range stream {
		dec.Feed([]byte{b})
		for {
			payload, ok, err := dec.Next()
			if err != nil {
				t.Fatalf("next: %v", err)
			}
			if !ok {
				break
			}
			got = append(got, string(payload))
		}
	}
	if diff := cmp.Diff([]string{`{"a":1}`, `{"b":2}`}, got); diff != "" {
		t.Fatalf("payload mismatch (-want +got):\n%s", diff)
	}
	if dec.Discarded() != len("noise MS")+len("xx") {
		t.Fatalf("discarded = %d", dec.Discarded())
	}
}

func TestDecoderRejectsOversizedFrameAndResyncs(t *testing.T) {
	dec := NewDecoder(8)
	dec.Feed(Frame([]byte(`{"too":"large payload"}`)))
	dec.Feed(Frame([]byte(`{}`)))
	if _, _, err := dec.Next(); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
	payload, ok, err := dec.Next()
	if err != nil || !ok || string(payload) != `{}` {
		t.Fatalf("expected resync to the next frame, got %q ok=%v err=%v", payload, ok, err)
	}
}

func TestDecodeRejectsMalformedAndUnknown(t *testing.T) {
	if _, err := DecodeClient([]byte(`{"startJob":`)); err == nil {
		t.Fatalf("expected error for malformed json")
	}
	if _, err := DecodeClient([]byte(`{"launchRocket":{}}`)); !errors.Is(err, ErrUnknownMessage) {
		t.Fatalf("expected ErrUnknownMessage, got %v", err)
	}
	if _, err := DecodeClient([]byte(`{"startJob":{"jobId":"a"},"stopJob":{"jobId":"a"}}`)); !errors.Is(err, ErrAmbiguousMessage) {
		t.Fatalf("expected ErrAmbiguousMessage, got %v", err)
	}
}

func TestServerMessagesEncodeExternallyTagged(t *testing.T) {
	tests := []struct {
		msg  ServerMsg
		want string
	}{
		{ServerMsg{EndStream: &EndStream{}}, `{"endStream":{}}`},
		{ServerMsg{CreateFile: &CreateFile{Filename: "main.rs"}}, `{"createFile":{"filename":"main.rs"}}`},
		{ServerMsg{StreamToken: &StreamToken{Token: "fn"}}, `{"streamToken":{"token":"fn"}}`},
		{ServerMsg{CommandError: &CommandError{Command: "stopJob", Kind: ErrorInvalidTransition, Message: "x"}}, `{"commandError":{"command":"stopJob","kind":"invalidTransition","message":"x"}}`},
	}
	for _, tc := range tests {
		got, err := EncodeServer(tc.msg)
		if err != nil {
			t.Fatalf("encode %s: %v", tc.msg.Kind(), err)
		}
		if string(got) != tc.want {
			t.Fatalf("encode %s = %s, want %s", tc.msg.Kind(), got, tc.want)
		}
	}
	if _, err := EncodeServer(ServerMsg{}); !errors.Is(err, ErrUnknownMessage) {
		t.Fatalf("empty message must not encode, got %v", err)
	}
}

func TestUpdateJobQueueCarriesJobSet(t *testing.T) {
	set := jobs.NewJobSet()
	id := set.NewTodo("main.rs", jobs.CodeGenRequest("main.rs"))
	payload, err := EncodeServer(ServerMsg{UpdateJobQueue: &UpdateJobQueue{Jobs: set}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	msg, err := DecodeServer(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status, ok := msg.UpdateJobQueue.Jobs.Locate(id); !ok || status != jobs.StatusTodo {
		t.Fatalf("expected job in todo, got %s %v", status, ok)
	}
}

func TestReaderWriterOverStream(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.SendClient(ClientMsg{InitPrompt: &InitPrompt{Prompt: "todo api"}}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := w.SendClient(ClientMsg{RetryJob: &RetryJob{JobID: "j1"}}); err != nil {
		t.Fatalf("send: %v", err)
	}
	r := NewReader(&buf, 0)
	var kinds []string
	for {
		payload, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		msg, err := DecodeClient(payload)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		kinds = append(kinds, msg.Kind())
	}
	if diff := cmp.Diff([]string{"initPrompt", "retryJob"}, kinds); diff != "" {
		t.Fatalf("kinds mismatch (-want +got):\n%s", diff)
	}
}
