package speech_test

import (
	"context"
	"encoding/binary"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/biosentry/biosentry/internal/speech"
)

// encodeTestWAV builds a minimal mono 16-bit PCM RIFF/WAVE buffer.
func encodeTestWAV(samples []int16) []byte {
	dataSize := len(samples) * 2
	buf := make([]byte, 44+dataSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1)
	binary.LittleEndian.PutUint16(buf[22:24], 1) // mono
	binary.LittleEndian.PutUint32(buf[24:28], 16000)
	binary.LittleEndian.PutUint32(buf[28:32], 32000)
	binary.LittleEndian.PutUint16(buf[32:34], 2)
	binary.LittleEndian.PutUint16(buf[34:36], 16)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[44+i*2:], uint16(s))
	}
	return buf
}

func TestHTTPSynthesizerDecodesWAVResponse(t *testing.T) {
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(encodeTestWAV([]int16{0, 16384, -16384, 32767}))
	}))
	defer srv.Close()

	synth, err := speech.NewHTTPSynthesizer(srv.URL, "narrator", "en")
	if err != nil {
		t.Fatalf("NewHTTPSynthesizer: %v", err)
	}

	samples, err := synth.Synthesize(context.Background(), "welcome back")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(samples) != 4 {
		t.Fatalf("len(samples) = %d, want 4", len(samples))
	}
	if samples[0] != 0 {
		t.Errorf("samples[0] = %v, want 0", samples[0])
	}
	if gotQuery.Get("text") != "welcome back" {
		t.Errorf("text query = %q, want %q", gotQuery.Get("text"), "welcome back")
	}
	if gotQuery.Get("speaker_id") != "narrator" {
		t.Errorf("speaker_id query = %q, want narrator", gotQuery.Get("speaker_id"))
	}
}

func TestHTTPSynthesizerEmptyServerURLReturnsError(t *testing.T) {
	if _, err := speech.NewHTTPSynthesizer("", "", "en"); err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

func TestHTTPSynthesizerNonOKStatusReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "server error", http.StatusInternalServerError)
	}))
	defer srv.Close()

	synth, err := speech.NewHTTPSynthesizer(srv.URL, "", "en")
	if err != nil {
		t.Fatalf("NewHTTPSynthesizer: %v", err)
	}
	if _, err := synth.Synthesize(context.Background(), "hello"); err == nil {
		t.Fatal("expected error for HTTP 500 response, got nil")
	}
}
