package whisper_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/MrWong99/voiceclip/pkg/provider/stt"
	"github.com/MrWong99/voiceclip/pkg/provider/stt/whisper"
)

// testModelPath returns WHISPER_MODEL_PATH or skips the test.
func testModelPath(t *testing.T) string {
	t.Helper()
	p := os.Getenv("WHISPER_MODEL_PATH")
	if p == "" {
		t.Skip("WHISPER_MODEL_PATH not set; skipping native whisper test")
	}
	return p
}

func TestNewNative_EmptyPath(t *testing.T) {
	if _, err := whisper.NewNative(""); !errors.Is(err, whisper.ErrModelNotFound) {
		t.Fatalf("NewNative(\"\") = %v, want ErrModelNotFound", err)
	}
}

func TestNewNative_MissingModel(t *testing.T) {
	if _, err := whisper.NewNative("/nonexistent/ggml-base.en.bin"); err == nil {
		t.Fatal("expected error for missing model file")
	}
}

func TestNativeSession_Lifecycle(t *testing.T) {
	p, err := whisper.NewNative(testModelPath(t),
		whisper.WithNativeLanguage("en"),
		whisper.WithNativeSilenceThresholdMs(100),
		whisper.WithNativeMaxBufferDurationMs(5000),
	)
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	defer p.Close()

	h, err := p.StartStream(context.Background(), stt.StreamConfig{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}

	_ = h.SendAudio(speechPCM(16000))
	_ = h.SendAudio(silencePCM(3200))

	// A sine tone may or may not decode to text; either way the session must
	// close cleanly and close Finals.
	time.Sleep(200 * time.Millisecond)
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for range h.Finals() {
	}
	if err := h.SendAudio(silencePCM(10)); !errors.Is(err, stt.ErrSessionClosed) {
		t.Errorf("SendAudio after Close = %v, want ErrSessionClosed", err)
	}
}
