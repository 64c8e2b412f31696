package capture

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/cadence/internal/voice"
	"github.com/MrWong99/cadence/pkg/audio"
	"github.com/MrWong99/cadence/pkg/provider/stt"
	sttmock "github.com/MrWong99/cadence/pkg/provider/stt/mock"
)

func TestSTTEngine_ConvertsAndForwards(t *testing.T) {
	t.Parallel()
	prov := &sttmock.Provider{}
	eng := NewSTTEngine(prov, stt.StreamConfig{Language: "en-US"})

	frames := make(chan audio.AudioFrame, 4)
	rec, err := eng.Start(context.Background(), frames)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer rec.Stop()

	cfg := prov.StartStreamCalls[0].Cfg
	if cfg.SampleRate != 16000 || cfg.Channels != 1 || cfg.Language != "en-US" {
		t.Errorf("stream config = %+v", cfg)
	}

	// 10 ms of 48 kHz stereo becomes 10 ms of 16 kHz mono.
	frames <- audio.AudioFrame{Data: make([]byte, 480*2*2), SampleRate: 48000, Channels: 2}
	sess := prov.LastSession()
	deadline := time.Now().Add(time.Second)
	for sess.SendAudioCallCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("audio never reached the session")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := len(sess.SendAudioCalls[0]); got != 160*2 {
		t.Errorf("sent %d bytes, want %d", got, 160*2)
	}

	sess.Emit(stt.Transcript{Text: "hello", IsFinal: true})
	select {
	case res := <-rec.Results():
		if res != (Result{Text: "hello", IsFinal: true}) {
			t.Errorf("result = %+v", res)
		}
	case <-time.After(time.Second):
		t.Fatal("no result")
	}

	sess.End(stt.ErrNetwork)
	for range rec.Results() {
	}
	if !errors.Is(rec.Err(), stt.ErrNetwork) {
		t.Errorf("Err() = %v, want stt.ErrNetwork", rec.Err())
	}
}

func TestSTTEngine_SourceLost(t *testing.T) {
	t.Parallel()
	prov := &sttmock.Provider{}
	frames := make(chan audio.AudioFrame)
	rec, err := NewSTTEngine(prov, stt.StreamConfig{}).Start(context.Background(), frames)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	close(frames)
	for range rec.Results() {
	}
	if !errors.Is(rec.Err(), voice.ErrDeviceUnavailable) {
		t.Errorf("Err() = %v, want ErrDeviceUnavailable", rec.Err())
	}
}

func TestSTTEngine_StartError(t *testing.T) {
	t.Parallel()
	prov := &sttmock.Provider{StartStreamErr: stt.ErrUnauthorized}
	_, err := NewSTTEngine(prov, stt.StreamConfig{}).Start(context.Background(), nil)
	if !errors.Is(err, stt.ErrUnauthorized) {
		t.Errorf("Start() = %v", err)
	}
}
