package recorder

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

func newSource(t *testing.T) (chan audio.AudioFrame, *audio.Fanout) {
	t.Helper()
	in := make(chan audio.AudioFrame, 16)
	f := audio.NewFanout(in)
	t.Cleanup(f.Close)
	return in, f
}

func frame(n int) audio.AudioFrame {
	return audio.AudioFrame{Data: make([]byte, n), SampleRate: 16000, Channels: 1}
}

func waitSubscribers(t *testing.T, f *audio.Fanout, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for f.Subscribers() != n {
		if time.Now().After(deadline) {
			t.Fatalf("subscribers = %d, want %d", f.Subscribers(), n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestNew_Limit(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		limit   time.Duration
		wantErr bool
	}{
		{"default", 0, false},
		{"lower bound", MinLimit, false},
		{"upper bound", MaxLimit, false},
		{"too short", 10 * time.Second, true},
		{"too long", 2 * time.Minute, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var opts []Option
			if tt.limit != 0 {
				opts = append(opts, WithLimit(tt.limit))
			}
			_, err := New(nil, nil, opts...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrInvalidLimit) {
				t.Errorf("err = %v, want ErrInvalidLimit", err)
			}
		})
	}
}

func TestRecordAndStop(t *testing.T) {
	t.Parallel()
	in, src := newSource(t)
	r, err := New(src, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.Start(); !errors.Is(err, ErrRecording) {
		t.Errorf("second Start = %v, want ErrRecording", err)
	}
	waitSubscribers(t, src, 1)

	in <- frame(320)
	in <- frame(320)
	// Frames are delivered asynchronously; wait until both have been buffered.
	deadline := time.Now().Add(time.Second)
	for {
		r.mu.Lock()
		n := r.cur.buf.Len()
		r.mu.Unlock()
		if n == 640 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("buffered %d bytes, want 640", n)
		}
		time.Sleep(time.Millisecond)
	}

	clip, ok := r.Stop()
	if !ok || len(clip.PCM) != 640 {
		t.Fatalf("Stop() = %d bytes, %v", len(clip.PCM), ok)
	}
	if clip.Format != (audio.Format{SampleRate: 16000, Channels: 1}) {
		t.Errorf("format = %v", clip.Format)
	}
	if _, ok := r.Stop(); ok {
		t.Error("second Stop reported a recording")
	}
	if r.Recording() {
		t.Error("still recording after Stop")
	}
	waitSubscribers(t, src, 0)
}

func TestAutoStop(t *testing.T) {
	t.Parallel()
	_, src := newSource(t)
	got := make(chan stt.Clip, 1)
	r, err := New(src, nil, WithOnAutoStop(func(c stt.Clip) { got <- c }))
	if err != nil {
		t.Fatal(err)
	}
	r.limit = 20 * time.Millisecond

	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("safety stop did not fire")
	}
	if r.Recording() {
		t.Error("still recording after safety stop")
	}
	if _, ok := r.Stop(); ok {
		t.Error("Stop after safety stop returned a clip")
	}
	// A new recording can start after the safety stop.
	if err := r.Start(); err != nil {
		t.Errorf("Start after safety stop: %v", err)
	}
	r.Stop()
}

func TestTranscribe(t *testing.T) {
	t.Parallel()
	clip := stt.Clip{PCM: make([]byte, 3200), Format: audio.Format{SampleRate: 16000, Channels: 1}}
	boom := errors.New("503")

	tests := []struct {
		name    string
		tr      *sttmock.Transcriber
		clip    stt.Clip
		want    string
		wantErr error
	}{
		{"text", &sttmock.Transcriber{Text: "  ran 5k today "}, clip, "ran 5k today", nil},
		{"whitespace", &sttmock.Transcriber{Text: " \n"}, clip, "", voice.ErrNoSpeechDetected},
		{"empty clip", &sttmock.Transcriber{Text: "x"}, stt.Clip{}, "", voice.ErrNoSpeechDetected},
		{"unauthorized", &sttmock.Transcriber{Err: stt.ErrUnauthorized}, clip, "", voice.ErrPermissionDenied},
		{"other", &sttmock.Transcriber{Err: boom}, clip, "", boom},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r, err := New(nil, tt.tr, WithLanguage("de"))
			if err != nil {
				t.Fatal(err)
			}
			got, err := r.Transcribe(context.Background(), tt.clip)
			if !errors.Is(err, tt.wantErr) || (tt.wantErr == nil && err != nil) {
				t.Fatalf("Transcribe() err = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Transcribe() = %q, want %q", got, tt.want)
			}
			if len(tt.clip.PCM) > 0 && tt.tr.Calls[0].Language != "de" {
				t.Errorf("language = %q", tt.tr.Calls[0].Language)
			}
		})
	}
}

func TestTranscribe_Unavailable(t *testing.T) {
	t.Parallel()
	r, _ := New(nil, nil)
	if _, err := r.Transcribe(context.Background(), stt.Clip{PCM: []byte{1, 2}}); !errors.Is(err, voice.ErrRecognitionUnavailable) {
		t.Errorf("err = %v", err)
	}
}
