package playback

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/MrWong99/cadence/pkg/audio"
	audiomock "github.com/MrWong99/cadence/pkg/audio/mock"
	"github.com/MrWong99/cadence/pkg/provider/tts"
	ttsmock "github.com/MrWong99/cadence/pkg/provider/tts/mock"
)

func TestTTSSynthesizer_Speak(t *testing.T) {
	t.Parallel()
	prov := &ttsmock.Provider{
		SynthesizeChunks: [][]byte{make([]byte, 480), make([]byte, 480)},
		OutputFormat:     audio.Format{SampleRate: 24000, Channels: 1},
	}
	sink := &audiomock.Sink{}
	s := NewTTSSynthesizer(prov, sink)

	voice := tts.VoiceProfile{ID: "nova", SpeedFactor: 1.1}
	if err := s.Speak(context.Background(), Utterance{Text: "Great job!", Voice: voice}); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if sink.Bytes() != 960 {
		t.Errorf("played %d bytes, want 960", sink.Bytes())
	}
	if sink.Formats[0] != prov.OutputFormat {
		t.Errorf("sink format = %v", sink.Formats[0])
	}
	calls := prov.Calls()
	if len(calls) != 1 || calls[0].Voice.ID != "nova" || len(calls[0].Text) != 1 || calls[0].Text[0] != "Great job!" {
		t.Errorf("synthesize calls = %+v", calls)
	}
}

func TestTTSSynthesizer_SynthesizeError(t *testing.T) {
	t.Parallel()
	s := NewTTSSynthesizer(&ttsmock.Provider{SynthesizeErr: tts.ErrVoiceRequired}, &audiomock.Sink{})
	if err := s.Speak(context.Background(), Utterance{Text: "x"}); !errors.Is(err, tts.ErrVoiceRequired) {
		t.Errorf("Speak() = %v", err)
	}
}

func TestTTSSynthesizer_VoicesCached(t *testing.T) {
	t.Parallel()
	prov := &ttsmock.Provider{ListVoicesResult: []tts.VoiceProfile{{ID: "alloy"}}}
	s := NewTTSSynthesizer(prov, &audiomock.Sink{})

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := s.Voices(context.Background())
			if err != nil || len(v) != 1 {
				t.Errorf("Voices() = %v, %v", v, err)
			}
		}()
	}
	wg.Wait()
	if _, err := s.Voices(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := prov.ListVoicesCalls(); n < 1 || n > 8 {
		t.Errorf("ListVoices calls = %d", n)
	}
	before := prov.ListVoicesCalls()
	_, _ = s.Voices(context.Background())
	if prov.ListVoicesCalls() != before {
		t.Error("cached catalogue was fetched again")
	}
}
