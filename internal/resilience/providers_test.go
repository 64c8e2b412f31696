package resilience

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/cadence/pkg/audio"
	"github.com/MrWong99/cadence/pkg/provider/llm"
	llmmock "github.com/MrWong99/cadence/pkg/provider/llm/mock"
	"github.com/MrWong99/cadence/pkg/provider/stt"
	sttmock "github.com/MrWong99/cadence/pkg/provider/stt/mock"
	"github.com/MrWong99/cadence/pkg/provider/tts"
	ttsmock "github.com/MrWong99/cadence/pkg/provider/tts/mock"
	"github.com/MrWong99/cadence/pkg/types"
)

func TestLLMFallback_Complete(t *testing.T) {
	t.Parallel()
	primary := &llmmock.Provider{CompleteErr: errUpstream, TokenCount: 7}
	backup := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Keep going."}}
	f := NewLLMFallback(primary, "openai", FallbackConfig{})
	f.AddFallback("anyllm", backup)

	resp, err := f.Complete(context.Background(), llm.CompletionRequest{Messages: []types.Message{types.UserMessage("hi")}})
	if err != nil || resp.Content != "Keep going." {
		t.Fatalf("Complete = %+v, %v", resp, err)
	}
	if primary.CompleteCallCount() != 1 || backup.CompleteCallCount() != 1 {
		t.Errorf("calls = %d/%d, want 1/1", primary.CompleteCallCount(), backup.CompleteCallCount())
	}

	n, err := f.CountTokens([]types.Message{types.UserMessage("hi")})
	if err != nil || n != 7 {
		t.Errorf("CountTokens = %d, %v; want the primary's count", n, err)
	}
	if st := f.Statuses(); len(st) != 2 || st[1].Name != "anyllm" {
		t.Errorf("Statuses() = %+v", st)
	}
}

func TestLLMFallback_Stream(t *testing.T) {
	t.Parallel()
	f := NewLLMFallback(&llmmock.Provider{StreamErr: errUpstream}, "a", FallbackConfig{})
	f.AddFallback("b", &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "ok", FinishReason: "stop"}}})

	ch, err := f.StreamCompletion(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("StreamCompletion: %v", err)
	}
	var text string
	for c := range ch {
		text += c.Text
	}
	if text != "ok" {
		t.Errorf("streamed %q, want ok", text)
	}
}

func TestSTTFallback_StartStream(t *testing.T) {
	t.Parallel()
	primary := &sttmock.Provider{StartStreamErr: errUpstream}
	backup := &sttmock.Provider{}
	f := NewSTTFallback(primary, "deepgram", FallbackConfig{})
	f.AddFallback("openai", backup)

	h, err := f.StartStream(context.Background(), stt.StreamConfig{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	if h != backup.LastSession() {
		t.Error("handle did not come from the fallback")
	}
	if primary.CallCount() != 1 {
		t.Errorf("primary calls = %d, want 1", primary.CallCount())
	}
}

func TestTranscriberFallback(t *testing.T) {
	t.Parallel()
	primary := &sttmock.Transcriber{Err: errUpstream}
	backup := &sttmock.Transcriber{Text: "I ran five kilometres"}
	f := NewTranscriberFallback(primary, "whisper", FallbackConfig{})
	f.AddFallback("openai", backup)

	clip := stt.Clip{PCM: []byte{0, 0}, Format: audio.Format{SampleRate: 16000, Channels: 1}}
	got, err := f.Transcribe(context.Background(), clip, "en-US")
	if err != nil || got != "I ran five kilometres" {
		t.Fatalf("Transcribe = %q, %v", got, err)
	}
	if backup.Calls[0].Language != "en-US" {
		t.Errorf("language = %q", backup.Calls[0].Language)
	}

	only := NewTranscriberFallback(&sttmock.Transcriber{Err: errUpstream}, "whisper", FallbackConfig{})
	if _, err := only.Transcribe(context.Background(), clip, ""); !errors.Is(err, ErrAllFailed) {
		t.Errorf("err = %v, want ErrAllFailed", err)
	}
}

func collect(ch <-chan []byte) []byte {
	var out []byte
	for c := range ch {
		out = append(out, c...)
	}
	return out
}

func TestTTSFallback_SameFormat(t *testing.T) {
	t.Parallel()
	primary := &ttsmock.Provider{SynthesizeErr: errUpstream}
	backup := &ttsmock.Provider{SynthesizeChunks: [][]byte{{1, 0}, {2, 0}}}
	f := NewTTSFallback(primary, "elevenlabs", FallbackConfig{})
	f.AddFallback("openai", backup)

	text := make(chan string, 1)
	text <- "Nice pace."
	close(text)
	pcm, err := f.SynthesizeStream(context.Background(), text, tts.VoiceProfile{ID: "v1"})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	if got := collect(pcm); !slices.Equal(got, []byte{1, 0, 2, 0}) {
		t.Errorf("pcm = %v", got)
	}
	calls := backup.Calls()
	if len(calls) != 1 || !slices.Equal(calls[0].Text, []string{"Nice pace."}) {
		t.Errorf("fallback saw %+v, want the full text", calls)
	}
}

func TestTTSFallback_ConvertsFormat(t *testing.T) {
	t.Parallel()
	primary := &ttsmock.Provider{
		SynthesizeErr: errUpstream,
		OutputFormat:  audio.Format{SampleRate: 16000, Channels: 1},
	}
	// 4 stereo samples at 16 kHz, split mid-sample.
	stereo := audio.EncodePCM([]int16{100, 300, 100, 300, -50, -150, -50, -150})
	backup := &ttsmock.Provider{
		SynthesizeChunks: [][]byte{stereo[:3], stereo[3:]},
		OutputFormat:     audio.Format{SampleRate: 16000, Channels: 2},
	}
	f := NewTTSFallback(primary, "a", FallbackConfig{})
	f.AddFallback("b", backup)

	if f.Format() != primary.Format() {
		t.Fatalf("Format() = %v, want primary's", f.Format())
	}
	text := make(chan string)
	close(text)
	pcm, err := f.SynthesizeStream(context.Background(), text, tts.VoiceProfile{})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	got := audio.DecodePCM(collect(pcm))
	if !slices.Equal(got, []int16{200, 200, -100, -100}) {
		t.Errorf("samples = %v, want downmixed mono", got)
	}
}

func TestTTSFallback_ListVoices(t *testing.T) {
	t.Parallel()
	voices := []tts.VoiceProfile{{ID: "v1", Name: "Ava", Locale: "en-US"}}
	f := NewTTSFallback(&ttsmock.Provider{ListVoicesErr: errUpstream}, "a", FallbackConfig{})
	f.AddFallback("b", &ttsmock.Provider{ListVoicesResult: voices})
	got, err := f.ListVoices(context.Background())
	if err != nil || len(got) != 1 || got[0].ID != "v1" {
		t.Fatalf("ListVoices = %+v, %v", got, err)
	}
}
