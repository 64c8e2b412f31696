package audio

import (
	"bytes"
	"encoding/binary"
	"log/slog"
	"math"
	"sync"
)

// FormatConverter adapts frames to a fixed target format. Microphones rarely
// produce the 16 kHz mono stream speech engines want, so every consumer that
// cares about format owns one converter.
//
// The first mismatch and the first malformed frame are logged once each.
// A FormatConverter is not safe for concurrent use.
type FormatConverter struct {
	Target Format

	mismatchOnce sync.Once
	corruptOnce  sync.Once
}

// Convert returns frame in the target format. Frames already in the target
// format are returned as-is. Malformed frames (odd byte counts, or a length
// that is not a whole number of interleaved samples) come back with nil Data.
func (c *FormatConverter) Convert(frame AudioFrame) AudioFrame {
	out := AudioFrame{SampleRate: c.Target.SampleRate, Channels: c.Target.Channels, Timestamp: frame.Timestamp}

	ch := max(frame.Channels, 1)
	if len(frame.Data)%(bytesPerSample*ch) != 0 {
		c.corruptOnce.Do(func() {
			slog.Warn("audio: dropping malformed pcm frame",
				"bytes", len(frame.Data),
				"format", frame.Format().String(),
			)
		})
		return out
	}
	if frame.SampleRate == c.Target.SampleRate && frame.Channels == c.Target.Channels {
		return frame
	}
	c.mismatchOnce.Do(func() {
		slog.Debug("audio: converting stream",
			"from", frame.Format().String(),
			"to", c.Target.String(),
		)
	})

	samples := DecodePCM(frame.Data)

	// Downmix before resampling so the resampler handles fewer channels.
	if ch != c.Target.Channels && c.Target.Channels == 1 {
		samples = downmix(samples, ch)
		ch = 1
	}
	if frame.SampleRate != c.Target.SampleRate {
		samples = resample(samples, ch, frame.SampleRate, c.Target.SampleRate)
	}
	if ch != c.Target.Channels {
		samples = upmix(samples, ch, c.Target.Channels)
	}

	out.Data = EncodePCM(samples)
	return out
}

// ConvertStream converts every frame read from in and forwards it on the
// returned channel, which is closed once in is closed. Frames that convert to
// no data are dropped.
func ConvertStream(in <-chan AudioFrame, target Format) <-chan AudioFrame {
	out := make(chan AudioFrame, cap(in))
	go func() {
		defer close(out)
		conv := FormatConverter{Target: target}
		for frame := range in {
			f := conv.Convert(frame)
			if len(f.Data) == 0 {
				continue
			}
			out <- f
		}
	}()
	return out
}

// DecodePCM reads little-endian int16 samples. A trailing odd byte is ignored.
func DecodePCM(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/bytesPerSample)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// EncodePCM writes samples as little-endian int16 bytes.
func EncodePCM(samples []int16) []byte {
	out := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Float returns s scaled to [-1, 1).
func Float(s int16) float64 {
	return float64(s) / 32768
}

// RMS returns the root-mean-square level of 16-bit PCM in raw sample units.
func RMS(pcm []byte) float64 {
	samples := DecodePCM(pcm)
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// EncodeWAV wraps 16-bit PCM in a canonical 44-byte RIFF/WAVE header.
func EncodeWAV(pcm []byte, f Format) []byte {
	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))

	dataLen := uint32(len(pcm))
	blockAlign := uint16(f.Channels * bytesPerSample)

	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, 36+dataLen)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(&buf, binary.LittleEndian, uint16(f.Channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(f.SampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(f.BytesPerSecond()))
	_ = binary.Write(&buf, binary.LittleEndian, blockAlign)
	_ = binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, dataLen)
	buf.Write(pcm)
	return buf.Bytes()
}

// downmix averages interleaved channels into one, using int32 accumulation.
func downmix(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]int16, frames)
	for i := range frames {
		var sum int32
		for c := range channels {
			sum += int32(samples[i*channels+c])
		}
		out[i] = int16(sum / int32(channels))
	}
	return out
}

// upmix copies mono samples into every output channel. Other channel layouts
// are returned unchanged.
func upmix(samples []int16, from, to int) []int16 {
	if from != 1 || to <= 1 {
		return samples
	}
	out := make([]int16, len(samples)*to)
	for i, s := range samples {
		for c := range to {
			out[i*to+c] = s
		}
	}
	return out
}

// resample converts interleaved samples between rates using linear
// interpolation per channel.
func resample(samples []int16, channels, srcRate, dstRate int) []int16 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || channels <= 0 {
		return samples
	}
	srcFrames := len(samples) / channels
	if srcFrames == 0 {
		return nil
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	out := make([]int16, dstFrames*channels)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		next := min(idx+1, srcFrames-1)
		for c := range channels {
			s0 := float64(samples[idx*channels+c])
			s1 := float64(samples[next*channels+c])
			out[i*channels+c] = int16(s0*(1-frac) + s1*frac)
		}
	}
	return out
}
