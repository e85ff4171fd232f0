package audio

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/go-audio/wav"
)

var (
	ErrNotWAV           = errors.New("not a valid wav file")
	ErrUnsupportedAudio = errors.New("unsupported wav encoding")
)

const wavFormatPCM = 1

// Clip is a decoded mono recording.
type Clip struct {
	Samples    []int16
	SampleRate int
}

// Duration is the wall-clock length of the clip.
func (c Clip) Duration() float64 {
	if c.SampleRate <= 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate)
}

// ReadWAV decodes the whole file into memory.
func ReadWAV(path string) (Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return Clip{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	clip, err := DecodeWAV(f)
	if err != nil {
		return Clip{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return clip, nil
}

// DecodeWAV reads integer PCM at 8/16/24/32 bits and downmixes to one
// signed 16-bit channel by averaging the channels of each frame.
func DecodeWAV(r io.ReadSeeker) (Clip, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return Clip{}, ErrNotWAV
	}
	if dec.WavAudioFormat != wavFormatPCM {
		return Clip{}, fmt.Errorf("%w: audio format %d (only PCM)", ErrUnsupportedAudio, dec.WavAudioFormat)
	}
	depth := int(dec.BitDepth)
	switch depth {
	case 8, 16, 24, 32:
	default:
		return Clip{}, fmt.Errorf("%w: bit depth %d", ErrUnsupportedAudio, depth)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Clip{}, fmt.Errorf("read pcm: %w", err)
	}
	if buf == nil || buf.Format == nil {
		return Clip{}, ErrNotWAV
	}
	channels := buf.Format.NumChannels
	if channels <= 0 {
		return Clip{}, fmt.Errorf("%w: %d channels", ErrUnsupportedAudio, channels)
	}
	rate := buf.Format.SampleRate
	if rate <= 0 {
		return Clip{}, fmt.Errorf("%w: sample rate %d", ErrUnsupportedAudio, rate)
	}

	frames := len(buf.Data) / channels
	out := make([]int16, frames)
	for i := 0; i < frames; i++ {
		var sum int64
		base := i * channels
		for c := 0; c < channels; c++ {
			sum += int64(toInt16(buf.Data[base+c], depth))
		}
		out[i] = int16(sum / int64(channels))
	}
	return Clip{Samples: out, SampleRate: rate}, nil
}

func toInt16(v int, depth int) int16 {
	switch depth {
	case 8:
		// 8-bit WAV is unsigned around 128.
		return int16((v - 128) << 8)
	case 24:
		v >>= 8
	case 32:
		v >>= 16
	}
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
