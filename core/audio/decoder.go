package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"

	"soundscape/logger"
)

// ErrUnsupportedFormat is returned when a file cannot be decoded natively and
// no ffmpeg fallback is configured.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// Decoder turns a local file into a Clip. WAV and MP3 at SampleRate are decoded
// in-process; everything else goes through ffmpeg.
type Decoder struct {
	ffmpeg *FFmpegProcessor
}

// NewDecoder creates a Decoder. ffmpeg may be nil to restrict decoding to the native formats.
func NewDecoder(ffmpeg *FFmpegProcessor) *Decoder {
	return &Decoder{ffmpeg: ffmpeg}
}

// Decode reads path fully into memory.
func (d *Decoder) Decode(ctx context.Context, path string) (*Clip, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	var (
		samples []int16
		err     error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		samples, err = decodeWAV(path)
	case ".mp3":
		samples, err = decodeMP3(path)
	default:
		err = ErrUnsupportedFormat
	}

	if errors.Is(err, ErrUnsupportedFormat) && d.ffmpeg != nil {
		logger.Debug("原生解码不支持，回退到 FFmpeg", logger.String("path", path))
		samples, err = d.ffmpeg.DecodePCM(ctx, path)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("decode %s: no audio samples", path)
	}
	return NewClip(path, samples), nil
}

func decodeWAV(path string) ([]int16, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("invalid WAV file: %s", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, err
	}
	if buf.Format == nil || buf.Format.SampleRate != SampleRate {
		return nil, ErrUnsupportedFormat
	}
	return intBufferToStereo(buf)
}

// intBufferToStereo scales to 16 bits and folds the channel layout to stereo.
func intBufferToStereo(buf *goaudio.IntBuffer) ([]int16, error) {
	nch := buf.Format.NumChannels
	if nch < 1 {
		return nil, ErrUnsupportedFormat
	}
	shift := buf.SourceBitDepth - BitDepth

	scale := func(v int) int16 {
		switch {
		case shift > 0:
			v >>= uint(shift)
		case shift < 0:
			v <<= uint(-shift)
		}
		if buf.SourceBitDepth == 8 {
			v -= 128 << 8 // 8-bit WAV is unsigned
		}
		return ClipSample(float64(v))
	}

	nframes := len(buf.Data) / nch
	out := make([]int16, nframes*Channels)
	for i := 0; i < nframes; i++ {
		l := scale(buf.Data[i*nch])
		r := l
		if nch > 1 {
			r = scale(buf.Data[i*nch+1])
		}
		out[i*2] = l
		out[i*2+1] = r
	}
	return out, nil
}

func decodeMP3(path string) ([]int16, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := mp3.NewDecoder(f)
	if err != nil {
		return nil, err
	}
	if dec.SampleRate() != SampleRate {
		return nil, ErrUnsupportedFormat
	}
	// go-mp3 always yields 16-bit little-endian stereo.
	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, err
	}
	return BytesToSamples(raw), nil
}

// WriteWAV encodes interleaved stereo samples as a 16-bit PCM WAV file.
func WriteWAV(w io.WriteSeeker, samples []int16) error {
	enc := wav.NewEncoder(w, SampleRate, BitDepth, Channels, 1)
	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: Channels,
			SampleRate:  SampleRate,
		},
		Data:           make([]int, len(samples)),
		SourceBitDepth: BitDepth,
	}
	for i, s := range samples {
		buf.Data[i] = int(s)
	}
	if err := enc.Write(buf); err != nil {
		return err
	}
	return enc.Close()
}

// WriteWAVFile is WriteWAV into a new file at path.
func WriteWAVFile(path string, samples []int16) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteWAV(f, samples); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
