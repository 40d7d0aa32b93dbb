package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"soundscape/logger"
)

// FFmpegProcessor wraps the ffmpeg and ffprobe binaries.
type FFmpegProcessor struct {
	ffmpegPath  string
	ffprobePath string
}

// NewFFmpegProcessor creates a new FFmpegProcessor. An empty ffprobePath is
// derived from ffmpegPath.
func NewFFmpegProcessor(ffmpegPath, ffprobePath string) *FFmpegProcessor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = strings.Replace(ffmpegPath, "ffmpeg", "ffprobe", 1)
	}
	return &FFmpegProcessor{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}
}

// FFmpegPath returns the ffmpeg binary in use.
func (p *FFmpegProcessor) FFmpegPath() string {
	return p.ffmpegPath
}

// Run executes ffmpeg with args and returns its stderr, which ffmpeg uses for
// all diagnostics. The process is killed when ctx is done.
func (p *FFmpegProcessor) Run(ctx context.Context, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	logger.Debug("执行 FFmpeg 命令",
		logger.String("cmd", p.ffmpegPath),
		logger.String("args", strings.Join(args, " ")))

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return stderr.Bytes(), ctxErr
		}
		return stderr.Bytes(), fmt.Errorf("ffmpeg execution failed: %w", err)
	}
	return stderr.Bytes(), nil
}

// ffprobeOutput defines the structure for ffprobe JSON output.
type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// GetAudioDuration uses ffprobe to get the duration of an audio file in seconds.
func (p *FFmpegProcessor) GetAudioDuration(ctx context.Context, inputFile string) (float64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "json",
		inputFile,
	}

	cmd := exec.CommandContext(ctx, p.ffprobePath, args...)
	var out bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("ffprobe execution failed for %s: %w\nFFprobe Error: %s", inputFile, err, stderr.String())
	}

	return parseProbeDuration(inputFile, out.Bytes())
}

func parseProbeDuration(inputFile string, out []byte) (float64, error) {
	var probeData ffprobeOutput
	if err := json.Unmarshal(out, &probeData); err != nil {
		return 0, fmt.Errorf("failed to unmarshal ffprobe output for %s: %w", inputFile, err)
	}

	if probeData.Format.Duration == "" {
		return 0, fmt.Errorf("duration not found in ffprobe output for %s", inputFile)
	}

	duration, err := strconv.ParseFloat(probeData.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration string %q for %s: %w", probeData.Format.Duration, inputFile, err)
	}
	return duration, nil
}

// DecodePCM decodes any ffmpeg-readable file to interleaved stereo int16 at SampleRate.
func (p *FFmpegProcessor) DecodePCM(ctx context.Context, inputFile string) ([]int16, error) {
	cmd := exec.CommandContext(ctx, p.ffmpegPath,
		"-i", inputFile,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(SampleRate),
		"-ac", strconv.Itoa(Channels),
		"-loglevel", "error",
		"pipe:1",
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg decode %s: %w\nFFmpeg Error: %s", inputFile, err, stderr.String())
	}
	return BytesToSamples(out), nil
}

// AnalyzeLevels runs the astats filter over inputFile.
func (p *FFmpegProcessor) AnalyzeLevels(ctx context.Context, inputFile string) (*LevelStats, error) {
	cmd := exec.CommandContext(ctx, p.ffmpegPath,
		"-hide_banner",
		"-nostats",
		"-i", inputFile,
		"-af", "astats",
		"-f", "null",
		"-",
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("astats analysis failed for %s: %w", inputFile, err)
	}
	stats := ParseAstats(string(output))
	return &stats, nil
}

// PCMToMP3Command returns an ffmpeg process reading raw PCM frames on stdin
// and writing an MP3 stream on stdout.
func (p *FFmpegProcessor) PCMToMP3Command(ctx context.Context, bitrate string) *exec.Cmd {
	return exec.CommandContext(ctx, p.ffmpegPath,
		"-f", "s16le",
		"-ar", strconv.Itoa(SampleRate),
		"-ac", strconv.Itoa(Channels),
		"-i", "pipe:0",
		"-codec:a", "libmp3lame",
		"-b:a", bitrate,
		"-f", "mp3",
		"-loglevel", "error",
		"pipe:1",
	)
}
