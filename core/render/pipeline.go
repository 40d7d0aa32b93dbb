// Package render mixes a static soundscape down to one encoded file. It
// shares the gain and pan law with the live mixer but none of its state, and
// every call is independent of every other.
package render

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"soundscape/core/gainpan"
	"soundscape/logger"
	"soundscape/model"
)

// DefaultDuration is the render length when a request does not set one.
const DefaultDuration = 90 * time.Second

// Track is one render input.
type Track struct {
	SourcePath string  `json:"sourcePath"`
	GainDB     float64 `json:"gainDb"`
	Pan        float64 `json:"pan"`
}

// Request is a render job. A zero Duration means DefaultDuration.
type Request struct {
	Tracks   []Track
	Duration time.Duration
}

// NewRequest builds a request from the persisted track shape. A track with
// no explicit gain renders at unity.
func NewRequest(states []model.TrackState, duration time.Duration) Request {
	tracks := make([]Track, 0, len(states))
	for _, s := range states {
		tracks = append(tracks, Track{SourcePath: s.SourceRef, GainDB: s.Gain(0), Pan: s.Pan})
	}
	return Request{Tracks: tracks, Duration: duration}
}

// Result is a finished render.
type Result struct {
	Data     []byte
	Duration time.Duration
	Included []int // request indexes that made it into the mix
	Skipped  []*MissingSourceFileError
}

// Encoder runs an ffmpeg argument list and returns its diagnostics.
type Encoder interface {
	Run(ctx context.Context, args []string) ([]byte, error)
}

// Locator maps a track source to a readable local file.
type Locator interface {
	Locate(ctx context.Context, source string) (string, error)
}

// LocatorFunc adapts a function to Locator.
type LocatorFunc func(ctx context.Context, source string) (string, error)

func (f LocatorFunc) Locate(ctx context.Context, source string) (string, error) {
	return f(ctx, source)
}

// fileLocator accepts a source only if it is an existing regular file.
type fileLocator struct{}

func (fileLocator) Locate(_ context.Context, source string) (string, error) {
	info, err := os.Stat(source)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", source)
	}
	return source, nil
}

// Config configures a Pipeline.
type Config struct {
	TempDir              string
	Bitrate              string
	MasterCompensationDB float64
	DefaultDuration      time.Duration
}

// Pipeline renders requests. It holds no per-render state and is safe for concurrent use.
type Pipeline struct {
	encoder Encoder
	locator Locator
	cfg     Config
}

// NewPipeline creates a Pipeline. A nil locator accepts only existing local files.
func NewPipeline(encoder Encoder, locator Locator, cfg Config) *Pipeline {
	if locator == nil {
		locator = fileLocator{}
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	if cfg.Bitrate == "" {
		cfg.Bitrate = "192k"
	}
	if cfg.MasterCompensationDB == 0 {
		cfg.MasterCompensationDB = gainpan.MasterCompensationDB
	}
	if cfg.DefaultDuration <= 0 {
		cfg.DefaultDuration = DefaultDuration
	}
	return &Pipeline{encoder: encoder, locator: locator, cfg: cfg}
}

// Render mixes req down to one MP3. Missing sources are skipped and listed in
// the result; if none remain it returns ErrNoValidSources. The temporary
// output is removed before Render returns, whatever the outcome.
func (p *Pipeline) Render(ctx context.Context, req Request) (*Result, error) {
	duration := req.Duration
	if duration <= 0 {
		duration = p.cfg.DefaultDuration
	}
	result := &Result{Duration: duration}

	valid := make([]Track, 0, len(req.Tracks))
	for i, t := range req.Tracks {
		path, err := p.locator.Locate(ctx, t.SourcePath)
		if err != nil {
			miss := &MissingSourceFileError{Index: i, Path: t.SourcePath, Err: err}
			result.Skipped = append(result.Skipped, miss)
			logger.Warn("渲染跳过缺失的音源", logger.Int("index", i), logger.String("path", t.SourcePath), logger.ErrorField(err))
			continue
		}
		t.SourcePath = path
		valid = append(valid, t)
		result.Included = append(result.Included, i)
	}
	if len(valid) == 0 {
		return result, fmt.Errorf("%w (%d listed)", ErrNoValidSources, len(req.Tracks))
	}

	if err := os.MkdirAll(p.cfg.TempDir, 0755); err != nil {
		return result, fmt.Errorf("failed to create render directory %s: %w", p.cfg.TempDir, err)
	}
	output := filepath.Join(p.cfg.TempDir, fmt.Sprintf("render-%s.mp3", uuid.New().String()))
	defer func() {
		if err := os.Remove(output); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("删除渲染临时文件失败", logger.String("path", output), logger.ErrorField(err))
		}
	}()

	opts := GraphOptions{
		Duration:             duration,
		MasterCompensationDB: p.cfg.MasterCompensationDB,
		Bitrate:              p.cfg.Bitrate,
	}
	start := time.Now()
	stderr, err := p.encoder.Run(ctx, Args(valid, opts, output))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, fmt.Errorf("render cancelled: %w", ctxErr)
		}
		return result, &EncodeError{Err: err, Stderr: string(stderr)}
	}

	data, err := os.ReadFile(output)
	if err != nil {
		return result, &EncodeError{Err: fmt.Errorf("read encoder output: %w", err), Stderr: string(stderr)}
	}
	if len(data) == 0 {
		return result, &EncodeError{Err: errors.New("encoder produced no output"), Stderr: string(stderr)}
	}
	result.Data = data

	logger.Info("渲染完成",
		logger.Int("tracks", len(valid)),
		logger.Int("skipped", len(result.Skipped)),
		logger.Duration("duration", duration),
		logger.Duration("elapsed", time.Since(start)),
		logger.Int("bytes", len(data)))
	return result, nil
}
