package stream

import (
	"context"
	"io"
	"net/http"
	"os/exec"

	"soundscape/core/audio"
	"soundscape/logger"
)

// EncoderFactory starts a PCM-to-MP3 encoder process.
// audio.FFmpegProcessor.PCMToMP3Command satisfies it.
type EncoderFactory func(ctx context.Context, bitrate string) *exec.Cmd

// MP3Monitor serves a live mix as a chunked MP3 stream. Each connection runs
// its own encoder.
type MP3Monitor struct {
	newEncoder EncoderFactory
	bitrate    string
}

// NewMP3Monitor creates an MP3Monitor.
func NewMP3Monitor(newEncoder EncoderFactory, bitrate string) *MP3Monitor {
	if bitrate == "" {
		bitrate = "192k"
	}
	return &MP3Monitor{newEncoder: newEncoder, bitrate: bitrate}
}

// Serve streams b to the client until either side goes away.
func (m *MP3Monitor) Serve(w http.ResponseWriter, r *http.Request, b *Broadcaster) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	cmd := m.newEncoder(ctx, m.bitrate)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		logger.Error("MP3 监听: 创建 stdin 管道失败", logger.ErrorField(err))
		http.Error(w, "encoder unavailable", http.StatusInternalServerError)
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		logger.Error("MP3 监听: 创建 stdout 管道失败", logger.ErrorField(err))
		http.Error(w, "encoder unavailable", http.StatusInternalServerError)
		return
	}
	if err := cmd.Start(); err != nil {
		logger.Error("MP3 监听: 启动编码器失败", logger.ErrorField(err))
		http.Error(w, "encoder unavailable", http.StatusInternalServerError)
		return
	}
	defer cmd.Wait()

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "close")

	listener := b.Subscribe()
	defer b.Unsubscribe(listener)
	logger.Info("MP3 监听者接入", logger.Int("listeners", b.ListenerCount()))

	go func() {
		defer stdin.Close()
		pumpPCM(ctx, listener, stdin)
	}()

	buf := make([]byte, 4096)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				break
			}
			flusher.Flush()
		}
		if err != nil {
			if err != io.EOF && ctx.Err() == nil {
				logger.Warn("MP3 监听: 读取编码输出失败", logger.ErrorField(err))
			}
			break
		}
	}
	cancel()
	logger.Info("MP3 监听者断开", logger.Uint("dropped", uint(listener.Dropped())))
}

// pumpPCM writes listener frames to w as s16le until the listener ends.
func pumpPCM(ctx context.Context, l *Listener, w io.Writer) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.Done():
			return
		case frame := <-l.C:
			if _, err := w.Write(audio.SamplesToBytes(frame)); err != nil {
				return
			}
		}
	}
}
