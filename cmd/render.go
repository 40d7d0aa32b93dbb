package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"soundscape/core/audio"
	"soundscape/core/render"

	"github.com/spf13/cobra"
)

var (
	renderOutput   string
	renderDuration time.Duration
)

var renderCmd = &cobra.Command{
	Use:   "render <tracks.json>",
	Short: "离线渲染混音",
	Long:  `按音轨文件中的增益与声像设置，将全部音源循环混合为固定时长的 MP3 文件。缺失的音源会被跳过。`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		tf, err := loadTrackFile(args[0])
		if err != nil {
			log.Fatal(err)
		}
		out := renderOutput
		if out == "" {
			out = safeOutputName(tf.Name) + ".mp3"
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		ffmpeg := audio.NewFFmpegProcessor(cfg.FFmpegPath, cfg.FFprobePath)
		duration := renderDuration
		if duration <= 0 {
			duration = cfg.RenderDuration
		}
		pipeline := render.NewPipeline(ffmpeg, localResolver(cfg), render.Config{
			TempDir:              cfg.RenderTempDir,
			Bitrate:              cfg.AudioBitrate,
			MasterCompensationDB: cfg.MasterCompensationDB,
			DefaultDuration:      cfg.RenderDuration,
		})

		fmt.Printf("渲染 %d 条音轨，时长 %s...\n", len(tf.Tracks), duration)
		started := time.Now()
		res, err := pipeline.Render(ctx, render.NewRequest(tf.Tracks, duration))
		if err != nil {
			log.Fatalf("渲染失败: %v", err)
		}
		for _, miss := range res.Skipped {
			fmt.Printf("  跳过音轨 %d: %s (%v)\n", miss.Index, miss.Path, miss.Err)
		}
		if err := os.WriteFile(out, res.Data, 0644); err != nil {
			log.Fatalf("写入输出文件失败: %v", err)
		}
		fmt.Printf("已写入 %s (%d 字节, 耗时 %s)\n", out, len(res.Data), time.Since(started).Round(time.Millisecond))
	},
}

func init() {
	rootCmd.AddCommand(renderCmd)
	renderCmd.Flags().StringVarP(&renderOutput, "output", "o", "", "输出文件路径，默认使用混音名称")
	renderCmd.Flags().DurationVarP(&renderDuration, "duration", "t", 0, "渲染时长，默认 RENDER_DURATION_SECONDS")
}
