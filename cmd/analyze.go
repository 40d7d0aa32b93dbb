package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"soundscape/core/audio"
	"soundscape/core/gainpan"
	"soundscape/core/source"

	"github.com/spf13/cobra"
)

var analyzeAstats bool

var analyzeCmd = &cobra.Command{
	Use:   "analyze <source>...",
	Short: "分析音源电平",
	Long:  `解码音源并报告时长、峰值以及首次加载时的归一化增益。加 --astats 时额外运行 ffmpeg astats。`,
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		ffmpeg := audio.NewFFmpegProcessor(cfg.FFmpegPath, cfg.FFprobePath)
		decoder := audio.NewDecoder(ffmpeg)
		resolver := localResolver(cfg)

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		header := "SOURCE\tDURATION\tPEAK dB\tNORMALIZE dB"
		if analyzeAstats {
			header += "\tRMS dB\tNOISE FLOOR dB"
		}
		fmt.Fprintln(w, header)

		failed := 0
		for _, ref := range args {
			if source.KindOf(ref) == source.KindLocal {
				if abs, err := filepath.Abs(ref); err == nil {
					ref = abs
				}
			}
			path, err := resolver.Resolve(ctx, ref)
			if err != nil {
				fmt.Fprintf(w, "%s\t错误: %v\n", ref, err)
				failed++
				continue
			}
			clip, err := decoder.Decode(ctx, path)
			if err != nil {
				fmt.Fprintf(w, "%s\t错误: %v\n", ref, err)
				failed++
				continue
			}
			peakDB := gainpan.PeakAmplitudeToDb(clip.Peak())
			line := fmt.Sprintf("%s\t%.2fs\t%d\t%+d", ref, clip.Duration(), peakDB,
				gainpan.NormalizeToTargetDb(peakDB, cfg.NormalizeTargetDB))
			if analyzeAstats {
				if stats, err := ffmpeg.AnalyzeLevels(ctx, path); err == nil {
					line += fmt.Sprintf("\t%.1f\t%.1f", stats.RMSLevelDB, stats.NoiseFloorDB)
				} else {
					line += "\t-\t-"
				}
			}
			fmt.Fprintln(w, line)
		}
		w.Flush()
		if failed > 0 {
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
	analyzeCmd.Flags().BoolVar(&analyzeAstats, "astats", false, "同时运行 ffmpeg astats 分析")
}
