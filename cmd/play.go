package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"soundscape/core/audio"
	"soundscape/core/mixer"
	"soundscape/core/output"
	"soundscape/core/session"
	"soundscape/core/stream"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var playRecord string

const (
	gainStep = 1.0
	panStep  = 0.1
	seekStep = 5.0
)

const playHelp = `空格 播放/停止  1-6 选择音轨  t 切换音轨  m 静音音轨  +/- 增益  [/] 声像
,/. 快退/快进  M 全部静音  U 取消静音  q 退出`

// keyCommand maps one key press to a bus command. Digit keys change the
// selection and produce no command.
func keyCommand(key byte, selected *int, snap mixer.Snapshot) (stream.Command, bool) {
	if key >= '1' && key <= '9' {
		if id := int(key - '1'); id < len(snap.Tracks) {
			*selected = id
		}
		return stream.Command{}, false
	}

	var track *mixer.TrackSnapshot
	if *selected >= 0 && *selected < len(snap.Tracks) {
		track = &snap.Tracks[*selected]
	}
	switch key {
	case ' ':
		if snap.Playing {
			return stream.Command{Type: stream.CmdStopAll}, true
		}
		return stream.Command{Type: stream.CmdPlayAll}, true
	case ',':
		return stream.Command{Type: stream.CmdSeek, Value: -seekStep}, true
	case '.':
		return stream.Command{Type: stream.CmdSeek, Value: seekStep}, true
	case 'M':
		return stream.Command{Type: stream.CmdMuteAll}, true
	case 'U':
		return stream.Command{Type: stream.CmdUnmuteAll}, true
	}
	if track == nil {
		return stream.Command{}, false
	}
	switch key {
	case 't':
		return stream.Command{Type: stream.CmdToggle, Track: track.ID}, true
	case 'm':
		return stream.Command{Type: stream.CmdMute, Track: track.ID, Muted: !track.Muted}, true
	case '+', '=':
		return stream.Command{Type: stream.CmdGain, Track: track.ID, Value: track.GainDB + gainStep}, true
	case '-':
		return stream.Command{Type: stream.CmdGain, Track: track.ID, Value: track.GainDB - gainStep}, true
	case '[':
		return stream.Command{Type: stream.CmdPan, Track: track.ID, Value: track.Pan - panStep}, true
	case ']':
		return stream.Command{Type: stream.CmdPan, Track: track.ID, Value: track.Pan + panStep}, true
	}
	return stream.Command{}, false
}

// statusLine renders the snapshot on one terminal line.
func statusLine(snap mixer.Snapshot, selected int) string {
	var b strings.Builder
	state := "■"
	if snap.Playing {
		state = "▶"
	}
	fmt.Fprintf(&b, "%s %6.1fs ", state, snap.Position)
	for i, t := range snap.Tracks {
		mark := " "
		if i == selected {
			mark = ">"
		}
		flags := ""
		if t.Muted {
			flags = " M"
		}
		if !t.RenderSafe {
			flags += " !"
		}
		fmt.Fprintf(&b, "%s%d %s %+.0fdB %+.1f%s  ", mark, i+1, t.Playback, t.GainDB, t.Pan, flags)
	}
	return b.String()
}

var playCmd = &cobra.Command{
	Use:   "play <tracks.json>",
	Short: "终端实时混音",
	Long:  `在本机声卡上实时播放音轨文件，并用键盘调节每条音轨。可选将播放内容录制为 WAV。`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		tf, err := loadTrackFile(args[0])
		if err != nil {
			log.Fatal(err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		ffmpeg := audio.NewFFmpegProcessor(cfg.FFmpegPath, cfg.FFprobePath)
		pool := mixer.NewSourcePool(session.NewLoader(localResolver(cfg), audio.NewDecoder(ffmpeg)))
		bus := mixer.NewMixBus(pool, mixer.Options{
			MaxTracks:         cfg.MaxTracks,
			LeadDelay:         cfg.LeadDelay,
			SeekGuardDelay:    cfg.SeekGuardDelay,
			MasterGainDB:      cfg.MasterGainDB,
			NormalizeTargetDB: &cfg.NormalizeTargetDB,
			RenderFrames:      true,
		})
		go bus.Run(ctx)
		defer bus.Close()

		fmt.Printf("加载 %d 条音轨...\n", len(tf.Tracks))
		failures, err := bus.Load(ctx, tf.Tracks)
		if err != nil {
			log.Fatalf("加载失败: %v", err)
		}
		for _, f := range failures {
			fmt.Printf("  音轨 %d 加载失败: %v\n", f.TrackID+1, f.Err)
		}

		var rec *output.Recorder
		if playRecord != "" {
			rec = output.NewRecorder()
		}
		player, err := output.NewPlayer(bus.Frames(), rec)
		if err != nil {
			log.Fatalf("打开音频设备失败: %v", err)
		}
		defer player.Close()
		player.Start()

		if err := bus.PlayAll(); err != nil {
			fmt.Printf("无法开始播放: %v\n", err)
		}
		runTerminal(ctx, bus)

		if rec != nil {
			if err := rec.Save(playRecord); err != nil {
				log.Printf("保存录音失败: %v", err)
			} else {
				fmt.Printf("已录制 %.1f 秒到 %s\n", rec.Seconds(), playRecord)
			}
		}
	},
}

// runTerminal reads keys until q, ctx ends or the bus closes.
func runTerminal(ctx context.Context, bus *mixer.MixBus) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		old, err := term.MakeRaw(fd)
		if err == nil {
			defer term.Restore(fd, old)
		}
	}
	fmt.Print(strings.ReplaceAll(playHelp, "\n", "\r\n") + "\r\n")

	keys := make(chan byte)
	go func() {
		buf := make([]byte, 1)
		for {
			if _, err := os.Stdin.Read(buf); err != nil {
				close(keys)
				return
			}
			keys <- buf[0]
		}
	}()

	redraw := time.NewTicker(250 * time.Millisecond)
	defer redraw.Stop()
	selected := 0
	for {
		select {
		case <-ctx.Done():
			fmt.Print("\r\n")
			return
		case <-bus.Done():
			fmt.Print("\r\n")
			return
		case key, ok := <-keys:
			if !ok || key == 'q' || key == 3 { // 3: Ctrl-C in raw mode
				fmt.Print("\r\n")
				return
			}
			snap, err := bus.Snapshot()
			if err != nil {
				return
			}
			if c, ok := keyCommand(key, &selected, snap); ok {
				if _, err := stream.Dispatch(bus, c); err != nil {
					fmt.Printf("\r\n%v\r\n", err)
				}
			}
		case <-redraw.C:
			snap, err := bus.Snapshot()
			if err != nil {
				return
			}
			fmt.Printf("\r\033[K%s", statusLine(snap, selected))
		}
	}
}

func init() {
	rootCmd.AddCommand(playCmd)
	playCmd.Flags().StringVarP(&playRecord, "record", "r", "", "将播放内容录制到 WAV 文件")
}
