package render

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"soundscape/core/audio"
	"soundscape/core/gainpan"
)

// GraphOptions are the fixed parameters of the mixdown.
type GraphOptions struct {
	Duration             time.Duration
	MasterCompensationDB float64
	Bitrate              string
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}

func formatFactor(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

// trackChain is the per-input filter: resample to the mix format, apply the
// render-clamped gain, then the pan law weights.
func trackChain(input int, t Track) string {
	gain := gainpan.DbToLinear(gainpan.ClampRenderGainDB(t.GainDB))
	l, r := gainpan.PanToStereoWeights(t.Pan)
	return fmt.Sprintf("[%d:a]aformat=sample_rates=%d:channel_layouts=stereo,volume=%s,pan=stereo|c0=%s*c0|c1=%s*c1[t%d]",
		input, audio.SampleRate, formatFactor(gain), formatFactor(l), formatFactor(r), input)
}

// FilterGraph builds the filter_complex for tracks, whose inputs are numbered
// in order. The sum is weighted 1/N and then lifted by the master compensation.
func FilterGraph(tracks []Track, opts GraphOptions) string {
	n := len(tracks)
	chains := make([]string, 0, n+1)
	var labels strings.Builder
	for i, t := range tracks {
		chains = append(chains, trackChain(i, t))
		fmt.Fprintf(&labels, "[t%d]", i)
	}
	chains = append(chains, fmt.Sprintf("%samix=inputs=%d:duration=longest:normalize=0,volume=%s,volume=%sdB,atrim=duration=%s[out]",
		labels.String(), n, formatFactor(1/float64(n)),
		strconv.FormatFloat(opts.MasterCompensationDB, 'f', -1, 64),
		formatSeconds(opts.Duration)))
	return strings.Join(chains, ";")
}

// Args builds the complete ffmpeg argument list rendering tracks to output.
// Every input loops forever and is cut at the target duration.
func Args(tracks []Track, opts GraphOptions, output string) []string {
	dur := formatSeconds(opts.Duration)
	args := []string{"-hide_banner", "-y", "-loglevel", "error"}
	for _, t := range tracks {
		args = append(args, "-stream_loop", "-1", "-t", dur, "-i", t.SourcePath)
	}
	args = append(args,
		"-filter_complex", FilterGraph(tracks, opts),
		"-map", "[out]",
		"-ar", strconv.Itoa(audio.SampleRate),
		"-ac", strconv.Itoa(audio.Channels),
		"-codec:a", "libmp3lame",
		"-b:a", opts.Bitrate,
		"-f", "mp3",
		output,
	)
	return args
}
