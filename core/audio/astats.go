package audio

import (
	"regexp"
	"strconv"
	"strings"
)

// LevelStats is the overall section of an astats report.
type LevelStats struct {
	PeakLevelDB  float64
	RMSLevelDB   float64
	RMSPeakDB    float64
	NoiseFloorDB float64
}

var (
	peakLevelRe  = regexp.MustCompile(`Peak level dB:\s+(-inf|[-\d.]+)`)
	rmsLevelRe   = regexp.MustCompile(`RMS level dB:\s+(-inf|[-\d.]+)`)
	rmsPeakRe    = regexp.MustCompile(`RMS peak dB:\s+(-inf|[-\d.]+)`)
	noiseFloorRe = regexp.MustCompile(`Noise floor dB:\s+(-inf|[-\d.]+)`)
)

// silenceDB stands in for -inf readings.
const silenceDB = -80.0

// ParseAstats extracts the Overall block of ffmpeg astats output.
// Missing readings are left at zero.
func ParseAstats(output string) LevelStats {
	var stats LevelStats

	idx := strings.Index(output, "Overall")
	if idx == -1 {
		return stats
	}
	overall := output[idx:]

	stats.PeakLevelDB = matchDB(peakLevelRe, overall)
	stats.RMSLevelDB = matchDB(rmsLevelRe, overall)
	stats.RMSPeakDB = matchDB(rmsPeakRe, overall)
	stats.NoiseFloorDB = matchDB(noiseFloorRe, overall)
	return stats
}

func matchDB(re *regexp.Regexp, s string) float64 {
	m := re.FindStringSubmatch(s)
	if len(m) < 2 {
		return 0
	}
	if m[1] == "-inf" {
		return silenceDB
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	return v
}
