package audio

import "testing"

const astatsSample = `[Parsed_astats_0 @ 0x7f] Channel: 1
[Parsed_astats_0 @ 0x7f] Peak level dB: -3.100000
[Parsed_astats_0 @ 0x7f] RMS level dB: -20.500000
[Parsed_astats_0 @ 0x7f] Overall
[Parsed_astats_0 @ 0x7f] DC offset: 0.000001
[Parsed_astats_0 @ 0x7f] Peak level dB: -6.020600
[Parsed_astats_0 @ 0x7f] RMS level dB: -18.750000
[Parsed_astats_0 @ 0x7f] RMS peak dB: -12.000000
[Parsed_astats_0 @ 0x7f] Noise floor dB: -inf
`

func TestParseAstats(t *testing.T) {
	got := ParseAstats(astatsSample)
	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"PeakLevelDB", got.PeakLevelDB, -6.0206},
		{"RMSLevelDB", got.RMSLevelDB, -18.75},
		{"RMSPeakDB", got.RMSPeakDB, -12},
		{"NoiseFloorDB", got.NoiseFloorDB, silenceDB},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestParseAstatsWithoutOverall(t *testing.T) {
	if got := ParseAstats("Channel: 1\nPeak level dB: -1.0\n"); got != (LevelStats{}) {
		t.Errorf("ParseAstats = %+v, want zero value", got)
	}
}
