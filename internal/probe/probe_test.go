package probe

import "testing"

func TestRecommendStrategy(t *testing.T) {
	cases := []struct {
		name     string
		report   Report
		expected Strategy
	}{
		{
			name:     "fully compatible copies",
			report:   Report{VideoCodec: "h264", VideoProfile: "high", AudioCodec: "aac"},
			expected: StrategyCopy,
		},
		{
			name:     "compatible video incompatible audio is selective",
			report:   Report{VideoCodec: "h264", VideoProfile: "main", AudioCodec: "mp3"},
			expected: StrategySelective,
		},
		{
			name:     "incompatible video always reencodes",
			report:   Report{VideoCodec: "hevc", VideoProfile: "main", AudioCodec: "aac"},
			expected: StrategyReencode,
		},
		{
			name:     "unknown codecs reencode",
			report:   Report{VideoCodec: "unknown", AudioCodec: "unknown"},
			expected: StrategyReencode,
		},
		{
			name:     "h264 with unrecognized profile reencodes",
			report:   Report{VideoCodec: "h264", VideoProfile: "exotic", AudioCodec: "aac"},
			expected: StrategyReencode,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := recommend(tc.report)
			if got != tc.expected {
				t.Fatalf("recommend(%+v) = %s, want %s", tc.report, got, tc.expected)
			}
		})
	}
}

func TestIsHLSCompatible(t *testing.T) {
	compatible := Report{VideoCodec: "H264", VideoProfile: "Baseline", AudioCodec: "AAC"}
	if !compatible.IsHLSCompatible() {
		t.Fatalf("expected case-insensitive match to be compatible")
	}

	incompatible := Report{VideoCodec: "vp9", VideoProfile: "0", AudioCodec: "opus"}
	if incompatible.IsHLSCompatible() {
		t.Fatalf("expected vp9/opus to be incompatible")
	}
}
