// Package probe is the codec prober (C6): it inspects a source file with
// an FFmpeg-family metadata call and derives the transcoding strategy the
// transcoder should use.
package probe

import (
	"fmt"
	"strings"

	"github.com/xfrr/goffmpeg/transcoder"
)

// Strategy is the FFmpeg approach the transcoder should take.
type Strategy string

const (
	// StrategyCopy remuxes both streams without re-encoding.
	StrategyCopy Strategy = "copy"
	// StrategySelective copies video, re-encodes audio to AAC.
	StrategySelective Strategy = "selective"
	// StrategyReencode re-encodes both streams (libx264 + AAC).
	StrategyReencode Strategy = "reencode"
)

var hlsCompatibleProfiles = map[string]bool{
	"baseline":            true,
	"main":                true,
	"high":                true,
	"constrained baseline": true,
}

// Report is what the prober learned about a source file.
type Report struct {
	VideoCodec   string
	AudioCodec   string
	VideoProfile string
	VideoLevel   string
	Container    string
	Strategy     Strategy
}

// IsHLSCompatible reports whether the source can be remuxed without
// re-encoding either stream.
func (r Report) IsHLSCompatible() bool {
	return strings.EqualFold(r.VideoCodec, "h264") &&
		hlsCompatibleProfiles[strings.ToLower(r.VideoProfile)] &&
		strings.EqualFold(r.AudioCodec, "aac")
}

// Probe inspects sourcePath and returns a Report with a recommended
// strategy. Probe failures degrade gracefully to a full re-encode rather
// than failing the job outright — an unreadable source will still fail,
// just later, at the FFmpeg invocation itself, with a clearer error.
func Probe(sourcePath string) (Report, error) {
	trans := new(transcoder.Transcoder)
	if err := trans.Initialize(sourcePath, ""); err != nil {
		return unknownReport(), fmt.Errorf("probe: initialize: %w", err)
	}

	meta := trans.MediaFile().Metadata()

	report := Report{
		Container: meta.Format.FormatName,
	}
	for _, stream := range meta.Streams {
		switch strings.ToLower(stream.CodecType) {
		case "video":
			if report.VideoCodec == "" {
				report.VideoCodec = stream.CodecName
				report.VideoProfile = stream.Profile
				report.VideoLevel = fmt.Sprintf("%v", stream.Level)
			}
		case "audio":
			if report.AudioCodec == "" {
				report.AudioCodec = stream.CodecName
			}
		}
	}

	report.Strategy = recommend(report)
	return report, nil
}

func recommend(r Report) Strategy {
	videoOK := strings.EqualFold(r.VideoCodec, "h264") && hlsCompatibleProfiles[strings.ToLower(r.VideoProfile)]
	audioOK := strings.EqualFold(r.AudioCodec, "aac")

	switch {
	case videoOK && audioOK:
		return StrategyCopy
	case videoOK && !audioOK:
		return StrategySelective
	default:
		return StrategyReencode
	}
}

func unknownReport() Report {
	return Report{
		VideoCodec: "unknown",
		AudioCodec: "unknown",
		Strategy:   StrategyReencode,
	}
}
