package transcoder

import (
	"path/filepath"
	"strconv"
)

// Profile defines the fixed HLS packaging parameters.
type Profile struct {
	VideoCodec     string
	AudioCodec     string
	SegmentSeconds int
	PlaylistType   string
	SegmentPattern string
	ManifestName   string
	StartNumber    int
}

// DefaultProfile packages H.264/AAC into 30 second VOD segments numbered from 0.
var DefaultProfile = Profile{
	VideoCodec:     "libx264",
	AudioCodec:     "aac",
	SegmentSeconds: 30,
	PlaylistType:   "vod",
	SegmentPattern: "segment%04d.ts",
	ManifestName:   "index.m3u8",
	StartNumber:    0,
}

// EncodeRequest describes a single encoder invocation.
type EncodeRequest struct {
	InputPath      string
	OutputDir      string
	ManifestPath   string
	SegmentPattern string
	TotalSeconds   float64
}

// RequestFor builds an EncodeRequest that writes the profile's manifest and segments into outputDir.
func (p Profile) RequestFor(inputPath, outputDir string, totalSeconds float64) EncodeRequest {
	return EncodeRequest{
		InputPath:      inputPath,
		OutputDir:      outputDir,
		ManifestPath:   filepath.Join(outputDir, p.ManifestName),
		SegmentPattern: filepath.Join(outputDir, p.SegmentPattern),
		TotalSeconds:   totalSeconds,
	}
}

// BuildEncodeArgs constructs the FFmpeg arguments for req.
func (p Profile) BuildEncodeArgs(req EncodeRequest) []string {
	return []string{
		"-i", req.InputPath,
		"-codec:v", p.VideoCodec,
		"-codec:a", p.AudioCodec,
		"-hls_time", strconv.Itoa(p.SegmentSeconds),
		"-hls_playlist_type", p.PlaylistType,
		"-hls_segment_filename", req.SegmentPattern,
		"-start_number", strconv.Itoa(p.StartNumber),
		req.ManifestPath,
	}
}
