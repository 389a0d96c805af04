package transcoder

import (
	"fmt"
	"math"
	"reflect"
	"strings"
	"testing"
	"testing/quick"
)

func TestExtractProgress(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		total  float64
		want   float64
		wantOK bool
	}{
		{"half way", "frame=  120 fps=30 q=28.0 size=512kB time=00:00:05.00 bitrate=838.9kbits/s", 10.0, 50.00, true},
		{"rounds to two decimals", "time=00:00:01.00", 3.0, 33.33, true},
		{"hours and minutes", "time=01:30:00.00", 10800, 50.00, true},
		{"clamped at 100", "time=00:00:12.50", 10.0, 100, true},
		{"fraction without ms", "time=00:00:02", 4.0, 50.00, true},
		{"no timestamp", "Stream #0:0: Video: h264", 10.0, 0, false},
		{"timestamp not available", "time=N/A bitrate=N/A", 10.0, 0, false},
		{"zero total duration", "time=00:00:05.00", 0, 0, false},
		{"negative total duration", "time=00:00:05.00", -1, 0, false},
		{"empty line", "", 10.0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractProgress(tt.line, tt.total)
			if ok != tt.wantOK {
				t.Fatalf("ExtractProgress() ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("ExtractProgress() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExtractProgressMatchesFormula(t *testing.T) {
	f := func(centis uint32, totalCentis uint16) bool {
		c := int(centis % 36000000)
		total := float64(int(totalCentis)+1) / 100
		line := fmt.Sprintf("frame=1 time=%02d:%02d:%02d.%02d bitrate=1",
			c/360000, c/6000%60, c/100%60, c%100)

		got, ok := ExtractProgress(line, total)
		if !ok {
			return false
		}
		elapsed := float64(c) / 100
		want := math.Round(math.Min(100, 100*elapsed/total)*100) / 100
		return math.Abs(got-want) <= 0.01+1e-9
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}

func TestBuildEncodeArgs(t *testing.T) {
	req := DefaultProfile.RequestFor("/staging/job/source.mp4", "/staging/job/hls", 42)

	want := []string{
		"-i", "/staging/job/source.mp4",
		"-codec:v", "libx264",
		"-codec:a", "aac",
		"-hls_time", "30",
		"-hls_playlist_type", "vod",
		"-hls_segment_filename", "/staging/job/hls/segment%04d.ts",
		"-start_number", "0",
		"/staging/job/hls/index.m3u8",
	}

	got := DefaultProfile.BuildEncodeArgs(req)
	if !reflect.DeepEqual(got, want) {
		t.Errorf("BuildEncodeArgs() = %v, want %v", got, want)
	}
	if req.TotalSeconds != 42 {
		t.Errorf("RequestFor().TotalSeconds = %v, want 42", req.TotalSeconds)
	}
}

func TestRewritePlaylist(t *testing.T) {
	tests := []struct {
		name string
		text string
		uris map[string]string
		want string
	}{
		{
			name: "bare segment list",
			text: "seg0.ts\nseg1.ts\n",
			uris: map[string]string{"seg0.ts": "https://store/a", "seg1.ts": "https://store/b"},
			want: "https://store/a\nhttps://store/b\n",
		},
		{
			name: "prefix names do not collide",
			text: "#EXTM3U\n#EXTINF:30.0,\nsegment10.ts\n#EXTINF:30.0,\nsegment0.ts\n",
			uris: map[string]string{"segment0.ts": "https://store/0", "segment10.ts": "https://store/10"},
			want: "#EXTM3U\n#EXTINF:30.0,\nhttps://store/10\n#EXTINF:30.0,\nhttps://store/0\n",
		},
		{
			name: "only mapped names change",
			text: "#EXTM3U\n#EXT-X-TARGETDURATION:30\n#EXTINF:30.0,\nsegment0000.ts\n#EXTINF:12.5,\nsegment0001.ts\n#EXT-X-ENDLIST\n",
			uris: map[string]string{"segment0000.ts": "https://store/v/segment0000.ts"},
			want: "#EXTM3U\n#EXT-X-TARGETDURATION:30\n#EXTINF:30.0,\nhttps://store/v/segment0000.ts\n#EXTINF:12.5,\nsegment0001.ts\n#EXT-X-ENDLIST\n",
		},
		{
			name: "crlf line endings kept",
			text: "#EXTM3U\r\nsegment0000.ts\r\n#EXT-X-ENDLIST\r\n",
			uris: map[string]string{"segment0000.ts": "https://store/s"},
			want: "#EXTM3U\r\nhttps://store/s\r\n#EXT-X-ENDLIST\r\n",
		},
		{
			name: "uri attribute",
			text: "#EXT-X-MAP:URI=\"init.mp4\"\n#EXTINF:30.0,\nsegment0000.ts\n",
			uris: map[string]string{"init.mp4": "https://store/init.mp4", "segment0000.ts": "https://store/s"},
			want: "#EXT-X-MAP:URI=\"https://store/init.mp4\"\n#EXTINF:30.0,\nhttps://store/s\n",
		},
		{
			name: "first occurrence only",
			text: "segment0000.ts\nsegment0000.ts\n",
			uris: map[string]string{"segment0000.ts": "https://store/s"},
			want: "https://store/s\nsegment0000.ts\n",
		},
		{
			name: "name inside a directive is untouched",
			text: "#EXT-X-COMMENT:segment0000.ts\nsegment0000.ts",
			uris: map[string]string{"segment0000.ts": "https://store/s"},
			want: "#EXT-X-COMMENT:segment0000.ts\nhttps://store/s",
		},
		{
			name: "empty map",
			text: "#EXTM3U\nsegment0000.ts\n",
			uris: nil,
			want: "#EXTM3U\nsegment0000.ts\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RewritePlaylist(tt.text, tt.uris)
			if got != tt.want {
				t.Errorf("RewritePlaylist() = %q, want %q", got, tt.want)
			}
			if strings.Count(got, "\n") != strings.Count(tt.text, "\n") {
				t.Errorf("RewritePlaylist() changed line count")
			}
		})
	}
}

func TestRewritePlaylistReplacesEachNameOnce(t *testing.T) {
	var text strings.Builder
	uris := make(map[string]string)
	text.WriteString("#EXTM3U\n")
	for i := 0; i < 120; i++ {
		name := fmt.Sprintf("segment%d.ts", i)
		uris[name] = "https://store/" + name
		text.WriteString("#EXTINF:30.0,\n" + name + "\n")
	}

	got := RewritePlaylist(text.String(), uris)
	for name, uri := range uris {
		if c := strings.Count(got, uri+"\n"); c != 1 {
			t.Errorf("uri for %s appears %d times, want 1", name, c)
		}
	}
	if strings.Contains(got, "\nsegment") {
		t.Errorf("RewritePlaylist() left a local reference: %q", got)
	}
}

func TestPlaylistSegments(t *testing.T) {
	text := "#EXTM3U\n#EXT-X-VERSION:3\n#EXTINF:30.0,\nsegment0000.ts\n\n#EXTINF:30.0,\r\nsegment0001.ts\r\n#EXT-X-ENDLIST\n"

	got := PlaylistSegments(text)
	want := []string{"segment0000.ts", "segment0001.ts"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("PlaylistSegments() = %v, want %v", got, want)
	}
}

func TestReadDiagnosticsSplitsCarriageReturns(t *testing.T) {
	input := "ffmpeg version 7\nframe=1 time=00:00:01.00\rframe=2 time=00:00:02.00\r\nlast"

	var lines []string
	if err := readDiagnostics(strings.NewReader(input), func(line string) {
		lines = append(lines, line)
	}); err != nil {
		t.Fatalf("readDiagnostics() error = %v", err)
	}

	want := []string{"ffmpeg version 7", "frame=1 time=00:00:01.00", "frame=2 time=00:00:02.00", "last"}
	if !reflect.DeepEqual(lines, want) {
		t.Errorf("readDiagnostics() lines = %q, want %q", lines, want)
	}
}
