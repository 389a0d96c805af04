package transcoder

import (
	"regexp"
	"strings"
)

var uriAttrPattern = regexp.MustCompile(`URI="([^"]*)"`)

// RewritePlaylist replaces local file references in an HLS playlist with remote URIs.
// Each mapped name is replaced at its first occurrence as a whole URI line or a quoted
// URI attribute; a name never matches inside a longer one. Everything else, including
// line endings, is left byte for byte.
func RewritePlaylist(text string, uris map[string]string) string {
	if len(uris) == 0 {
		return text
	}

	used := make(map[string]bool, len(uris))
	lines := strings.SplitAfter(text, "\n")

	var out strings.Builder
	out.Grow(len(text))

	for _, line := range lines {
		body, ending := splitLineEnding(line)

		if strings.HasPrefix(strings.TrimSpace(body), "#") {
			out.WriteString(rewriteAttributes(body, uris, used))
			out.WriteString(ending)
			continue
		}

		name := strings.TrimSpace(body)
		if uri, ok := uris[name]; ok && name != "" && !used[name] {
			used[name] = true
			start := strings.Index(body, name)
			out.WriteString(body[:start])
			out.WriteString(uri)
			out.WriteString(body[start+len(name):])
		} else {
			out.WriteString(body)
		}
		out.WriteString(ending)
	}

	return out.String()
}

func rewriteAttributes(line string, uris map[string]string, used map[string]bool) string {
	if !strings.Contains(line, `URI="`) {
		return line
	}
	return uriAttrPattern.ReplaceAllStringFunc(line, func(attr string) string {
		name := attr[len(`URI="`) : len(attr)-1]
		uri, ok := uris[name]
		if !ok || used[name] {
			return attr
		}
		used[name] = true
		return `URI="` + uri + `"`
	})
}

// splitLineEnding separates a line from its trailing "\n" or "\r\n".
func splitLineEnding(line string) (body, ending string) {
	switch {
	case strings.HasSuffix(line, "\r\n"):
		return line[:len(line)-2], "\r\n"
	case strings.HasSuffix(line, "\n"):
		return line[:len(line)-1], "\n"
	}
	return line, ""
}

// PlaylistSegments returns the media URIs of a playlist in playback order.
func PlaylistSegments(text string) []string {
	var segments []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		segments = append(segments, line)
	}
	return segments
}
