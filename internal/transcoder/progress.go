package transcoder

import (
	"math"
	"regexp"
	"strconv"
)

// timePattern matches the elapsed position FFmpeg reports in its stats line.
var timePattern = regexp.MustCompile(`time=(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)

// ExtractProgress converts a diagnostic line into a completion percentage.
// It reports false when the line carries no timestamp or the total duration is unknown.
func ExtractProgress(line string, totalSeconds float64) (float64, bool) {
	if totalSeconds <= 0 || math.IsNaN(totalSeconds) || math.IsInf(totalSeconds, 0) {
		return 0, false
	}

	match := timePattern.FindStringSubmatch(line)
	if match == nil {
		return 0, false
	}

	hours, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, false
	}
	minutes, err := strconv.Atoi(match[2])
	if err != nil {
		return 0, false
	}
	seconds, err := strconv.ParseFloat(match[3], 64)
	if err != nil {
		return 0, false
	}

	elapsed := float64(hours*3600+minutes*60) + seconds
	return roundPercent(math.Min(100, 100*elapsed/totalSeconds)), true
}

func roundPercent(p float64) float64 {
	return math.Round(p*100) / 100
}
