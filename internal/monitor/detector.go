package monitor

import (
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
)

// Detector screens submissions and interpreter output for suspicious
// content. Detections are reported only; they never block a run or change
// its result.
type Detector struct {
	patterns []DetectionPattern
}

// DetectionPattern defines a suspicious pattern to match.
type DetectionPattern struct {
	Name        string
	Description string
	Regex       *regexp.Regexp
	Severity    Severity
}

// Severity levels for detected threats.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Detection represents a detected suspicious pattern.
type Detection struct {
	Pattern  string `json:"pattern"`
	Severity string `json:"severity"`
	Detail   string `json:"detail"`
	Line     int    `json:"line,omitempty"`
}

// NewDetector creates a detector with default patterns.
func NewDetector() *Detector {
	return &Detector{
		patterns: defaultPatterns(),
	}
}

// AnalyzeCode checks submitted program text before execution.
func (d *Detector) AnalyzeCode(code string) []Detection {
	var detections []Detection

	lines := strings.Split(code, "\n")
	for i, line := range lines {
		for _, p := range d.patterns {
			if p.Regex.MatchString(line) {
				detections = append(detections, Detection{
					Pattern:  p.Name,
					Severity: p.Severity.String(),
					Detail:   p.Description,
					Line:     i + 1,
				})

				log.Warn().
					Str("pattern", p.Name).
					Str("severity", p.Severity.String()).
					Int("line", i+1).
					Msg("suspicious construct in submitted code")
			}
		}
	}

	return detections
}

// AnalyzeInput flags runtime-input lines that already start with the input
// marker. They are passed through unescaped, so the interpreter sees a
// doubled marker.
func (d *Detector) AnalyzeInput(input string) []Detection {
	var detections []Detection

	for i, line := range strings.Split(strings.TrimSpace(input), "\n") {
		if strings.HasPrefix(line, "$") {
			detections = append(detections, Detection{
				Pattern:  "input_marker",
				Severity: SeverityLow.String(),
				Detail:   "runtime input line starts with the input marker",
				Line:     i + 1,
			})
		}
	}

	if len(detections) > 0 {
		log.Debug().Int("lines", len(detections)).Msg("runtime input carries marker characters")
	}
	return detections
}

// AnalyzeOutput checks interpreter output for signs of host data leaking.
func (d *Detector) AnalyzeOutput(output string) []Detection {
	var detections []Detection

	outputPatterns := []struct {
		name   string
		substr string
		sev    Severity
	}{
		{"kernel_leak", "Linux version", SeverityHigh},
		{"root_access", "root:x:0:0", SeverityCritical},
		{"shadow_leak", "root:$", SeverityCritical},
		{"env_leak", "DATABASE_DSN=", SeverityHigh},
	}

	for _, p := range outputPatterns {
		if strings.Contains(output, p.substr) {
			detections = append(detections, Detection{
				Pattern:  p.name,
				Severity: p.sev.String(),
				Detail:   "suspicious content in output: " + p.name,
			})
		}
	}

	return detections
}

func defaultPatterns() []DetectionPattern {
	return []DetectionPattern{
		{
			Name:        "file_write",
			Description: "Program writes to a file through ЗАПИСЬ_В",
			Regex:       regexp.MustCompile(`ЗАПИСЬ_В\s*\(`),
			Severity:    SeverityHigh,
		},
		{
			Name:        "host_path",
			Description: "Absolute host path in a string literal",
			Regex:       regexp.MustCompile(`"/(etc|proc|sys|dev|root|home|var)(/|")`),
			Severity:    SeverityHigh,
		},
		{
			Name:        "parent_traversal",
			Description: "Relative path escaping the working directory",
			Regex:       regexp.MustCompile(`"(\.\./)+`),
			Severity:    SeverityMedium,
		},
		{
			Name:        "inline_input_marker",
			Description: "Program line starts with the runtime input marker",
			Regex:       regexp.MustCompile(`^\s*\$`),
			Severity:    SeverityLow,
		},
	}
}
