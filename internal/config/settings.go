package config

import "time"

// Settings carries the per-run inputs the crawl core consumes opaquely: the
// run date keys every checkpoint and output file, the rest is forwarded to
// site-specific extraction and the output layer.
type Settings struct {
	// Date in YYYYMMDD form; checkpoints and output files are keyed by it.
	Date string

	// Resume keeps existing checkpoints; false wipes the date's states so
	// the run starts from scratch.
	Resume bool

	// TestMode enables debug logging and disables the run report.
	TestMode bool

	// URLOverrides, when non-empty, crawls exactly these product URLs
	// instead of enumerating categories.
	URLOverrides []string

	// Columns maps extracted fields to output column order.
	Columns []string

	// TemplateFile optionally points at an output template fragment.
	TemplateFile string

	// OutputFile is the final concatenated output path, relative to the
	// site's run directory.
	OutputFile string
}

// RunDate returns s.Date, defaulting to today when unset.
func (s *Settings) RunDate() string {
	if s.Date != "" {
		return s.Date
	}
	return time.Now().Format("20060102")
}
