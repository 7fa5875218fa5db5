package output

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// WriteReport appends a run summary to reports/<date>.txt. Each run within
// the same date gets an incrementing run number.
func WriteReport(reportsDir, date, outputFile string, start, end time.Time) error {
	path := filepath.Join(reportsDir, date+".txt")

	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read report: %w", err)
	}
	runCount := strings.Count(string(existing), "Run #") + 1

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open report: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	if runCount > 1 {
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Run #%d\n", runCount)
	fmt.Fprintf(&b, "Output file: %s\n", outputFile)
	fmt.Fprintf(&b, "Run Date: %s\n", date)
	fmt.Fprintf(&b, "Start Time: %s\n", start.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "End Time: %s\n", end.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Time took: %s", end.Sub(start))

	if _, err := f.WriteString(b.String()); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
