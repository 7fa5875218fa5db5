package output

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// RunDirs is the per-site, per-run directory layout.
type RunDirs struct {
	Market  string // site root: <outdir>/<sitename>
	Temp    string // per-page files accumulated while crawling
	HTML    string // raw page snapshots when enabled
	States  string // file checkpoint store root
	Logs    string
	Reports string
}

// NewRunDirs builds and creates the directory tree for one site.
func NewRunDirs(outDir, sitename string) (*RunDirs, error) {
	market := filepath.Join(outDir, sitename)
	dirs := &RunDirs{
		Market:  market,
		Temp:    filepath.Join(market, "temp"),
		HTML:    filepath.Join(market, "html"),
		States:  outDir,
		Logs:    filepath.Join(market, "logs"),
		Reports: filepath.Join(market, "reports"),
	}
	for _, dir := range []string{dirs.Temp, dirs.HTML, dirs.Logs, dirs.Reports} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create run dir %s: %w", dir, err)
		}
	}
	return dirs, nil
}

// Finalize concatenates every per-page CSV under tempDir into outputFile,
// writing the header once. Page files are visited in name order so the
// final file is stable across runs.
func Finalize(tempDir, outputFile string, columns []string) error {
	entries, err := os.ReadDir(tempDir)
	if err != nil {
		return fmt.Errorf("read temp dir: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".csv" {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	out, err := os.Create(outputFile)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer out.Close()

	writer := csv.NewWriter(out)
	if err := writer.Write(columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for _, name := range names {
		if err := appendPageFile(writer, filepath.Join(tempDir, name)); err != nil {
			return err
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	return nil
}

func appendPageFile(writer *csv.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open page file %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return fmt.Errorf("read page file %s: %w", path, err)
	}

	// First record is the page file's own header.
	for i, record := range records {
		if i == 0 {
			continue
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
	}
	return nil
}
