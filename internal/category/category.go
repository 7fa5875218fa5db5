// Package category enumerates the listings to crawl and verifies their
// URLs are reachable before any browser work starts.
package category

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Category is an immutable descriptor of one listing to crawl.
type Category struct {
	Name string
	URL  string
}

// ReadFile parses a categories file: one "name, url" pair per line. Blank
// lines and lines starting with # are skipped.
func ReadFile(path string) ([]Category, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open categories file: %w", err)
	}
	defer f.Close()

	var categories []Category
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.LastIndex(line, ",")
		if idx < 0 {
			return nil, fmt.Errorf("malformed category line %q: missing comma", line)
		}
		categories = append(categories, Category{
			Name: strings.TrimSpace(line[:idx]),
			URL:  strings.TrimSpace(line[idx+1:]),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read categories file: %w", err)
	}
	return categories, nil
}
