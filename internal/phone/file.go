package phone

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// LoadFile reads one phone number per line. Blank lines and lines starting with # are skipped.
func LoadFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open phones file: %w", err)
	}
	defer f.Close()

	phones, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("read phones file %s: %w", path, err)
	}
	return phones, nil
}

// Read parses the LoadFile line format from r.
func Read(r io.Reader) ([]string, error) {
	var out []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
