package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"
)

func secondsToDuration(s int) time.Duration {
	return time.Duration(s) * time.Second
}

// readURLsFromFile reads one URL per line, the way the teacher's
// cmd/utils.go batch-file reader does, skipping blank lines and "#"
// comments.
func readURLsFromFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var urls []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	return urls, scanner.Err()
}

// humanSize formats a byte count the way the teacher's
// ConvertBytesToHumanReadable does.
func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
