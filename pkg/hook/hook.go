// Package hook selects rebuild targets from changed-file paths reported by
// a package manager transaction.
package hook

import (
	"bufio"
	"io"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// Select maps changed-path lines to entry identifiers via the kernel-name
// pattern. Duplicate identifiers collapse. Any non-empty line that does not
// match the pattern makes target selection unreliable, so it forces a full
// rebuild instead (all=true, names=nil).
func Select(lines []string, pattern *regexp.Regexp) (names []string, all bool) {
	seen := map[string]struct{}{}
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		m := pattern.FindStringSubmatch(line)
		if m == nil {
			return nil, true
		}
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		names = append(names, m[1])
	}
	return names, false
}

// ReadLines collects the changed-path lines from the trigger's input stream.
func ReadLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, errors.WithStack(scanner.Err())
}
