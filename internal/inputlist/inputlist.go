// Package inputlist parses the items file: plain text (one identifier
// per line) or delimited text with an "identifier" header column.
package inputlist

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Read parses path as a plain-text identifier list, ignoring blank lines
// and lines beginning with "#". Identifiers are case-sensitive and
// returned in file order, duplicates included (the caller de-duplicates
// via the State Store's (job, identifier) uniqueness).
func Read(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("inputlist: open %s: %w", path, err)
	}
	defer f.Close()

	if header, delim, ok := sniffDelimited(path); ok {
		return readDelimited(f, header, delim)
	}
	return readPlain(f)
}

func readPlain(f *os.File) ([]string, error) {
	var ids []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("inputlist: read: %w", err)
	}
	return ids, nil
}

// sniffDelimited peeks at the first non-blank line to decide whether the
// file looks like a delimited table with an "identifier" header column.
func sniffDelimited(path string) (headerLine string, delim rune, ok bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		for _, d := range []rune{',', '\t', ';'} {
			if strings.ContainsRune(line, d) && containsField(line, d, "identifier") {
				return line, d, true
			}
		}
		return "", 0, false
	}
	return "", 0, false
}

func containsField(header string, delim rune, field string) bool {
	for _, col := range strings.Split(header, string(delim)) {
		if strings.EqualFold(strings.TrimSpace(col), field) {
			return true
		}
	}
	return false
}

func readDelimited(f *os.File, headerLine string, delim rune) ([]string, error) {
	columns := strings.Split(headerLine, string(delim))
	idCol := -1
	for i, c := range columns {
		if strings.EqualFold(strings.TrimSpace(c), "identifier") {
			idCol = i
			break
		}
	}
	if idCol < 0 {
		return nil, fmt.Errorf("inputlist: no identifier column in header %q", headerLine)
	}

	if _, err := f.Seek(0, 0); err != nil {
		return nil, fmt.Errorf("inputlist: seek: %w", err)
	}
	scanner := bufio.NewScanner(f)
	var ids []string
	seenHeader := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !seenHeader {
			seenHeader = true
			continue // skip the header row itself
		}
		fields := strings.Split(line, string(delim))
		if idCol >= len(fields) {
			continue
		}
		id := strings.TrimSpace(fields[idCol])
		if id != "" {
			ids = append(ids, id)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("inputlist: read delimited: %w", err)
	}
	return ids, nil
}
