package ingest

import "strings"

// SplitText cuts text on separator and merges the pieces into chunks of at most
// size characters, each starting with up to overlap characters of the previous one.
// A single piece longer than size becomes its own chunk.
func SplitText(text, separator string, size, overlap int) []string {
	var pieces []string
	for _, p := range strings.Split(text, separator) {
		if p != "" {
			pieces = append(pieces, p)
		}
	}

	sepLen := len(separator)
	var (
		chunks  []string
		current []string
		total   int
	)
	joined := func() {
		if doc := strings.TrimSpace(strings.Join(current, separator)); doc != "" {
			chunks = append(chunks, doc)
		}
	}
	sepIf := func(cond bool) int {
		if cond {
			return sepLen
		}
		return 0
	}

	for _, p := range pieces {
		n := len(p)
		if total+n+sepIf(len(current) > 0) > size && len(current) > 0 {
			joined()
			for total > overlap || (total > 0 && total+n+sepIf(len(current) > 0) > size) {
				total -= len(current[0]) + sepIf(len(current) > 1)
				current = current[1:]
			}
		}
		current = append(current, p)
		total += n + sepIf(len(current) > 1)
	}
	joined()
	return chunks
}
