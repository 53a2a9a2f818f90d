package embed

import (
	"bufio"
	"fmt"
	"os"
)

// ReadCorpus loads every line of the rolling training corpus file at
// path. A missing file yields an empty corpus, not an error — the daemon
// may not have trained yet.
func ReadCorpus(path string) ([]string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: open corpus: %v", ErrIOError, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: read corpus: %v", ErrIOError, err)
	}
	return lines, nil
}

// AppendAndCap appends newLines to the corpus file at path, then
// truncates the result to the most recent maxLines lines, per spec.md
// §3's rolling training corpus entity.
func AppendAndCap(path string, newLines []string, maxLines int) ([]string, error) {
	existing, err := ReadCorpus(path)
	if err != nil {
		return nil, err
	}
	combined := append(existing, newLines...)
	if len(combined) > maxLines {
		combined = combined[len(combined)-maxLines:]
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("%w: create corpus tmp: %v", ErrIOError, err)
	}
	w := bufio.NewWriter(f)
	for _, line := range combined {
		if _, err := w.WriteString(line + "\n"); err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: write corpus: %v", ErrIOError, err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: flush corpus: %v", ErrIOError, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("%w: close corpus: %v", ErrIOError, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return nil, fmt.Errorf("%w: replace corpus: %v", ErrIOError, err)
	}
	return combined, nil
}
