package supervisor

import (
	"bufio"
	"os"
)

// TailLog returns the last maxLines lines of the file at path. Unreadable
// files yield nil.
func TailLog(path string, maxLines int) []string {
	if maxLines <= 0 {
		return nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > maxLines {
			lines = lines[1:]
		}
	}
	return lines
}
