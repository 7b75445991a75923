package utils

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

// FileExists checks if the file exists and is a regular file
func FileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func ReadLinesOffsetN(path string, offset, n int64) ([]string, error) {
	if offset < 0 {
		return nil, fmt.Errorf("invalid offset: %d", offset)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file %s: %w", path, err)
	}
	defer file.Close()

	capacity := n
	if n <= 0 {
		capacity = 64
	}

	maxLineSize := 1 << 20 // 1MB
	scanner := bufio.NewScanner(file)
	buf := make([]byte, 0, bufio.MaxScanTokenSize)
	scanner.Buffer(buf, maxLineSize)

	// Skip lines until the offset
	for i := int64(0); i < offset; i++ {
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return nil, fmt.Errorf("skip lines in %s: %w", path, err)
			}

			return []string{}, fmt.Errorf("file %s has less than %d lines", path, offset)
		}
	}

	res := make([]string, 0, capacity)
	for scanner.Scan() {
		res = append(res, scanner.Text())
		if n > 0 && int64(len(res)) >= n {
			break
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read lines in %s: %w", path, err)
	}

	return res, nil
}

func ReadOneLineFile(path string) (string, error) {
	lines, err := ReadLinesOffsetN(path, 0, 1)
	if err != nil {
		return "", err
	}
	if len(lines) == 0 {
		return "", fmt.Errorf("file %s is empty", path)
	}
	return strings.TrimSpace(lines[0]), nil
}

func CombineErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}

	validErrors := make([]error, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			validErrors = append(validErrors, err)
		}
	}

	switch len(validErrors) {
	case 0:
		return nil
	case 1:
		return validErrors[0]
	default:
		return errors.Join(validErrors...)
	}
}

const (
	_         = iota
	KB uint64 = 1 << (iota * 10)
	MB
	GB
	TB
)

var sizeFormat = []struct {
	unit   uint64
	suffix string
}{
	{TB, "TB"},
	{GB, "GB"},
	{MB, "MB"},
	{KB, "KB"},
}

// KGMT renders a byte count with the largest unit that divides it
// evenly.
func KGMT(v uint64) string {
	for _, f := range sizeFormat {
		if v >= f.unit && v%f.unit == 0 {
			return fmt.Sprintf("%d %s", v/f.unit, f.suffix)
		}
	}

	return fmt.Sprintf("%d B", v)
}
