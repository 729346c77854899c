// Copyright 2026 The Drawbridge Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
)

// ReadFromPath reads a secret from a file, or from stdin when path is
// "-". Surrounding whitespace (trailing newlines are near-universal in
// key files) is trimmed before the secret moves into protected memory,
// and the transient heap copy is zeroed. Returns an error if the
// source is empty after trimming.
func ReadFromPath(path string) (*Buffer, error) {
	var data []byte

	if path == "-" {
		scanner := bufio.NewScanner(os.Stdin)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return nil, fmt.Errorf("reading stdin: %w", err)
			}
			return nil, fmt.Errorf("stdin is empty")
		}
		data = scanner.Bytes()
	} else {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, err
		}
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		Zero(data)
		return nil, fmt.Errorf("secret at %s is empty", path)
	}

	buffer, err := NewFromBytes(trimmed)
	// trimmed aliases data; zero the whitespace bytes NewFromBytes
	// did not cover.
	Zero(data)
	if err != nil {
		return nil, err
	}
	return buffer, nil
}
