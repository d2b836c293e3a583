package config

import (
	"fmt"
	"os"
)

// LoadRequest reads and parses a compilation request from a JSON file.
// A file that cannot be read or parsed is reported before any field
// validation happens.
func LoadRequest(path string) (*Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading request file: %w", err)
	}
	return ParseRequest(data)
}
