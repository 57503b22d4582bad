package bench

import (
	"fmt"
	"os"

	"github.com/vmihailenco/msgpack/v5"
)

// SaveResult serializes a run result to path. The file feeds the
// external analysis tooling, so the format is compact msgpack rather
// than something meant for human eyes.
func SaveResult(path string, result *Result) error {
	data, err := msgpack.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}

// LoadResult reads a result file written by SaveResult
func LoadResult(path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read result: %w", err)
	}
	var result Result
	if err := msgpack.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &result, nil
}
