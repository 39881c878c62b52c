package feeder

import (
	"encoding/json"
	"fmt"
	"os"
)

// JSONFeeder serves the objects of a JSON array, with every value stringified.
type JSONFeeder struct {
	cycle
}

// NewJSONFeeder creates a new JSON feeder from the given file path.
// The file must contain a JSON array of objects.
func NewJSONFeeder(path string) (*JSONFeeder, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open JSON file: %w", err)
	}
	defer file.Close()

	var rawRecords []map[string]interface{}
	if err := json.NewDecoder(file).Decode(&rawRecords); err != nil {
		return nil, fmt.Errorf("decode JSON: %w", err)
	}
	if len(rawRecords) == 0 {
		return nil, fmt.Errorf("JSON file contains empty array")
	}

	records := make([]Record, 0, len(rawRecords))
	for i, rawRecord := range rawRecords {
		if len(rawRecord) == 0 {
			return nil, fmt.Errorf("record %d is empty", i)
		}
		record := make(Record, len(rawRecord))
		for key, value := range rawRecord {
			record[key] = fmt.Sprintf("%v", value)
		}
		records = append(records, record)
	}

	return &JSONFeeder{cycle: cycle{records: records}}, nil
}
