package generate

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
)

//go:embed schema/issues.schema.json
var defaultFormat []byte

// LoadFormat returns the JSON schema used as the structured output format.
// An empty path yields the embedded schema.
func LoadFormat(path string) (json.RawMessage, error) {
	data := defaultFormat
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read format schema: %w", err)
		}
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("invalid JSON schema in %q", path)
	}
	return json.RawMessage(data), nil
}
