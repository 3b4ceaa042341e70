package processors

import (
	"encoding/json"
	"fmt"
)

// ExtractStructuredFields flattens the analysis block's structured data into
// a string map, then fills gaps from tool-call arguments. Analysis output
// wins on key collisions since it reflects the whole conversation.
func ExtractStructuredFields(structuredData map[string]interface{}, toolCalls []ToolCall) map[string]string {
	fields := make(map[string]string)

	for _, call := range toolCalls {
		args := map[string]interface{}{}
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			continue
		}
		for k, v := range args {
			fields[k] = stringifyField(v)
		}
	}

	for k, v := range structuredData {
		fields[k] = stringifyField(v)
	}

	return fields
}

func stringifyField(v interface{}) string {
	switch value := v.(type) {
	case string:
		return value
	case nil:
		return ""
	case float64, bool:
		return fmt.Sprintf("%v", value)
	default:
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Sprintf("%v", value)
		}
		return string(raw)
	}
}
