package intake

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// flattenJSON renders a JSON value as text. Scalars render as themselves;
// objects and arrays render as their scalar leaves in document order joined
// by spaces, so {"first":"Ada","last":"Lovelace"} becomes "Ada Lovelace".
// Malformed input yields whatever leaves were read before the error.
func flattenJSON(raw json.RawMessage) string {
	if len(bytes.TrimSpace(raw)) == 0 {
		return ""
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	type frame struct {
		object    bool
		expectKey bool
	}
	var (
		stack []frame
		parts []string
	)
	consumeValue := func() {
		if n := len(stack); n > 0 && stack[n-1].object {
			stack[n-1].expectKey = true
		}
	}

	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		if delim, ok := tok.(json.Delim); ok {
			switch delim {
			case '{':
				consumeValue()
				stack = append(stack, frame{object: true, expectKey: true})
			case '[':
				consumeValue()
				stack = append(stack, frame{})
			default:
				if len(stack) > 0 {
					stack = stack[:len(stack)-1]
				}
			}
			continue
		}
		if n := len(stack); n > 0 && stack[n-1].object && stack[n-1].expectKey {
			stack[n-1].expectKey = false
			continue
		}
		consumeValue()
		if text := scalarText(tok); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

func scalarText(tok json.Token) string {
	switch v := tok.(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}
