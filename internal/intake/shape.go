package intake

import (
	"encoding/json"
	"sort"
	"strings"
)

// Shape is one of the payload layouts JotForm has been observed to send.
type Shape int

const (
	// ShapeWrapped: form fields named rawSubmission[<id>].
	ShapeWrapped Shape = iota + 1
	// ShapeFlat: form fields named by their exact ids, q29_companyName etc.
	ShapeFlat
	// ShapeAnswers: one field holding JSON with an "answers" map keyed by
	// question id.
	ShapeAnswers
	// ShapeKeyedJSON: one field holding JSON whose keys resemble field ids.
	ShapeKeyedJSON
)

func (s Shape) String() string {
	switch s {
	case ShapeWrapped:
		return "wrapped"
	case ShapeFlat:
		return "flat"
	case ShapeAnswers:
		return "answers"
	case ShapeKeyedJSON:
		return "keyed_json"
	default:
		return "unknown"
	}
}

// candidate is one (key, value) pair a shape contributes. label is the
// human-readable question text when the shape carries it.
type candidate struct {
	key   string
	label string
	value string
}

type extraction struct {
	shape      Shape
	candidates []candidate
}

func (e extraction) exact(id string) (string, bool) {
	for _, c := range e.candidates {
		if strings.EqualFold(c.key, id) {
			return c.value, true
		}
	}
	return "", false
}

// Detect sniffs which shapes are present, in precedence order. The same
// payload always yields the same answer.
func Detect(p Payload) []Shape {
	extractions := extract(p)
	shapes := make([]Shape, 0, len(extractions))
	for _, ex := range extractions {
		shapes = append(shapes, ex.shape)
	}
	return shapes
}

// extract runs every shape mapper that applies, ordered wrapped, flat,
// answers, keyed JSON. Shapes with no usable values are omitted.
func extract(p Payload) []extraction {
	var (
		wrapped = map[string]Value{}
		flat    = map[string]Value{}
		objects []map[string]json.RawMessage
	)
	for _, key := range sortedKeys(p) {
		value := p[key]
		if strings.HasPrefix(key, wrapperPrefix+"[") {
			wrapped[strings.TrimPrefix(key, wrapperPrefix)] = value
			continue
		}
		if obj, ok := jsonCarrier(key, value); ok {
			objects = append(objects, obj)
			continue
		}
		flat[key] = value
	}

	var out []extraction
	if len(wrapped) > 0 {
		out = append(out, extraction{shape: ShapeWrapped, candidates: mapBracketed(wrapped, true)})
	}
	if len(flat) > 0 {
		out = append(out, extraction{shape: ShapeFlat, candidates: mapBracketed(flat, false)})
	}
	for _, obj := range objects {
		if answers, ok := answersMap(obj); ok {
			out = append(out, extraction{shape: ShapeAnswers, candidates: mapAnswers(obj, answers)})
			continue
		}
		out = append(out, extraction{shape: ShapeKeyedJSON, candidates: mapKeyed(obj, nil)})
	}
	return out
}

// jsonCarrier reports whether a field holds a whole submission as a JSON
// object. Known carrier keys are checked first; any other text value that is
// a JSON object with an answers map also qualifies.
func jsonCarrier(key string, value Value) (map[string]json.RawMessage, bool) {
	if value.Binary {
		return nil, false
	}
	text := strings.TrimSpace(value.Text)
	if !strings.HasPrefix(text, "{") {
		return nil, false
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return nil, false
	}
	for _, carrier := range jsonCarrierKeys {
		if key == carrier {
			return obj, true
		}
	}
	if _, ok := answersMap(obj); ok {
		return obj, true
	}
	return nil, false
}

type answer struct {
	Name         string          `json:"name"`
	Text         string          `json:"text"`
	Type         string          `json:"type"`
	Answer       json.RawMessage `json:"answer"`
	PrettyFormat json.RawMessage `json:"prettyFormat"`
}

func answersMap(obj map[string]json.RawMessage) (map[string]answer, bool) {
	raw, ok := obj["answers"]
	if !ok {
		return nil, false
	}
	var answers map[string]answer
	if err := json.Unmarshal(raw, &answers); err != nil {
		return nil, false
	}
	return answers, true
}

// mapBracketed handles form keys, folding "[id][part]" style keys into one
// value per id. Parts are joined in key order.
func mapBracketed(values map[string]Value, wrapped bool) []candidate {
	parts := map[string][]string{}
	var order []string
	for _, key := range sortedKeys(values) {
		value := values[key]
		if value.Binary {
			continue
		}
		id := key
		if wrapped {
			id = firstBracket(key)
		} else if i := strings.Index(key, "["); i > 0 {
			id = key[:i]
		}
		if id == "" || fileValued(id) {
			continue
		}
		text := strings.TrimSpace(value.Text)
		if text == "" {
			continue
		}
		if _, seen := parts[id]; !seen {
			order = append(order, id)
		}
		parts[id] = append(parts[id], text)
	}
	out := make([]candidate, 0, len(order))
	for _, id := range order {
		value := strings.Join(parts[id], " ")
		if uploadValued(id, value) {
			continue
		}
		out = append(out, candidate{key: id, value: value})
	}
	return out
}

// firstBracket returns "id" from "[id]" or "[id][part]".
func firstBracket(key string) string {
	if !strings.HasPrefix(key, "[") {
		return ""
	}
	end := strings.Index(key, "]")
	if end <= 1 {
		return ""
	}
	return key[1:end]
}

func mapAnswers(obj map[string]json.RawMessage, answers map[string]answer) []candidate {
	qids := make([]string, 0, len(answers))
	for qid := range answers {
		qids = append(qids, qid)
	}
	sort.Slice(qids, func(i, j int) bool { return lessQuestionID(qids[i], qids[j]) })

	out := make([]candidate, 0, len(qids)+len(obj))
	for _, qid := range qids {
		a := answers[qid]
		if a.Type == "control_fileupload" || fileValued(a.Name) {
			continue
		}
		value := flattenJSON(a.PrettyFormat)
		if value == "" {
			value = flattenJSON(a.Answer)
		}
		if value == "" {
			continue
		}
		key := qid
		if a.Name != "" {
			key = "q" + qid + "_" + a.Name
		}
		if uploadValued(key, value) {
			continue
		}
		out = append(out, candidate{key: key, label: a.Text, value: value})
	}
	return append(out, mapKeyed(obj, map[string]bool{"answers": true})...)
}

func mapKeyed(obj map[string]json.RawMessage, skip map[string]bool) []candidate {
	out := make([]candidate, 0, len(obj))
	for _, key := range sortedKeys(obj) {
		if skip[key] || fileValued(key) {
			continue
		}
		value := flattenJSON(obj[key])
		if value == "" || uploadValued(key, value) {
			continue
		}
		out = append(out, candidate{key: key, value: value})
	}
	return out
}

// lessQuestionID orders numeric ids numerically, then everything else
// lexically.
func lessQuestionID(a, b string) bool {
	if len(a) != len(b) && allDigits(a) && allDigits(b) {
		return len(a) < len(b)
	}
	return a < b
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
