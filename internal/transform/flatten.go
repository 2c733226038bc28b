// Package transform turns nested sleep records into flat column maps.
package transform

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/sleepsync/sleepsync/internal/models"
)

// Options selects which keys get special treatment.
type Options struct {
	// DotKeys are expanded with "." separators to two levels. Every other
	// nested object is expanded one level with "_".
	DotKeys []string

	// EncodedKeys hold objects that an earlier export stored as JSON text.
	// Reexpand parses them back and expands them with the dot rule.
	EncodedKeys []string
}

// DefaultOptions matches the provider's sleep schema: score holds the nested
// stage_summary and sleep_needed objects, and older exports stored those two
// pre-flattened under score_*.
func DefaultOptions() Options {
	return Options{
		DotKeys:     []string{"score", "score_stage_summary", "score_sleep_needed"},
		EncodedKeys: []string{"score_sleep_needed", "score_stage_summary"},
	}
}

// Provenance is merged into every flattened record and wins on collisions.
type Provenance struct {
	UserEmail   string
	UserName    string
	WhoopUserID string
	SourceFile  string
}

func (p Provenance) apply(out models.FlatRecord) {
	out["user_email"] = p.UserEmail
	out["user_name"] = p.UserName
	out["whoop_user_id"] = p.WhoopUserID
	if p.SourceFile != "" {
		out["source_file"] = p.SourceFile
	}
}

// Transformer flattens records according to Options.
type Transformer struct {
	dot     map[string]struct{}
	encoded map[string]struct{}
}

// New creates a Transformer.
func New(opts Options) *Transformer {
	t := &Transformer{
		dot:     make(map[string]struct{}, len(opts.DotKeys)),
		encoded: make(map[string]struct{}, len(opts.EncodedKeys)),
	}
	for _, k := range opts.DotKeys {
		t.dot[k] = struct{}{}
	}
	for _, k := range opts.EncodedKeys {
		t.encoded[k] = struct{}{}
	}
	return t
}

// Flatten applies the column rules to one record:
//   - objects under a dot key become key.child, and key.child.grandchild
//     when the child is itself an object;
//   - objects under any other key become key_child, one level only;
//   - lists, and objects nested deeper than the rule reaches, become JSON text;
//   - scalars are copied unchanged.
func (t *Transformer) Flatten(record models.SleepRecord) models.FlatRecord {
	out := make(models.FlatRecord, len(record))
	for key, value := range record {
		t.flattenValue(out, key, value)
	}
	return out
}

// Reexpand is Flatten for records read back from an earlier export: string
// values under the encoded keys are parsed and, when they hold an object,
// expanded with the dot rule. Anything that does not parse is kept verbatim.
func (t *Transformer) Reexpand(record models.SleepRecord) models.FlatRecord {
	out := make(models.FlatRecord, len(record))
	for key, value := range record {
		if s, ok := value.(string); ok {
			if _, encoded := t.encoded[key]; encoded {
				if obj, ok := decodeObject(s); ok {
					expandDot(out, key, obj)
					continue
				}
			}
		}
		t.flattenValue(out, key, value)
	}
	return out
}

// FlattenAll flattens records and merges provenance into each.
func (t *Transformer) FlattenAll(records []models.SleepRecord, p Provenance) []models.FlatRecord {
	out := make([]models.FlatRecord, 0, len(records))
	for _, r := range records {
		flat := t.Flatten(r)
		p.apply(flat)
		out = append(out, flat)
	}
	return out
}

// ReexpandAll is FlattenAll for Reexpand.
func (t *Transformer) ReexpandAll(records []models.SleepRecord, p Provenance) []models.FlatRecord {
	out := make([]models.FlatRecord, 0, len(records))
	for _, r := range records {
		flat := t.Reexpand(r)
		p.apply(flat)
		out = append(out, flat)
	}
	return out
}

func (t *Transformer) flattenValue(out models.FlatRecord, key string, value any) {
	switch v := value.(type) {
	case map[string]any:
		if _, dot := t.dot[key]; dot {
			expandDot(out, key, v)
			return
		}
		for child, cv := range v {
			out[key+"_"+child] = leaf(cv)
		}
	case models.SleepRecord:
		t.flattenValue(out, key, map[string]any(v))
	default:
		out[key] = leaf(value)
	}
}

func expandDot(out models.FlatRecord, key string, obj map[string]any) {
	for child, cv := range obj {
		prefix := key + "." + child
		nested, ok := cv.(map[string]any)
		if !ok {
			out[prefix] = leaf(cv)
			continue
		}
		for grandchild, gv := range nested {
			out[prefix+"."+grandchild] = leaf(gv)
		}
	}
}

// leaf returns scalars unchanged and renders lists and objects as JSON text.
func leaf(v any) any {
	switch v.(type) {
	case map[string]any, []any, models.SleepRecord:
		return jsonText(v)
	default:
		return v
	}
}

func jsonText(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return ""
	}
	return strings.TrimRight(buf.String(), "\n")
}

func decodeObject(s string) (map[string]any, bool) {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "{") {
		return nil, false
	}
	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, false
	}
	return obj, true
}
