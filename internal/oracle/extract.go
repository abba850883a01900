package oracle

import (
	"encoding/json"
	"strings"

	"github.com/PaesslerAG/jsonpath"
	"github.com/tidwall/gjson"

	"github.com/vibeorch/engine/internal/orcherr"
)

// stripFences removes a leading/trailing ```json ... ``` or ``` ... ```
// fence, which most chat models wrap structured replies in despite being
// asked for raw JSON.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		firstLine := strings.TrimSpace(s[:i])
		if firstLine == "" || strings.EqualFold(firstLine, "json") {
			s = s[i+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// AtomicityVerdict is the structured reply expected for KindAtomicityVerdict
// prompts.
type AtomicityVerdict struct {
	IsAtomic   bool
	Confidence float64
	Reasoning  string
}

// ExtractAtomicityVerdict pulls {isAtomic, confidence, reasoning} out of a raw
// oracle reply using gjson, after stripping a Markdown code fence. A reply
// that is not valid JSON once the fence is removed (for example, JSON
// wrapped in prose) or that lacks isAtomic or confidence is treated as a
// parse failure. On any parse failure it returns the
// fallback verdict spec.md §4.3 prescribes for an unusable oracle reply.
func ExtractAtomicityVerdict(raw string) AtomicityVerdict {
	clean := stripFences(raw)
	if !gjson.Valid(clean) {
		return fallbackVerdict()
	}
	parsed := gjson.Parse(clean)
	conf := parsed.Get("confidence")
	atomic := parsed.Get("isAtomic")
	if !conf.Exists() || !atomic.Exists() {
		return fallbackVerdict()
	}
	return AtomicityVerdict{
		IsAtomic:   atomic.Bool(),
		Confidence: clampConfidence(conf.Float()),
		Reasoning:  parsed.Get("reasoning").String(),
	}
}

func fallbackVerdict() AtomicityVerdict {
	return AtomicityVerdict{IsAtomic: false, Confidence: 0.4, Reasoning: "oracle unavailable"}
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// SubtaskDraft is one element of a decomposition reply's children array.
type SubtaskDraft struct {
	Title              string
	Description        string
	EstimatedMinutes   float64
	FilePaths          []string
	AcceptanceCriteria []string
	DependsOnIndices   []int
}

// ExtractSubtasks pulls the children[] array out of a decomposition reply.
// The children array itself is located with jsonpath ($.children); each
// child's fields and nested arrays (dependencies, filePaths,
// acceptanceCriteria) are then read from the decoded map directly.
func ExtractSubtasks(raw string) ([]SubtaskDraft, error) {
	clean := stripFences(raw)
	if !gjson.Valid(clean) {
		return nil, orcherr.OracleError("decomposition reply is not valid JSON", nil)
	}

	var doc interface{}
	if err := json.Unmarshal([]byte(clean), &doc); err != nil {
		return nil, orcherr.OracleError("decomposition reply could not be parsed", err)
	}

	children, err := jsonpath.Get("$.children", doc)
	if err != nil {
		return nil, orcherr.OracleError("decomposition reply missing children[]", err)
	}
	list, ok := children.([]interface{})
	if !ok {
		return nil, orcherr.OracleError("decomposition reply children is not an array", nil)
	}

	drafts := make([]SubtaskDraft, 0, len(list))
	for _, raw := range list {
		obj, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		d := SubtaskDraft{
			Title:            asString(obj["title"]),
			Description:      asString(obj["description"]),
			EstimatedMinutes: asFloat(obj["estimatedMinutes"]),
		}
		if fp, ok := obj["filePaths"].([]interface{}); ok {
			for _, f := range fp {
				d.FilePaths = append(d.FilePaths, asString(f))
			}
		}
		if ac, ok := obj["acceptanceCriteria"].([]interface{}); ok {
			for _, a := range ac {
				d.AcceptanceCriteria = append(d.AcceptanceCriteria, asString(a))
			}
		}
		if deps, ok := obj["dependencies"].([]interface{}); ok {
			for _, dep := range deps {
				d.DependsOnIndices = append(d.DependsOnIndices, int(asFloat(dep)))
			}
		}
		drafts = append(drafts, d)
	}
	return drafts, nil
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 0
	}
}
