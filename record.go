package toolquery

import (
	"encoding/json"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/jonwraymond/toolmodel"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/jonwraymond/toolquery/internal/textindex"
)

// MaxShortDescriptionLen is the maximum length in bytes of
// Summary.ShortDescription. Truncation never splits a UTF-8 sequence.
const MaxShortDescriptionLen = 120

// metaDeprecated is the metadata key marking a record deprecated.
const metaDeprecated = "deprecated"

// Risk holds the behavioral hints of a tool. Unset MCP hints take their
// protocol defaults: not read-only, destructive, not idempotent, open world.
type Risk struct {
	ReadOnly    bool `json:"readOnly"`
	Destructive bool `json:"destructive"`
	Idempotent  bool `json:"idempotent"`
	OpenWorld   bool `json:"openWorld"`
}

// RecordID returns the stable identity of a tool: its ToolID, suffixed with
// "@version" when the tool is versioned.
func RecordID(tool toolmodel.Tool) string {
	id := tool.ToolID()
	if tool.Version != "" {
		id += "@" + tool.Version
	}
	return id
}

// recordView is the flattened, precomputed view of a tool used by
// predicates and indices.
type recordView struct {
	id         string
	tags       []string
	schemaKeys []string
	properties map[string]map[string]any
	metaKeys   []string
	risk       Risk
	deprecated bool
}

func newRecordView(tool toolmodel.Tool) recordView {
	v := recordView{
		id:   RecordID(tool),
		tags: toolmodel.NormalizeTags(tool.Tags),
		risk: riskOf(tool.Annotations),
	}
	v.schemaKeys, v.properties = schemaOf(tool.InputSchema)
	for k := range tool.Meta {
		v.metaKeys = append(v.metaKeys, k)
	}
	sort.Strings(v.metaKeys)
	if d, ok := tool.Meta[metaDeprecated].(bool); ok {
		v.deprecated = d
	}
	return v
}

func riskOf(a *mcp.ToolAnnotations) Risk {
	r := Risk{Destructive: true, OpenWorld: true}
	if a == nil {
		return r
	}
	r.ReadOnly = a.ReadOnlyHint
	r.Idempotent = a.IdempotentHint
	if a.DestructiveHint != nil {
		r.Destructive = *a.DestructiveHint
	}
	if a.OpenWorldHint != nil {
		r.OpenWorld = *a.OpenWorldHint
	}
	return r
}

// schemaOf extracts the parameter names of an input schema: the keys of its
// "properties" object (sorted) followed by any "required" names not already
// listed.
func schemaOf(schema any) ([]string, map[string]map[string]any) {
	m := schemaMap(schema)
	if m == nil {
		return nil, nil
	}
	props := make(map[string]map[string]any)
	var keys []string
	if p, ok := m["properties"].(map[string]any); ok {
		for k, def := range p {
			keys = append(keys, k)
			if dm, ok := def.(map[string]any); ok {
				props[k] = dm
			} else {
				props[k] = nil
			}
		}
	}
	sort.Strings(keys)
	if req, ok := m["required"].([]any); ok {
		for _, r := range req {
			name, ok := r.(string)
			if !ok {
				continue
			}
			if _, seen := props[name]; !seen {
				props[name] = nil
				keys = append(keys, name)
			}
		}
	}
	return keys, props
}

func schemaMap(schema any) map[string]any {
	switch s := schema.(type) {
	case nil:
		return nil
	case map[string]any:
		return s
	case json.RawMessage:
		return decodeObject(s)
	case []byte:
		return decodeObject(s)
	default:
		raw, err := json.Marshal(s)
		if err != nil {
			return nil
		}
		return decodeObject(raw)
	}
}

func decodeObject(raw []byte) map[string]any {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

// entry is the side-table row the engine keeps for each indexed record.
type entry struct {
	tool toolmodel.Tool
	view recordView
	doc  *textindex.Doc
}

func newEntry(tool toolmodel.Tool) *entry {
	view := newRecordView(tool)
	return &entry{
		tool: tool,
		view: view,
		doc:  textindex.NewDoc(tool.Name, tool.Description, view.tags, view.schemaKeys, view.metaKeys),
	}
}

func (en *entry) id() string   { return en.view.id }
func (en *entry) name() string { return en.tool.Name }

func (en *entry) hasTag(tag string) bool {
	for _, t := range en.view.tags {
		if t == tag {
			return true
		}
	}
	return false
}

func (en *entry) hasSchemaKey(key string) bool {
	for _, k := range en.view.schemaKeys {
		if strings.EqualFold(k, key) {
			return true
		}
	}
	return false
}

// Summary is a lightweight projection of a record for search results.
type Summary struct {
	ID               string          `json:"id"`
	Namespace        string          `json:"namespace,omitempty"`
	Name             string          `json:"name"`
	Version          string          `json:"version,omitempty"`
	Description      string          `json:"description,omitempty"`
	ShortDescription string          `json:"shortDescription,omitempty"`
	SchemaKeys       []string        `json:"schemaKeys,omitempty"`
	Tags             []string        `json:"tags,omitempty"`
	Metadata         map[string]any  `json:"metadata,omitempty"`
	Risk             *Risk           `json:"risk,omitempty"`
	Deprecated       *bool           `json:"deprecated,omitempty"`
	InputSchema      any             `json:"inputSchema,omitempty"`
	Tool             *toolmodel.Tool `json:"tool,omitempty"`
}

// SummaryOptions selects the optional parts of a Summary.
type SummaryOptions struct {
	Tags      bool
	Metadata  bool
	Risk      bool
	Lifecycle bool
	Schema    bool
	Record    bool
}

// truncateUTF8 cuts s to at most n bytes on a rune boundary.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func buildSummary(en *entry, opts SummaryOptions) Summary {
	shortDesc := truncateUTF8(en.tool.Description, MaxShortDescriptionLen)

	s := Summary{
		ID:               en.id(),
		Namespace:        en.tool.Namespace,
		Name:             en.tool.Name,
		Version:          en.tool.Version,
		Description:      en.tool.Description,
		ShortDescription: shortDesc,
		SchemaKeys:       en.view.schemaKeys,
	}
	if opts.Tags {
		s.Tags = en.view.tags
	}
	if opts.Metadata && len(en.tool.Meta) > 0 {
		s.Metadata = map[string]any(en.tool.Meta)
	}
	if opts.Risk {
		r := en.view.risk
		s.Risk = &r
	}
	if opts.Lifecycle {
		d := en.view.deprecated
		s.Deprecated = &d
	}
	if opts.Schema {
		s.InputSchema = en.tool.InputSchema
	}
	if opts.Record {
		t := en.tool
		s.Tool = &t
	}
	return s
}
