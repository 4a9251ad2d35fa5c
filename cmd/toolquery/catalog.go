package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonwraymond/toolmodel"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/jonwraymond/toolquery"
)

// toolSpec is the file form of one catalog record.
type toolSpec struct {
	Name         string               `json:"name"`
	Namespace    string               `json:"namespace,omitempty"`
	Version      string               `json:"version,omitempty"`
	Title        string               `json:"title,omitempty"`
	Description  string               `json:"description,omitempty"`
	Tags         []string             `json:"tags,omitempty"`
	InputSchema  map[string]any       `json:"inputSchema,omitempty"`
	OutputSchema map[string]any       `json:"outputSchema,omitempty"`
	Annotations  *mcp.ToolAnnotations `json:"annotations,omitempty"`
	Meta         map[string]any       `json:"meta,omitempty"`
}

func (s toolSpec) tool() toolmodel.Tool {
	schema := s.InputSchema
	if schema == nil {
		schema = map[string]any{"type": "object"}
	}
	t := toolmodel.Tool{
		Tool: mcp.Tool{
			Name:        s.Name,
			Title:       s.Title,
			Description: s.Description,
			InputSchema: schema,
			Annotations: s.Annotations,
		},
		Namespace: s.Namespace,
		Version:   s.Version,
		Tags:      s.Tags,
	}
	if s.OutputSchema != nil {
		t.OutputSchema = s.OutputSchema
	}
	if len(s.Meta) > 0 {
		t.Meta = mcp.Meta(s.Meta)
	}
	return t
}

// catalogFile is the top-level shape of a catalog file. A bare list of
// tools is accepted as well.
type catalogFile struct {
	Tools []toolSpec `json:"tools"`
}

// loadCatalog reads a JSON or YAML catalog file, chosen by extension, into
// a validated in-memory catalog.
func loadCatalog(path string) (*toolquery.InMemoryCatalog, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yamlToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse catalog file: %w", err)
		}
	}
	specs, err := decodeSpecs(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse catalog file: %w", err)
	}

	tools := make([]toolmodel.Tool, len(specs))
	for i, s := range specs {
		tools[i] = s.tool()
	}
	return toolquery.NewInMemoryCatalog(tools...)
}

// yamlToJSON converts a YAML document to JSON so both file formats share
// one strict decoder.
func yamlToJSON(data []byte) ([]byte, error) {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func decodeSpecs(data []byte) ([]toolSpec, error) {
	data = bytes.TrimSpace(data)
	if bytes.HasPrefix(data, []byte("[")) {
		var specs []toolSpec
		if err := strictDecode(data, &specs); err != nil {
			return nil, err
		}
		return specs, nil
	}
	var f catalogFile
	if err := strictDecode(data, &f); err != nil {
		return nil, err
	}
	return f.Tools, nil
}

func strictDecode(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// env is what every command works with.
type env struct {
	catalog *toolquery.InMemoryCatalog
	engine  *toolquery.Engine
	log     *zap.Logger
	out     io.Writer
	json    bool
}

func setup(g globalFlags, logger *zap.Logger, out io.Writer) (*env, error) {
	if g.catalog == "" {
		return nil, fmt.Errorf("--catalog is required")
	}
	cat, err := loadCatalog(g.catalog)
	if err != nil {
		return nil, err
	}

	opts := toolquery.Options{}
	if g.config != "" {
		cfg, err := toolquery.LoadConfig(g.config)
		if err != nil {
			return nil, err
		}
		opts = cfg.Options()
	}
	opts.Logger = logger

	logger.Debug("catalog loaded", zap.String("path", g.catalog), zap.Int("records", len(cat.List())))
	return &env{
		catalog: cat,
		engine:  toolquery.NewEngine(cat, opts),
		log:     logger,
		out:     out,
		json:    g.json,
	}, nil
}
