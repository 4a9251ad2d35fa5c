// Package textindex holds the per-record text search document and the
// per-field inverted index used to select fuzzy, exact and substring
// candidates without scanning the catalog.
package textindex

import (
	"strings"

	"github.com/jonwraymond/toolquery/internal/textnorm"
)

// Field names a searchable text channel of a record.
type Field string

const (
	FieldName         Field = "name"
	FieldDescription  Field = "description"
	FieldTags         Field = "tags"
	FieldSchemaKeys   Field = "schemaKeys"
	FieldMetadataKeys Field = "metadataKeys"
)

// Fields lists every field in canonical order.
var Fields = []Field{FieldName, FieldDescription, FieldTags, FieldSchemaKeys, FieldMetadataKeys}

// Valid reports whether f is a known field.
func (f Field) Valid() bool {
	switch f {
	case FieldName, FieldDescription, FieldTags, FieldSchemaKeys, FieldMetadataKeys:
		return true
	}
	return false
}

// Doc is the derived text view of one record. It is computed once per
// record and kept in the owner's side table.
type Doc struct {
	Name        string
	Description string

	tokens map[Field][]textnorm.Token
	norms  map[Field][]string
	texts  map[Field]string
}

// NewDoc tokenizes a record's text channels.
func NewDoc(name, description string, tags, schemaKeys, metadataKeys []string) *Doc {
	d := &Doc{
		Name:        textnorm.Normalize(name),
		Description: textnorm.Normalize(description),
		tokens:      make(map[Field][]textnorm.Token, len(Fields)),
		norms:       make(map[Field][]string, len(Fields)),
		texts: map[Field]string{
			FieldName:         name,
			FieldDescription:  description,
			FieldTags:         strings.Join(tags, " "),
			FieldSchemaKeys:   strings.Join(schemaKeys, " "),
			FieldMetadataKeys: strings.Join(metadataKeys, " "),
		},
	}
	d.set(FieldName, textnorm.Tokens(name))
	d.set(FieldDescription, textnorm.Tokens(description))
	d.set(FieldTags, tokensOf(tags))
	d.set(FieldSchemaKeys, tokensOf(schemaKeys))
	d.set(FieldMetadataKeys, tokensOf(metadataKeys))
	return d
}

func tokensOf(values []string) []textnorm.Token {
	var out []textnorm.Token
	for _, v := range values {
		out = append(out, textnorm.Tokens(v)...)
	}
	return out
}

func (d *Doc) set(f Field, toks []textnorm.Token) {
	norms := make([]string, len(toks))
	for i, t := range toks {
		norms[i] = t.Norm
	}
	d.tokens[f] = toks
	d.norms[f] = norms
}

// Tokens returns the tokens of field f.
func (d *Doc) Tokens(f Field) []textnorm.Token { return d.tokens[f] }

// Norms returns the normalized tokens of field f.
func (d *Doc) Norms(f Field) []string { return d.norms[f] }

// Text returns the raw text of field f; list fields are space-joined. This
// is the text handed to an embedder for the field's channel.
func (d *Doc) Text(f Field) string { return d.texts[f] }
