// Package toolquery filters and ranks a catalog of toolmodel.Tool records.
// It answers structured criteria (namespaces, tags, schema keys, metadata,
// risk hints and free text, combined with And, Or and Not) and ranked,
// paginated searches, backed by incrementally maintained tag, schema, text
// and embedding indices.
//
// An Engine reads records from a Catalog. InMemoryCatalog is a mutable
// catalog that reports its changes to the engines built over it; Records
// and Seq wrap fixed lists. Semantic matching is enabled by configuring an
// Embedder.
package toolquery
