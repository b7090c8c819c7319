// Package chunker splits a file's text into fixed-line-count, overlapping,
// content-addressed chunks.
//
// Chunks are the unit the Vector Source embeds and the Regex Source
// indexes. Splitting on a fixed line window rather than language syntax
// keeps the chunker identical across every file extension seagoat indexes.
package chunker
