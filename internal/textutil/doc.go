// Package textutil provides text helpers shared by report synthesis: word
// counting, token fingerprints for near-duplicate detection, and filename
// sanitization for per-item artifacts.
//
// Tokenization is Unicode aware. Text is lowercased, split on anything that
// is not a letter or digit, and tokens shorter than three runes are dropped.
package textutil
