// Package source enumerates processable items under a root directory.
//
// Walk returns a finite list sorted by item id, where the id is the item's
// slash-separated path relative to the root. The order is stable across
// calls so restored jobs and out-of-process dispatch see the same sequence.
package source
