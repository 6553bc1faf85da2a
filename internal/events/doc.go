// Package events buffers job progress events in memory so API clients can
// stream them.
//
// The Hub keeps a bounded ring of events with monotonically increasing
// sequence numbers. Readers poll with Fetch, optionally blocking until an
// event newer than their cursor arrives, and may filter by job id.
package events
