// Package remote executes dispatched work items outside a batch controller.
//
// A Worker extracts one item with the shared retry policy, appends the
// outcome to the job's checkpoint and acknowledges it on the job's durable
// counters. Workers share no memory with the daemon; the completion
// monitor finalizes the job once every dispatched item is acknowledged.
// LocalQueue runs a pool of workers in-process behind the Queue interface
// that an external broker would otherwise satisfy.
package remote
