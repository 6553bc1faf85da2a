// Command docbatch is the operator CLI for the docbatch daemon.
//
// Most commands talk to a running docbatchd over its HTTP API: submit jobs,
// pause, resume, stop and restore them, inspect checkpoints, watch
// progress, and drive the completion monitor for dispatched jobs. The run
// command processes a directory in the foreground without a daemon.
package main
