// Package storage selects the job store backend named in configuration.
package storage
