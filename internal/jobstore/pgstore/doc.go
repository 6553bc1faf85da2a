// Package pgstore implements jobstore.Repository on Postgres through a pgx
// connection pool. It lets the daemon, out-of-process workers, and the
// completion monitor share one job table across hosts.
//
// The schema is created on Open with CREATE TABLE IF NOT EXISTS. Outcome
// appends lock the job row with SELECT ... FOR UPDATE so concurrent workers
// never lose each other's writes.
package pgstore
