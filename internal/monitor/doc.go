// Package monitor finalizes jobs whose items were executed by
// out-of-process workers.
//
// A Monitor polls the job store on a cron schedule. A job is ready once its
// acknowledged count matches its dispatched count. Before finalizing, the
// monitor checks that the checkpoint holds an outcome for every dispatched
// item, waits a settle delay, re-reads and re-checks, removes duplicate
// deliveries, builds the export bundle, and completes the job with a
// compare-and-set so it is finalized exactly once even when several monitors
// share a store. The monitor shares no memory with batch controllers.
package monitor
