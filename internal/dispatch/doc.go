// Package dispatch implements the Slurm-backed render backend: it writes a
// batch job script, submits it repeatedly, records the job ids in the
// registry and aggregates their scheduler state.
//
// Submission:
//   - The export path is "<YYYYMMDD-HHMMSS>_<slug(job-name)>", suffixed with a
//     short random id if that path is already taken
//   - The job script is rewritten on every StartRender call
//   - The same script is submitted min(max-nb-jobs, frame count) times; the
//     render script run by each job skips frames another job already claimed,
//     which splits the work without a central frame allocator
//   - Submissions run serially; the first failing call aborts the batch
//
// Partial failure:
//   - Jobs accepted before the failing call stay queued on the cluster; no
//     rollback is attempted
//   - The registry is written only after every call succeeded, so a failed
//     batch leaves no registry entry. Every call, successful or not, is
//     recorded in the submission log so such orphans can be found and cancelled
//
// Status:
//   - Only jobs still listed by the scheduler contribute to the aggregate;
//     evicted jobs keep their last stored status but are not counted
//   - Progress counts finished output files on disk, which is unaffected by
//     scheduler eviction
//
// Every scheduler command is bounded by a timeout (see package command).
package dispatch
