// Package runner spawns one external process per invocation and buffers its
// output.
//
// The runner never involves a shell: the executable receives the argument
// vector exactly as built, so argument values cannot inject extra commands.
//
// Lifecycle:
//   - stdin, when given, is written in full on its own goroutine and then
//     closed; otherwise the child reads from /dev/null
//   - stdout and stderr are accumulated until both streams close
//   - a process that cannot be launched yields *SpawnError instead of a
//     Completion
//
// No timeout applies unless Spec.Timeout is set. On timeout or context
// cancellation the child's process group receives SIGTERM, then SIGKILL after
// a 5 second grace period. Output buffering is unbounded unless a cap is
// configured; bytes past the cap are discarded and Completion.Truncated is set.
package runner
