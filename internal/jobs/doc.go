// SPDX-License-Identifier: MPL-2.0

// Package jobs tracks running pipelines as numbered jobs and moves them
// between the foreground and the background.
//
// Job numbers are the lowest free positive integers. The table also keeps
// a most-recently-used order: the head is the current job ("+") and the
// next one the previous job ("-"). Foregrounding a job hands the
// controlling terminal to its process group for as long as the job runs,
// then gives it back to the shell.
package jobs
