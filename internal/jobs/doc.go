// Package jobs holds the job/build state model: jobs and their forward-only
// lifecycle, the build record tied 1:1 to a job, the per data standard
// timestamp baseline, and the messages exchanged with builder workers.
package jobs
