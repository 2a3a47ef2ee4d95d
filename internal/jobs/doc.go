// Package jobs launches downstream implementation jobs for approved
// sessions. The launch is fire-and-forget: a failure is logged and
// counted but never reaches session state.
package jobs
