// Package export renders stored artifact content for human consumption.
// Agents produce JSON; this package turns it into display markdown and,
// for test plans, an Azure DevOps work-item CSV. Content that does not
// parse as the expected JSON shape is passed through verbatim so a
// malformed version is still exportable.
package export
