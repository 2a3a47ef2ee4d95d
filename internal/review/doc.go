// Package review invokes the reviewer agent over the current state of a
// session's artifacts. The reviewer critiques; it never writes document
// versions. Its output becomes a conversation message that records the
// exact (kind, version) pairs it evaluated.
package review
