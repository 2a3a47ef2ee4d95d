// Package events publishes session lifecycle events to NATS so other
// systems can follow the factory's progress. Publishing is best-effort:
// a failed publish is logged and counted, never surfaced to the session.
//
// Events land on subjects:
//
//	sessions.{session_id}.created
//	sessions.{session_id}.version_appended
//	sessions.{session_id}.review_completed
//	sessions.{session_id}.approved
//	sessions.{session_id}.closed
package events
