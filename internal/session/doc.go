// Package session owns the orchestration loop. A session carries one
// conversation through idle → drafting → reviewing → awaiting feedback →
// revising → approved, appending document versions and conversation
// messages as it goes. Turns are strictly sequential per session and
// fully parallel across sessions.
//
// The manager is the only registry of live sessions. It creates them on
// first message, serializes their turns, reaps them after idle timeout
// and fans approvals out to the configured hooks.
package session
