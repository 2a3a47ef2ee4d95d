// Package agents provides the uniform adapter for the three agent roles.
//
// Drafter, test planner and reviewer share one capability: produce text from
// structured context. Calls go through a single OpenAI-compatible client
// (Azure or OpenAI backend), rate limited and retried with backoff; exhausted
// retries surface as ErrAgentUnavailable, never as silent empty output.
package agents
