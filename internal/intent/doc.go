// Package intent classifies free-text user feedback into orchestration actions.
//
// The classifier is a deterministic keyword/verb heuristic, not NLU: approval
// tokens win only without co-occurring revision keywords, document keywords
// pick the revision target, and ambiguous revision requests fall back to the
// most recently touched document with the ambiguity surfaced to the caller.
package intent
