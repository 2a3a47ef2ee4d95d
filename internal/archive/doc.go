// Package archive persists approved artifacts in a vector store.
//
// When a session reaches approval, the Recorder stores the rendered
// functional specification and test plan with session metadata so later
// ideas can be checked against earlier approved work via similarity search.
//
// Two backends are supported: embedded chromem-go (the default, persists gob
// files on disk, no external service) and Qdrant over gRPC for deployments
// that already run one.
package archive
