// Package vstore is a versioned binary-object store for template-driven advertising
// content.
//
// Templates declare typed element slots with per-language constraints. Clients open a
// time-bounded upload session against a template, stream one file per request into the
// blob store while it is validated, and finally commit objects whose element values
// reference the uploaded files. Every template, object and uploaded file is persisted as
// an immutable version; writers that depend on the current version pass it as the
// expected version and get ErrConcurrentModification when it moved.
//
// Image elements can be previewed: exact pre-baked variants are served by redirect,
// anything else is decoded and scaled on demand under a process-wide memory budget
// (see package admission). A request that does not fit the budget fails with
// ErrMemoryLimited instead of waiting.
//
// Repositories (memory, Postgres, SQLite) and blob stores (memory, filesystem, S3,
// MinIO) live in subpackages.
package vstore
