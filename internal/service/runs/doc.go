// Package runs orchestrates run artifact creation and retrieval: it
// validates and completes incoming artifacts, persists them through the
// write-once store, mirrors them into the optional Postgres run index, and
// appends governance audit events for every state-changing operation.
package runs
