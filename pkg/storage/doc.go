/*
Package storage provides conduit's local persistence on BoltDB (bbolt).

A single conduit.db file under the state directory (~/.conduit by default)
holds two buckets:

	┌──────────── conduit.db ────────────┐
	│ credentials   profile → sealed blob │
	│ jobs          job ID  → JSON        │
	└─────────────────────────────────────┘

Credential values are opaque to this package; pkg/tokenstore seals them
with pkg/security before writing. Job values are JSON-encoded
types.MigrationJob snapshots written by `conduit migrate watch` and listed
by `conduit migrate jobs`.

Lookups of absent keys return an error wrapping ErrNotFound:

	job, err := store.GetJob(id)
	if errors.Is(err, storage.ErrNotFound) {
		...
	}

bbolt allows one writer process per file; opening a locked database fails
after a short timeout rather than blocking.
*/
package storage
