package sqlite

// Schema DDL for all tables. Keys, ids, and digests are stored as BLOBs so
// SQLite's memcmp ordering matches the byte order of the document store.
const (
	createSettings = `CREATE TABLE IF NOT EXISTS settings (
    name TEXT PRIMARY KEY,
    value BLOB NOT NULL
);`

	createAuthors = `CREATE TABLE IF NOT EXISTS authors (
    author_id BLOB PRIMARY KEY,
    secret BLOB NOT NULL
);`

	createNamespaces = `CREATE TABLE IF NOT EXISTS namespaces (
    namespace_id BLOB PRIMARY KEY,
    kind INTEGER NOT NULL,
    secret BLOB
);`

	createEntries = `CREATE TABLE IF NOT EXISTS entries (
    namespace_id BLOB NOT NULL,
    key BLOB NOT NULL,
    author_id BLOB NOT NULL,
    hash BLOB NOT NULL,
    len INTEGER NOT NULL,
    timestamp INTEGER NOT NULL,
    PRIMARY KEY (namespace_id, key, author_id),
    FOREIGN KEY (namespace_id) REFERENCES namespaces(namespace_id) ON DELETE CASCADE
) WITHOUT ROWID;`

	createBlobs = `CREATE TABLE IF NOT EXISTS blobs (
    hash BLOB PRIMARY KEY,
    data BLOB NOT NULL
) WITHOUT ROWID;`

	createPins = `CREATE TABLE IF NOT EXISTS pins (
    path BLOB PRIMARY KEY,
    hash BLOB NOT NULL
);`
)

// Index DDL for common queries.
const (
	idxEntriesHash = `CREATE INDEX IF NOT EXISTS idx_entries_hash ON entries(hash);`
	idxPinsHash    = `CREATE INDEX IF NOT EXISTS idx_pins_hash ON pins(hash);`
)

// schemaDDL lists all CREATE TABLE statements in dependency order.
var schemaDDL = []string{
	createSettings,
	createAuthors,
	createNamespaces,
	createEntries,
	createBlobs,
	createPins,
}

// indexDDL lists all CREATE INDEX statements.
var indexDDL = []string{
	idxEntriesHash,
	idxPinsHash,
}
