package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mesh-intelligence/weird/internal/node"
	"github.com/mesh-intelligence/weird/pkg/types"
)

var _ node.Engine = (*Backend)(nil)

// Setting returns the value of a row in the settings table.
func (b *Backend) Setting(ctx context.Context, name string) ([]byte, bool, error) {
	db, release, err := b.conn()
	if err != nil {
		return nil, false, err
	}
	defer release()

	var value []byte
	err = db.QueryRowContext(ctx, `SELECT value FROM settings WHERE name = ?`, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// PutSetting upserts a settings row.
func (b *Backend) PutSetting(ctx context.Context, name string, value []byte) error {
	db, release, err := b.conn()
	if err != nil {
		return err
	}
	defer release()

	_, err = db.ExecContext(ctx,
		`INSERT INTO settings (name, value) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET value = excluded.value`, name, value)
	return err
}

// PutAuthor inserts an author. Storing a known author again is a no-op.
func (b *Backend) PutAuthor(ctx context.Context, secret types.AuthorSecret) error {
	db, release, err := b.conn()
	if err != nil {
		return err
	}
	defer release()

	id := secret.ID()
	_, err = db.ExecContext(ctx,
		`INSERT INTO authors (author_id, secret) VALUES (?, ?)
		 ON CONFLICT(author_id) DO NOTHING`, id[:], secret[:])
	return err
}

// Author looks up an author secret by id.
func (b *Backend) Author(ctx context.Context, id types.AuthorID) (types.AuthorSecret, bool, error) {
	db, release, err := b.conn()
	if err != nil {
		return types.AuthorSecret{}, false, err
	}
	defer release()

	var raw []byte
	err = db.QueryRowContext(ctx, `SELECT secret FROM authors WHERE author_id = ?`, id[:]).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return types.AuthorSecret{}, false, nil
	}
	if err != nil {
		return types.AuthorSecret{}, false, err
	}
	var secret types.AuthorSecret
	if len(raw) != len(secret) {
		return secret, false, fmt.Errorf("%w: stored author secret", types.ErrInvalidFormat)
	}
	copy(secret[:], raw)
	return secret, true, nil
}

// AuthorIDs returns all author ids.
func (b *Backend) AuthorIDs(ctx context.Context) ([]types.AuthorID, error) {
	db, release, err := b.conn()
	if err != nil {
		return nil, err
	}
	defer release()

	rows, err := db.QueryContext(ctx, `SELECT author_id FROM authors ORDER BY author_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []types.AuthorID
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		id, err := types.AuthorIDFromBytes(raw)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// PutNamespace upserts the capability for its namespace. A read capability
// is stored without a secret.
func (b *Backend) PutNamespace(ctx context.Context, c types.Capability) error {
	db, release, err := b.conn()
	if err != nil {
		return err
	}
	defer release()

	ns := c.ID()
	var secret []byte
	if c.CanWrite() {
		secret = c.Secret[:]
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO namespaces (namespace_id, kind, secret) VALUES (?, ?, ?)
		 ON CONFLICT(namespace_id) DO UPDATE SET kind = excluded.kind, secret = excluded.secret`,
		ns[:], int(c.Kind), secret)
	return err
}

func scanCapability(ns []byte, kind int, secret []byte) (types.Capability, error) {
	switch types.CapabilityKind(kind) {
	case types.CapabilityWrite:
		var s types.NamespaceSecret
		if len(secret) != len(s) {
			return types.Capability{}, fmt.Errorf("%w: stored namespace secret", types.ErrInvalidFormat)
		}
		copy(s[:], secret)
		return types.WriteCapability(s), nil
	case types.CapabilityRead:
		id, err := types.NamespaceIDFromBytes(ns)
		if err != nil {
			return types.Capability{}, err
		}
		return types.ReadCapability(id), nil
	default:
		return types.Capability{}, fmt.Errorf("%w: stored capability kind %d", types.ErrInvalidFormat, kind)
	}
}

// Namespace returns the stored capability for ns.
func (b *Backend) Namespace(ctx context.Context, ns types.NamespaceID) (types.Capability, bool, error) {
	db, release, err := b.conn()
	if err != nil {
		return types.Capability{}, false, err
	}
	defer release()

	var (
		kind   int
		secret []byte
	)
	err = db.QueryRowContext(ctx,
		`SELECT kind, secret FROM namespaces WHERE namespace_id = ?`, ns[:]).Scan(&kind, &secret)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Capability{}, false, nil
	}
	if err != nil {
		return types.Capability{}, false, err
	}
	c, err := scanCapability(ns[:], kind, secret)
	return c, err == nil, err
}

// NamespaceList returns all stored capabilities.
func (b *Backend) NamespaceList(ctx context.Context) ([]types.Capability, error) {
	db, release, err := b.conn()
	if err != nil {
		return nil, err
	}
	defer release()

	rows, err := db.QueryContext(ctx, `SELECT namespace_id, kind, secret FROM namespaces ORDER BY namespace_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var caps []types.Capability
	for rows.Next() {
		var (
			ns, secret []byte
			kind       int
		)
		if err := rows.Scan(&ns, &kind, &secret); err != nil {
			return nil, err
		}
		c, err := scanCapability(ns, kind, secret)
		if err != nil {
			return nil, err
		}
		caps = append(caps, c)
	}
	return caps, rows.Err()
}

// DeleteNamespace removes the namespace row and its entries in one
// transaction.
func (b *Backend) DeleteNamespace(ctx context.Context, ns types.NamespaceID) error {
	db, release, err := b.conn()
	if err != nil {
		return err
	}
	defer release()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE namespace_id = ?`, ns[:]); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM namespaces WHERE namespace_id = ?`, ns[:]); err != nil {
		return err
	}
	return tx.Commit()
}

const entryColumns = `key, author_id, hash, len, timestamp`

// Entries selects the entries of ns for the query kind, ordered by key
// then author. Prefix queries use a key range.
func (b *Backend) Entries(ctx context.Context, ns types.NamespaceID, kind types.QueryKind, key []byte) ([]types.Entry, error) {
	db, release, err := b.conn()
	if err != nil {
		return nil, err
	}
	defer release()

	query := `SELECT ` + entryColumns + ` FROM entries WHERE namespace_id = ?`
	args := []any{ns[:]}
	switch {
	case kind == types.QueryKindKeyExact:
		query += ` AND key = ?`
		args = append(args, key)
	case kind == types.QueryKindKeyPrefix && len(key) > 0:
		query += ` AND key >= ?`
		args = append(args, key)
		if end := node.PrefixEnd(key); end != nil {
			query += ` AND key < ?`
			args = append(args, end)
		}
	}
	query += ` ORDER BY key, author_id`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []types.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (types.Entry, error) {
	var (
		e              types.Entry
		author, hash   []byte
		length, tstamp int64
	)
	if err := row.Scan(&e.Key, &author, &hash, &length, &tstamp); err != nil {
		return e, err
	}
	var err error
	if e.Author, err = types.AuthorIDFromBytes(author); err != nil {
		return e, err
	}
	if e.Hash, err = types.DigestFromBytes(hash); err != nil {
		return e, err
	}
	e.Len = uint64(length)
	e.Timestamp = uint64(tstamp)
	return e, nil
}

// Entry returns the entry at key by author.
func (b *Backend) Entry(ctx context.Context, ns types.NamespaceID, key []byte, author types.AuthorID) (types.Entry, bool, error) {
	db, release, err := b.conn()
	if err != nil {
		return types.Entry{}, false, err
	}
	defer release()

	row := db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE namespace_id = ? AND key = ? AND author_id = ?`,
		ns[:], key, author[:])
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Entry{}, false, nil
	}
	if err != nil {
		return types.Entry{}, false, err
	}
	return e, true, nil
}

// PutEntry upserts e on (namespace, key, author).
func (b *Backend) PutEntry(ctx context.Context, ns types.NamespaceID, e types.Entry) error {
	db, release, err := b.conn()
	if err != nil {
		return err
	}
	defer release()

	_, err = db.ExecContext(ctx,
		`INSERT INTO entries (namespace_id, `+entryColumns+`) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(namespace_id, key, author_id) DO UPDATE SET
		   hash = excluded.hash, len = excluded.len, timestamp = excluded.timestamp`,
		ns[:], e.Key, e.Author[:], e.Hash[:], int64(e.Len), int64(e.Timestamp))
	return err
}

// PutBlob stores compressed data. Existing blobs are left alone.
func (b *Backend) PutBlob(ctx context.Context, d types.Digest, data []byte) error {
	db, release, err := b.conn()
	if err != nil {
		return err
	}
	defer release()

	_, err = db.ExecContext(ctx,
		`INSERT INTO blobs (hash, data) VALUES (?, ?) ON CONFLICT(hash) DO NOTHING`, d[:], data)
	return err
}

// Blob returns the compressed data stored for d.
func (b *Backend) Blob(ctx context.Context, d types.Digest) ([]byte, bool, error) {
	db, release, err := b.conn()
	if err != nil {
		return nil, false, err
	}
	defer release()

	var data []byte
	err = db.QueryRowContext(ctx, `SELECT data FROM blobs WHERE hash = ?`, d[:]).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// HasBlob reports whether a blob row exists for d.
func (b *Backend) HasBlob(ctx context.Context, d types.Digest) (bool, error) {
	db, release, err := b.conn()
	if err != nil {
		return false, err
	}
	defer release()

	var n int
	err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM blobs WHERE hash = ?`, d[:]).Scan(&n)
	return n > 0, err
}

// PutPin upserts a pin.
func (b *Backend) PutPin(ctx context.Context, path []byte, d types.Digest) error {
	db, release, err := b.conn()
	if err != nil {
		return err
	}
	defer release()

	_, err = db.ExecContext(ctx,
		`INSERT INTO pins (path, hash) VALUES (?, ?)
		 ON CONFLICT(path) DO UPDATE SET hash = excluded.hash`, path, d[:])
	return err
}

// DeletePin deletes the pin at path, if any.
func (b *Backend) DeletePin(ctx context.Context, path []byte) error {
	db, release, err := b.conn()
	if err != nil {
		return err
	}
	defer release()

	_, err = db.ExecContext(ctx, `DELETE FROM pins WHERE path = ?`, path)
	return err
}

// PinList returns all pins ordered by path.
func (b *Backend) PinList(ctx context.Context) ([]types.Pin, error) {
	db, release, err := b.conn()
	if err != nil {
		return nil, err
	}
	defer release()

	rows, err := db.QueryContext(ctx, `SELECT path, hash FROM pins ORDER BY path`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pins []types.Pin
	for rows.Next() {
		var (
			p    types.Pin
			hash []byte
		)
		if err := rows.Scan(&p.Path, &hash); err != nil {
			return nil, err
		}
		if p.Hash, err = types.DigestFromBytes(hash); err != nil {
			return nil, err
		}
		pins = append(pins, p)
	}
	return pins, rows.Err()
}
