// Package sqlite provides a SQLite-backed implementation of the kv.Store port.
// All items live in one table keyed by (pk, sk) with the full item stored as a
// JSON document; each secondary index is an expression index over the two
// JSON attributes it is keyed by, so index projections never drift from the
// item they are derived from.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"github.com/haukened/storyline/internal/kv"

	// database/sql SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

var _ kv.Store = (*Store)(nil)

// DefaultPageSize bounds a query or scan page when the caller sets no Limit.
const DefaultPageSize = 100

var attrName = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// Store implements kv.Store using SQLite (via database/sql). Writes that read
// before they write run in a transaction; open the database with
// _txlock=immediate so those transactions serialize instead of deadlocking.
type Store struct {
	db       *sql.DB
	indexes  map[string]kv.Index
	pageSize int
}

// New constructs a Store, initializing the table and one expression index per
// secondary index if absent.
func New(db *sql.DB, indexes ...kv.Index) (*Store, error) {
	s := &Store{db: db, indexes: make(map[string]kv.Index, len(indexes)), pageSize: DefaultPageSize}
	for _, ix := range indexes {
		if ix.IsPrimary() || !attrName.MatchString(ix.PartitionKey) || !attrName.MatchString(ix.SortKey) {
			return nil, errors.Errorf("sqlite: invalid index definition %+v", ix)
		}
		s.indexes[ix.Name] = ix
	}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	const schema = `CREATE TABLE IF NOT EXISTS items (
pk TEXT NOT NULL,
sk TEXT NOT NULL,
body TEXT NOT NULL,
PRIMARY KEY (pk, sk)
);`
	if _, err := s.db.Exec(schema); err != nil {
		return errors.Wrap(err, "sqlite: create items table")
	}
	for _, ix := range s.indexes {
		ddl := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON items(%s, %s, pk, sk)`,
			indexTable(ix), jsonPath(ix.PartitionKey), jsonPath(ix.SortKey))
		if _, err := s.db.Exec(ddl); err != nil {
			return errors.Wrapf(err, "sqlite: create index %s", ix.Name)
		}
	}
	return nil
}

func indexTable(ix kv.Index) string {
	return "idx_" + strings.ToLower(strings.NewReplacer("-", "_", ".", "_").Replace(ix.Name))
}

func jsonPath(attr string) string { return fmt.Sprintf("json_extract(body, '$.%s')", attr) }

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getItem(ctx context.Context, q queryer, key kv.Key) (kv.Item, error) {
	var body string
	err := q.QueryRowContext(ctx, `SELECT body FROM items WHERE pk=? AND sk=?`, key.PartitionKey, key.SortKey).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "sqlite: get item")
	}
	return decode(body)
}

func decode(body string) (kv.Item, error) {
	var it kv.Item
	if err := json.Unmarshal([]byte(body), &it); err != nil {
		return nil, errors.Wrap(err, "sqlite: decode item")
	}
	return it, nil
}

func putItem(ctx context.Context, tx *sql.Tx, item kv.Item) error {
	key := item.Key()
	if key.PartitionKey == "" || key.SortKey == "" {
		return errors.New("sqlite: item is missing its primary key")
	}
	body, err := json.Marshal(item)
	if err != nil {
		return errors.Wrap(err, "sqlite: encode item")
	}
	const q = `INSERT INTO items (pk, sk, body) VALUES (?,?,?) ON CONFLICT(pk, sk) DO UPDATE SET body=excluded.body`
	if _, err := tx.ExecContext(ctx, q, key.PartitionKey, key.SortKey, string(body)); err != nil {
		return errors.Wrap(err, "sqlite: put item")
	}
	return nil
}

func deleteItem(ctx context.Context, tx *sql.Tx, key kv.Key) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM items WHERE pk=? AND sk=?`, key.PartitionKey, key.SortKey); err != nil {
		return errors.Wrap(err, "sqlite: delete item")
	}
	return nil
}

// withTx runs fn in a transaction, committing only if fn succeeds.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "sqlite: begin")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "sqlite: commit")
	}
	return nil
}

// GetItem returns the item or nil. SQLite reads are always strongly consistent.
func (s *Store) GetItem(ctx context.Context, key kv.Key, _ kv.Consistency) (kv.Item, error) {
	return getItem(ctx, s.db, key)
}

// PutItem writes item if cond holds for the current item.
func (s *Store) PutItem(ctx context.Context, item kv.Item, cond kv.Condition) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		cur, err := getItem(ctx, tx, item.Key())
		if err != nil {
			return err
		}
		if !cond.Eval(cur) {
			return kv.ErrConditionalCheckFailed
		}
		return putItem(ctx, tx, item)
	})
}

// UpdateItem applies upd if cond holds and returns the new item.
func (s *Store) UpdateItem(ctx context.Context, key kv.Key, upd *kv.Update, cond kv.Condition) (kv.Item, error) {
	var out kv.Item
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		cur, err := getItem(ctx, tx, key)
		if err != nil {
			return err
		}
		if !cond.Eval(cur) {
			return kv.ErrConditionalCheckFailed
		}
		out = upd.Apply(key, cur)
		return putItem(ctx, tx, out)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteItem removes the item if cond holds.
func (s *Store) DeleteItem(ctx context.Context, key kv.Key, cond kv.Condition) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if !cond.IsZero() {
			cur, err := getItem(ctx, tx, key)
			if err != nil {
				return err
			}
			if !cond.Eval(cur) {
				return kv.ErrConditionalCheckFailed
			}
		}
		return deleteItem(ctx, tx, key)
	})
}

// TransactWriteItems evaluates every condition first and only then applies
// the writes, all inside one SQLite transaction.
func (s *Store) TransactWriteItems(ctx context.Context, items []kv.TransactItem) error {
	if err := kv.ValidateTransaction(items); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		current := make([]kv.Item, len(items))
		reasons := make([]string, len(items))
		failed := false
		for i, ti := range items {
			cur, err := getItem(ctx, tx, ti.ItemKey())
			if err != nil {
				return err
			}
			current[i] = cur
			reasons[i] = "None"
			if !ti.Condition.Eval(cur) {
				reasons[i] = "ConditionalCheckFailed"
				failed = true
			}
		}
		if failed {
			return &kv.CanceledError{Reasons: reasons}
		}
		for i, ti := range items {
			var err error
			switch ti.Kind {
			case kv.OpPut:
				err = putItem(ctx, tx, ti.Item)
			case kv.OpUpdate:
				err = putItem(ctx, tx, ti.Update.Apply(ti.Key, current[i]))
			case kv.OpDelete:
				err = deleteItem(ctx, tx, ti.Key)
			case kv.OpConditionCheck:
			default:
				err = errors.Errorf("sqlite: unknown transaction op %d", ti.Kind)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// BatchGetItems reads each key; absent keys are skipped. Reads are always strong.
func (s *Store) BatchGetItems(ctx context.Context, keys []kv.Key, _ kv.Consistency, projection ...string) ([]kv.Item, error) {
	out := make([]kv.Item, 0, len(keys))
	for _, k := range keys {
		it, err := getItem(ctx, s.db, k)
		if err != nil {
			return nil, err
		}
		if it != nil {
			out = append(out, project(it, projection))
		}
	}
	return out, nil
}

func project(it kv.Item, names []string) kv.Item {
	if len(names) == 0 {
		return it
	}
	out := make(kv.Item, len(names))
	for _, n := range names {
		if v, ok := it[n]; ok {
			out[n] = v
		}
	}
	return out
}
