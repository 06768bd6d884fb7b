package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"github.com/haukened/storyline/internal/kv"
)

// keyExprs returns the SQL expressions for the partition and sort key of ix.
func (s *Store) keyExprs(ix kv.Index) (string, string, error) {
	if ix.IsPrimary() {
		return "pk", "sk", nil
	}
	known, ok := s.indexes[ix.Name]
	if !ok {
		return "", "", errors.Errorf("sqlite: unknown index %q", ix.Name)
	}
	return jsonPath(known.PartitionKey), jsonPath(known.SortKey), nil
}

// QueryPage returns up to Limit items of one index partition in ascending
// sort key order. Ties on the index sort key fall back to the primary key.
func (s *Store) QueryPage(ctx context.Context, q kv.Query) (kv.Page, error) {
	pkExpr, skExpr, err := s.keyExprs(q.Index)
	if err != nil {
		return kv.Page{}, err
	}
	where := []string{pkExpr + " = ?", skExpr + " IS NOT NULL"}
	args := []any{q.Partition}

	switch q.Sort.Op() {
	case kv.CondNone:
	case kv.CondEq:
		where = append(where, skExpr+" = ?")
		args = append(args, q.Sort.Value())
	case kv.CondLt:
		where = append(where, skExpr+" < ?")
		args = append(args, q.Sort.Value())
	case kv.CondGt:
		where = append(where, skExpr+" > ?")
		args = append(args, q.Sort.Value())
	case kv.CondBeginsWith:
		where = append(where, "substr("+skExpr+", 1, length(?)) = ?")
		args = append(args, q.Sort.Value(), q.Sort.Value())
	default:
		return kv.Page{}, errors.Errorf("sqlite: unsupported sort condition %d", q.Sort.Op())
	}

	if q.StartKey != nil {
		start := q.StartKey.Key()
		if q.Index.IsPrimary() {
			where = append(where, "sk > ?")
			args = append(args, start.SortKey)
		} else {
			where = append(where, "("+skExpr+", pk, sk) > (?, ?, ?)")
			args = append(args, q.StartKey[q.Index.SortKey], start.PartitionKey, start.SortKey)
		}
	}

	limit := s.limit(q.Limit)
	stmt := "SELECT pk, sk, body FROM items WHERE " + strings.Join(where, " AND ") +
		" ORDER BY " + skExpr + ", pk, sk LIMIT ?"
	args = append(args, limit+1)

	items, err := s.selectItems(ctx, stmt, args...)
	if err != nil {
		return kv.Page{}, err
	}
	return s.page(items, limit, q.Filter, q.Projection, q.Index), nil
}

// ScanPage reads items in primary key order; callers must not rely on it.
func (s *Store) ScanPage(ctx context.Context, sc kv.Scan) (kv.Page, error) {
	stmt := "SELECT pk, sk, body FROM items"
	var args []any
	if sc.StartKey != nil {
		start := sc.StartKey.Key()
		stmt += " WHERE (pk, sk) > (?, ?)"
		args = append(args, start.PartitionKey, start.SortKey)
	}
	limit := s.limit(sc.Limit)
	stmt += " ORDER BY pk, sk LIMIT ?"
	args = append(args, limit+1)

	items, err := s.selectItems(ctx, stmt, args...)
	if err != nil {
		return kv.Page{}, err
	}
	return s.page(items, limit, sc.Filter, sc.Projection, kv.Primary), nil
}

func (s *Store) limit(n int) int {
	if n <= 0 {
		return s.pageSize
	}
	return n
}

// page trims the over-fetched row, derives LastKey, then filters and projects.
func (s *Store) page(items []kv.Item, limit int, filter kv.Condition, projection []string, ix kv.Index) kv.Page {
	var p kv.Page
	if len(items) > limit {
		items = items[:limit]
		last := items[len(items)-1]
		p.LastKey = kv.Item{kv.PartitionKeyAttr: last[kv.PartitionKeyAttr], kv.SortKeyAttr: last[kv.SortKeyAttr]}
		if !ix.IsPrimary() {
			p.LastKey[ix.PartitionKey] = last[ix.PartitionKey]
			p.LastKey[ix.SortKey] = last[ix.SortKey]
		}
	}
	for _, it := range items {
		if filter.Eval(it) {
			p.Items = append(p.Items, project(it, projection))
		}
	}
	return p
}

func (s *Store) selectItems(ctx context.Context, stmt string, args ...any) ([]kv.Item, error) {
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite: query")
	}
	defer rows.Close()
	var items []kv.Item
	for rows.Next() {
		var pk, sk string
		var body sql.NullString
		if err := rows.Scan(&pk, &sk, &body); err != nil {
			return nil, errors.Wrap(err, "sqlite: scan row")
		}
		it, err := decode(body.String)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite: rows")
	}
	return items, nil
}
