package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ErrDuplicateGroup reports an attempt to create or rename a group to a
// name that is already taken.
var ErrDuplicateGroup = errors.New("group name already exists")

// CreateGroup adds a group at the end of the ordering.
func (s *Store) CreateGroup(ctx context.Context, name string) (*Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("group name is empty")
	}

	var group *Group
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var next int64
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(ordering), 0) + 1 FROM groups`,
		).Scan(&next); err != nil {
			return fmt.Errorf("next group ordering: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO groups (name, ordering) VALUES (?, ?)`, name, next)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s", ErrDuplicateGroup, name)
			}
			return fmt.Errorf("insert group: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}
		group = &Group{ID: id, Name: name, Ordering: next}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return group, nil
}

// Groups returns every group in display order.
func (s *Store) Groups(ctx context.Context) ([]*Group, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT id, name, ordering FROM groups ORDER BY ordering, id`)
	if err != nil {
		return nil, fmt.Errorf("query groups: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var groups []*Group
	for rows.Next() {
		var group Group
		if err := rows.Scan(&group.ID, &group.Name, &group.Ordering); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, &group)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate groups: %w", err)
	}
	return groups, nil
}

// GroupByName fetches a group by its exact name. Returns nil, nil when no
// group matches.
func (s *Store) GroupByName(ctx context.Context, name string) (*Group, error) {
	var group Group
	err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT id, name, ordering FROM groups WHERE name = ?`, strings.TrimSpace(name),
	).Scan(&group.ID, &group.Name, &group.Ordering)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch group by name: %w", err)
	}
	return &group, nil
}

// RenameGroup changes the group's display name.
func (s *Store) RenameGroup(ctx context.Context, id int64, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("group name is empty")
	}
	res, err := s.execWithRetry(ctx, `UPDATE groups SET name = ? WHERE id = ?`, name, id)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateGroup, name)
		}
		return fmt.Errorf("rename group %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("group %d not found", id)
	}
	return nil
}

// PlaceGroup moves the group to a 1-based position in the ordering and
// renumbers the rest to stay contiguous. Positions beyond the end clamp
// to the last slot.
func (s *Store) PlaceGroup(ctx context.Context, id int64, position int) error {
	if position < 1 {
		position = 1
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT id FROM groups ORDER BY ordering, id`)
		if err != nil {
			return fmt.Errorf("query group order: %w", err)
		}
		var ids []int64
		for rows.Next() {
			var gid int64
			if err := rows.Scan(&gid); err != nil {
				_ = rows.Close()
				return fmt.Errorf("scan group id: %w", err)
			}
			ids = append(ids, gid)
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return fmt.Errorf("iterate group ids: %w", err)
		}
		_ = rows.Close()

		idx := -1
		for i, gid := range ids {
			if gid == id {
				idx = i
				break
			}
		}
		if idx == -1 {
			return fmt.Errorf("group %d not found", id)
		}

		ids = append(ids[:idx], ids[idx+1:]...)
		target := position - 1
		if target > len(ids) {
			target = len(ids)
		}
		ids = append(ids[:target], append([]int64{id}, ids[target:]...)...)

		for i, gid := range ids {
			if _, err := tx.ExecContext(ctx,
				`UPDATE groups SET ordering = ? WHERE id = ?`, int64(i+1), gid); err != nil {
				return fmt.Errorf("renumber group %d: %w", gid, err)
			}
		}
		return nil
	})
}

// DeleteGroup removes the group. Member feeds stay subscribed; the
// foreign key sets their group to NULL. Returns false when the group did
// not exist.
func (s *Store) DeleteGroup(ctx context.Context, id int64) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM groups WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete group %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}
