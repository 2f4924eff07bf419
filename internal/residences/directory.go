// Package residences reads the unit directory owned by the residences service.
package residences

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/backresidences/billing/internal/billing"
)

// Directory implements billing.UnitDirectory over the units table.
type Directory struct {
	pool *pgxpool.Pool
}

// NewDirectory constructs Directory.
func NewDirectory(pool *pgxpool.Pool) *Directory {
	return &Directory{pool: pool}
}

const unitColumns = `id, code, block, unit_type, area, owner_id, owner_name, occupied`

func scanUnit(row pgx.Row) (billing.Unit, error) {
	var u billing.Unit
	var ownerID pgtype.Int8
	if err := row.Scan(&u.ID, &u.Code, &u.Block, &u.Type, &u.Area, &ownerID, &u.OwnerName, &u.Occupied); err != nil {
		return billing.Unit{}, err
	}
	u.OwnerID = ownerID.Int64
	return u, nil
}

// GetUnit fetches an active unit.
func (d *Directory) GetUnit(ctx context.Context, id int64) (billing.Unit, error) {
	u, err := scanUnit(d.pool.QueryRow(ctx, `SELECT `+unitColumns+` FROM units WHERE id = $1 AND active`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return billing.Unit{}, &billing.NotFoundError{Entity: "unit", Key: strconv.FormatInt(id, 10)}
	}
	return u, err
}

// ListUnits lists active units matching filter ordered by block and code.
func (d *Directory) ListUnits(ctx context.Context, filter billing.UnitFilter) ([]billing.Unit, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT `+unitColumns+`
		FROM units
		WHERE active
		  AND (cardinality($1::text[]) = 0 OR block = ANY($1))
		  AND ($2 = FALSE OR occupied)
		  AND (cardinality($3::bigint[]) = 0 OR id = ANY($3))
		ORDER BY block, code`,
		nonNil(filter.Blocks), filter.OccupiedOnly, nonNil(filter.UnitIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []billing.Unit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// nonNil keeps pgx from encoding an empty filter as NULL.
func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}
