package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/soochol/deskflow/internal/deskflow"
)

const connectionColumns = `id, tenant_id, name, type, host, port, login, password, token, extras`

func scanConnection(row rowScanner) (*deskflow.Connection, error) {
	c := &deskflow.Connection{}
	var extrasJSON []byte
	var connType string
	if err := row.Scan(&c.ID, &c.TenantID, &c.Name, &connType, &c.Host, &c.Port, &c.Login, &c.Password, &c.Token, &extrasJSON); err != nil {
		return nil, err
	}
	c.Type = deskflow.ConnectionType(connType)
	if err := unmarshalJSON(extrasJSON, &c.Extras); err != nil {
		return nil, fmt.Errorf("unmarshal extras: %w", err)
	}
	return c, nil
}

func (d *DB) CreateConnection(ctx context.Context, c *deskflow.Connection) (err error) {
	ctx, span := startSpan(ctx, "CreateConnection", "INSERT")
	defer func() { endSpan(span, err) }()

	extrasJSON, _ := json.Marshal(c.Extras)
	res, err := d.Pool.ExecContext(ctx,
		`INSERT INTO connections (`+connectionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) ON CONFLICT (id) DO NOTHING`,
		c.ID, c.TenantID, c.Name, string(c.Type), c.Host, c.Port, c.Login, c.Password, c.Token, extrasJSON,
	)
	if err != nil {
		return fmt.Errorf("insert connection: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("connection %q: %w", c.ID, deskflow.ErrDuplicate)
	}
	return nil
}

func (d *DB) GetConnection(ctx context.Context, tenantID, id string) (c *deskflow.Connection, err error) {
	ctx, span := startSpan(ctx, "GetConnection", "SELECT")
	defer func() { endSpan(span, err) }()

	c, err = scanConnection(d.Pool.QueryRowContext(ctx,
		`SELECT `+connectionColumns+` FROM connections WHERE tenant_id = $1 AND id = $2`, tenantID, id,
	))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("connection %q: %w", id, deskflow.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get connection: %w", err)
	}
	return c, nil
}

func (d *DB) ListConnections(ctx context.Context, tenantID string) (out []*deskflow.Connection, err error) {
	ctx, span := startSpan(ctx, "ListConnections", "SELECT")
	defer func() { endSpan(span, err) }()

	rows, err := d.Pool.QueryContext(ctx,
		`SELECT `+connectionColumns+` FROM connections WHERE tenant_id = $1 ORDER BY name`, tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (d *DB) UpdateConnection(ctx context.Context, c *deskflow.Connection) (err error) {
	ctx, span := startSpan(ctx, "UpdateConnection", "UPDATE")
	defer func() { endSpan(span, err) }()

	extrasJSON, _ := json.Marshal(c.Extras)
	res, err := d.Pool.ExecContext(ctx,
		`UPDATE connections SET name=$1, type=$2, host=$3, port=$4, login=$5, password=$6, token=$7, extras=$8
		 WHERE tenant_id=$9 AND id=$10`,
		c.Name, string(c.Type), c.Host, c.Port, c.Login, c.Password, c.Token, extrasJSON, c.TenantID, c.ID,
	)
	if err != nil {
		return fmt.Errorf("update connection: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("connection %q: %w", c.ID, deskflow.ErrNotFound)
	}
	return nil
}

func (d *DB) DeleteConnection(ctx context.Context, tenantID, id string) (err error) {
	ctx, span := startSpan(ctx, "DeleteConnection", "DELETE")
	defer func() { endSpan(span, err) }()

	res, err := d.Pool.ExecContext(ctx, `DELETE FROM connections WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("connection %q: %w", id, deskflow.ErrNotFound)
	}
	return nil
}
