package pgcrud

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickchristie/postgres-crud-mcp/internal/gateway"
)

const databaseInfoSQL = `
SELECT version(),
       current_database(),
       current_user,
       pg_catalog.pg_size_pretty(pg_catalog.pg_database_size(current_database())),
       (SELECT count(*)
          FROM pg_catalog.pg_class c
          JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
         WHERE c.relkind IN ('r', 'p')
           AND n.nspname NOT IN ('pg_catalog', 'information_schema', 'pg_toast'));
`

// GetDatabaseInfo reports the server version, database, user, size, table
// count and pool state.
func (p *PostgresCrud) GetDatabaseInfo(ctx context.Context) *DatabaseInfoOutput {
	startTime := time.Now()
	info, err := p.databaseInfo(ctx)
	if err != nil {
		return &DatabaseInfoOutput{Error: p.handleError("get_database_info", err)}
	}
	p.logger.Info().
		Str("tool", "get_database_info").
		Dur("duration", time.Since(startTime)).
		Msg("database info read")
	return &DatabaseInfoOutput{Success: true, Info: info}
}

func (p *PostgresCrud) databaseInfo(ctx context.Context) (*DatabaseInfo, error) {
	info := &DatabaseInfo{ReadOnly: p.config.ReadOnly}
	err := p.exec.View(ctx, func(ctx context.Context, tx pgx.Tx) error {
		err := tx.QueryRow(ctx, databaseInfoSQL).Scan(&info.Version, &info.Database, &info.User, &info.Size, &info.TableCount)
		if err != nil {
			return fmt.Errorf("read database info: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	info.Pool = poolInfo(p.gw.Stats())
	return info, nil
}

func poolInfo(s gateway.Stats) PoolInfo {
	return PoolInfo{
		Borrowed:       s.Borrowed,
		MaxConnections: s.MaxConns,
		Total:          s.TotalConns,
		Idle:           s.IdleConns,
		Discarded:      s.Discarded,
		Exhausted:      s.Exhausted,
	}
}
