package repository

import (
	"context"
	"fmt"

	"SigRelay/internal/domain/models"
	"SigRelay/pkg/clickhouse"
	"SigRelay/pkg/logger"
)

const auditDDL = `CREATE TABLE IF NOT EXISTS signal_audit (
	signal_id   String,
	prev_status String,
	new_status  String,
	actor       String,
	at          DateTime64(9)
) ENGINE = MergeTree()
ORDER BY (signal_id, at)`

// ClickHouseAudit mirrors audit records into ClickHouse for the
// dashboard team. SQLite stays the source of truth; this copy only
// serves analytical queries.
type ClickHouseAudit struct {
	client *clickhouse.Client
	log    *logger.Logger
}

func NewClickHouseAudit(ctx context.Context, lgr *logger.Logger, client *clickhouse.Client) (*ClickHouseAudit, error) {
	if err := client.InitSchema(ctx, []string{auditDDL}); err != nil {
		return nil, fmt.Errorf("audit schema: %w", err)
	}
	return &ClickHouseAudit{client: client, log: lgr}, nil
}

func (c *ClickHouseAudit) Append(ctx context.Context, rec *models.AuditRecord) error {
	_, err := c.client.DB().ExecContext(ctx,
		`INSERT INTO signal_audit (signal_id, prev_status, new_status, actor, at)
		 VALUES (?,?,?,?,?)`,
		rec.SignalID, string(rec.PreviousStatus), string(rec.NewStatus), rec.Actor, rec.At)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

func (c *ClickHouseAudit) Close() error {
	return c.client.Close()
}

// NopAudit discards audit mirrors. Used when ClickHouse is not
// configured.
type NopAudit struct{}

func (NopAudit) Append(context.Context, *models.AuditRecord) error { return nil }
func (NopAudit) Close() error                                      { return nil }
