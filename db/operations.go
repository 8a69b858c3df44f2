package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/samber/mo"

	dbtx "patchcenter/db/tx"
	"patchcenter/models"
)

type PostgresOperationsRepository struct {
	db     *sqlx.DB
	schema string
}

// DBOperation represents the database schema for the operations table
type DBOperation struct {
	ID            string         `db:"id"`
	OrgID         string         `db:"organization_id"`
	OperationType string         `db:"operation_type"`
	Plugin        string         `db:"plugin"`
	PerformedOn   string         `db:"performed_on"`
	TagID         *string        `db:"tag_id"`
	AgentIDs      pq.StringArray `db:"agent_ids"`
	RestartPolicy string         `db:"restart_policy"`
	CPUThrottle   string         `db:"cpu_throttle"`
	NetThrottle   int            `db:"net_throttle"`
	CreatedBy     string         `db:"created_by"`

	AgentsTotal               int `db:"agents_total"`
	AgentsCompleted           int `db:"agents_completed"`
	AgentsCompletedWithErrors int `db:"agents_completed_with_errors"`
	AgentsFailed              int `db:"agents_failed"`
	AgentsExpired             int `db:"agents_expired"`
	AgentsPendingPickup       int `db:"agents_pending_pickup"`
	AgentsPendingResults      int `db:"agents_pending_results"`

	CreatedAt     time.Time  `db:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"`
	CompletedTime *time.Time `db:"completed_time"`
}

// Column names for operations table
var operationsColumns = []string{
	"id",
	"organization_id",
	"operation_type",
	"plugin",
	"performed_on",
	"tag_id",
	"agent_ids",
	"restart_policy",
	"cpu_throttle",
	"net_throttle",
	"created_by",
	"agents_total",
	"agents_completed",
	"agents_completed_with_errors",
	"agents_failed",
	"agents_expired",
	"agents_pending_pickup",
	"agents_pending_results",
	"created_at",
	"updated_at",
	"completed_time",
}

func NewPostgresOperationsRepository(db *sqlx.DB, schema string) *PostgresOperationsRepository {
	return &PostgresOperationsRepository{db: db, schema: schema}
}

func dbOperationToModel(dbOp *DBOperation) *models.Operation {
	return &models.Operation{
		ID:                        dbOp.ID,
		OrgID:                     dbOp.OrgID,
		OperationType:             models.OperationType(dbOp.OperationType),
		Plugin:                    dbOp.Plugin,
		PerformedOn:               models.PerformedOn(dbOp.PerformedOn),
		TagID:                     dbOp.TagID,
		AgentIDs:                  []string(dbOp.AgentIDs),
		RestartPolicy:             models.RestartPolicy(dbOp.RestartPolicy),
		CPUThrottle:               models.CPUThrottle(dbOp.CPUThrottle),
		NetThrottle:               dbOp.NetThrottle,
		CreatedBy:                 dbOp.CreatedBy,
		AgentsTotal:               dbOp.AgentsTotal,
		AgentsCompleted:           dbOp.AgentsCompleted,
		AgentsCompletedWithErrors: dbOp.AgentsCompletedWithErrors,
		AgentsFailed:              dbOp.AgentsFailed,
		AgentsExpired:             dbOp.AgentsExpired,
		AgentsPendingPickup:       dbOp.AgentsPendingPickup,
		AgentsPendingResults:      dbOp.AgentsPendingResults,
		CreatedAt:                 dbOp.CreatedAt,
		UpdatedAt:                 dbOp.UpdatedAt,
		CompletedTime:             dbOp.CompletedTime,
	}
}

func (r *PostgresOperationsRepository) CreateOperation(ctx context.Context, op *models.Operation) error {
	db := dbtx.GetTransactional(ctx, r.db)
	columnsStr := strings.Join(operationsColumns, ", ")

	query := fmt.Sprintf(`
		INSERT INTO %s.operations (id, organization_id, operation_type, plugin, performed_on,
			tag_id, agent_ids, restart_policy, cpu_throttle, net_throttle, created_by,
			agents_total, agents_pending_pickup, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW(), NOW())
		RETURNING %s`, r.schema, columnsStr)

	var returned DBOperation
	err := db.QueryRowxContext(ctx, query,
		op.ID, op.OrgID, string(op.OperationType), op.Plugin, string(op.PerformedOn),
		op.TagID, pq.StringArray(op.AgentIDs), string(op.RestartPolicy),
		string(op.CPUThrottle), op.NetThrottle, op.CreatedBy,
		op.AgentsTotal, op.AgentsPendingPickup).
		StructScan(&returned)
	if err != nil {
		return fmt.Errorf("failed to create operation: %w", err)
	}

	*op = *dbOperationToModel(&returned)
	return nil
}

func (r *PostgresOperationsRepository) GetOperationByID(
	ctx context.Context,
	id string,
	organizationID string,
) (mo.Option[*models.Operation], error) {
	db := dbtx.GetTransactional(ctx, r.db)
	columnsStr := strings.Join(operationsColumns, ", ")
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s.operations
		WHERE id = $1 AND organization_id = $2`, columnsStr, r.schema)

	var dbOp DBOperation
	err := db.GetContext(ctx, &dbOp, query, id, organizationID)
	if err != nil {
		if err == sql.ErrNoRows {
			return mo.None[*models.Operation](), nil
		}
		return mo.None[*models.Operation](), fmt.Errorf("failed to get operation: %w", err)
	}

	return mo.Some(dbOperationToModel(&dbOp)), nil
}

func (r *PostgresOperationsRepository) GetOperationsByType(
	ctx context.Context,
	operationType models.OperationType,
	organizationID string,
) ([]*models.Operation, error) {
	db := dbtx.GetTransactional(ctx, r.db)
	columnsStr := strings.Join(operationsColumns, ", ")
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s.operations
		WHERE operation_type = $1 AND organization_id = $2
		ORDER BY created_at ASC`, columnsStr, r.schema)

	var dbOps []DBOperation
	err := db.SelectContext(ctx, &dbOps, query, string(operationType), organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get operations by type: %w", err)
	}

	ops := make([]*models.Operation, 0, len(dbOps))
	for i := range dbOps {
		ops = append(ops, dbOperationToModel(&dbOps[i]))
	}
	return ops, nil
}

// MoveAgentCounter atomically moves one agent between two aggregate counter
// columns on the master record. The update is a single guarded statement so
// concurrent reporters can never lose an update or drive a counter negative.
// Returns false when the guard did not hold (counter already at zero), which
// callers treat as an idempotent no-op.
func (r *PostgresOperationsRepository) MoveAgentCounter(
	ctx context.Context,
	operationID string,
	organizationID string,
	from, to models.AgentOperationStatus,
) (bool, error) {
	fromColumn := from.CounterColumn()
	toColumn := to.CounterColumn()
	if fromColumn == "" || toColumn == "" || fromColumn == toColumn {
		return false, fmt.Errorf("invalid counter move: %s -> %s", from, to)
	}

	db := dbtx.GetTransactional(ctx, r.db)
	query := fmt.Sprintf(`
		UPDATE %s.operations
		SET %s = %s - 1, %s = %s + 1, updated_at = NOW()
		WHERE id = $1 AND organization_id = $2 AND %s > 0`,
		r.schema, fromColumn, fromColumn, toColumn, toColumn, fromColumn)

	result, err := db.ExecContext(ctx, query, operationID, organizationID)
	if err != nil {
		return false, fmt.Errorf("failed to move agent counter: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// FinalizeIfComplete sets completed_time exactly once, when no agents remain
// in a pending state. Returns true only for the update that actually set it.
func (r *PostgresOperationsRepository) FinalizeIfComplete(
	ctx context.Context,
	operationID string,
	organizationID string,
) (bool, error) {
	db := dbtx.GetTransactional(ctx, r.db)
	query := fmt.Sprintf(`
		UPDATE %s.operations
		SET completed_time = NOW(), updated_at = NOW()
		WHERE id = $1 AND organization_id = $2
		AND completed_time IS NULL
		AND agents_pending_pickup = 0 AND agents_pending_results = 0`, r.schema)

	result, err := db.ExecContext(ctx, query, operationID, organizationID)
	if err != nil {
		return false, fmt.Errorf("failed to finalize operation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

func (r *PostgresOperationsRepository) DeleteOperation(
	ctx context.Context,
	id string,
	organizationID string,
) (bool, error) {
	db := dbtx.GetTransactional(ctx, r.db)
	query := fmt.Sprintf(`
		DELETE FROM %s.operations
		WHERE id = $1 AND organization_id = $2`, r.schema)

	result, err := db.ExecContext(ctx, query, id, organizationID)
	if err != nil {
		return false, fmt.Errorf("failed to delete operation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}
