package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/samber/mo"

	dbtx "patchcenter/db/tx"
	"patchcenter/models"
)

type PostgresOperationAgentsRepository struct {
	db     *sqlx.DB
	schema string
}

// DBOperationAgent represents the database schema for the operation_agents table
type DBOperationAgent struct {
	OperationID string `db:"operation_id"`
	AgentID     string `db:"agent_id"`
	OrgID       string `db:"organization_id"`
	Status      string `db:"status"`

	AppsTotal     int `db:"apps_total"`
	AppsPending   int `db:"apps_pending"`
	AppsFailed    int `db:"apps_failed"`
	AppsCompleted int `db:"apps_completed"`

	PickedUpTime  *time.Time `db:"picked_up_time"`
	CompletedTime *time.Time `db:"completed_time"`
	ExpiredTime   *time.Time `db:"expired_time"`
	Errors        *string    `db:"errors"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

var operationAgentsColumns = []string{
	"operation_id",
	"agent_id",
	"organization_id",
	"status",
	"apps_total",
	"apps_pending",
	"apps_failed",
	"apps_completed",
	"picked_up_time",
	"completed_time",
	"expired_time",
	"errors",
	"created_at",
	"updated_at",
}

func NewPostgresOperationAgentsRepository(db *sqlx.DB, schema string) *PostgresOperationAgentsRepository {
	return &PostgresOperationAgentsRepository{db: db, schema: schema}
}

func dbOperationAgentToModel(rec *DBOperationAgent) *models.OperationPerAgent {
	return &models.OperationPerAgent{
		OperationID:   rec.OperationID,
		AgentID:       rec.AgentID,
		OrgID:         rec.OrgID,
		Status:        models.AgentOperationStatus(rec.Status),
		AppsTotal:     rec.AppsTotal,
		AppsPending:   rec.AppsPending,
		AppsFailed:    rec.AppsFailed,
		AppsCompleted: rec.AppsCompleted,
		PickedUpTime:  rec.PickedUpTime,
		CompletedTime: rec.CompletedTime,
		ExpiredTime:   rec.ExpiredTime,
		Errors:        rec.Errors,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
	}
}

func (r *PostgresOperationAgentsRepository) CreateOperationAgent(
	ctx context.Context,
	rec *models.OperationPerAgent,
) error {
	db := dbtx.GetTransactional(ctx, r.db)
	columnsStr := strings.Join(operationAgentsColumns, ", ")

	query := fmt.Sprintf(`
		INSERT INTO %s.operation_agents (operation_id, agent_id, organization_id, status,
			apps_total, apps_pending, errors, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING %s`, r.schema, columnsStr)

	var returned DBOperationAgent
	err := db.QueryRowxContext(ctx, query,
		rec.OperationID, rec.AgentID, rec.OrgID, string(rec.Status),
		rec.AppsTotal, rec.AppsPending, rec.Errors).
		StructScan(&returned)
	if err != nil {
		return fmt.Errorf("failed to create operation agent record: %w", err)
	}

	*rec = *dbOperationAgentToModel(&returned)
	return nil
}

func (r *PostgresOperationAgentsRepository) GetOperationAgent(
	ctx context.Context,
	operationID, agentID string,
	organizationID string,
) (mo.Option[*models.OperationPerAgent], error) {
	db := dbtx.GetTransactional(ctx, r.db)
	columnsStr := strings.Join(operationAgentsColumns, ", ")
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s.operation_agents
		WHERE operation_id = $1 AND agent_id = $2 AND organization_id = $3`, columnsStr, r.schema)

	var rec DBOperationAgent
	err := db.GetContext(ctx, &rec, query, operationID, agentID, organizationID)
	if err != nil {
		if err == sql.ErrNoRows {
			return mo.None[*models.OperationPerAgent](), nil
		}
		return mo.None[*models.OperationPerAgent](), fmt.Errorf("failed to get operation agent record: %w", err)
	}

	return mo.Some(dbOperationAgentToModel(&rec)), nil
}

func (r *PostgresOperationAgentsRepository) GetOperationAgents(
	ctx context.Context,
	operationID string,
	organizationID string,
) ([]*models.OperationPerAgent, error) {
	db := dbtx.GetTransactional(ctx, r.db)
	columnsStr := strings.Join(operationAgentsColumns, ", ")
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s.operation_agents
		WHERE operation_id = $1 AND organization_id = $2
		ORDER BY agent_id ASC`, columnsStr, r.schema)

	var recs []DBOperationAgent
	err := db.SelectContext(ctx, &recs, query, operationID, organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get operation agent records: %w", err)
	}

	result := make([]*models.OperationPerAgent, 0, len(recs))
	for i := range recs {
		result = append(result, dbOperationAgentToModel(&recs[i]))
	}
	return result, nil
}

func (r *PostgresOperationAgentsRepository) GetOperationsForAgent(
	ctx context.Context,
	agentID string,
	organizationID string,
) ([]*models.OperationPerAgent, error) {
	db := dbtx.GetTransactional(ctx, r.db)
	columnsStr := strings.Join(operationAgentsColumns, ", ")
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s.operation_agents
		WHERE agent_id = $1 AND organization_id = $2
		ORDER BY created_at ASC`, columnsStr, r.schema)

	var recs []DBOperationAgent
	err := db.SelectContext(ctx, &recs, query, agentID, organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get operations for agent: %w", err)
	}

	result := make([]*models.OperationPerAgent, 0, len(recs))
	for i := range recs {
		result = append(result, dbOperationAgentToModel(&recs[i]))
	}
	return result, nil
}

// MarkPickedUp transitions pending_pickup -> pending_results and stamps the
// pickup time. Guarded on the current status so the transition happens at
// most once.
func (r *PostgresOperationAgentsRepository) MarkPickedUp(
	ctx context.Context,
	operationID, agentID string,
	organizationID string,
) (bool, error) {
	db := dbtx.GetTransactional(ctx, r.db)
	query := fmt.Sprintf(`
		UPDATE %s.operation_agents
		SET status = $4, picked_up_time = NOW(), updated_at = NOW()
		WHERE operation_id = $1 AND agent_id = $2 AND organization_id = $3 AND status = $5`, r.schema)

	result, err := db.ExecContext(ctx, query, operationID, agentID, organizationID,
		string(models.AgentStatusPendingResults), string(models.AgentStatusPendingPickup))
	if err != nil {
		return false, fmt.Errorf("failed to mark operation agent picked up: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// ApplyAppResult atomically moves one app from the pending counter to the
// completed or failed counter and returns the updated record. Only records in
// pending_results accept results; returns None when the record already left
// that state or apps_pending was already zero.
func (r *PostgresOperationAgentsRepository) ApplyAppResult(
	ctx context.Context,
	operationID, agentID string,
	organizationID string,
	withErrors bool,
) (mo.Option[*models.OperationPerAgent], error) {
	db := dbtx.GetTransactional(ctx, r.db)
	columnsStr := strings.Join(operationAgentsColumns, ", ")

	resultColumn := "apps_completed"
	if withErrors {
		resultColumn = "apps_failed"
	}

	query := fmt.Sprintf(`
		UPDATE %s.operation_agents
		SET apps_pending = apps_pending - 1, %s = %s + 1, updated_at = NOW()
		WHERE operation_id = $1 AND agent_id = $2 AND organization_id = $3
		AND status = $4 AND apps_pending > 0
		RETURNING %s`, r.schema, resultColumn, resultColumn, columnsStr)

	var rec DBOperationAgent
	err := db.QueryRowxContext(ctx, query, operationID, agentID, organizationID,
		string(models.AgentStatusPendingResults)).StructScan(&rec)
	if err != nil {
		if err == sql.ErrNoRows {
			return mo.None[*models.OperationPerAgent](), nil
		}
		return mo.None[*models.OperationPerAgent](), fmt.Errorf("failed to apply app result: %w", err)
	}

	return mo.Some(dbOperationAgentToModel(&rec)), nil
}

// MarkTerminal transitions the record into a terminal status, guarded on the
// expected current status. Completed-ish statuses stamp completed_time;
// expired stamps both expired_time and completed_time, matching how the
// source system closed out expired work.
func (r *PostgresOperationAgentsRepository) MarkTerminal(
	ctx context.Context,
	operationID, agentID string,
	organizationID string,
	from, to models.AgentOperationStatus,
	errors *string,
) (bool, error) {
	if !from.CanTransitionTo(to) || !to.Terminal() {
		return false, fmt.Errorf("invalid terminal transition: %s -> %s", from, to)
	}

	db := dbtx.GetTransactional(ctx, r.db)
	var query string
	if to == models.AgentStatusExpired {
		query = fmt.Sprintf(`
			UPDATE %s.operation_agents
			SET status = $4, expired_time = NOW(), completed_time = NOW(),
				errors = COALESCE($6, errors), updated_at = NOW()
			WHERE operation_id = $1 AND agent_id = $2 AND organization_id = $3 AND status = $5`, r.schema)
	} else {
		query = fmt.Sprintf(`
			UPDATE %s.operation_agents
			SET status = $4, completed_time = NOW(),
				errors = COALESCE($6, errors), updated_at = NOW()
			WHERE operation_id = $1 AND agent_id = $2 AND organization_id = $3 AND status = $5`, r.schema)
	}

	result, err := db.ExecContext(ctx, query, operationID, agentID, organizationID,
		string(to), string(from), errors)
	if err != nil {
		return false, fmt.Errorf("failed to mark operation agent terminal: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// GetOverduePickedUp returns records still pending results whose pickup time
// is older than the cutoff, across all organizations. Used by the expiration
// sweeper.
func (r *PostgresOperationAgentsRepository) GetOverduePickedUp(
	ctx context.Context,
	cutoff time.Time,
) ([]*models.OperationPerAgent, error) {
	db := dbtx.GetTransactional(ctx, r.db)
	columnsStr := strings.Join(operationAgentsColumns, ", ")
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s.operation_agents
		WHERE status = $1 AND picked_up_time IS NOT NULL AND picked_up_time < $2
		ORDER BY picked_up_time ASC`, columnsStr, r.schema)

	var recs []DBOperationAgent
	err := db.SelectContext(ctx, &recs, query, string(models.AgentStatusPendingResults), cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to get overdue picked up records: %w", err)
	}

	result := make([]*models.OperationPerAgent, 0, len(recs))
	for i := range recs {
		result = append(result, dbOperationAgentToModel(&recs[i]))
	}
	return result, nil
}
