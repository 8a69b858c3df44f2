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

type PostgresOperationAppsRepository struct {
	db     *sqlx.DB
	schema string
}

// DBOperationApp represents the database schema for the operation_apps table
type DBOperationApp struct {
	OperationID string  `db:"operation_id"`
	AgentID     string  `db:"agent_id"`
	AppID       string  `db:"app_id"`
	OrgID       string  `db:"organization_id"`
	AppName     string  `db:"app_name"`
	AppVersion  string  `db:"app_version"`
	Results     string  `db:"results"`
	Errors      *string `db:"errors"`

	ResultsReceivedTime *time.Time `db:"results_received_time"`
	CreatedAt           time.Time  `db:"created_at"`
}

var operationAppsColumns = []string{
	"operation_id",
	"agent_id",
	"app_id",
	"organization_id",
	"app_name",
	"app_version",
	"results",
	"results_received_time",
	"errors",
	"created_at",
}

func NewPostgresOperationAppsRepository(db *sqlx.DB, schema string) *PostgresOperationAppsRepository {
	return &PostgresOperationAppsRepository{db: db, schema: schema}
}

func dbOperationAppToModel(rec *DBOperationApp) *models.OperationPerApp {
	return &models.OperationPerApp{
		OperationID:         rec.OperationID,
		AgentID:             rec.AgentID,
		AppID:               rec.AppID,
		OrgID:               rec.OrgID,
		AppName:             rec.AppName,
		AppVersion:          rec.AppVersion,
		Results:             models.AppResultStatus(rec.Results),
		ResultsReceivedTime: rec.ResultsReceivedTime,
		Errors:              rec.Errors,
		CreatedAt:           rec.CreatedAt,
	}
}

func (r *PostgresOperationAppsRepository) CreateOperationApps(
	ctx context.Context,
	recs []*models.OperationPerApp,
) error {
	if len(recs) == 0 {
		return nil
	}

	db := dbtx.GetTransactional(ctx, r.db)
	query := fmt.Sprintf(`
		INSERT INTO %s.operation_apps (operation_id, agent_id, app_id, organization_id,
			app_name, app_version, results, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())`, r.schema)

	for _, rec := range recs {
		_, err := db.ExecContext(ctx, query,
			rec.OperationID, rec.AgentID, rec.AppID, rec.OrgID,
			rec.AppName, rec.AppVersion, string(rec.Results))
		if err != nil {
			return fmt.Errorf("failed to create operation app record for app %s: %w", rec.AppID, err)
		}
	}

	return nil
}

func (r *PostgresOperationAppsRepository) GetOperationApp(
	ctx context.Context,
	operationID, agentID, appID string,
	organizationID string,
) (mo.Option[*models.OperationPerApp], error) {
	db := dbtx.GetTransactional(ctx, r.db)
	columnsStr := strings.Join(operationAppsColumns, ", ")
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s.operation_apps
		WHERE operation_id = $1 AND agent_id = $2 AND app_id = $3 AND organization_id = $4`,
		columnsStr, r.schema)

	var rec DBOperationApp
	err := db.GetContext(ctx, &rec, query, operationID, agentID, appID, organizationID)
	if err != nil {
		if err == sql.ErrNoRows {
			return mo.None[*models.OperationPerApp](), nil
		}
		return mo.None[*models.OperationPerApp](), fmt.Errorf("failed to get operation app record: %w", err)
	}

	return mo.Some(dbOperationAppToModel(&rec)), nil
}

func (r *PostgresOperationAppsRepository) GetOperationAppsForAgent(
	ctx context.Context,
	operationID, agentID string,
	organizationID string,
) ([]*models.OperationPerApp, error) {
	db := dbtx.GetTransactional(ctx, r.db)
	columnsStr := strings.Join(operationAppsColumns, ", ")
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s.operation_apps
		WHERE operation_id = $1 AND agent_id = $2 AND organization_id = $3
		ORDER BY app_id ASC`, columnsStr, r.schema)

	var recs []DBOperationApp
	err := db.SelectContext(ctx, &recs, query, operationID, agentID, organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get operation app records: %w", err)
	}

	result := make([]*models.OperationPerApp, 0, len(recs))
	for i := range recs {
		result = append(result, dbOperationAppToModel(&recs[i]))
	}
	return result, nil
}

// MarkResult records the app's result at most once: the update is guarded on
// results still being pending. Returns false when the row was already
// terminal, which callers treat as a duplicate report.
func (r *PostgresOperationAppsRepository) MarkResult(
	ctx context.Context,
	operationID, agentID, appID string,
	organizationID string,
	result models.AppResultStatus,
	errors *string,
) (bool, error) {
	db := dbtx.GetTransactional(ctx, r.db)
	query := fmt.Sprintf(`
		UPDATE %s.operation_apps
		SET results = $5, results_received_time = NOW(), errors = $6
		WHERE operation_id = $1 AND agent_id = $2 AND app_id = $3 AND organization_id = $4
		AND results = $7`, r.schema)

	res, err := db.ExecContext(ctx, query, operationID, agentID, appID, organizationID,
		string(result), errors, string(models.AppResultPending))
	if err != nil {
		return false, fmt.Errorf("failed to mark app result: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}
