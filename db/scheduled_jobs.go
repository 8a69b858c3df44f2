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

type PostgresScheduledJobsRepository struct {
	db     *sqlx.DB
	schema string
}

// DBScheduledJob represents the database schema for the scheduled_jobs table
type DBScheduledJob struct {
	ID          string `db:"id"`
	JobName     string `db:"job_name"`
	OrgID       string `db:"organization_id"`
	TriggerType string `db:"trigger_type"`

	RunAt    *time.Time `db:"run_at"`
	CronSpec *string    `db:"cron_spec"`
	EndDate  *time.Time `db:"end_date"`
	TimeZone string     `db:"time_zone"`

	OperationType string         `db:"operation_type"`
	AgentIDs      pq.StringArray `db:"agent_ids"`
	TagID         *string        `db:"tag_id"`
	AppIDs        pq.StringArray `db:"app_ids"`
	RestartPolicy string         `db:"restart_policy"`
	CPUThrottle   string         `db:"cpu_throttle"`
	NetThrottle   int            `db:"net_throttle"`
	CreatedBy     string         `db:"created_by"`

	NextRunAt time.Time `db:"next_run_at"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

var scheduledJobsColumns = []string{
	"id",
	"job_name",
	"organization_id",
	"trigger_type",
	"run_at",
	"cron_spec",
	"end_date",
	"time_zone",
	"operation_type",
	"agent_ids",
	"tag_id",
	"app_ids",
	"restart_policy",
	"cpu_throttle",
	"net_throttle",
	"created_by",
	"next_run_at",
	"created_at",
	"updated_at",
}

func NewPostgresScheduledJobsRepository(db *sqlx.DB, schema string) *PostgresScheduledJobsRepository {
	return &PostgresScheduledJobsRepository{db: db, schema: schema}
}

func dbScheduledJobToModel(rec *DBScheduledJob) *models.ScheduledJob {
	return &models.ScheduledJob{
		ID:            rec.ID,
		JobName:       rec.JobName,
		OrgID:         rec.OrgID,
		TriggerType:   models.ScheduleTriggerType(rec.TriggerType),
		RunAt:         rec.RunAt,
		CronSpec:      rec.CronSpec,
		EndDate:       rec.EndDate,
		TimeZone:      rec.TimeZone,
		OperationType: models.OperationType(rec.OperationType),
		AgentIDs:      []string(rec.AgentIDs),
		TagID:         rec.TagID,
		AppIDs:        []string(rec.AppIDs),
		RestartPolicy: models.RestartPolicy(rec.RestartPolicy),
		CPUThrottle:   models.CPUThrottle(rec.CPUThrottle),
		NetThrottle:   rec.NetThrottle,
		CreatedBy:     rec.CreatedBy,
		NextRunAt:     rec.NextRunAt,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
	}
}

func (r *PostgresScheduledJobsRepository) CreateScheduledJob(
	ctx context.Context,
	job *models.ScheduledJob,
) error {
	db := dbtx.GetTransactional(ctx, r.db)
	columnsStr := strings.Join(scheduledJobsColumns, ", ")

	query := fmt.Sprintf(`
		INSERT INTO %s.scheduled_jobs (id, job_name, organization_id, trigger_type,
			run_at, cron_spec, end_date, time_zone, operation_type, agent_ids, tag_id,
			app_ids, restart_policy, cpu_throttle, net_throttle, created_by,
			next_run_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, NOW(), NOW())
		RETURNING %s`, r.schema, columnsStr)

	var returned DBScheduledJob
	err := db.QueryRowxContext(ctx, query,
		job.ID, job.JobName, job.OrgID, string(job.TriggerType),
		job.RunAt, job.CronSpec, job.EndDate, job.TimeZone,
		string(job.OperationType), pq.StringArray(job.AgentIDs), job.TagID,
		pq.StringArray(job.AppIDs), string(job.RestartPolicy), string(job.CPUThrottle),
		job.NetThrottle, job.CreatedBy, job.NextRunAt).
		StructScan(&returned)
	if err != nil {
		return fmt.Errorf("failed to create scheduled job: %w", err)
	}

	*job = *dbScheduledJobToModel(&returned)
	return nil
}

func (r *PostgresScheduledJobsRepository) GetScheduledJobByID(
	ctx context.Context,
	id string,
	organizationID string,
) (mo.Option[*models.ScheduledJob], error) {
	db := dbtx.GetTransactional(ctx, r.db)
	columnsStr := strings.Join(scheduledJobsColumns, ", ")
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s.scheduled_jobs
		WHERE id = $1 AND organization_id = $2`, columnsStr, r.schema)

	var rec DBScheduledJob
	err := db.GetContext(ctx, &rec, query, id, organizationID)
	if err != nil {
		if err == sql.ErrNoRows {
			return mo.None[*models.ScheduledJob](), nil
		}
		return mo.None[*models.ScheduledJob](), fmt.Errorf("failed to get scheduled job: %w", err)
	}

	return mo.Some(dbScheduledJobToModel(&rec)), nil
}

func (r *PostgresScheduledJobsRepository) GetScheduledJobByName(
	ctx context.Context,
	jobName string,
	organizationID string,
) (mo.Option[*models.ScheduledJob], error) {
	db := dbtx.GetTransactional(ctx, r.db)
	columnsStr := strings.Join(scheduledJobsColumns, ", ")
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s.scheduled_jobs
		WHERE job_name = $1 AND organization_id = $2`, columnsStr, r.schema)

	var rec DBScheduledJob
	err := db.GetContext(ctx, &rec, query, jobName, organizationID)
	if err != nil {
		if err == sql.ErrNoRows {
			return mo.None[*models.ScheduledJob](), nil
		}
		return mo.None[*models.ScheduledJob](), fmt.Errorf("failed to get scheduled job by name: %w", err)
	}

	return mo.Some(dbScheduledJobToModel(&rec)), nil
}

func (r *PostgresScheduledJobsRepository) ListScheduledJobs(
	ctx context.Context,
	organizationID string,
) ([]*models.ScheduledJob, error) {
	db := dbtx.GetTransactional(ctx, r.db)
	columnsStr := strings.Join(scheduledJobsColumns, ", ")
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s.scheduled_jobs
		WHERE organization_id = $1
		ORDER BY job_name ASC`, columnsStr, r.schema)

	var recs []DBScheduledJob
	err := db.SelectContext(ctx, &recs, query, organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled jobs: %w", err)
	}

	jobs := make([]*models.ScheduledJob, 0, len(recs))
	for i := range recs {
		jobs = append(jobs, dbScheduledJobToModel(&recs[i]))
	}
	return jobs, nil
}

// GetDueJobs returns jobs across all organizations whose next run time has
// arrived.
func (r *PostgresScheduledJobsRepository) GetDueJobs(
	ctx context.Context,
	now time.Time,
) ([]*models.ScheduledJob, error) {
	db := dbtx.GetTransactional(ctx, r.db)
	columnsStr := strings.Join(scheduledJobsColumns, ", ")
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s.scheduled_jobs
		WHERE next_run_at <= $1
		ORDER BY next_run_at ASC`, columnsStr, r.schema)

	var recs []DBScheduledJob
	err := db.SelectContext(ctx, &recs, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to get due jobs: %w", err)
	}

	jobs := make([]*models.ScheduledJob, 0, len(recs))
	for i := range recs {
		jobs = append(jobs, dbScheduledJobToModel(&recs[i]))
	}
	return jobs, nil
}

// UpdateNextRun advances the job's next run time. Guarded on the previous
// value so two firing passes cannot both advance the same occurrence.
func (r *PostgresScheduledJobsRepository) UpdateNextRun(
	ctx context.Context,
	id string,
	organizationID string,
	previousNextRun, nextRun time.Time,
) (bool, error) {
	db := dbtx.GetTransactional(ctx, r.db)
	query := fmt.Sprintf(`
		UPDATE %s.scheduled_jobs
		SET next_run_at = $3, updated_at = NOW()
		WHERE id = $1 AND organization_id = $2 AND next_run_at = $4`, r.schema)

	result, err := db.ExecContext(ctx, query, id, organizationID, nextRun, previousNextRun)
	if err != nil {
		return false, fmt.Errorf("failed to update scheduled job next run: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

func (r *PostgresScheduledJobsRepository) DeleteScheduledJob(
	ctx context.Context,
	id string,
	organizationID string,
) (bool, error) {
	db := dbtx.GetTransactional(ctx, r.db)
	query := fmt.Sprintf(`
		DELETE FROM %s.scheduled_jobs
		WHERE id = $1 AND organization_id = $2`, r.schema)

	result, err := db.ExecContext(ctx, query, id, organizationID)
	if err != nil {
		return false, fmt.Errorf("failed to delete scheduled job: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}
