package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/samber/mo"

	dbtx "patchcenter/db/tx"
	"patchcenter/models"
)

type PostgresAgentQueueRepository struct {
	db     *sqlx.DB
	schema string
}

// DBAgentQueueEntry represents the database schema for the agent_queue table
type DBAgentQueueEntry struct {
	ID            string `db:"id"`
	OperationID   string `db:"operation_id"`
	AgentID       string `db:"agent_id"`
	OrgID         string `db:"organization_id"`
	OperationType string `db:"operation_type"`
	OrderID       int    `db:"order_id"`

	RestartPolicy string `db:"restart_policy"`
	CPUThrottle   string `db:"cpu_throttle"`
	NetThrottle   int    `db:"net_throttle"`
	FileData      []byte `db:"file_data"`

	ResponseURI   string `db:"response_uri"`
	RequestMethod string `db:"request_method"`

	EnqueuedAt         time.Time `db:"enqueued_at"`
	ServerTTLExpiresAt time.Time `db:"server_ttl_expires_at"`
	AgentTTLExpiresAt  time.Time `db:"agent_ttl_expires_at"`
}

var agentQueueColumns = []string{
	"id",
	"operation_id",
	"agent_id",
	"organization_id",
	"operation_type",
	"order_id",
	"restart_policy",
	"cpu_throttle",
	"net_throttle",
	"file_data",
	"response_uri",
	"request_method",
	"enqueued_at",
	"server_ttl_expires_at",
	"agent_ttl_expires_at",
}

func NewPostgresAgentQueueRepository(db *sqlx.DB, schema string) *PostgresAgentQueueRepository {
	return &PostgresAgentQueueRepository{db: db, schema: schema}
}

func dbQueueEntryToModel(rec *DBAgentQueueEntry) (*models.AgentQueueEntry, error) {
	var fileData []models.AppFileData
	if len(rec.FileData) > 0 {
		if err := json.Unmarshal(rec.FileData, &fileData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal queue entry file data: %w", err)
		}
	}

	return &models.AgentQueueEntry{
		ID:                 rec.ID,
		OperationID:        rec.OperationID,
		AgentID:            rec.AgentID,
		OrgID:              rec.OrgID,
		OperationType:      models.OperationType(rec.OperationType),
		OrderID:            rec.OrderID,
		RestartPolicy:      models.RestartPolicy(rec.RestartPolicy),
		CPUThrottle:        models.CPUThrottle(rec.CPUThrottle),
		NetThrottle:        rec.NetThrottle,
		FileData:           fileData,
		ResponseURI:        rec.ResponseURI,
		RequestMethod:      rec.RequestMethod,
		EnqueuedAt:         rec.EnqueuedAt,
		ServerTTLExpiresAt: rec.ServerTTLExpiresAt,
		AgentTTLExpiresAt:  rec.AgentTTLExpiresAt,
	}, nil
}

// EnqueueEntry inserts the entry, assigning the next order id for the agent.
// Idempotent on (operation_id, agent_id): a duplicate enqueue is a no-op and
// returns false.
func (r *PostgresAgentQueueRepository) EnqueueEntry(
	ctx context.Context,
	entry *models.AgentQueueEntry,
) (bool, error) {
	db := dbtx.GetTransactional(ctx, r.db)

	fileData, err := json.Marshal(entry.FileData)
	if err != nil {
		return false, fmt.Errorf("failed to marshal queue entry file data: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s.agent_queue (id, operation_id, agent_id, organization_id,
			operation_type, order_id, restart_policy, cpu_throttle, net_throttle,
			file_data, response_uri, request_method, enqueued_at,
			server_ttl_expires_at, agent_ttl_expires_at)
		VALUES ($1, $2, $3, $4, $5,
			COALESCE((SELECT MAX(order_id) FROM %s.agent_queue WHERE agent_id = $3 AND organization_id = $4), 0) + 1,
			$6, $7, $8, $9, $10, $11, NOW(), $12, $13)
		ON CONFLICT (operation_id, agent_id) DO NOTHING`, r.schema, r.schema)

	result, err := db.ExecContext(ctx, query,
		entry.ID, entry.OperationID, entry.AgentID, entry.OrgID,
		string(entry.OperationType), string(entry.RestartPolicy), string(entry.CPUThrottle),
		entry.NetThrottle, fileData, entry.ResponseURI, entry.RequestMethod,
		entry.ServerTTLExpiresAt, entry.AgentTTLExpiresAt)
	if err != nil {
		return false, fmt.Errorf("failed to enqueue entry: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

func (r *PostgresAgentQueueRepository) GetEntry(
	ctx context.Context,
	operationID, agentID string,
	organizationID string,
) (mo.Option[*models.AgentQueueEntry], error) {
	db := dbtx.GetTransactional(ctx, r.db)
	columnsStr := strings.Join(agentQueueColumns, ", ")
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s.agent_queue
		WHERE operation_id = $1 AND agent_id = $2 AND organization_id = $3`, columnsStr, r.schema)

	var rec DBAgentQueueEntry
	err := db.GetContext(ctx, &rec, query, operationID, agentID, organizationID)
	if err != nil {
		if err == sql.ErrNoRows {
			return mo.None[*models.AgentQueueEntry](), nil
		}
		return mo.None[*models.AgentQueueEntry](), fmt.Errorf("failed to get queue entry: %w", err)
	}

	entry, err := dbQueueEntryToModel(&rec)
	if err != nil {
		return mo.None[*models.AgentQueueEntry](), err
	}
	return mo.Some(entry), nil
}

// ClaimEntriesForAgent removes and returns all of the agent's entries that are
// still inside their server TTL. The delete-with-locked-subquery makes the
// claim atomic per entry: two concurrent polls can never both receive the same
// entry. Entries are returned in per-agent enqueue order.
func (r *PostgresAgentQueueRepository) ClaimEntriesForAgent(
	ctx context.Context,
	agentID string,
	organizationID string,
	now time.Time,
) ([]*models.AgentQueueEntry, error) {
	db := dbtx.GetTransactional(ctx, r.db)
	columnsStr := strings.Join(agentQueueColumns, ", ")
	query := fmt.Sprintf(`
		DELETE FROM %s.agent_queue
		WHERE id IN (
			SELECT id FROM %s.agent_queue
			WHERE agent_id = $1 AND organization_id = $2 AND server_ttl_expires_at > $3
			ORDER BY order_id ASC
			FOR UPDATE SKIP LOCKED
		)
		RETURNING %s`, r.schema, r.schema, columnsStr)

	var recs []DBAgentQueueEntry
	if err := db.SelectContext(ctx, &recs, query, agentID, organizationID, now); err != nil {
		return nil, fmt.Errorf("failed to claim queue entries: %w", err)
	}

	entries := make([]*models.AgentQueueEntry, 0, len(recs))
	for i := range recs {
		entry, err := dbQueueEntryToModel(&recs[i])
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].OrderID < entries[j].OrderID })
	return entries, nil
}

// GetExpiredUnpicked returns entries across all organizations whose server
// TTL has elapsed. Used by the expiration sweeper.
func (r *PostgresAgentQueueRepository) GetExpiredUnpicked(
	ctx context.Context,
	now time.Time,
) ([]*models.AgentQueueEntry, error) {
	db := dbtx.GetTransactional(ctx, r.db)
	columnsStr := strings.Join(agentQueueColumns, ", ")
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s.agent_queue
		WHERE server_ttl_expires_at <= $1
		ORDER BY server_ttl_expires_at ASC`, columnsStr, r.schema)

	var recs []DBAgentQueueEntry
	err := db.SelectContext(ctx, &recs, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to get expired queue entries: %w", err)
	}

	entries := make([]*models.AgentQueueEntry, 0, len(recs))
	for i := range recs {
		entry, err := dbQueueEntryToModel(&recs[i])
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// DeleteEntry removes one entry by id. Returns false when the entry is gone
// already (picked up or expired by a concurrent pass).
func (r *PostgresAgentQueueRepository) DeleteEntry(ctx context.Context, id string) (bool, error) {
	db := dbtx.GetTransactional(ctx, r.db)
	query := fmt.Sprintf(`
		DELETE FROM %s.agent_queue
		WHERE id = $1`, r.schema)

	result, err := db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete queue entry: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}
