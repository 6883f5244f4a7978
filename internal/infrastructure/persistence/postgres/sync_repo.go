// Package postgres implements the PostgreSQL persistence layer for Schedule Sync.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aqademiq/schedule-sync/internal/domain/shared"
	syncdomain "github.com/aqademiq/schedule-sync/internal/domain/sync"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// TOKEN REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// TokenRepository implements syncdomain.TokenRepository for PostgreSQL.
type TokenRepository struct {
	conn *Connection
}

// NewTokenRepository creates a new TokenRepository.
func NewTokenRepository(conn *Connection) *TokenRepository {
	return &TokenRepository{conn: conn}
}

// Get returns the token of an (owner, calendar) pair.
func (r *TokenRepository) Get(ctx context.Context, ownerID, calendarID string) (*syncdomain.Token, error) {
	query := `
		SELECT owner_id, calendar_id, token_value, last_used_at, expires_at, created_at, updated_at
		FROM sync_tokens
		WHERE owner_id = $1 AND calendar_id = $2
	`

	var t syncdomain.Token
	err := r.conn.QueryRow(ctx, query, ownerID, calendarID).Scan(
		&t.OwnerID,
		&t.CalendarID,
		&t.Value,
		&t.LastUsedAt,
		&t.ExpiresAt,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to query sync token: %w", err)
	}

	return &t, nil
}

// Save upserts a token. Used outside a cycle commit (e.g. invalidating
// after a token-expired signal); cycle advancement goes through
// SyncCycleStore.CommitCycle instead.
func (r *TokenRepository) Save(ctx context.Context, token *syncdomain.Token) error {
	_, err := r.conn.Exec(ctx, upsertTokenQuery, tokenArgs(token)...)
	if err != nil {
		return fmt.Errorf("failed to save sync token: %w", err)
	}
	return nil
}

// Delete removes a token, forcing a full sync on the next cycle.
func (r *TokenRepository) Delete(ctx context.Context, ownerID, calendarID string) error {
	_, err := r.conn.Exec(ctx,
		`DELETE FROM sync_tokens WHERE owner_id = $1 AND calendar_id = $2`,
		ownerID, calendarID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete sync token: %w", err)
	}
	return nil
}

// ListPairs returns all (owner, calendar) pairs with stored tokens.
func (r *TokenRepository) ListPairs(ctx context.Context) ([]syncdomain.Pair, error) {
	rows, err := r.conn.Query(ctx, `SELECT owner_id, calendar_id FROM sync_tokens ORDER BY owner_id, calendar_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync pairs: %w", err)
	}
	defer rows.Close()

	var pairs []syncdomain.Pair
	for rows.Next() {
		var p syncdomain.Pair
		if err := rows.Scan(&p.OwnerID, &p.CalendarID); err != nil {
			return nil, fmt.Errorf("failed to scan sync pair: %w", err)
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

const upsertTokenQuery = `
	INSERT INTO sync_tokens (owner_id, calendar_id, token_value, last_used_at, expires_at, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (owner_id, calendar_id) DO UPDATE SET
		token_value = EXCLUDED.token_value,
		last_used_at = EXCLUDED.last_used_at,
		expires_at = EXCLUDED.expires_at,
		updated_at = EXCLUDED.updated_at
`

func tokenArgs(t *syncdomain.Token) []interface{} {
	return []interface{}{
		t.OwnerID,
		t.CalendarID,
		t.Value,
		t.LastUsedAt,
		t.ExpiresAt,
		t.CreatedAt,
		t.UpdatedAt,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CYCLE COMMIT
// ══════════════════════════════════════════════════════════════════════════════

// SyncCycleStore implements syncdomain.CycleCommitter: the token advances
// and pushed operations flip to completed in one transaction, so a crash
// mid-commit replays the cycle instead of losing changes.
type SyncCycleStore struct {
	conn *Connection
}

// NewSyncCycleStore creates a new SyncCycleStore.
func NewSyncCycleStore(conn *Connection) *SyncCycleStore {
	return &SyncCycleStore{conn: conn}
}

// CommitCycle atomically persists the outcome of a successful sync cycle.
func (s *SyncCycleStore) CommitCycle(ctx context.Context, token *syncdomain.Token, completed []*syncdomain.Operation) error {
	return s.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, upsertTokenQuery, tokenArgs(token)...); err != nil {
			return fmt.Errorf("failed to advance sync token: %w", err)
		}

		for _, op := range completed {
			_, err := tx.Exec(ctx,
				`UPDATE sync_operations SET status = $1, retry_count = $2, last_error = $3, updated_at = $4 WHERE id = $5`,
				string(op.Status),
				op.RetryCount,
				op.LastError,
				op.UpdatedAt,
				op.ID,
			)
			if err != nil {
				return fmt.Errorf("failed to confirm sync operation %s: %w", op.ID, err)
			}
		}

		return nil
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// OPERATION REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// OperationRepository implements syncdomain.OperationRepository for PostgreSQL.
type OperationRepository struct {
	conn *Connection
}

// NewOperationRepository creates a new OperationRepository.
func NewOperationRepository(conn *Connection) *OperationRepository {
	return &OperationRepository{conn: conn}
}

const operationColumns = `id, owner_id, calendar_id, entity_type, entity_id,
	   operation_type, status, retry_count, last_error, created_at, updated_at`

// Enqueue queues an outgoing write.
func (r *OperationRepository) Enqueue(ctx context.Context, op *syncdomain.Operation) error {
	query := `
		INSERT INTO sync_operations (
			id, owner_id, calendar_id, entity_type, entity_id,
			operation_type, status, retry_count, last_error, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.conn.Exec(ctx, query,
		op.ID,
		op.OwnerID,
		op.CalendarID,
		string(op.EntityType),
		op.EntityID,
		string(op.Type),
		string(op.Status),
		op.RetryCount,
		op.LastError,
		op.CreatedAt,
		op.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue sync operation: %w", err)
	}

	return nil
}

// GetPending returns unpushed operations of an (owner, calendar) pair
// in enqueue order.
func (r *OperationRepository) GetPending(ctx context.Context, ownerID, calendarID string) ([]*syncdomain.Operation, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM sync_operations
		WHERE owner_id = $1 AND calendar_id = $2 AND status = 'pending'
		ORDER BY created_at
	`, operationColumns)

	rows, err := r.conn.Query(ctx, query, ownerID, calendarID)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending operations: %w", err)
	}
	defer rows.Close()

	return r.scanOperations(rows)
}

// GetPendingForEntity returns unpushed operations referencing an entity.
func (r *OperationRepository) GetPendingForEntity(ctx context.Context, entityType syncdomain.EntityType, entityID string) ([]*syncdomain.Operation, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM sync_operations
		WHERE entity_type = $1 AND entity_id = $2 AND status = 'pending'
		ORDER BY created_at
	`, operationColumns)

	rows, err := r.conn.Query(ctx, query, string(entityType), entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending operations for entity: %w", err)
	}
	defer rows.Close()

	return r.scanOperations(rows)
}

// Update persists the changed state of an operation.
func (r *OperationRepository) Update(ctx context.Context, op *syncdomain.Operation) error {
	query := `
		UPDATE sync_operations SET
			status = $1,
			retry_count = $2,
			last_error = $3,
			updated_at = $4
		WHERE id = $5
	`

	result, err := r.conn.Exec(ctx, query,
		string(op.Status),
		op.RetryCount,
		op.LastError,
		op.UpdatedAt,
		op.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update sync operation: %w", err)
	}

	if result.RowsAffected() == 0 {
		return shared.ErrOperationNotFound
	}

	return nil
}

// PurgeCompleted deletes confirmed operations older than the threshold.
func (r *OperationRepository) PurgeCompleted(ctx context.Context, olderThan time.Time) (int, error) {
	result, err := r.conn.Exec(ctx,
		`DELETE FROM sync_operations WHERE status = 'completed' AND updated_at < $1`,
		olderThan,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to purge completed operations: %w", err)
	}

	return int(result.RowsAffected()), nil
}

func (r *OperationRepository) scanOperations(rows pgx.Rows) ([]*syncdomain.Operation, error) {
	var ops []*syncdomain.Operation
	for rows.Next() {
		var op syncdomain.Operation
		var entityType, opType, status string

		err := rows.Scan(
			&op.ID,
			&op.OwnerID,
			&op.CalendarID,
			&entityType,
			&op.EntityID,
			&opType,
			&status,
			&op.RetryCount,
			&op.LastError,
			&op.CreatedAt,
			&op.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync operation: %w", err)
		}

		op.EntityType = syncdomain.EntityType(entityType)
		op.Type = syncdomain.OperationType(opType)
		op.Status = syncdomain.OperationStatus(status)
		ops = append(ops, &op)
	}
	return ops, rows.Err()
}

// ══════════════════════════════════════════════════════════════════════════════
// CONFLICT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ConflictRepository implements syncdomain.ConflictRepository for PostgreSQL.
// Snapshots and resolutions are stored as JSONB.
type ConflictRepository struct {
	conn *Connection
}

// NewConflictRepository creates a new ConflictRepository.
func NewConflictRepository(conn *Connection) *ConflictRepository {
	return &ConflictRepository{conn: conn}
}

const conflictColumns = `id, owner_id, entity_type, entity_id, conflict_type,
	   fields, local_snapshot, remote_snapshot, state, resolution, created_at, resolved_at`

// Create persists a detected conflict.
func (r *ConflictRepository) Create(ctx context.Context, c *syncdomain.Conflict) error {
	localJSON, err := json.Marshal(c.LocalSnapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal local snapshot: %w", err)
	}
	remoteJSON, err := json.Marshal(c.RemoteSnapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal remote snapshot: %w", err)
	}
	resolutionJSON, err := marshalResolution(c.Resolution)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO sync_conflicts (
			id, owner_id, entity_type, entity_id, conflict_type,
			fields, local_snapshot, remote_snapshot, state, resolution, created_at, resolved_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err = r.conn.Exec(ctx, query,
		c.ID,
		c.OwnerID,
		string(c.EntityType),
		c.EntityID,
		string(c.Type),
		fieldsToStrings(c.Fields),
		localJSON,
		remoteJSON,
		string(c.State),
		resolutionJSON,
		c.CreatedAt,
		resolvedAtArg(c.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create sync conflict: %w", err)
	}

	return nil
}

// GetByID returns a conflict by ID.
func (r *ConflictRepository) GetByID(ctx context.Context, id string) (*syncdomain.Conflict, error) {
	query := fmt.Sprintf(`SELECT %s FROM sync_conflicts WHERE id = $1`, conflictColumns)

	return r.scanConflict(r.conn.QueryRow(ctx, query, id))
}

// GetPending returns the owner's open conflicts, newest first.
func (r *ConflictRepository) GetPending(ctx context.Context, ownerID string) ([]*syncdomain.Conflict, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM sync_conflicts
		WHERE owner_id = $1 AND state = 'pending'
		ORDER BY created_at DESC
	`, conflictColumns)

	rows, err := r.conn.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending conflicts: %w", err)
	}
	defer rows.Close()

	return r.scanConflicts(rows)
}

// GetPendingForEntity returns open conflicts referencing an entity.
func (r *ConflictRepository) GetPendingForEntity(ctx context.Context, entityType syncdomain.EntityType, entityID string) ([]*syncdomain.Conflict, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM sync_conflicts
		WHERE entity_type = $1 AND entity_id = $2 AND state = 'pending'
		ORDER BY created_at DESC
	`, conflictColumns)

	rows, err := r.conn.Query(ctx, query, string(entityType), entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending conflicts for entity: %w", err)
	}
	defer rows.Close()

	return r.scanConflicts(rows)
}

// Update persists the changed state of a conflict.
func (r *ConflictRepository) Update(ctx context.Context, c *syncdomain.Conflict) error {
	resolutionJSON, err := marshalResolution(c.Resolution)
	if err != nil {
		return err
	}

	query := `
		UPDATE sync_conflicts SET
			state = $1,
			resolution = $2,
			resolved_at = $3
		WHERE id = $4
	`

	result, err := r.conn.Exec(ctx, query,
		string(c.State),
		resolutionJSON,
		resolvedAtArg(c.ResolvedAt),
		c.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update sync conflict: %w", err)
	}

	if result.RowsAffected() == 0 {
		return shared.ErrConflictNotFound
	}

	return nil
}

// CountPending returns the number of the owner's open conflicts.
func (r *ConflictRepository) CountPending(ctx context.Context, ownerID string) (int, error) {
	var count int
	err := r.conn.QueryRow(ctx,
		`SELECT COUNT(*) FROM sync_conflicts WHERE owner_id = $1 AND state = 'pending'`,
		ownerID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending conflicts: %w", err)
	}
	return count, nil
}

func (r *ConflictRepository) scanConflict(row pgx.Row) (*syncdomain.Conflict, error) {
	var c syncdomain.Conflict
	var entityType, conflictType, state string
	var fields []string
	var localJSON, remoteJSON, resolutionJSON []byte
	var resolvedAt *time.Time

	err := row.Scan(
		&c.ID,
		&c.OwnerID,
		&entityType,
		&c.EntityID,
		&conflictType,
		&fields,
		&localJSON,
		&remoteJSON,
		&state,
		&resolutionJSON,
		&c.CreatedAt,
		&resolvedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrConflictNotFound
		}
		return nil, fmt.Errorf("failed to scan sync conflict: %w", err)
	}

	c.EntityType = syncdomain.EntityType(entityType)
	c.Type = syncdomain.ConflictType(conflictType)
	c.State = syncdomain.ResolutionState(state)
	c.Fields = make([]syncdomain.Field, len(fields))
	for i, f := range fields {
		c.Fields[i] = syncdomain.Field(f)
	}
	if resolvedAt != nil {
		c.ResolvedAt = *resolvedAt
	}

	if err := json.Unmarshal(localJSON, &c.LocalSnapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal local snapshot: %w", err)
	}
	if err := json.Unmarshal(remoteJSON, &c.RemoteSnapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal remote snapshot: %w", err)
	}
	if len(resolutionJSON) > 0 {
		var res syncdomain.Resolution
		if err := json.Unmarshal(resolutionJSON, &res); err != nil {
			return nil, fmt.Errorf("failed to unmarshal resolution: %w", err)
		}
		c.Resolution = &res
	}

	return &c, nil
}

func (r *ConflictRepository) scanConflicts(rows pgx.Rows) ([]*syncdomain.Conflict, error) {
	var conflicts []*syncdomain.Conflict
	for rows.Next() {
		c, err := r.scanConflict(rows)
		if err != nil {
			return nil, err
		}
		conflicts = append(conflicts, c)
	}
	return conflicts, rows.Err()
}

func marshalResolution(res *syncdomain.Resolution) ([]byte, error) {
	if res == nil {
		return nil, nil
	}
	data, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resolution: %w", err)
	}
	return data, nil
}

func fieldsToStrings(fields []syncdomain.Field) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = string(f)
	}
	return out
}

func resolvedAtArg(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

// ══════════════════════════════════════════════════════════════════════════════
// CHANNEL REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ChannelRepository implements syncdomain.ChannelRepository for PostgreSQL.
type ChannelRepository struct {
	conn *Connection
}

// NewChannelRepository creates a new ChannelRepository.
func NewChannelRepository(conn *Connection) *ChannelRepository {
	return &ChannelRepository{conn: conn}
}

// Save upserts a notification channel.
func (r *ChannelRepository) Save(ctx context.Context, ch *syncdomain.Channel) error {
	query := `
		INSERT INTO sync_channels (id, owner_id, calendar_id, secret_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			secret_hash = EXCLUDED.secret_hash,
			expires_at = EXCLUDED.expires_at
	`

	_, err := r.conn.Exec(ctx, query,
		ch.ID,
		ch.OwnerID,
		ch.CalendarID,
		ch.SecretHash,
		ch.ExpiresAt,
		ch.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save sync channel: %w", err)
	}

	return nil
}

// GetByID returns a channel by ID.
func (r *ChannelRepository) GetByID(ctx context.Context, id string) (*syncdomain.Channel, error) {
	query := `
		SELECT id, owner_id, calendar_id, secret_hash, expires_at, created_at
		FROM sync_channels
		WHERE id = $1
	`

	var ch syncdomain.Channel
	err := r.conn.QueryRow(ctx, query, id).Scan(
		&ch.ID,
		&ch.OwnerID,
		&ch.CalendarID,
		&ch.SecretHash,
		&ch.ExpiresAt,
		&ch.CreatedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrChannelNotFound
		}
		return nil, fmt.Errorf("failed to query sync channel: %w", err)
	}

	return &ch, nil
}

// GetByOwner returns the owner's channels.
func (r *ChannelRepository) GetByOwner(ctx context.Context, ownerID string) ([]*syncdomain.Channel, error) {
	query := `
		SELECT id, owner_id, calendar_id, secret_hash, expires_at, created_at
		FROM sync_channels
		WHERE owner_id = $1
		ORDER BY created_at
	`

	rows, err := r.conn.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync channels: %w", err)
	}
	defer rows.Close()

	var channels []*syncdomain.Channel
	for rows.Next() {
		var ch syncdomain.Channel
		err := rows.Scan(
			&ch.ID,
			&ch.OwnerID,
			&ch.CalendarID,
			&ch.SecretHash,
			&ch.ExpiresAt,
			&ch.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync channel: %w", err)
		}
		channels = append(channels, &ch)
	}
	return channels, rows.Err()
}

// Delete removes a channel.
func (r *ChannelRepository) Delete(ctx context.Context, id string) error {
	_, err := r.conn.Exec(ctx, `DELETE FROM sync_channels WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete sync channel: %w", err)
	}
	return nil
}

// ListExpiring returns channels expiring before the given moment.
// The renewal job re-registers these before the remote stops notifying.
func (r *ChannelRepository) ListExpiring(ctx context.Context, before time.Time) ([]*syncdomain.Channel, error) {
	query := `
		SELECT id, owner_id, calendar_id, secret_hash, expires_at, created_at
		FROM sync_channels
		WHERE expires_at < $1
		ORDER BY expires_at
	`

	rows, err := r.conn.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("failed to query expiring channels: %w", err)
	}
	defer rows.Close()

	var channels []*syncdomain.Channel
	for rows.Next() {
		var ch syncdomain.Channel
		err := rows.Scan(
			&ch.ID,
			&ch.OwnerID,
			&ch.CalendarID,
			&ch.SecretHash,
			&ch.ExpiresAt,
			&ch.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan expiring channel: %w", err)
		}
		channels = append(channels, &ch)
	}
	return channels, rows.Err()
}

// DeleteExpired removes channels already past their expiration.
func (r *ChannelRepository) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	result, err := r.conn.Exec(ctx, `DELETE FROM sync_channels WHERE expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired channels: %w", err)
	}
	return int(result.RowsAffected()), nil
}
