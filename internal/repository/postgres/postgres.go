package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stackform/portal/internal/domain"
	"github.com/stackform/portal/internal/repository"
	"github.com/stackform/portal/pkg/lifecycle"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.UserRepository     = (*Repository)(nil)
	_ repository.CatalogRepository  = (*Repository)(nil)
	_ repository.RequestRepository  = (*Repository)(nil)
	_ repository.ApprovalRepository = (*Repository)(nil)
	_ repository.AuditRepository    = (*Repository)(nil)
)

// mapPgError folds constraint violations into repository sentinels.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23503":
			return repository.ErrNotFound
		case "23514", "22P02", "23505":
			return repository.ErrInvalidArgument
		}
	}
	return err
}

// CreateUser inserts a user.
func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	const query = `INSERT INTO users (id, email, name, password_hash, role, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := r.pool.Exec(ctx, query, user.ID, user.Email, user.Name, user.PasswordHash, user.Role, user.CreatedAt); err != nil {
		return mapPgError(err)
	}
	return nil
}

// GetUserByEmail fetches a user by email.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	const query = `SELECT id, email, name, password_hash, role, created_at FROM users WHERE email = $1`
	row := r.pool.QueryRow(ctx, query, email)
	var u domain.User
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Role, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// GetUserByID retrieves a user by identifier.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	const query = `SELECT id, email, name, password_hash, role, created_at FROM users WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, id)
	var u domain.User
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Role, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// ListEnvironments returns all environments ordered by name.
func (r *Repository) ListEnvironments(ctx context.Context) ([]domain.Environment, error) {
	const query = `SELECT id, name, slug, description, requires_approval, created_at
		FROM environments ORDER BY name`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var envs []domain.Environment
	for rows.Next() {
		var e domain.Environment
		if err := rows.Scan(&e.ID, &e.Name, &e.Slug, &e.Description, &e.RequiresApproval, &e.CreatedAt); err != nil {
			return nil, err
		}
		envs = append(envs, e)
	}
	return envs, rows.Err()
}

// GetEnvironmentByID fetches one environment.
func (r *Repository) GetEnvironmentByID(ctx context.Context, id string) (*domain.Environment, error) {
	const query = `SELECT id, name, slug, description, requires_approval, created_at
		FROM environments WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, id)
	var e domain.Environment
	if err := row.Scan(&e.ID, &e.Name, &e.Slug, &e.Description, &e.RequiresApproval, &e.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, mapPgError(err)
	}
	return &e, nil
}

// ListResourceTypes returns the resource catalog ordered by name.
func (r *Repository) ListResourceTypes(ctx context.Context) ([]domain.ResourceType, error) {
	const query = `SELECT id, name, slug, description, icon, base_cost, config_schema, created_at
		FROM resource_types ORDER BY name`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var types []domain.ResourceType
	for rows.Next() {
		var t domain.ResourceType
		if err := rows.Scan(&t.ID, &t.Name, &t.Slug, &t.Description, &t.Icon, &t.BaseCost, &t.ConfigSchema, &t.CreatedAt); err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, rows.Err()
}

// GetResourceTypeByID fetches one resource type with its raw schema.
func (r *Repository) GetResourceTypeByID(ctx context.Context, id string) (*domain.ResourceType, error) {
	const query = `SELECT id, name, slug, description, icon, base_cost, config_schema, created_at
		FROM resource_types WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, id)
	var t domain.ResourceType
	if err := row.Scan(&t.ID, &t.Name, &t.Slug, &t.Description, &t.Icon, &t.BaseCost, &t.ConfigSchema, &t.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, mapPgError(err)
	}
	return &t, nil
}

const requestColumns = `id, user_id, environment_id, resource_type_id, title, description,
	status, priority, config, submitted_at, completed_at, created_at, updated_at`

func scanRequest(row pgx.Row) (*domain.Request, error) {
	var req domain.Request
	var status string
	if err := row.Scan(
		&req.ID,
		&req.UserID,
		&req.EnvironmentID,
		&req.ResourceTypeID,
		&req.Title,
		&req.Description,
		&status,
		&req.Priority,
		&req.Config,
		&req.SubmittedAt,
		&req.CompletedAt,
		&req.CreatedAt,
		&req.UpdatedAt,
	); err != nil {
		return nil, err
	}
	req.Status = lifecycle.Status(status)
	return &req, nil
}

// CreateRequest inserts a request in draft state.
func (r *Repository) CreateRequest(ctx context.Context, request *domain.Request) error {
	const query = `INSERT INTO requests (id, user_id, environment_id, resource_type_id, title, description, status, priority, config, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := r.pool.Exec(ctx, query,
		request.ID,
		request.UserID,
		request.EnvironmentID,
		request.ResourceTypeID,
		request.Title,
		request.Description,
		string(request.Status),
		request.Priority,
		request.Config,
		request.CreatedAt,
		request.UpdatedAt,
	)
	if err != nil {
		return mapPgError(err)
	}
	return nil
}

// GetRequestByID fetches one request.
func (r *Repository) GetRequestByID(ctx context.Context, id string) (*domain.Request, error) {
	query := fmt.Sprintf(`SELECT %s FROM requests WHERE id = $1`, requestColumns)
	req, err := scanRequest(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, mapPgError(err)
	}
	return req, nil
}

// ListRequests returns requests matching the filter, newest first.
func (r *Repository) ListRequests(ctx context.Context, filter repository.RequestFilter) ([]domain.Request, error) {
	conditions := make([]string, 0, 3)
	args := make([]any, 0, 3)
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.EnvironmentID != "" {
		args = append(args, filter.EnvironmentID)
		conditions = append(conditions, fmt.Sprintf("environment_id = $%d", len(args)))
	}
	query := fmt.Sprintf(`SELECT %s FROM requests`, requestColumns)
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()
	var requests []domain.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *req)
	}
	return requests, rows.Err()
}

// UpdateRequest persists the mutable request fields.
func (r *Repository) UpdateRequest(ctx context.Context, request *domain.Request) error {
	const query = `UPDATE requests
		SET title = $2, description = $3, status = $4, priority = $5, config = $6,
			submitted_at = $7, completed_at = $8, updated_at = $9
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query,
		request.ID,
		request.Title,
		request.Description,
		string(request.Status),
		request.Priority,
		request.Config,
		request.SubmittedAt,
		request.CompletedAt,
		request.UpdatedAt,
	)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteRequest removes a request and its approval records.
func (r *Repository) DeleteRequest(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM requests WHERE id = $1`, id)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// CreateApproval inserts a pending approval record.
func (r *Repository) CreateApproval(ctx context.Context, approval *domain.Approval) error {
	const query = `INSERT INTO approvals (id, request_id, approver_id, status, comment, decided_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.pool.Exec(ctx, query,
		approval.ID,
		approval.RequestID,
		approval.ApproverID,
		approval.Status,
		approval.Comment,
		approval.DecidedAt,
		approval.CreatedAt,
	)
	if err != nil {
		return mapPgError(err)
	}
	return nil
}

const approvalColumns = `a.id, a.request_id, a.approver_id, a.status, a.comment, a.decided_at, a.created_at`

func scanApprovalWithRequest(row pgx.Row) (*domain.Approval, error) {
	var a domain.Approval
	var req domain.Request
	var status string
	if err := row.Scan(
		&a.ID,
		&a.RequestID,
		&a.ApproverID,
		&a.Status,
		&a.Comment,
		&a.DecidedAt,
		&a.CreatedAt,
		&req.ID,
		&req.UserID,
		&req.EnvironmentID,
		&req.ResourceTypeID,
		&req.Title,
		&req.Description,
		&status,
		&req.Priority,
		&req.Config,
		&req.SubmittedAt,
		&req.CompletedAt,
		&req.CreatedAt,
		&req.UpdatedAt,
	); err != nil {
		return nil, err
	}
	req.Status = lifecycle.Status(status)
	a.Request = &req
	return &a, nil
}

func approvalJoinQuery(where string) string {
	return fmt.Sprintf(`SELECT %s,
		r.id, r.user_id, r.environment_id, r.resource_type_id, r.title, r.description,
		r.status, r.priority, r.config, r.submitted_at, r.completed_at, r.created_at, r.updated_at
		FROM approvals a JOIN requests r ON r.id = a.request_id %s`, approvalColumns, where)
}

// GetApprovalByID fetches one approval with its request attached.
func (r *Repository) GetApprovalByID(ctx context.Context, id string) (*domain.Approval, error) {
	query := approvalJoinQuery("WHERE a.id = $1")
	approval, err := scanApprovalWithRequest(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, mapPgError(err)
	}
	return approval, nil
}

// GetApprovalByRequestID fetches the approval attached to a request.
func (r *Repository) GetApprovalByRequestID(ctx context.Context, requestID string) (*domain.Approval, error) {
	query := approvalJoinQuery("WHERE a.request_id = $1")
	approval, err := scanApprovalWithRequest(r.pool.QueryRow(ctx, query, requestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, mapPgError(err)
	}
	return approval, nil
}

// ListApprovalsByStatus returns approvals in the given decision state,
// oldest first so the queue drains in submission order.
func (r *Repository) ListApprovalsByStatus(ctx context.Context, status string) ([]domain.Approval, error) {
	query := approvalJoinQuery("WHERE a.status = $1 ORDER BY a.created_at")
	rows, err := r.pool.Query(ctx, query, status)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()
	var approvals []domain.Approval
	for rows.Next() {
		approval, err := scanApprovalWithRequest(rows)
		if err != nil {
			return nil, err
		}
		approvals = append(approvals, *approval)
	}
	return approvals, rows.Err()
}

// UpdateApproval persists a decision.
func (r *Repository) UpdateApproval(ctx context.Context, approval *domain.Approval) error {
	const query = `UPDATE approvals
		SET approver_id = $2, status = $3, comment = $4, decided_at = $5
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query,
		approval.ID,
		approval.ApproverID,
		approval.Status,
		approval.Comment,
		approval.DecidedAt,
	)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// InsertAudit appends an audit entry.
func (r *Repository) InsertAudit(ctx context.Context, entry *domain.AuditLog) error {
	const query = `INSERT INTO audit_logs (user_id, action, entity_type, entity_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`
	var createdAt = entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	row := r.pool.QueryRow(ctx, query, entry.UserID, entry.Action, entry.EntityType, entry.EntityID, entry.Details, createdAt)
	if err := row.Scan(&entry.ID); err != nil {
		return mapPgError(err)
	}
	entry.CreatedAt = createdAt
	return nil
}

// ListAuditsByEntity returns recent audit entries for an entity.
func (r *Repository) ListAuditsByEntity(ctx context.Context, entityType, entityID string, limit int) ([]domain.AuditLog, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `SELECT id, user_id, action, entity_type, entity_id, details, created_at
		FROM audit_logs WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC LIMIT $3`
	rows, err := r.pool.Query(ctx, query, entityType, entityID, limit)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()
	var entries []domain.AuditLog
	for rows.Next() {
		var e domain.AuditLog
		if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &e.EntityType, &e.EntityID, &e.Details, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
