package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Strob0t/elicitor/internal/domain/escalation"
)

// --- Chains ---

const chainColumns = `id, tenant_id, name, queue_id, request_types, priorities, levels, final_action,
	default_value, created_at`

func scanChain(row scannable) (escalation.Chain, error) {
	var c escalation.Chain
	var queueID *string
	var levels, defaultValue []byte
	err := row.Scan(&c.ID, &c.TenantID, &c.Name, &queueID, &c.RequestTypes, &c.Priorities, &levels,
		&c.FinalAction, &defaultValue, &c.CreatedAt)
	if err != nil {
		return c, err
	}
	c.QueueID = derefString(queueID)
	if err := decodeJSON(levels, &c.Levels); err != nil {
		return c, fmt.Errorf("decode levels: %w", err)
	}
	if err := decodeJSON(defaultValue, &c.DefaultValue); err != nil {
		return c, fmt.Errorf("decode default value: %w", err)
	}
	return c, nil
}

func (s *Store) CreateChain(ctx context.Context, c *escalation.Chain) error {
	levels, err := json.Marshal(orEmpty(c.Levels))
	if err != nil {
		return fmt.Errorf("marshal levels: %w", err)
	}
	defaultValue, err := jsonValue(c.DefaultValue)
	if err != nil {
		return fmt.Errorf("marshal default value: %w", err)
	}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO escalation_chains (tenant_id, name, queue_id, request_types, priorities, levels,
			final_action, default_value)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at`,
		c.TenantID, c.Name, nullIfEmpty(c.QueueID), pgTextArray(c.RequestTypes), pgTextArray(c.Priorities),
		levels, string(c.FinalAction), defaultValue,
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return fmt.Errorf("create escalation chain %s: %w", c.Name, err)
	}
	return nil
}

func (s *Store) GetChain(ctx context.Context, tenantID, id string) (*escalation.Chain, error) {
	c, err := scanChain(s.pool.QueryRow(ctx,
		`SELECT `+chainColumns+` FROM escalation_chains WHERE id = $1 AND tenant_id = $2`, id, tenantID))
	if err != nil {
		return nil, notFoundWrap(err, "get escalation chain %s", id)
	}
	return &c, nil
}

func (s *Store) ListChains(ctx context.Context, tenantID string) ([]escalation.Chain, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+chainColumns+` FROM escalation_chains WHERE tenant_id = $1 ORDER BY seq ASC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list escalation chains: %w", err)
	}
	defer rows.Close()

	var chains []escalation.Chain
	for rows.Next() {
		c, err := scanChain(rows)
		if err != nil {
			return nil, fmt.Errorf("scan escalation chain: %w", err)
		}
		chains = append(chains, c)
	}
	return chains, rows.Err()
}

// --- Queues ---

func (s *Store) CreateQueue(ctx context.Context, q *escalation.Queue) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO escalation_queues (tenant_id, name, timeout_minutes, active)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		q.TenantID, q.Name, q.TimeoutMinutes, q.Active,
	).Scan(&q.ID, &q.CreatedAt)
	if err != nil {
		return fmt.Errorf("create escalation queue %s: %w", q.Name, err)
	}
	return nil
}

func (s *Store) GetQueue(ctx context.Context, tenantID, id string) (*escalation.Queue, error) {
	var q escalation.Queue
	err := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, name, timeout_minutes, active, created_at
		 FROM escalation_queues WHERE id = $1 AND tenant_id = $2`, id, tenantID,
	).Scan(&q.ID, &q.TenantID, &q.Name, &q.TimeoutMinutes, &q.Active, &q.CreatedAt)
	if err != nil {
		return nil, notFoundWrap(err, "get escalation queue %s", id)
	}
	return &q, nil
}

// --- On-call schedules ---

func (s *Store) CreateSchedule(ctx context.Context, sc *escalation.Schedule) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO on_call_schedules (tenant_id, name, user_id, priority, starts_at, ends_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		sc.TenantID, sc.Name, sc.UserID, sc.Priority, sc.StartsAt, sc.EndsAt,
	).Scan(&sc.ID)
	if err != nil {
		return fmt.Errorf("create on-call schedule %s: %w", sc.Name, err)
	}
	return nil
}

func (s *Store) ListActiveSchedules(ctx context.Context, tenantID string, now time.Time) ([]escalation.Schedule, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, name, user_id, priority, starts_at, ends_at
		 FROM on_call_schedules
		 WHERE tenant_id = $1 AND starts_at <= $2 AND ends_at > $2
		 ORDER BY priority ASC, starts_at ASC`, tenantID, now)
	if err != nil {
		return nil, fmt.Errorf("list on-call schedules: %w", err)
	}
	defer rows.Close()

	var out []escalation.Schedule
	for rows.Next() {
		var sc escalation.Schedule
		if err := rows.Scan(&sc.ID, &sc.TenantID, &sc.Name, &sc.UserID, &sc.Priority, &sc.StartsAt, &sc.EndsAt); err != nil {
			return nil, fmt.Errorf("scan on-call schedule: %w", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// --- Directory ---

func (s *Store) listUserIDs(ctx context.Context, op, query string, args ...any) ([]string, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) ListUsersByRole(ctx context.Context, tenantID, role string) ([]string, error) {
	return s.listUserIDs(ctx, "list users by role",
		`SELECT user_id FROM tenant_members WHERE tenant_id = $1 AND role = $2 ORDER BY user_id`, tenantID, role)
}

func (s *Store) ListGroupMembers(ctx context.Context, tenantID, groupID string) ([]string, error) {
	return s.listUserIDs(ctx, "list group members",
		`SELECT user_id FROM group_members WHERE tenant_id = $1 AND group_id = $2 ORDER BY user_id`, tenantID, groupID)
}

func (s *Store) ListTenantAdmins(ctx context.Context, tenantID string) ([]string, error) {
	return s.listUserIDs(ctx, "list tenant admins",
		`SELECT user_id FROM tenant_members WHERE tenant_id = $1 AND role = 'admin' ORDER BY user_id`, tenantID)
}
