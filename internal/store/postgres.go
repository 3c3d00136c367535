package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store using a PostgreSQL backend. It is the
// durable tier named in spec.md §6: Campaign, CampaignContact, CallLog
// with the indexes spec.md requires (campaign by (userId,status,createdAt
// desc); contact by (campaignId,status,priority desc,createdAt), unique
// on (campaignId,phoneNumber); call log by callSid).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore initializes a connection pool sized for the sweep
// workloads the reconcilers (internal/reconcile) run every 30s-15min.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}

	config.MaxConns = 25
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) CreateCampaign(ctx context.Context, c *Campaign) error {
	query := `
		INSERT INTO campaigns (
			id, tenant_id, agent_id, phone_id, name, status,
			total_contacts, retry_failed_calls, max_retry_attempts, retry_delay_minutes,
			exclude_voicemail, priority_mode, concurrent_calls_limit, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,NOW(),NOW())
		ON CONFLICT (id) DO NOTHING
	`
	_, err := s.pool.Exec(ctx, query,
		c.ID, c.TenantID, c.AgentID, c.PhoneID, c.Name, c.Status,
		c.Totals.TotalContacts, c.Settings.RetryFailedCalls, c.Settings.MaxRetryAttempts,
		c.Settings.RetryDelayMinutes, c.Settings.ExcludeVoicemail, c.Settings.PriorityMode,
		c.Settings.ConcurrentCallsLimit,
	)
	return err
}

func (s *PostgresStore) GetCampaign(ctx context.Context, tenantID, campaignID string) (*Campaign, error) {
	query := `
		SELECT id, tenant_id, agent_id, phone_id, name, status,
			total_contacts, queued, active, completed, failed, voicemail,
			retry_failed_calls, max_retry_attempts, retry_delay_minutes,
			exclude_voicemail, priority_mode, concurrent_calls_limit,
			scheduled_at, started_at, paused_at, completed_at, created_at, updated_at
		FROM campaigns WHERE id = $1 AND tenant_id = $2
	`
	var c Campaign
	err := s.pool.QueryRow(ctx, query, campaignID, tenantID).Scan(
		&c.ID, &c.TenantID, &c.AgentID, &c.PhoneID, &c.Name, &c.Status,
		&c.Totals.TotalContacts, &c.Totals.Queued, &c.Totals.Active, &c.Totals.Completed, &c.Totals.Failed, &c.Totals.Voicemail,
		&c.Settings.RetryFailedCalls, &c.Settings.MaxRetryAttempts, &c.Settings.RetryDelayMinutes,
		&c.Settings.ExcludeVoicemail, &c.Settings.PriorityMode, &c.Settings.ConcurrentCallsLimit,
		&c.ScheduledAt, &c.StartedAt, &c.PausedAt, &c.CompletedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) UpdateCampaignStatus(ctx context.Context, tenantID, campaignID string, status CampaignStatus, at time.Time) error {
	var column string
	switch status {
	case CampaignActive:
		column = "started_at"
	case CampaignPaused:
		column = "paused_at"
	case CampaignCompleted:
		column = "completed_at"
	}

	var query string
	if column != "" {
		query = `UPDATE campaigns SET status = $1, ` + column + ` = COALESCE(` + column + `, $2), updated_at = $2 WHERE id = $3 AND tenant_id = $4`
	} else {
		query = `UPDATE campaigns SET status = $1, updated_at = $2 WHERE id = $3 AND tenant_id = $4`
	}
	tag, err := s.pool.Exec(ctx, query, status, at, campaignID, tenantID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.New("campaign not found")
	}
	return nil
}

func (s *PostgresStore) UpdateCampaignTotals(ctx context.Context, tenantID, campaignID string, totals CampaignTotals) error {
	query := `
		UPDATE campaigns
		SET queued = $1, active = $2, completed = $3, failed = $4, voicemail = $5, updated_at = NOW()
		WHERE id = $6 AND tenant_id = $7
	`
	_, err := s.pool.Exec(ctx, query, totals.Queued, totals.Active, totals.Completed, totals.Failed, totals.Voicemail, campaignID, tenantID)
	return err
}

func (s *PostgresStore) ListActiveCampaigns(ctx context.Context) ([]*Campaign, error) {
	query := `
		SELECT id, tenant_id, agent_id, phone_id, name, status,
			total_contacts, queued, active, completed, failed, voicemail,
			retry_failed_calls, max_retry_attempts, retry_delay_minutes,
			exclude_voicemail, priority_mode, concurrent_calls_limit,
			scheduled_at, started_at, paused_at, completed_at, created_at, updated_at
		FROM campaigns WHERE status = $1 ORDER BY created_at ASC
	`
	rows, err := s.pool.Query(ctx, query, CampaignActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Campaign
	for rows.Next() {
		var c Campaign
		if err := rows.Scan(
			&c.ID, &c.TenantID, &c.AgentID, &c.PhoneID, &c.Name, &c.Status,
			&c.Totals.TotalContacts, &c.Totals.Queued, &c.Totals.Active, &c.Totals.Completed, &c.Totals.Failed, &c.Totals.Voicemail,
			&c.Settings.RetryFailedCalls, &c.Settings.MaxRetryAttempts, &c.Settings.RetryDelayMinutes,
			&c.Settings.ExcludeVoicemail, &c.Settings.PriorityMode, &c.Settings.ConcurrentCallsLimit,
			&c.ScheduledAt, &c.StartedAt, &c.PausedAt, &c.CompletedAt, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateContact(ctx context.Context, c *CampaignContact) error {
	query := `
		INSERT INTO campaign_contacts (id, campaign_id, phone_number, priority, status, custom_data, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,NOW(),NOW())
		ON CONFLICT (campaign_id, phone_number) DO NOTHING
	`
	_, err := s.pool.Exec(ctx, query, c.ID, c.CampaignID, c.PhoneNumber, c.Priority, c.Status, c.CustomData)
	return err
}

func (s *PostgresStore) GetContact(ctx context.Context, contactID string) (*CampaignContact, error) {
	query := `
		SELECT id, campaign_id, phone_number, priority, retry_count, next_retry_at, status, voicemail, custom_data, created_at, updated_at
		FROM campaign_contacts WHERE id = $1
	`
	var c CampaignContact
	err := s.pool.QueryRow(ctx, query, contactID).Scan(
		&c.ID, &c.CampaignID, &c.PhoneNumber, &c.Priority, &c.RetryCount, &c.NextRetryAt,
		&c.Status, &c.Voicemail, &c.CustomData, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) ListContactsByStatus(ctx context.Context, campaignID string, status ContactStatus) ([]*CampaignContact, error) {
	// Ordering matches the required index: (campaignId, status, priority desc, createdAt).
	query := `
		SELECT id, campaign_id, phone_number, priority, retry_count, next_retry_at, status, voicemail, custom_data, created_at, updated_at
		FROM campaign_contacts
		WHERE campaign_id = $1 AND status = $2
		ORDER BY priority DESC, created_at ASC
	`
	rows, err := s.pool.Query(ctx, query, campaignID, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*CampaignContact
	for rows.Next() {
		var c CampaignContact
		if err := rows.Scan(
			&c.ID, &c.CampaignID, &c.PhoneNumber, &c.Priority, &c.RetryCount, &c.NextRetryAt,
			&c.Status, &c.Voicemail, &c.CustomData, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateContactStatus(ctx context.Context, contactID string, status ContactStatus) error {
	tag, err := s.pool.Exec(ctx, `UPDATE campaign_contacts SET status = $1, updated_at = NOW() WHERE id = $2`, status, contactID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.New("contact not found")
	}
	return nil
}

func (s *PostgresStore) BumpContactRetry(ctx context.Context, contactID string, nextRetryAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE campaign_contacts
		SET retry_count = retry_count + 1, next_retry_at = $1, status = $2, updated_at = NOW()
		WHERE id = $3
	`, nextRetryAt, ContactPending, contactID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.New("contact not found")
	}
	return nil
}

func (s *PostgresStore) MarkContactVoicemail(ctx context.Context, contactID string) error {
	_, err := s.pool.Exec(ctx, `UPDATE campaign_contacts SET voicemail = TRUE, updated_at = NOW() WHERE id = $1`, contactID)
	return err
}

func (s *PostgresStore) CreateCallLog(ctx context.Context, cl *CallLog) error {
	query := `
		INSERT INTO call_logs (id, tenant_id, campaign_id, campaign_contact_id, call_sid, active_token, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,NOW())
	`
	_, err := s.pool.Exec(ctx, query, cl.ID, cl.TenantID, cl.CampaignID, cl.CampaignContact, cl.CallSid, cl.ActiveToken, cl.Status)
	return err
}

func (s *PostgresStore) GetCallLogByCallSid(ctx context.Context, callSid string) (*CallLog, error) {
	query := `
		SELECT id, tenant_id, campaign_id, campaign_contact_id, call_sid, active_token, status, duration, recording_url, voicemail, created_at, finished_at
		FROM call_logs WHERE call_sid = $1
	`
	var cl CallLog
	err := s.pool.QueryRow(ctx, query, callSid).Scan(
		&cl.ID, &cl.TenantID, &cl.CampaignID, &cl.CampaignContact, &cl.CallSid, &cl.ActiveToken,
		&cl.Status, &cl.Duration, &cl.RecordingURL, &cl.Voicemail, &cl.CreatedAt, &cl.FinishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cl, nil
}

func (s *PostgresStore) UpdateCallLogCallSid(ctx context.Context, callLogID string, callSid string) error {
	_, err := s.pool.Exec(ctx, `UPDATE call_logs SET call_sid = $1 WHERE id = $2`, callSid, callLogID)
	return err
}

func (s *PostgresStore) UpdateCallLogActiveToken(ctx context.Context, callLogID string, token string) error {
	_, err := s.pool.Exec(ctx, `UPDATE call_logs SET active_token = $1 WHERE id = $2`, token, callLogID)
	return err
}

func (s *PostgresStore) FinalizeCallLog(ctx context.Context, callLogID string, status CallLogStatus, duration int, recordingURL string, voicemail bool, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE call_logs
		SET status = $1, duration = $2, recording_url = $3, voicemail = $4, finished_at = $5
		WHERE id = $6
	`, status, duration, recordingURL, voicemail, at, callLogID)
	return err
}

// IncrementLeaderEpoch returns a durable fencing epoch backed by a
// single-row counter table, keyed by name so multiple election domains
// could share one database.
func (s *PostgresStore) IncrementLeaderEpoch(ctx context.Context, name string) (int64, error) {
	var epoch int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO leader_epochs (name, epoch)
		VALUES ($1, 1)
		ON CONFLICT (name) DO UPDATE SET epoch = leader_epochs.epoch + 1
		RETURNING epoch
	`, name).Scan(&epoch)
	return epoch, err
}

var _ Store = (*PostgresStore)(nil)
