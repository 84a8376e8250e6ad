package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/joaovsf/fitbook/internal/engine"
	"github.com/joaovsf/fitbook/internal/model"
)

// ErrNoDraft is returned when publish is requested and no draft exists.
var ErrNoDraft = errors.New("no policy draft")

const activePolicyKey = "policy:active"

// PolicyRepo manages the versioned policy records.  Published versions
// are immutable; drafts are a single mutable row until published.  The
// active version is cached in Redis for a short TTL and invalidated on
// every publish, so the engine reads at most one stale interval after
// a policy change.  When no Redis client is configured the cache is
// simply skipped.
type PolicyRepo struct {
	db       *sql.DB
	rdb      *redis.Client
	cacheTTL time.Duration
}

// NewPolicyRepo returns a PolicyRepo.  rdb may be nil.
func NewPolicyRepo(db *sql.DB, rdb *redis.Client, cacheTTL time.Duration) *PolicyRepo {
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	return &PolicyRepo{db: db, rdb: rdb, cacheTTL: cacheTTL}
}

const policyColumns = `version, effective_from, credits_per_class, class_duration_minutes,
       checkin_tolerance_minutes, student_min_booking_notice_minutes,
       student_reschedule_min_notice_minutes, late_cancel_threshold_minutes,
       late_cancel_penalty_credits, no_show_penalty_credits,
       teacher_minutes_per_class, teacher_rest_minutes_between_classes,
       teacher_max_daily_classes, max_future_booking_days, max_cancel_per_month,
       created_at`

// ActivePolicy returns the highest published version whose
// effective_from is not in the future.  Never a draft.
func (r *PolicyRepo) ActivePolicy(ctx context.Context) (model.Policy, error) {
	if r.rdb != nil {
		if raw, err := r.rdb.Get(ctx, activePolicyKey).Bytes(); err == nil {
			var p model.Policy
			if json.Unmarshal(raw, &p) == nil {
				return p, nil
			}
		}
	}
	p, err := r.activeFromDB(ctx)
	if err != nil {
		return model.Policy{}, err
	}
	if r.rdb != nil {
		if raw, err := json.Marshal(p); err == nil {
			_ = r.rdb.Set(ctx, activePolicyKey, raw, r.cacheTTL).Err()
		}
	}
	return p, nil
}

func (r *PolicyRepo) activeFromDB(ctx context.Context) (model.Policy, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+policyColumns+` FROM policies
          WHERE version IS NOT NULL AND effective_from <= UTC_TIMESTAMP()
          ORDER BY version DESC LIMIT 1`)
	p, err := scanPolicy(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Policy{}, fmt.Errorf("no active policy: %w", engine.ErrNotFound)
		}
		return model.Policy{}, fmt.Errorf("load active policy: %w", err)
	}
	return p, nil
}

// SaveDraft replaces the draft row with p's values.  The draft carries
// no version until published.
func (r *PolicyRepo) SaveDraft(ctx context.Context, p model.Policy) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx, `DELETE FROM policies WHERE version IS NULL`); err != nil {
		return fmt.Errorf("clear draft: %w", err)
	}
	if err := insertPolicy(ctx, tx, nil, p); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	committed = true
	return nil
}

// Draft returns the current draft, ErrNoDraft when none exists.
func (r *PolicyRepo) Draft(ctx context.Context) (model.Policy, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+policyColumns+` FROM policies WHERE version IS NULL`)
	p, err := scanPolicy(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Policy{}, ErrNoDraft
		}
		return model.Policy{}, fmt.Errorf("load draft: %w", err)
	}
	return p, nil
}

// PublishDraft promotes the draft to the next version.  The draft row
// becomes the immutable published record; the active-policy cache is
// invalidated.
func (r *PolicyRepo) PublishDraft(ctx context.Context) (model.Policy, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Policy{}, fmt.Errorf("begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	row := tx.QueryRowContext(ctx,
		`SELECT `+policyColumns+` FROM policies WHERE version IS NULL FOR UPDATE`)
	p, err := scanPolicy(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Policy{}, ErrNoDraft
		}
		return model.Policy{}, fmt.Errorf("load draft: %w", err)
	}

	next, err := nextVersion(ctx, tx)
	if err != nil {
		return model.Policy{}, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE policies SET version = ?, created_at = UTC_TIMESTAMP() WHERE version IS NULL`,
		next); err != nil {
		return model.Policy{}, fmt.Errorf("publish draft: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return model.Policy{}, fmt.Errorf("commit transaction: %w", err)
	}
	committed = true

	p.Version = next
	r.invalidate(ctx)
	return p, nil
}

// Rollback publishes a new version copying the values of an older one.
// The old record stays untouched; history is never rewritten.
func (r *PolicyRepo) Rollback(ctx context.Context, version int) (model.Policy, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Policy{}, fmt.Errorf("begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	row := tx.QueryRowContext(ctx,
		`SELECT `+policyColumns+` FROM policies WHERE version = ?`, version)
	old, err := scanPolicy(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Policy{}, fmt.Errorf("policy version %d: %w", version, engine.ErrNotFound)
		}
		return model.Policy{}, fmt.Errorf("load policy version: %w", err)
	}

	next, err := nextVersion(ctx, tx)
	if err != nil {
		return model.Policy{}, err
	}
	old.Version = next
	old.EffectiveFrom = time.Now().UTC()
	if err := insertPolicy(ctx, tx, &next, old); err != nil {
		return model.Policy{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Policy{}, fmt.Errorf("commit transaction: %w", err)
	}
	committed = true

	r.invalidate(ctx)
	return old, nil
}

// History lists published versions, newest first.
func (r *PolicyRepo) History(ctx context.Context) ([]model.Policy, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+policyColumns+` FROM policies
          WHERE version IS NOT NULL ORDER BY version DESC`)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	defer rows.Close()
	var out []model.Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("scan policy: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PolicyRepo) invalidate(ctx context.Context) {
	if r.rdb != nil {
		_ = r.rdb.Del(ctx, activePolicyKey).Err()
	}
}

func nextVersion(ctx context.Context, tx *sql.Tx) (int, error) {
	var maxVersion sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(version) FROM policies FOR UPDATE`).Scan(&maxVersion); err != nil {
		return 0, fmt.Errorf("next policy version: %w", err)
	}
	return int(maxVersion.Int64) + 1, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func insertPolicy(ctx context.Context, tx execer, version *int, p model.Policy) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO policies (version, effective_from, credits_per_class,
            class_duration_minutes, checkin_tolerance_minutes,
            student_min_booking_notice_minutes, student_reschedule_min_notice_minutes,
            late_cancel_threshold_minutes, late_cancel_penalty_credits,
            no_show_penalty_credits, teacher_minutes_per_class,
            teacher_rest_minutes_between_classes, teacher_max_daily_classes,
            max_future_booking_days, max_cancel_per_month)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		version, p.EffectiveFrom.UTC(), p.CreditsPerClass,
		p.ClassDurationMinutes, p.CheckinToleranceMinutes,
		p.StudentMinBookingNoticeMinutes, p.StudentRescheduleMinNoticeMinutes,
		p.LateCancelThresholdMinutes, p.LateCancelPenaltyCredits,
		p.NoShowPenaltyCredits, p.TeacherMinutesPerClass,
		p.TeacherRestMinutesBetweenClasses, p.TeacherMaxDailyClasses,
		p.MaxFutureBookingDays, p.MaxCancelPerMonth)
	if err != nil {
		return fmt.Errorf("insert policy: %w", err)
	}
	return nil
}

func scanPolicy(row rowScanner) (model.Policy, error) {
	var p model.Policy
	var version sql.NullInt64
	err := row.Scan(&version, &p.EffectiveFrom, &p.CreditsPerClass,
		&p.ClassDurationMinutes, &p.CheckinToleranceMinutes,
		&p.StudentMinBookingNoticeMinutes, &p.StudentRescheduleMinNoticeMinutes,
		&p.LateCancelThresholdMinutes, &p.LateCancelPenaltyCredits,
		&p.NoShowPenaltyCredits, &p.TeacherMinutesPerClass,
		&p.TeacherRestMinutesBetweenClasses, &p.TeacherMaxDailyClasses,
		&p.MaxFutureBookingDays, &p.MaxCancelPerMonth, &p.CreatedAt)
	if err != nil {
		return model.Policy{}, err
	}
	p.Version = int(version.Int64)
	return p, nil
}
