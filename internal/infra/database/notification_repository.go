package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"auth_expiry_notifier/internal/domain/errs"
	"auth_expiry_notifier/internal/domain/notification"

	"github.com/google/uuid"
)

// Custom errors specific to notification repository
var ErrBatchNotFound = fmt.Errorf("notification batch not found: %w", errs.ErrNotFound)
var ErrBatchNotPending = fmt.Errorf("notification batch is not pending: %w", errs.ErrInvalidState)
var ErrDuplicateSentNotification = fmt.Errorf("auth already has a sent notification: %w", errs.ErrConflict)

const batchColumns = `id, user_id, user_email, resource_id, resource_name, notification_type, subject,
	status, sent_at, error, auths, created_at, updated_at`

const notificationColumns = `id, batch_id, user_id, user_email, resource_id, resource_name, auth_id, map_id,
	auth_name, expiry_date, notification_type, sent_at, status, error, created_at`

// SQLNotificationRepository stores batches and notifications in PostgreSQL or SQLite.
type SQLNotificationRepository struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

func NewSQLNotificationRepository(db *sql.DB, dialect Dialect) *SQLNotificationRepository {
	return &SQLNotificationRepository{db: db, dialect: dialect, now: time.Now}
}

func (r *SQLNotificationRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLNotificationRepository) ListByAuthID(ctx context.Context, authID int64) ([]*notification.Notification, error) {
	query := r.dialect.rebind(`SELECT ` + notificationColumns + ` FROM notifications WHERE auth_id = ? ORDER BY created_at`)
	rows, err := r.db.QueryContext(ctx, query, authID)
	if err != nil {
		return nil, fmt.Errorf("error listing notifications for auth %d: %w", authID, err)
	}
	defer rows.Close()

	out := []*notification.Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning notification for auth %d: %w", authID, err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notifications for auth %d: %w", authID, err)
	}
	return out, nil
}

func (r *SQLNotificationRepository) CreateBatchWithNotifications(ctx context.Context, batch *notification.Batch, notifications []*notification.Notification) error {
	if !batch.Status.IsTerminal() {
		return fmt.Errorf("cannot create batch with notifications in status %s: %w", batch.Status, errs.ErrValidation)
	}
	txn, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for batch create: %w", err)
	}
	defer txn.Rollback() // Rollback if not committed

	row := r.newBatchRow(batch)
	if err := r.insertBatch(ctx, txn, row); err != nil {
		return err
	}
	staged, err := r.insertNotifications(ctx, txn, row.ID, notifications, row.CreatedAt)
	if err != nil {
		return err
	}
	if err := txn.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch create: %w", err)
	}
	batch.ID, batch.CreatedAt, batch.UpdatedAt = row.ID, row.CreatedAt, row.UpdatedAt
	copyBack(notifications, staged)
	return nil
}

func (r *SQLNotificationRepository) CreatePendingBatch(ctx context.Context, batch *notification.Batch) error {
	if batch.Status != notification.StatusPending {
		return fmt.Errorf("cannot create batch with status %s as pending: %w", batch.Status, errs.ErrValidation)
	}
	row := r.newBatchRow(batch)
	if err := r.insertBatch(ctx, r.db, row); err != nil {
		return err
	}
	batch.ID, batch.CreatedAt, batch.UpdatedAt = row.ID, row.CreatedAt, row.UpdatedAt
	return nil
}

// newBatchRow copies batch with its id and timestamps filled in. The caller's
// batch is only updated once the row is stored.
func (r *SQLNotificationRepository) newBatchRow(batch *notification.Batch) *notification.Batch {
	row := *batch
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	now := r.now().UTC()
	row.CreatedAt, row.UpdatedAt = now, now
	return &row
}

func (r *SQLNotificationRepository) GetBatchByID(ctx context.Context, id string) (*notification.Batch, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("batch %q: %w", id, ErrBatchNotFound)
	}
	query := r.dialect.rebind(`SELECT ` + batchColumns + ` FROM notification_batches WHERE id = ?`)
	batch, err := scanBatch(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("batch %s: %w", id, ErrBatchNotFound)
		}
		return nil, fmt.Errorf("error getting notification batch by ID: %w", err)
	}
	return batch, nil
}

func (r *SQLNotificationRepository) ListPendingBatchesForUser(ctx context.Context, userID string) ([]*notification.Batch, error) {
	query := r.dialect.rebind(`SELECT ` + batchColumns + ` FROM notification_batches
		WHERE user_id = ? AND status = ? ORDER BY created_at DESC`)
	rows, err := r.db.QueryContext(ctx, query, userID, string(notification.StatusPending))
	if err != nil {
		return nil, fmt.Errorf("error listing pending batches for user %s: %w", userID, err)
	}
	defer rows.Close()

	out := []*notification.Batch{}
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning pending batch for user %s: %w", userID, err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending batches for user %s: %w", userID, err)
	}
	return out, nil
}

func (r *SQLNotificationRepository) FinalizeBatch(ctx context.Context, batchID string, outcome notification.Outcome, notifications []*notification.Notification) error {
	if !outcome.Status.IsTerminal() {
		return fmt.Errorf("cannot finalize batch with status %s: %w", outcome.Status, errs.ErrValidation)
	}
	if _, err := uuid.Parse(batchID); err != nil {
		return fmt.Errorf("batch %q: %w", batchID, ErrBatchNotFound)
	}

	txn, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for batch finalize: %w", err)
	}
	defer txn.Rollback()

	now := r.now().UTC()
	res, err := txn.ExecContext(ctx, r.dialect.rebind(`UPDATE notification_batches
		SET status = ?, sent_at = ?, error = ?, updated_at = ?
		WHERE id = ? AND status = ?`),
		string(outcome.Status), nullTime(outcome.SentAt), outcome.Error, dbTime{Time: now, Valid: true},
		batchID, string(notification.StatusPending))
	if err != nil {
		return fmt.Errorf("error finalizing notification batch: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading finalize result: %w", err)
	}
	if affected == 0 {
		var status string
		err := txn.QueryRowContext(ctx, r.dialect.rebind(`SELECT status FROM notification_batches WHERE id = ?`), batchID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("batch %s: %w", batchID, ErrBatchNotFound)
		}
		if err != nil {
			return fmt.Errorf("error checking notification batch: %w", err)
		}
		return fmt.Errorf("batch %s is %s: %w", batchID, status, ErrBatchNotPending)
	}

	staged, err := r.insertNotifications(ctx, txn, batchID, notifications, now)
	if err != nil {
		return err
	}
	if err := txn.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch finalize: %w", err)
	}
	copyBack(notifications, staged)
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *SQLNotificationRepository) insertBatch(ctx context.Context, db execer, batch *notification.Batch) error {
	auths, err := json.Marshal(batch.Auths)
	if err != nil {
		return fmt.Errorf("error encoding batch auths: %w", err)
	}
	query := r.dialect.rebind(`INSERT INTO notification_batches (` + batchColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = db.ExecContext(ctx, query,
		batch.ID, batch.UserID, batch.UserEmail, batch.ResourceID, batch.ResourceName,
		string(batch.Category), batch.Subject, string(batch.Status),
		nullTime(batch.SentAt), batch.Error, string(auths),
		dbTime{Time: batch.CreatedAt, Valid: true}, dbTime{Time: batch.UpdatedAt, Valid: true},
	)
	if err != nil {
		return fmt.Errorf("error creating notification batch: %w", err)
	}
	return nil
}

// insertNotifications writes copies of notifications and returns them with
// ids, batch id and creation time set.
func (r *SQLNotificationRepository) insertNotifications(ctx context.Context, txn *sql.Tx, batchID string, notifications []*notification.Notification, now time.Time) ([]notification.Notification, error) {
	staged := make([]notification.Notification, 0, len(notifications))
	if len(notifications) == 0 {
		return staged, nil
	}
	stmt, err := txn.PrepareContext(ctx, r.dialect.rebind(`INSERT INTO notifications (`+notificationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement for notification insert: %w", err)
	}
	defer stmt.Close()

	for _, orig := range notifications {
		n := *orig
		if n.ID == "" {
			n.ID = uuid.NewString()
		}
		n.BatchID = batchID
		n.CreatedAt = now
		_, err := stmt.ExecContext(ctx,
			n.ID, n.BatchID, n.UserID, n.UserEmail, n.ResourceID, n.ResourceName,
			n.AuthID, n.MapID, n.AuthName, dbTime{Time: n.ExpiryDate, Valid: true},
			string(n.Category), nullTime(n.SentAt), string(n.Status), n.Error,
			dbTime{Time: n.CreatedAt, Valid: true},
		)
		if err != nil {
			if r.dialect.isUniqueViolation(err) {
				return nil, fmt.Errorf("error in notification insert (auth %d): %w, Detail: %v", n.AuthID, ErrDuplicateSentNotification, err)
			}
			return nil, fmt.Errorf("error executing statement for notification insert (auth %d): %w", n.AuthID, err)
		}
		staged = append(staged, n)
	}
	return staged, nil
}

// copyBack hands the stored ids back to the caller after a commit.
func copyBack(caller []*notification.Notification, staged []notification.Notification) {
	for i := range staged {
		caller[i].ID, caller[i].BatchID, caller[i].CreatedAt = staged[i].ID, staged[i].BatchID, staged[i].CreatedAt
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(row rowScanner) (*notification.Batch, error) {
	var (
		b                    notification.Batch
		category, status     string
		auths                string
		sentAt, created, upd dbTime
	)
	err := row.Scan(&b.ID, &b.UserID, &b.UserEmail, &b.ResourceID, &b.ResourceName, &category, &b.Subject,
		&status, &sentAt, &b.Error, &auths, &created, &upd)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(auths), &b.Auths); err != nil {
		return nil, fmt.Errorf("error decoding batch auths: %w", err)
	}
	b.Category = notification.Category(category)
	b.Status = notification.Status(status)
	b.SentAt = sql.NullTime{Time: sentAt.Time, Valid: sentAt.Valid}
	b.CreatedAt, b.UpdatedAt = created.Time, upd.Time
	return &b, nil
}

func scanNotification(row rowScanner) (*notification.Notification, error) {
	var (
		n                       notification.Notification
		category, status        string
		expiry, sentAt, created dbTime
	)
	err := row.Scan(&n.ID, &n.BatchID, &n.UserID, &n.UserEmail, &n.ResourceID, &n.ResourceName,
		&n.AuthID, &n.MapID, &n.AuthName, &expiry, &category, &sentAt, &status, &n.Error, &created)
	if err != nil {
		return nil, err
	}
	n.ExpiryDate = expiry.Time
	n.Category = notification.Category(category)
	n.Status = notification.Status(status)
	n.SentAt = sql.NullTime{Time: sentAt.Time, Valid: sentAt.Valid}
	n.CreatedAt = created.Time
	return &n, nil
}

func nullTime(t sql.NullTime) dbTime {
	return dbTime{Time: t.Time, Valid: t.Valid}
}
