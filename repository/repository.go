package repository

import (
	"errors"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/parlaygorilla/proofd/payload"
	"github.com/parlaygorilla/proofd/repository/models"
)

// PostgreSQL error codes as constants
const (
	// Class 23 — Integrity Constraint Violation
	PgErrForeignKeyViolation = "23503" // foreign_key_violation
	PgErrUniqueViolation     = "23505" // unique_violation
	PgErrNotNullViolation    = "23502" // not_null_violation

	// Class 08 — Connection Exception
	PgErrConnectionException = "08000" // connection_exception
	PgErrConnectionFailure   = "08006" // connection_failure

	// Class 40 — Transaction Rollback
	PgErrTransactionRollback = "40000" // transaction_rollback

	// Class 57 — Operator Intervention
	PgErrAdminShutdown = "57P01" // admin_shutdown
)

// MaxErrorLen bounds last_error before it is persisted. Ledger SDK error
// text is unbounded and must never be stored verbatim.
const MaxErrorLen = 512

// RepositoryError represent an error in the repository layer (db/rpc)
type RepositoryError struct {
	Code    string
	Message string
	Detail  string
}

func (e *RepositoryError) Error() string {
	return e.Code + ": " + e.Message
}

type Repository struct {
	db     *gorm.DB
	logger cmtlog.Logger
}

func NewRepository(logger cmtlog.Logger) *Repository {
	return &Repository{
		logger: logger,
	}
}

// ConnectDB dials Postgres with a bounded retry loop; the database is
// usually the last dependency to come up in a fresh deployment.
func (r *Repository) ConnectDB(dsn string) error {
	var lastErr error
	for i := range 10 {
		DB, err := gorm.Open(postgres.Open(dsn))
		if err == nil {
			r.db = DB
			r.logger.Info("Connected to Postgres")
			return nil
		}
		lastErr = err
		r.logger.Info("Connection attempt failed", "attempt", i+1, "err", err)
		time.Sleep(2 * time.Second)
	}
	return lastErr
}

// UseDB injects an already-open gorm handle. Tests use this with an
// in-process driver.
func (r *Repository) UseDB(db *gorm.DB) {
	r.db = db
}

func (r *Repository) Migrate() error {
	return r.db.AutoMigrate(&models.VerificationRecord{})
}

// EnsureRecord loads the record for a proof request, creating it in the
// pending state if this is the first delivery.
func (r *Repository) EnsureRecord(req payload.ProofRequest, network string) (*models.VerificationRecord, *RepositoryError) {
	existing, repoErr := r.GetByID(req.ID)
	if repoErr != nil {
		return nil, repoErr
	}
	if existing != nil {
		return existing, nil
	}

	record := models.VerificationRecord{
		ID:          req.ID,
		SubjectID:   req.SubjectID,
		ContentHash: req.ContentHash,
		Status:      models.StatusPending,
		Network:     network,
	}
	err := r.db.Create(&record).Error
	if err != nil {
		var pgErr *pgconn.PgError
		// A concurrent worker may have created the row between the read
		// and the insert; the existing row wins.
		if errors.As(err, &pgErr) && pgErr.Code == PgErrUniqueViolation {
			existing, repoErr := r.GetByID(req.ID)
			if repoErr != nil {
				return nil, repoErr
			}
			if existing == nil {
				return nil, &RepositoryError{
					Code:    "RECORD_MISSING",
					Message: "Record vanished after conflicting insert",
					Detail:  "verification record " + req.ID + " not found after unique violation",
				}
			}
			return existing, nil
		}
		return nil, wrapDBError(err)
	}
	return &record, nil
}

// GetByID returns the record, or nil without error when it does not exist.
func (r *Repository) GetByID(id string) (*models.VerificationRecord, *RepositoryError) {
	var record models.VerificationRecord
	err := r.db.Where("verification_id = ?", id).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, wrapDBError(err)
	}
	return &record, nil
}

// MarkConfirmed transitions the record to confirmed and clears last_error.
// Idempotent: confirming twice with the same reference leaves the record in
// the same observable state, confirmed_at keeps its first value.
func (r *Repository) MarkConfirmed(id, txReference, objectReference string) *RepositoryError {
	updates := map[string]interface{}{
		"status":                  models.StatusConfirmed,
		"tx_reference":            txReference,
		"last_error":              nil,
		"confirmed_at":            gorm.Expr("COALESCE(confirmed_at, ?)", time.Now().UTC()),
		"ledger_object_reference": nullableString(objectReference),
	}
	err := r.db.Model(&models.VerificationRecord{}).
		Where("verification_id = ?", id).
		Updates(updates).Error
	if err != nil {
		return wrapDBError(err)
	}
	return nil
}

// SetLastError records a transient failure and bumps the attempt counter.
// The record stays pending.
func (r *Repository) SetLastError(id, message string) *RepositoryError {
	err := r.db.Model(&models.VerificationRecord{}).
		Where("verification_id = ?", id).
		Updates(map[string]interface{}{
			"last_error": truncateError(message),
			"attempts":   gorm.Expr("attempts + 1"),
		}).Error
	if err != nil {
		return wrapDBError(err)
	}
	return nil
}

// MarkFailed is the terminal transition after attempts are exhausted.
func (r *Repository) MarkFailed(id, message string) *RepositoryError {
	err := r.db.Model(&models.VerificationRecord{}).
		Where("verification_id = ?", id).
		Updates(map[string]interface{}{
			"status":     models.StatusFailed,
			"last_error": truncateError(message),
		}).Error
	if err != nil {
		return wrapDBError(err)
	}
	r.logger.Error("verification terminally failed", "verification_id", id, "last_error", truncateError(message))
	return nil
}

func truncateError(message string) string {
	if len(message) > MaxErrorLen {
		return message[:MaxErrorLen]
	}
	return message
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func wrapDBError(err error) *RepositoryError {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &RepositoryError{
			Code:    pgErr.Code,
			Message: pgErr.Message,
			Detail:  pgErr.Detail,
		}
	}
	return &RepositoryError{
		Code:    "DATABASE_ERROR",
		Message: "Database error occured",
		Detail:  err.Error(),
	}
}
