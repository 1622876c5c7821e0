package workers

import (
	"context"
	"fmt"

	"github.com/benvon/auth-gateway/internal/models"
	"github.com/benvon/auth-gateway/internal/queue"
	"go.uber.org/zap"
)

// AllowlistStore is the write side of the token allowlist
// This interface enables better testability by allowing mock implementations
type AllowlistStore interface {
	Clear(ctx context.Context, subject string, tokenType models.TokenType) error
	ClearAll(ctx context.Context, subject string) error
}

// Revoker processes revocation jobs by clearing allowlist entries. Clearing a
// subject's allowlist kills every outstanding token for that subject; the
// next request fails the liveness check regardless of token expiry.
type Revoker struct {
	store  AllowlistStore
	logger *zap.Logger
}

// NewRevoker creates a new revocation worker
func NewRevoker(store AllowlistStore, logger *zap.Logger) *Revoker {
	return &Revoker{
		store:  store,
		logger: logger,
	}
}

// ProcessRevokeUserTokensJob clears every allowlist the user has
func (r *Revoker) ProcessRevokeUserTokensJob(ctx context.Context, job *queue.Job) error {
	if err := r.store.ClearAll(ctx, job.UserID.String()); err != nil {
		return fmt.Errorf("failed to revoke tokens for user %s: %w", job.UserID, err)
	}

	r.logger.Info("Revoked all tokens",
		zap.String("user_id", job.UserID.String()),
		zap.String("reason", job.Reason),
	)
	return nil
}

// ProcessRevokeTokenTypeJob clears one token type allowlist for the user
func (r *Revoker) ProcessRevokeTokenTypeJob(ctx context.Context, job *queue.Job) error {
	if job.TokenType == nil {
		return fmt.Errorf("token_type is required for revoke_token_type job")
	}
	if !job.TokenType.Valid() {
		return fmt.Errorf("invalid token type %q", *job.TokenType)
	}

	if err := r.store.Clear(ctx, job.UserID.String(), *job.TokenType); err != nil {
		return fmt.Errorf("failed to revoke %s tokens for user %s: %w", *job.TokenType, job.UserID, err)
	}

	r.logger.Info("Revoked tokens",
		zap.String("user_id", job.UserID.String()),
		zap.String("token_type", string(*job.TokenType)),
		zap.String("reason", job.Reason),
	)
	return nil
}

// ProcessJob processes a job based on its type
func (r *Revoker) ProcessJob(ctx context.Context, msg *queue.Message) error {
	job := msg.Job

	if job.IsExpired() {
		r.logger.Warn("Dropping expired job", zap.String("job_id", job.ID.String()))
		if ackErr := msg.Ack(); ackErr != nil {
			return fmt.Errorf("failed to ack expired job: %w", ackErr)
		}
		return nil
	}

	var err error
	switch job.Type {
	case queue.JobTypeRevokeUserTokens:
		err = r.ProcessRevokeUserTokensJob(ctx, job)
	case queue.JobTypeRevokeTokenType:
		err = r.ProcessRevokeTokenTypeJob(ctx, job)
	default:
		// Unknown job type, send to DLQ
		if nackErr := msg.Nack(false); nackErr != nil {
			r.logger.Error("Failed to nack unknown job type", zap.Error(nackErr))
		}
		return fmt.Errorf("unknown job type: %s", job.Type)
	}

	if err != nil {
		return r.handleJobError(msg, job, err)
	}

	if ackErr := msg.Ack(); ackErr != nil {
		return fmt.Errorf("failed to ack job: %w", ackErr)
	}
	return nil
}

// handleJobError retries transient failures and dead-letters exhausted jobs.
// Revocation must not be silently dropped: a lost job leaves live tokens for
// a user an operator meant to lock out.
func (r *Revoker) handleJobError(msg *queue.Message, job *queue.Job, err error) error {
	if job.CanRetry() {
		job.IncrementRetry()
		r.logger.Warn("Revocation job failed, will retry",
			zap.String("job_id", job.ID.String()),
			zap.Int("attempt", job.RetryCount),
			zap.Int("max_retries", job.MaxRetries),
			zap.Error(err),
		)
		if nackErr := msg.Nack(true); nackErr != nil {
			r.logger.Error("Failed to nack job", zap.Error(nackErr))
		}
		return fmt.Errorf("job failed (will retry): %w", err)
	}

	r.logger.Error("Revocation job failed after max retries, sending to DLQ",
		zap.String("job_id", job.ID.String()),
		zap.String("user_id", job.UserID.String()),
		zap.Error(err),
	)
	if nackErr := msg.Nack(false); nackErr != nil {
		r.logger.Error("Failed to nack job to DLQ", zap.Error(nackErr))
	}
	return fmt.Errorf("job failed (max retries): %w", err)
}
