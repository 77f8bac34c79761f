// Package audit implements the append-only audit log write path. Every
// call goes through domain.NewAuditEntry, so redaction is enforced at
// construction time and a caller cannot accidentally write raw PAN/CVV
// data by skipping a manual redaction step. Grounded on the teacher's
// structured zerolog call sites (the same Str/Int/Msg chain shape used
// throughout the order and payment services), generalized into a
// persisted log instead of process-local logging.
package audit

import (
	"context"

	"github.com/acquiro/gateway/internal/domain"
	"github.com/acquiro/gateway/internal/logger"
)

// Repository appends audit entries. There is deliberately no Update or
// Delete in this interface — the log is append-only by construction.
type Repository interface {
	Append(ctx context.Context, entry *domain.AuditEntry) error
}

// Logger writes audit entries and mirrors each one to the structured
// application log at debug level, so audit activity is visible in normal
// log aggregation without requiring a separate query against the audit
// table.
type Logger struct {
	repo Repository
}

// New builds an audit Logger.
func New(repo Repository) *Logger {
	return &Logger{repo: repo}
}

// Record writes one audit entry. details is redacted by
// domain.NewAuditEntry before it ever reaches the repository or the log.
func (l *Logger) Record(ctx context.Context, paymentID, actorType, actorID, action, details string) error {
	entry := domain.NewAuditEntry(paymentID, actorType, actorID, action, details, logger.TraceIDFromContext(ctx))

	if err := l.repo.Append(ctx, entry); err != nil {
		return err
	}

	logger.FromContext(ctx).Debug().
		Str("payment_id", paymentID).
		Str("actor_type", actorType).
		Str("action", action).
		Msg("audit entry recorded")

	return nil
}
