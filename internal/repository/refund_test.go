package repository

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acquiro/gateway/internal/domain"
	"github.com/acquiro/gateway/internal/refund"
)

func TestWithLockedPayment_LocksRowForWholeTransaction(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()
	store := NewRefundStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `payments`") + ".*FOR UPDATE").
		WillReturnRows(sqlmock.NewRows([]string{"id", "status", "amount", "currency"}).
			AddRow("pay-1", "CAPTURED", int64(10000), "USD"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `refunds`")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "payment_id"}))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `refunds`")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	var sawPaymentBeforeWrite domain.PaymentStatus
	rec, payment, err := store.WithLockedPayment(context.Background(), "pay-1", func(payment *domain.Payment, refunds refund.LockedRefundContext) (*domain.Refund, error) {
		sawPaymentBeforeWrite = payment.Status

		existing, err := refunds.ListRefunds(context.Background())
		if err != nil {
			return nil, err
		}
		assert.Empty(t, existing)

		r := &domain.Refund{ID: "refund-1", PaymentID: "pay-1", Amount: 4000, Currency: "USD", Status: domain.RefundStatusPending}
		if err := refunds.CreateRefund(context.Background(), r); err != nil {
			return nil, err
		}
		return r, nil
	})

	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCaptured, sawPaymentBeforeWrite)
	assert.Equal(t, "pay-1", payment.ID)
	assert.Equal(t, "refund-1", rec.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithLockedPayment_MissingPaymentRollsBackWithPaymentNotFound(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()
	store := NewRefundStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `payments`") + ".*FOR UPDATE").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	_, _, err := store.WithLockedPayment(context.Background(), "missing", func(payment *domain.Payment, refunds refund.LockedRefundContext) (*domain.Refund, error) {
		t.Fatal("fn must not run when the payment row is not found")
		return nil, nil
	})

	assert.ErrorIs(t, err, refund.ErrPaymentNotFound)
}

func TestWithLockedPayment_FnErrorRollsBackWithoutPersistingRefund(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()
	store := NewRefundStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `payments`") + ".*FOR UPDATE").
		WillReturnRows(sqlmock.NewRows([]string{"id", "status", "amount", "currency"}).
			AddRow("pay-1", "CAPTURED", int64(10000), "USD"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `refunds`")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "payment_id"}).
			AddRow("refund-existing", "pay-1"))
	mock.ExpectRollback()

	_, _, err := store.WithLockedPayment(context.Background(), "pay-1", func(payment *domain.Payment, refunds refund.LockedRefundContext) (*domain.Refund, error) {
		existing, err := refunds.ListRefunds(context.Background())
		require.NoError(t, err)
		assert.Len(t, existing, 1)
		return nil, domain.ErrRefundExceedsAmount
	})

	assert.ErrorIs(t, err, domain.ErrRefundExceedsAmount)
	assert.NoError(t, mock.ExpectationsWereMet())
}
