package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/acquiro/gateway/internal/domain"
)

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)

	dialector := mysql.New(mysql.Config{
		Conn:                      db,
		SkipInitializeWithVersion: true,
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	return gormDB, mock, func() { _ = db.Close() }
}

func testPayment() *domain.Payment {
	return &domain.Payment{
		ID:             "pay-1",
		ExternalID:     "ext-1",
		MerchantID:     "merchant-1",
		Amount:         1000,
		Currency:       "USD",
		Status:         domain.PaymentStatusPending,
		Channel:        domain.ChannelCardNotPresent,
		IdempotencyKey: "idem-1",
	}
}

func testEvent() *domain.Event {
	return &domain.Event{
		EventID:       "evt-1",
		EventType:     "PAYMENT_AUTHORIZED",
		AggregateType: "payment",
		AggregateID:   "pay-1",
		PartitionKey:  "pay-1",
		Timestamp:     time.Now(),
		Payload:       []byte(`{}`),
	}
}

func TestCreateWithEvent_CommitsPaymentAndOutboxRowTogether(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()
	repo := NewPaymentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `payments`")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `outbox`")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := repo.CreateWithEvent(context.Background(), testPayment(), testEvent())

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateWithEvent_RollsBackWhenOutboxInsertFails(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()
	repo := NewPaymentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `payments`")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `outbox`")).
		WillReturnError(assertErr)
	mock.ExpectRollback()

	err := repo.CreateWithEvent(context.Background(), testPayment(), testEvent())

	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateWithEvent_NoRowsAffectedReturnsNotFound(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()
	repo := NewPaymentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `payments`")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.UpdateWithEvent(context.Background(), testPayment(), testEvent())

	assert.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestGetByID_RecordNotFoundMapsToPackageError(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()
	repo := NewPaymentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `payments`")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.GetByID(context.Background(), "missing")

	assert.ErrorIs(t, err, ErrPaymentNotFound)
}

var assertErr = errorString("outbox insert failed")

type errorString string

func (e errorString) Error() string { return string(e) }
