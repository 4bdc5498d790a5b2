package reversible

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auriora/calendar-archivist/internal/audit"
	"github.com/auriora/calendar-archivist/internal/models"
)

func TestStart_NilDBAllocatesCorrelationID(t *testing.T) {
	auditSvc := audit.NewService(nil)
	svc := NewService(nil, auditSvc)

	op, err := svc.Start(context.Background(), StartParams{
		UserID:        1,
		OperationType: "archive",
		Name:          "calendar_archive_replace",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, op.CorrelationID)
	assert.True(t, op.IsReversible)
	assert.False(t, op.IsReversed)
}

func TestStart_PropagatesGivenCorrelationID(t *testing.T) {
	auditSvc := audit.NewService(nil)
	svc := NewService(nil, auditSvc)

	op, err := svc.Start(context.Background(), StartParams{
		UserID:        1,
		OperationType: "archive",
		Name:          "calendar_archive_replace",
		CorrelationID: "corr-fixed",
	})
	require.NoError(t, err)
	assert.Equal(t, "corr-fixed", op.CorrelationID)
}

func TestCaptureItem_NilDB(t *testing.T) {
	auditSvc := audit.NewService(nil)
	svc := NewService(nil, auditSvc)
	op, err := svc.Start(context.Background(), StartParams{UserID: 1, OperationType: "archive", Name: "n"})
	require.NoError(t, err)

	item, err := svc.CaptureItem(context.Background(), op, CaptureItemParams{
		ItemType:      "appointment",
		ItemID:        7,
		BeforeState:   nil,
		ReverseAction: models.ReverseActionDelete,
	})
	require.NoError(t, err)
	assert.Equal(t, "appointment", item.ItemType)
	assert.Equal(t, models.ReverseActionDelete, item.ReverseAction)
}

func TestCommit_FailureMarksNonReversible(t *testing.T) {
	auditSvc := audit.NewService(nil)
	svc := NewService(nil, auditSvc)
	op, err := svc.Start(context.Background(), StartParams{UserID: 1, OperationType: "archive", Name: "n"})
	require.NoError(t, err)

	err = svc.Commit(context.Background(), op, models.AuditStatusFailure, "archive failed", nil)
	require.NoError(t, err)
	assert.False(t, op.IsReversible)
	assert.Equal(t, "Operation failed - cannot reverse", op.ReverseReason)
}

func TestCheckDependencies_AlreadyReversed(t *testing.T) {
	svc := NewService(nil, audit.NewService(nil))
	op := &models.ReversibleOperation{IsReversed: true, IsReversible: true}

	canReverse, reasons := svc.CheckDependencies(context.Background(), op)
	assert.False(t, canReverse)
	assert.Contains(t, reasons[0], "already been reversed")
}

func TestCheckDependencies_NotReversible(t *testing.T) {
	svc := NewService(nil, audit.NewService(nil))
	op := &models.ReversibleOperation{IsReversible: false, ReverseReason: "Operation failed - cannot reverse"}

	canReverse, reasons := svc.CheckDependencies(context.Background(), op)
	assert.False(t, canReverse)
	assert.Contains(t, reasons[0], "not reversible")
}

func TestReverse_NotFound(t *testing.T) {
	svc := NewService(nil, audit.NewService(nil))
	result, err := svc.Reverse(context.Background(), 999, 1, "undo", false, nil)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "Operation not found", result.Error)
}

func TestReverse_CrossUserRejected(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	svc := NewService(sqlDB, audit.NewService(nil))
	mock.ExpectQuery("FROM reversible_operations WHERE id").
		WillReturnRows(operationRow(1, 1, false, true))

	_, err = svc.Reverse(context.Background(), 1, 2, "undo", false, nil)
	require.Error(t, err)
	var unauthorized *UnauthorizedError
	require.ErrorAs(t, err, &unauthorized)
}

func TestReverse_DryRun(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	svc := NewService(sqlDB, audit.NewService(nil))
	mock.ExpectQuery("FROM reversible_operations WHERE id").
		WillReturnRows(operationRow(1, 1, false, true))
	mock.ExpectQuery("FROM reversible_operation_items WHERE operation_id").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "operation_id", "item_type", "item_id", "external_id",
			"before_state", "after_state", "reverse_action", "reverse_data", "is_reversed", "reverse_error",
		}).AddRow(int64(1), int64(1), "appointment", int64(7), "", []byte(`{}`), []byte(`{}`), "delete", []byte(`{}`), false, ""))

	result, err := svc.Reverse(context.Background(), 1, 1, "undo", true, nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, result.DryRun)
	assert.Equal(t, 1, result.ItemsToReverse)
	assert.Equal(t, []string{"delete"}, result.ReverseActions)
}

func TestReverse_UnknownReverserFailsItemButContinues(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	svc := NewService(sqlDB, audit.NewService(nil))
	mock.ExpectQuery("FROM reversible_operations WHERE id").
		WillReturnRows(operationRow(1, 1, false, true))
	mock.ExpectQuery("FROM reversible_operation_items WHERE operation_id").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "operation_id", "item_type", "item_id", "external_id",
			"before_state", "after_state", "reverse_action", "reverse_data", "is_reversed", "reverse_error",
		}).AddRow(int64(1), int64(1), "appointment", int64(7), "", []byte(`{}`), []byte(`{}`), "delete", []byte(`{}`), false, ""))
	mock.ExpectExec("UPDATE reversible_operation_items").WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := svc.Reverse(context.Background(), 1, 1, "undo", false, map[string]ItemReverser{})
	require.NoError(t, err)
	assert.True(t, result.Success) // Success is never flipped false on partial failure
	assert.Equal(t, 1, result.FailedItems)
	assert.Equal(t, 0, result.ReversedItems)
	require.NoError(t, mock.ExpectationsWereMet())
}

func operationRow(id, userID int64, isReversed, isReversible bool) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "audit_log_id", "user_id", "operation_type", "name", "correlation_id",
		"depends_on", "blocks", "is_reversible", "is_reversed", "reverse_reason",
		"created_at", "reversed_at", "reversed_by_user_id",
	}).AddRow(id, nil, userID, "archive", "calendar_archive_replace", "corr-1",
		"{}", "{}", isReversible, isReversed, "", time.Now(), nil, nil)
}
