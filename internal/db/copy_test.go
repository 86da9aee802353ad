package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return mock
}

func TestReplaceRows(t *testing.T) {
	mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "run_samples" WHERE "run_id" = \$1`).
		WithArgs("run-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 4))
	mock.ExpectCopyFrom(pgx.Identifier{"run_samples"}, []string{"run_id", "v"}).WillReturnResult(2)
	mock.ExpectCommit()

	n, err := ReplaceRows(context.Background(), mock, "run_samples", "run_id", "run-1",
		[]string{"run_id", "v"}, [][]any{{"run-1", 1}, {"run-1", 2}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceRows_DeleteFails(t *testing.T) {
	mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "run_samples"`).
		WithArgs("run-1").
		WillReturnError(fmt.Errorf("locked"))
	mock.ExpectRollback()

	_, err := ReplaceRows(context.Background(), mock, "run_samples", "run_id", "run-1", []string{"run_id"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delete from run_samples")
	assert.NoError(t, mock.ExpectationsWereMet())
}
