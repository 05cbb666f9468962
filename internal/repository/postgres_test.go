package repository

import (
	"context"
	"net"
	"syscall"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"osapio-go/internal/model"
)

// 通过 postgres 方言验证生成的 SQL，生产环境可能使用 PostgreSQL。
func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	return db, mock
}

func TestTransitionIssuesConditionalUpdate(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewUploadRepository(db)

	mock.ExpectExec(`UPDATE "file_uploads" SET .*"status"=.* WHERE \(id = \$\d+ AND status = \$\d+\)`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.Transition(context.Background(), "r1", model.StatusPending, model.StatusProcessing, nil)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByOwnerOrdersNewestFirst(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewUploadRepository(db)

	mock.ExpectQuery(`SELECT \* FROM "file_uploads" WHERE owner_id = \$1 ORDER BY created_at desc LIMIT (\$2|100)`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id", "file_name", "status"}).
			AddRow("a", 7, "a.pdf", "completed").
			AddRow("b", 7, "b.xml", "pending"))

	records, err := repo.FindByOwner(context.Background(), 7, 100)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0].ID)
	assert.Equal(t, model.StatusPending, records[1].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResetConnectionMapsToUnavailable(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewUploadRepository(db)

	mock.ExpectQuery(`FROM "file_uploads"`).WillReturnError(&net.OpError{Op: "read", Net: "tcp", Err: syscall.ECONNRESET})

	_, err := repo.FindByID(context.Background(), "r1")
	assert.ErrorIs(t, err, ErrUnavailable)
}
