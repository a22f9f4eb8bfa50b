package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intruder-sentry-go/internal/models"
)

func setupMockStore(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *EventStore) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	return db, mock, NewWithDB(db)
}

func TestPersist_InsertsImageAndTimestampString(t *testing.T) {
	db, mock, st := setupMockStore(t)
	defer db.Close()

	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)

	image := []byte{0xff, 0xd8, 0xff, 0xe0}
	ev := models.IntrusionEvent{
		Timestamp:     time.Date(2023, 6, 15, 14, 30, 5, 0, loc),
		EvidenceImage: image,
		Confidence:    0.83,
	}

	mock.ExpectExec(`INSERT INTO intruder_log`).
		WithArgs(image, "2023-06-15 14:30:05").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = st.Persist(context.Background(), ev)

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPersist_TimestampFormatIsStable(t *testing.T) {
	// The readback contract: the stored string parses back to the same
	// wall-clock instant
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	formatted := ts.Format(TimeLayout)
	assert.Equal(t, "2024-01-02 03:04:05", formatted)

	parsed, err := time.ParseInLocation(TimeLayout, formatted, time.UTC)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(ts))
}

func TestPersist_PropagatesInsertError(t *testing.T) {
	db, mock, st := setupMockStore(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO intruder_log`).
		WillReturnError(errors.New("connection reset"))

	err := st.Persist(context.Background(), models.IntrusionEvent{
		Timestamp:     time.Now(),
		EvidenceImage: []byte("jpeg"),
	})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "insert intruder_log")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPersist_ReleasesConnectionOnError(t *testing.T) {
	db, mock, st := setupMockStore(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO intruder_log`).
		WillReturnError(errors.New("constraint violation"))
	// A second call getting a fresh exec proves the first connection was
	// released back to the pool
	mock.ExpectExec(`INSERT INTO intruder_log`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ev := models.IntrusionEvent{Timestamp: time.Now(), EvidenceImage: []byte("jpeg")}

	assert.Error(t, st.Persist(context.Background(), ev))
	assert.NoError(t, st.Persist(context.Background(), ev))
	assert.NoError(t, mock.ExpectationsWereMet())
}
