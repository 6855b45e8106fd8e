package postgres

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnsphere/learnsphere-core/internal/domain/shared"
)

func TestErrorClassifiers(t *testing.T) {
	wrap := func(code string) error {
		return fmt.Errorf("commit error: %w", &pgconn.PgError{Code: code})
	}

	assert.True(t, IsSerializationFailure(wrap("40001")))
	assert.True(t, IsSerializationFailure(wrap("40P01")))
	assert.False(t, IsSerializationFailure(wrap("23505")))
	assert.False(t, IsSerializationFailure(errors.New("boom")))

	assert.True(t, IsUniqueViolation(wrap("23505")))
	assert.True(t, IsForeignKeyViolation(wrap("23503")))
	assert.True(t, IsCheckViolation(wrap("23514")))
	assert.True(t, IsNoRows(fmt.Errorf("x: %w", pgx.ErrNoRows)))
}

func TestForeignKeyTarget(t *testing.T) {
	fk := map[string]error{
		"student_id":  shared.ErrStudentNotFound,
		"material_id": shared.ErrMaterialNotFound,
	}

	err := &pgconn.PgError{Code: "23503", ConstraintName: "topic_material_progress_material_id_fkey"}
	assert.ErrorIs(t, foreignKeyTarget(err, fk), shared.ErrMaterialNotFound)

	err = &pgconn.PgError{Code: "23503", ConstraintName: "topic_material_progress_student_id_fkey"}
	assert.ErrorIs(t, foreignKeyTarget(err, fk), shared.ErrStudentNotFound)

	assert.Nil(t, foreignKeyTarget(&pgconn.PgError{Code: "23505"}, fk))
	assert.Nil(t, foreignKeyTarget(errors.New("plain"), fk))
}

func TestRequireRow(t *testing.T) {
	assert.ErrorIs(t, requireRow(pgconn.NewCommandTag("UPDATE 0"), shared.ErrEnrollmentNotFound), shared.ErrEnrollmentNotFound)
	assert.NoError(t, requireRow(pgconn.NewCommandTag("DELETE 1"), shared.ErrEnrollmentNotFound))
}

func TestNullString(t *testing.T) {
	assert.Nil(t, nullString(""))
	assert.Equal(t, "topic-1", nullString("topic-1"))
}

func TestPoolConfigApply(t *testing.T) {
	cfg, err := pgxpool.ParseConfig("postgres://u:p@localhost:5432/db?pool_max_conns=3")
	require.NoError(t, err)

	PoolConfig{MinConns: 1, MaxConnLifetime: 2 * time.Minute}.apply(cfg)
	assert.Equal(t, int32(3), cfg.MaxConns, "zero values keep the parsed settings")
	assert.Equal(t, int32(1), cfg.MinConns)
	assert.Equal(t, 2*time.Minute, cfg.MaxConnLifetime)

	DefaultPoolConfig().apply(cfg)
	assert.Equal(t, int32(10), cfg.MaxConns)
}

func TestMigrations_OrderedAndReversible(t *testing.T) {
	migs := GetMigrations()
	require.NotEmpty(t, migs)

	for i, m := range migs {
		assert.Equal(t, i+1, m.Version)
		assert.NotEmpty(t, m.UpSQL, m.Name)
		assert.NotEmpty(t, m.DownSQL, m.Name)
	}

	all := migration001Up + migration002Up + migration003Up
	for _, table := range []string{
		"students", "courses", "topics", "materials", "enrollments",
		"topic_material_progress", "topic_progress", "course_progress",
	} {
		assert.True(t, strings.Contains(all, "CREATE TABLE IF NOT EXISTS "+table+" "), table)
	}
	assert.Contains(t, migration002Up, "UNIQUE (student_id, course_id)")
}
