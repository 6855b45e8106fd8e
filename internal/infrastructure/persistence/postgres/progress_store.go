package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/learnsphere/learnsphere-core/internal/domain/progress"
	"github.com/learnsphere/learnsphere-core/internal/domain/shared"
	"github.com/learnsphere/learnsphere-core/pkg/logger"
	"github.com/learnsphere/learnsphere-core/pkg/retry"
)

var (
	_ progress.Store = (*ProgressStore)(nil)
	_ progress.Tx    = (*progressTx)(nil)
)

// StoreOptions tunes the transaction behaviour of ProgressStore.
type StoreOptions struct {
	// TxRetryAttempts is the number of attempts per transaction when it is
	// aborted by a serialization failure or deadlock.
	TxRetryAttempts int

	// TxTimeout bounds one attempt. Zero means no extra deadline.
	TxTimeout time.Duration

	Clock  shared.Clock
	Logger *logger.Logger
}

// ProgressStore implements progress.Store.
type ProgressStore struct {
	queries
	conn    *Connection
	retrier *retry.Retrier
	timeout time.Duration
	clock   shared.Clock
}

// NewProgressStore creates a store over the connection.
func NewProgressStore(conn *Connection, opts StoreOptions) *ProgressStore {
	if opts.TxRetryAttempts < 1 {
		opts.TxRetryAttempts = 5
	}
	if opts.Clock == nil {
		opts.Clock = shared.SystemClock
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	log = log.With(logger.Component("postgres.progress_store"))

	retrier := retry.TransactionRetrier(opts.TxRetryAttempts, IsSerializationFailure,
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			log.Warn("transaction conflict, retrying",
				logger.Int("attempt", attempt),
				logger.Duration("delay", delay),
				logger.Err(err),
			)
		}),
	)

	return &ProgressStore{
		queries: queries{q: conn},
		conn:    conn,
		retrier: retrier,
		timeout: opts.TxTimeout,
		clock:   opts.Clock,
	}
}

// WithinTx runs fn in a READ COMMITTED transaction. fn is re-run from
// scratch when the transaction fails with a serialization conflict.
func (s *ProgressStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx progress.Tx) error) error {
	return s.retrier.Do(ctx, func(ctx context.Context) error {
		if s.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}
		return s.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
			return fn(ctx, &progressTx{queries: queries{q: tx}, clock: s.clock})
		})
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// READS
// ══════════════════════════════════════════════════════════════════════════════

// queries implements progress.Reader over a pool or a transaction.
type queries struct {
	q Querier
}

const (
	studentColumns    = `id, email, name, courses_enrolled, created_at`
	courseColumns     = `id, title, total_enrollments, created_at`
	topicColumns      = `id, course_id, title, position, materials_count`
	enrollmentColumns = `id, student_id, course_id, completion_percentage, completed, enrolled_at, last_accessed_at, completed_at`
	materialPColumns  = `id, student_id, material_id, completed, completed_at`
	topicPColumns     = `id, student_id, topic_id, completed, completed_at, time_spent_seconds, last_updated`
	coursePColumns    = `id, student_id, course_id, progress_percent, last_updated, COALESCE(last_topic_id, ''), skill_score, total_time_minutes`
)

func scanStudent(row pgx.Row) (*progress.Student, error) {
	var s progress.Student
	if err := row.Scan(&s.ID, &s.Email, &s.Name, &s.CoursesEnrolled, &s.CreatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

func scanCourse(row pgx.Row) (*progress.Course, error) {
	var c progress.Course
	if err := row.Scan(&c.ID, &c.Title, &c.TotalEnrollments, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanEnrollment(row pgx.Row) (*progress.Enrollment, error) {
	var e progress.Enrollment
	err := row.Scan(&e.ID, &e.StudentID, &e.CourseID, &e.CompletionPercentage, &e.Completed,
		&e.EnrolledAt, &e.LastAccessedAt, &e.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func scanMaterialProgress(row pgx.Row) (*progress.MaterialProgress, error) {
	var p progress.MaterialProgress
	if err := row.Scan(&p.ID, &p.StudentID, &p.MaterialID, &p.Completed, &p.CompletedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanTopicProgress(row pgx.Row) (*progress.TopicProgress, error) {
	var p progress.TopicProgress
	err := row.Scan(&p.ID, &p.StudentID, &p.TopicID, &p.Completed, &p.CompletedAt,
		&p.TimeSpentSeconds, &p.LastUpdated)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanCourseProgress(row pgx.Row) (*progress.CourseProgress, error) {
	var p progress.CourseProgress
	err := row.Scan(&p.ID, &p.StudentID, &p.CourseID, &p.ProgressPercent, &p.LastUpdated,
		&p.LastTopicID, &p.SkillScore, &p.TotalTimeMinutes)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// one runs a single-row query and maps pgx.ErrNoRows to notFound.
func one[T any](ctx context.Context, q Querier, scan func(pgx.Row) (*T, error), notFound error, sql string, args ...any) (*T, error) {
	v, err := scan(q.QueryRow(ctx, sql, args...))
	if IsNoRows(err) {
		return nil, notFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: query: %w", err)
	}
	return v, nil
}

// many runs a query and scans every row.
func many[T any](ctx context.Context, q Querier, scan func(pgx.Row) (*T, error), sql string, args ...any) ([]*T, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query: %w", err)
	}
	defer rows.Close()

	out := make([]*T, 0)
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows: %w", err)
	}
	return out, nil
}

func (r queries) ids(ctx context.Context, sql string, args ...any) ([]string, error) {
	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: collect ids: %w", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

func (r queries) GetStudent(ctx context.Context, studentID string) (*progress.Student, error) {
	return one(ctx, r.q, scanStudent, shared.ErrStudentNotFound,
		`SELECT `+studentColumns+` FROM students WHERE id = $1`, studentID)
}

func (r queries) FindStudentByEmail(ctx context.Context, email string) (*progress.Student, error) {
	return one(ctx, r.q, scanStudent, shared.ErrStudentNotFound,
		`SELECT `+studentColumns+` FROM students WHERE email = $1`, strings.ToLower(strings.TrimSpace(email)))
}

func (r queries) GetCourse(ctx context.Context, courseID string) (*progress.Course, error) {
	return one(ctx, r.q, scanCourse, shared.ErrCourseNotFound,
		`SELECT `+courseColumns+` FROM courses WHERE id = $1`, courseID)
}

func (r queries) GetTopic(ctx context.Context, topicID string) (*progress.Topic, error) {
	return one(ctx, r.q, func(row pgx.Row) (*progress.Topic, error) {
		var t progress.Topic
		if err := row.Scan(&t.ID, &t.CourseID, &t.Title, &t.Position, &t.MaterialsCount); err != nil {
			return nil, err
		}
		return &t, nil
	}, shared.ErrTopicNotFound, `SELECT `+topicColumns+` FROM topics WHERE id = $1`, topicID)
}

func (r queries) GetMaterial(ctx context.Context, materialID string) (*progress.Material, error) {
	return one(ctx, r.q, func(row pgx.Row) (*progress.Material, error) {
		var m progress.Material
		if err := row.Scan(&m.ID, &m.TopicID, &m.Title); err != nil {
			return nil, err
		}
		return &m, nil
	}, shared.ErrMaterialNotFound, `SELECT id, topic_id, title FROM materials WHERE id = $1`, materialID)
}

func (r queries) ListMaterialIDs(ctx context.Context, topicID string) ([]string, error) {
	return r.ids(ctx, `SELECT id FROM materials WHERE topic_id = $1 ORDER BY id`, topicID)
}

func (r queries) ListTopicIDs(ctx context.Context, courseID string) ([]string, error) {
	return r.ids(ctx, `SELECT id FROM topics WHERE course_id = $1 ORDER BY position, id`, courseID)
}

func (r queries) CompletedMaterialIDs(ctx context.Context, studentID string, materialIDs []string) ([]string, error) {
	if len(materialIDs) == 0 {
		return []string{}, nil
	}
	return r.ids(ctx, `
		SELECT material_id FROM topic_material_progress
		WHERE student_id = $1 AND completed AND material_id = ANY($2)
		ORDER BY material_id
	`, studentID, materialIDs)
}

func (r queries) CompletedTopicIDs(ctx context.Context, studentID string, topicIDs []string) ([]string, error) {
	if len(topicIDs) == 0 {
		return []string{}, nil
	}
	return r.ids(ctx, `
		SELECT topic_id FROM topic_progress
		WHERE student_id = $1 AND completed AND topic_id = ANY($2)
		ORDER BY topic_id
	`, studentID, topicIDs)
}

func (r queries) SumTopicSeconds(ctx context.Context, studentID string, topicIDs []string) (int64, error) {
	if len(topicIDs) == 0 {
		return 0, nil
	}
	var total int64
	err := r.q.QueryRow(ctx, `
		SELECT COALESCE(SUM(time_spent_seconds), 0)::bigint FROM topic_progress
		WHERE student_id = $1 AND topic_id = ANY($2)
	`, studentID, topicIDs).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("postgres: sum topic seconds: %w", err)
	}
	return total, nil
}

func (r queries) GetTopicProgress(ctx context.Context, studentID, topicID string) (*progress.TopicProgress, error) {
	return one(ctx, r.q, scanTopicProgress, shared.ErrTopicProgressNotFound,
		`SELECT `+topicPColumns+` FROM topic_progress WHERE student_id = $1 AND topic_id = $2`, studentID, topicID)
}

func (r queries) GetCourseProgress(ctx context.Context, studentID, courseID string) (*progress.CourseProgress, error) {
	return one(ctx, r.q, scanCourseProgress, shared.ErrCourseProgressNotFound,
		`SELECT `+coursePColumns+` FROM course_progress WHERE student_id = $1 AND course_id = $2`, studentID, courseID)
}

func (r queries) GetEnrollment(ctx context.Context, studentID, courseID string) (*progress.Enrollment, error) {
	return one(ctx, r.q, scanEnrollment, shared.ErrEnrollmentNotFound,
		`SELECT `+enrollmentColumns+` FROM enrollments WHERE student_id = $1 AND course_id = $2`, studentID, courseID)
}

func (r queries) ListStudentEnrollments(ctx context.Context, studentID string) ([]*progress.EnrollmentView, error) {
	return many(ctx, r.q, func(row pgx.Row) (*progress.EnrollmentView, error) {
		var v progress.EnrollmentView
		err := row.Scan(&v.ID, &v.StudentID, &v.CourseID, &v.CompletionPercentage, &v.Completed,
			&v.EnrolledAt, &v.LastAccessedAt, &v.CompletedAt, &v.CourseTitle)
		if err != nil {
			return nil, err
		}
		return &v, nil
	}, `
		SELECT e.id, e.student_id, e.course_id, e.completion_percentage, e.completed,
		       e.enrolled_at, e.last_accessed_at, e.completed_at, c.title
		FROM enrollments e
		JOIN courses c ON c.id = e.course_id
		WHERE e.student_id = $1
		ORDER BY e.enrolled_at DESC, e.id
	`, studentID)
}

func (r queries) ListCourseEnrollments(ctx context.Context, courseID string) ([]*progress.Enrollment, error) {
	return many(ctx, r.q, scanEnrollment,
		`SELECT `+enrollmentColumns+` FROM enrollments WHERE course_id = $1 ORDER BY enrolled_at, id`, courseID)
}

func (r queries) ListMaterialProgress(ctx context.Context, studentID string) ([]*progress.MaterialProgress, error) {
	return many(ctx, r.q, scanMaterialProgress,
		`SELECT `+materialPColumns+` FROM topic_material_progress WHERE student_id = $1 ORDER BY material_id`, studentID)
}

func (r queries) ListTopicProgress(ctx context.Context, studentID string) ([]*progress.TopicProgress, error) {
	return many(ctx, r.q, scanTopicProgress,
		`SELECT `+topicPColumns+` FROM topic_progress WHERE student_id = $1 ORDER BY topic_id`, studentID)
}

// ══════════════════════════════════════════════════════════════════════════════
// WRITES
// ══════════════════════════════════════════════════════════════════════════════

type progressTx struct {
	queries
	clock shared.Clock
}

// getOrCreate inserts the default row unless it exists, then re-reads it
// with FOR UPDATE. A concurrent inserter makes the INSERT wait for its
// commit, after which DO NOTHING applies and the SELECT sees its row.
func getOrCreate[T any](
	ctx context.Context, q Querier,
	insertSQL string, insertArgs []any,
	scan func(pgx.Row) (*T, error), selectSQL string, selectArgs []any,
	fk map[string]error,
) (progress.GetOrCreate[T], error) {
	var insertedID string
	err := q.QueryRow(ctx, insertSQL, insertArgs...).Scan(&insertedID)
	created := err == nil
	if err != nil && !IsNoRows(err) {
		if target := foreignKeyTarget(err, fk); target != nil {
			return progress.GetOrCreate[T]{}, target
		}
		return progress.GetOrCreate[T]{}, fmt.Errorf("postgres: insert default row: %w", err)
	}

	row, err := scan(q.QueryRow(ctx, selectSQL, selectArgs...))
	if err != nil {
		return progress.GetOrCreate[T]{}, fmt.Errorf("postgres: lock row: %w", err)
	}
	return progress.GetOrCreate[T]{Row: row, Created: created}, nil
}

// foreignKeyTarget maps a foreign key violation to the domain error of the
// missing parent, keyed by column name.
func foreignKeyTarget(err error, fk map[string]error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23503" {
		return nil
	}
	for column, target := range fk {
		if strings.Contains(pgErr.ConstraintName, column) {
			return target
		}
	}
	return nil
}

func requireRow(tag pgconn.CommandTag, notFound error) error {
	if tag.RowsAffected() == 0 {
		return notFound
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (t *progressTx) GetOrCreateMaterialProgress(ctx context.Context, studentID, materialID string) (progress.GetOrCreate[progress.MaterialProgress], error) {
	return getOrCreate(ctx, t.q,
		`INSERT INTO topic_material_progress (student_id, material_id) VALUES ($1, $2)
		 ON CONFLICT (student_id, material_id) DO NOTHING RETURNING id`,
		[]any{studentID, materialID},
		scanMaterialProgress,
		`SELECT `+materialPColumns+` FROM topic_material_progress
		 WHERE student_id = $1 AND material_id = $2 FOR UPDATE`,
		[]any{studentID, materialID},
		map[string]error{"student_id": shared.ErrStudentNotFound, "material_id": shared.ErrMaterialNotFound},
	)
}

func (t *progressTx) SaveMaterialProgress(ctx context.Context, p *progress.MaterialProgress) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE topic_material_progress SET completed = $3, completed_at = $4
		WHERE student_id = $1 AND material_id = $2
	`, p.StudentID, p.MaterialID, p.Completed, p.CompletedAt)
	if err != nil {
		return fmt.Errorf("postgres: save material progress: %w", err)
	}
	return requireRow(tag, shared.NewDomainError("progress", "SaveMaterialProgress", shared.ErrNotFound, "material progress not found"))
}

func (t *progressTx) GetOrCreateTopicProgress(ctx context.Context, studentID, topicID string) (progress.GetOrCreate[progress.TopicProgress], error) {
	return getOrCreate(ctx, t.q,
		`INSERT INTO topic_progress (student_id, topic_id, last_updated) VALUES ($1, $2, $3)
		 ON CONFLICT (student_id, topic_id) DO NOTHING RETURNING id`,
		[]any{studentID, topicID, t.clock()},
		scanTopicProgress,
		`SELECT `+topicPColumns+` FROM topic_progress
		 WHERE student_id = $1 AND topic_id = $2 FOR UPDATE`,
		[]any{studentID, topicID},
		map[string]error{"student_id": shared.ErrStudentNotFound, "topic_id": shared.ErrTopicNotFound},
	)
}

func (t *progressTx) SaveTopicProgress(ctx context.Context, p *progress.TopicProgress) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE topic_progress
		SET completed = $3, completed_at = $4, time_spent_seconds = $5, last_updated = $6
		WHERE student_id = $1 AND topic_id = $2
	`, p.StudentID, p.TopicID, p.Completed, p.CompletedAt, p.TimeSpentSeconds, p.LastUpdated)
	if err != nil {
		return fmt.Errorf("postgres: save topic progress: %w", err)
	}
	return requireRow(tag, shared.ErrTopicProgressNotFound)
}

func (t *progressTx) GetOrCreateCourseProgress(ctx context.Context, studentID, courseID string) (progress.GetOrCreate[progress.CourseProgress], error) {
	return getOrCreate(ctx, t.q,
		`INSERT INTO course_progress (student_id, course_id, last_updated) VALUES ($1, $2, $3)
		 ON CONFLICT (student_id, course_id) DO NOTHING RETURNING id`,
		[]any{studentID, courseID, t.clock()},
		scanCourseProgress,
		`SELECT `+coursePColumns+` FROM course_progress
		 WHERE student_id = $1 AND course_id = $2 FOR UPDATE`,
		[]any{studentID, courseID},
		map[string]error{"student_id": shared.ErrStudentNotFound, "course_id": shared.ErrCourseNotFound},
	)
}

func (t *progressTx) SaveCourseProgress(ctx context.Context, p *progress.CourseProgress) error {
	if !shared.Percent(p.ProgressPercent).IsValid() {
		return shared.ErrInvalidPercent
	}
	tag, err := t.q.Exec(ctx, `
		UPDATE course_progress
		SET progress_percent = $3, last_updated = $4, last_topic_id = $5,
		    skill_score = $6, total_time_minutes = $7
		WHERE student_id = $1 AND course_id = $2
	`, p.StudentID, p.CourseID, p.ProgressPercent, p.LastUpdated, nullString(p.LastTopicID),
		p.SkillScore, p.TotalTimeMinutes)
	if err != nil {
		if IsCheckViolation(err) {
			return shared.WrapError("progress", "SaveCourseProgress", shared.ErrValueOutOfRange, "constraint violated", err)
		}
		return fmt.Errorf("postgres: save course progress: %w", err)
	}
	return requireRow(tag, shared.ErrCourseProgressNotFound)
}

func (t *progressTx) CreateEnrollment(ctx context.Context, e *progress.Enrollment) error {
	err := t.q.QueryRow(ctx, `
		INSERT INTO enrollments (
			student_id, course_id, completion_percentage, completed,
			enrolled_at, last_accessed_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, e.StudentID, e.CourseID, e.CompletionPercentage, e.Completed,
		e.EnrolledAt, e.LastAccessedAt, e.CompletedAt).Scan(&e.ID)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrAlreadyEnrolled
		}
		if target := foreignKeyTarget(err, map[string]error{
			"student_id": shared.ErrStudentNotFound,
			"course_id":  shared.ErrCourseNotFound,
		}); target != nil {
			return target
		}
		return fmt.Errorf("postgres: create enrollment: %w", err)
	}
	return nil
}

func (t *progressTx) SaveEnrollment(ctx context.Context, e *progress.Enrollment) error {
	if !shared.Percent(e.CompletionPercentage).IsValid() {
		return shared.ErrInvalidPercent
	}
	tag, err := t.q.Exec(ctx, `
		UPDATE enrollments
		SET completion_percentage = $3, completed = $4, last_accessed_at = $5, completed_at = $6
		WHERE student_id = $1 AND course_id = $2
	`, e.StudentID, e.CourseID, e.CompletionPercentage, e.Completed, e.LastAccessedAt, e.CompletedAt)
	if err != nil {
		return fmt.Errorf("postgres: save enrollment: %w", err)
	}
	return requireRow(tag, shared.ErrEnrollmentNotFound)
}

func (t *progressTx) DeleteEnrollment(ctx context.Context, studentID, courseID string) error {
	tag, err := t.q.Exec(ctx, `DELETE FROM enrollments WHERE student_id = $1 AND course_id = $2`, studentID, courseID)
	if err != nil {
		return fmt.Errorf("postgres: delete enrollment: %w", err)
	}
	return requireRow(tag, shared.ErrEnrollmentNotFound)
}

func (t *progressTx) adjust(ctx context.Context, sql, id string, delta int, notFound error) (int, error) {
	var value int
	err := t.q.QueryRow(ctx, sql, id, delta).Scan(&value)
	if IsNoRows(err) {
		return 0, notFound
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: adjust counter: %w", err)
	}
	return value, nil
}

func (t *progressTx) AdjustCourseEnrollments(ctx context.Context, courseID string, delta int) (int, error) {
	return t.adjust(ctx, `
		UPDATE courses SET total_enrollments = GREATEST(total_enrollments + $2, 0)
		WHERE id = $1 RETURNING total_enrollments
	`, courseID, delta, shared.ErrCourseNotFound)
}

func (t *progressTx) AdjustStudentCourses(ctx context.Context, studentID string, delta int) (int, error) {
	return t.adjust(ctx, `
		UPDATE students SET courses_enrolled = GREATEST(courses_enrolled + $2, 0)
		WHERE id = $1 RETURNING courses_enrolled
	`, studentID, delta, shared.ErrStudentNotFound)
}
