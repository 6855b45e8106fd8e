// Package progress holds the progress aggregation core of LearnSphere.
//
// A student's completion rolls up three levels:
//
//	material completed -> topic re-evaluated -> course percent recomputed
//
// The enrollment ledger keeps the denormalized counters Course.TotalEnrollments
// and Student.CoursesEnrolled in step with the enrollment rows.
//
// # Services
//
// Tracker, TopicAggregator, CourseAggregator, Ledger and Timekeeper all take
// a Tx and never open transactions themselves. The application layer wraps
// every use case in Store.WithinTx so a whole cascade commits or rolls back
// as one unit:
//
//	err := store.WithinTx(ctx, func(ctx context.Context, tx progress.Tx) error {
//	    out, err = tracker.MarkMaterialCompleted(ctx, tx, studentID, materialID)
//	    return err
//	})
//
// # Lookups
//
// Cascades resolve parents by identifier through the Tx (material -> topic ->
// course). Progress rows are obtained with GetOrCreate* calls that report
// whether the row was found or created.
//
// # Authoring changes
//
// Adding a material to a topic a student already completed does not demote
// that completion. Only completion events (or an explicit re-evaluation)
// change progress.
//
// This package has no external dependencies.
package progress
