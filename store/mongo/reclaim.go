package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/xraph/jobstore/job"
)

// ReclaimExpired resets processing jobs whose expires deadline has passed.
func (s *Store) ReclaimExpired(ctx context.Context) (int64, error) {
	return s.reclaim(ctx, job.ReclaimExpired)
}

// ReclaimStalled resets processing jobs whose stalls deadline has passed.
func (s *Store) ReclaimStalled(ctx context.Context) (int64, error) {
	return s.reclaim(ctx, job.ReclaimStalled)
}

// reclaim scans for processing jobs past the kind's deadline, then resets
// each one with its own conditional update: status back to ready, the
// deadline pushed to now plus the job's duration, attempts incremented and
// the worker cleared. The condition is re-checked per update, so a job
// finished or reclaimed elsewhere since the scan is left alone and not
// counted. Failed updates are logged and skipped; an error is returned
// only if every update failed.
func (s *Store) reclaim(ctx context.Context, kind job.ReclaimKind) (int64, error) {
	coll, release, err := s.acquire()
	if err != nil {
		return 0, err
	}
	defer release()

	ctx, span := s.tracer.Start(ctx, "jobstore.job.reclaim")
	defer span.End()
	span.SetAttributes(attribute.String("jobstore.reclaim_kind", string(kind)))

	now := s.now()
	deadline := kind.DeadlineField()
	duration := kind.DurationField()

	candidates, err := s.scanOverdue(ctx, coll, deadline, duration, now)
	if err != nil {
		err = fmt.Errorf("jobstore/mongo: reclaim %s: %w", kind, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	var (
		count int64
		errs  []error
	)
	for _, c := range candidates {
		filter := bson.D{
			{Key: primaryKey, Value: c.id},
			{Key: job.FieldStatus, Value: job.StatusProcessing},
			{Key: deadline, Value: bson.M{"$lt": now}},
		}
		update := bson.D{
			{Key: "$set", Value: bson.D{
				{Key: job.FieldStatus, Value: job.StatusReady},
				{Key: deadline, Value: now.Add(time.Duration(c.durationMs) * time.Millisecond)},
			}},
			{Key: "$inc", Value: bson.D{{Key: job.FieldAttempts, Value: 1}}},
			{Key: "$unset", Value: bson.D{{Key: job.FieldWorkerID, Value: ""}}},
		}

		res, updErr := coll.UpdateOne(ctx, filter, update)
		if updErr != nil {
			s.logger.Warn("reclaim job failed",
				slog.Any("job_id", c.id),
				slog.String("kind", string(kind)),
				slog.String("error", updErr.Error()),
			)
			errs = append(errs, updErr)
			continue
		}
		count += res.ModifiedCount
	}

	span.SetAttributes(
		attribute.Int("jobstore.reclaim_candidates", len(candidates)),
		attribute.Int64("jobstore.reclaimed", count),
	)

	if len(candidates) > 0 && len(errs) == len(candidates) {
		err = fmt.Errorf("jobstore/mongo: reclaim %s: %w", kind, errors.Join(errs...))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	if count > 0 {
		s.logger.Debug("reclaimed jobs",
			slog.String("kind", string(kind)),
			slog.Int64("count", count),
		)
		s.extensions.EmitJobReclaimed(ctx, kind, count)
	}
	return count, nil
}

// overdue is the projection the sweep reads per candidate.
type overdue struct {
	id         any
	durationMs int64
}

// scanOverdue lists processing jobs whose deadline is before now. With
// SnapshotScan the read runs in a snapshot session so it sees one
// consistent point in time.
func (s *Store) scanOverdue(ctx context.Context, coll *mongod.Collection, deadline, duration string, now time.Time) ([]overdue, error) {
	filter := bson.D{
		{Key: job.FieldStatus, Value: job.StatusProcessing},
		{Key: deadline, Value: bson.M{"$lt": now}},
	}
	opts := options.Find().SetProjection(bson.D{
		{Key: primaryKey, Value: 1},
		{Key: duration, Value: 1},
	})

	scanCtx := ctx
	if s.cfg.SnapshotScan {
		sess, err := coll.Database().Client().StartSession(options.Session().SetSnapshot(true))
		if err != nil {
			return nil, fmt.Errorf("start snapshot session: %w", err)
		}
		defer sess.EndSession(context.WithoutCancel(ctx))
		scanCtx = mongod.NewSessionContext(ctx, sess)
	}

	cursor, err := coll.Find(scanCtx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	defer cursor.Close(scanCtx)

	var docs []bson.M
	if err := cursor.All(scanCtx, &docs); err != nil {
		return nil, fmt.Errorf("scan decode: %w", err)
	}

	result := make([]overdue, 0, len(docs))
	for _, d := range docs {
		result = append(result, overdue{id: d[primaryKey], durationMs: toInt64(d[duration])})
	}
	return result, nil
}
