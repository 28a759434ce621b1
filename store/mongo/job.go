package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/xraph/jobstore"
	"github.com/xraph/jobstore/id"
	"github.com/xraph/jobstore/job"
)

// Add persists a new job. An empty id is assigned and an empty status
// defaults to ready; both are written back to j.
func (s *Store) Add(ctx context.Context, j *job.Job) error {
	coll, release, err := s.acquire()
	if err != nil {
		return err
	}
	defer release()

	if j.ID == "" {
		j.ID = id.NewJobID()
	}
	if j.Status == "" {
		j.Status = job.StatusReady
	}

	doc, err := encodeJob(j)
	if err != nil {
		return fmt.Errorf("%w: %w", jobstore.ErrJobNotCreated, err)
	}

	res, err := coll.InsertOne(ctx, doc)
	if err != nil {
		if mongod.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %w", jobstore.ErrJobNotCreated, jobstore.ErrJobAlreadyExists)
		}
		return fmt.Errorf("%w: %w", jobstore.ErrJobNotCreated, err)
	}
	if res == nil || res.InsertedID == nil {
		return jobstore.ErrJobNotCreated
	}
	return nil
}

// GetByID returns the job with the given id, or nil if there is none.
func (s *Store) GetByID(ctx context.Context, jobID string) (*job.Job, error) {
	coll, release, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	raw, err := coll.FindOne(ctx, bson.M{primaryKey: jobID}).Raw()
	if err != nil {
		if isNoDocuments(err) {
			return nil, nil //nolint:nilnil // absence is not an error
		}
		return nil, fmt.Errorf("jobstore/mongo: get job: %w", err)
	}
	return decodeJob(raw)
}

// Get returns every job matching filter in natural order.
func (s *Store) Get(ctx context.Context, filter job.Filter) ([]*job.Job, error) {
	coll, release, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	cursor, err := coll.Find(ctx, encodeFilter(filter))
	if err != nil {
		return nil, fmt.Errorf("jobstore/mongo: get jobs: %w", err)
	}
	defer cursor.Close(ctx)

	jobs := make([]*job.Job, 0)
	for cursor.Next(ctx) {
		j, decErr := decodeJob(cursor.Current)
		if decErr != nil {
			return nil, fmt.Errorf("jobstore/mongo: get jobs: %w", decErr)
		}
		jobs = append(jobs, j)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("jobstore/mongo: get jobs cursor: %w", err)
	}
	return jobs, nil
}

// Reserve atomically moves one ready job to processing for workerID and
// returns it as stored after the change, or nil if no job is ready.
//
// The claim is a single FindOneAndUpdate, so two concurrent callers never
// receive the same job. The update is a pipeline so each deadline can be
// derived from the job's own duration field in the same write.
func (s *Store) Reserve(ctx context.Context, workerID string) (*job.Job, error) {
	if workerID == "" {
		return nil, jobstore.ErrInvalidWorker
	}

	coll, release, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, span := s.tracer.Start(ctx, "jobstore.job.reserve")
	defer span.End()
	span.SetAttributes(attribute.String("jobstore.worker_id", workerID))

	now := s.now()
	filter := bson.M{job.FieldStatus: job.StatusReady}
	update := mongod.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: job.FieldStatus, Value: literal(job.StatusProcessing)},
			{Key: job.FieldWorkerID, Value: literal(workerID)},
			{Key: job.FieldExpires, Value: armDeadline(job.FieldExpires, job.FieldExpireMs, now)},
			{Key: job.FieldStalls, Value: armDeadline(job.FieldStalls, job.FieldStallMs, now)},
		}}},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	raw, err := coll.FindOneAndUpdate(ctx, filter, update, opts).Raw()
	if err != nil {
		if isNoDocuments(err) {
			return nil, nil //nolint:nilnil // no job available is not an error
		}
		err = fmt.Errorf("jobstore/mongo: reserve job: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	j, err := decodeJob(raw)
	if err != nil {
		return nil, fmt.Errorf("jobstore/mongo: reserve job: %w", err)
	}
	span.SetAttributes(attribute.String("jobstore.job_id", j.ID))

	s.extensions.EmitJobReserved(ctx, j)
	return j, nil
}

// UpdateByID applies a partial update to exactly one job. A nil field value
// removes the field. Anything other than one matched job is a
// WriteCountError.
func (s *Store) UpdateByID(ctx context.Context, jobID string, fields job.Fields) error {
	matched, err := s.updateOne(ctx, bson.M{primaryKey: jobID}, fields)
	if err != nil {
		return err
	}
	if matched != 1 {
		return jobstore.NewWriteCountError("updateById", matched)
	}
	return nil
}

// UpdateOwned applies fields only while the job is processing under
// workerID. A job that was reclaimed or handed to another worker in the
// meantime yields ErrJobNotOwned.
func (s *Store) UpdateOwned(ctx context.Context, jobID, workerID string, fields job.Fields) error {
	if workerID == "" {
		return jobstore.ErrInvalidWorker
	}
	matched, err := s.updateOne(ctx, ownedFilter(jobID, workerID), fields)
	if err != nil {
		return err
	}
	if matched != 1 {
		return jobstore.NotOwnedError("updateOwned", jobID, workerID)
	}
	return nil
}

func (s *Store) updateOne(ctx context.Context, filter bson.M, fields job.Fields) (int64, error) {
	update, err := encodeUpdate(fields)
	if err != nil {
		return 0, fmt.Errorf("jobstore/mongo: update job: %w", err)
	}

	coll, release, err := s.acquire()
	if err != nil {
		return 0, err
	}
	defer release()

	var matched int64
	if len(update) == 0 {
		matched, err = coll.CountDocuments(ctx, filter)
	} else {
		var res *mongod.UpdateResult
		res, err = coll.UpdateOne(ctx, filter, update)
		if res != nil {
			matched = res.MatchedCount
		}
	}
	if err != nil {
		return 0, fmt.Errorf("jobstore/mongo: update job: %w", err)
	}
	return matched, nil
}

// RemoveByID deletes exactly one job. Anything other than one deleted job
// is a WriteCountError.
func (s *Store) RemoveByID(ctx context.Context, jobID string) (bool, error) {
	n, err := s.deleteOne(ctx, bson.M{primaryKey: jobID})
	if err != nil {
		return false, err
	}
	if n != 1 {
		return false, jobstore.NewWriteCountError("removeById", n)
	}
	return true, nil
}

// RemoveOwned deletes the job only while it is processing under workerID.
func (s *Store) RemoveOwned(ctx context.Context, jobID, workerID string) (bool, error) {
	if workerID == "" {
		return false, jobstore.ErrInvalidWorker
	}
	n, err := s.deleteOne(ctx, ownedFilter(jobID, workerID))
	if err != nil {
		return false, err
	}
	if n != 1 {
		return false, jobstore.NotOwnedError("removeOwned", jobID, workerID)
	}
	return true, nil
}

func (s *Store) deleteOne(ctx context.Context, filter bson.M) (int64, error) {
	coll, release, err := s.acquire()
	if err != nil {
		return 0, err
	}
	defer release()

	res, err := coll.DeleteOne(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("jobstore/mongo: remove job: %w", err)
	}
	return res.DeletedCount, nil
}

// ownedFilter matches a job still held by workerID.
func ownedFilter(jobID, workerID string) bson.M {
	return bson.M{
		primaryKey:        jobID,
		job.FieldStatus:   job.StatusProcessing,
		job.FieldWorkerID: workerID,
	}
}

// Remove deletes every job matching filter and returns the count.
func (s *Store) Remove(ctx context.Context, filter job.Filter) (int64, error) {
	coll, release, err := s.acquire()
	if err != nil {
		return 0, err
	}
	defer release()

	res, err := coll.DeleteMany(ctx, encodeFilter(filter))
	if err != nil {
		return 0, fmt.Errorf("jobstore/mongo: remove jobs: %w", err)
	}
	return res.DeletedCount, nil
}

// RemoveByStatus deletes every job with the given status.
func (s *Store) RemoveByStatus(ctx context.Context, status job.Status) (int64, error) {
	return s.Remove(ctx, job.Filter{job.FieldStatus: status})
}

// Clear deletes every job.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	return s.Remove(ctx, job.Filter{})
}

// ── helpers ──────────────────────────────────────────────────────

// armDeadline is a pipeline expression that sets deadline to now plus the
// job's duration when the duration is positive, and leaves it as is
// otherwise. A missing duration compares below zero, and a missing
// deadline stays missing.
func armDeadline(deadline, duration string, now time.Time) bson.M {
	return bson.M{"$cond": bson.A{
		bson.M{"$gt": bson.A{"$" + duration, 0}},
		bson.M{"$add": bson.A{now, "$" + duration}},
		"$" + deadline,
	}}
}

// literal keeps pipeline stages from reading a value that starts with "$"
// as a field path.
func literal(v any) bson.M {
	return bson.M{"$literal": v}
}

func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}
