package jobstore_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/jobstore"
)

func TestWriteCountError(t *testing.T) {
	err := jobstore.NewWriteCountError("updateById", 0)

	assert.Equal(t, "jobstore: updateById: expected 1, got 0", err.Error())
	assert.ErrorIs(t, err, jobstore.ErrWriteCount)
	assert.NotErrorIs(t, err, jobstore.ErrStoreClosed)
}

func TestWriteCountErrorWrapped(t *testing.T) {
	wrapped := fmt.Errorf("jobstore/mongo: update job: %w", jobstore.NewWriteCountError("removeById", 2))

	require.ErrorIs(t, wrapped, jobstore.ErrWriteCount)

	var wce *jobstore.WriteCountError
	require.True(t, errors.As(wrapped, &wce))
	assert.Equal(t, "removeById", wce.Op)
	assert.Equal(t, int64(1), wce.Expected)
	assert.Equal(t, int64(2), wce.Actual)
}

func TestJobNotCreatedWrapsCause(t *testing.T) {
	err := fmt.Errorf("%w: %w", jobstore.ErrJobNotCreated, jobstore.ErrJobAlreadyExists)

	assert.ErrorIs(t, err, jobstore.ErrJobNotCreated)
	assert.ErrorIs(t, err, jobstore.ErrJobAlreadyExists)
}
