package store

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kiranshivaraju/riskscan/pkg/models"
)

func TestValidTransition(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{models.JobStatusPending, models.JobStatusProcessing, true},
		{models.JobStatusProcessing, models.JobStatusCompleted, true},
		{models.JobStatusProcessing, models.JobStatusFailed, true},
		{models.JobStatusPending, models.JobStatusCompleted, false},
		{models.JobStatusPending, models.JobStatusFailed, false},
		{models.JobStatusProcessing, models.JobStatusPending, false},
		{models.JobStatusCompleted, models.JobStatusProcessing, false},
		{models.JobStatusFailed, models.JobStatusPending, false},
		{models.JobStatusCompleted, models.JobStatusFailed, false},
	}
	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidTransition(tt.from, tt.to))
		})
	}
}

func TestJobUpdateOptions(t *testing.T) {
	p := ApplyOptions(
		WithError(models.JobErrorFatal, "boom"),
		WithArchived(),
		WithStep(90, "result persistence", 4),
	)

	assert.Equal(t, models.JobErrorFatal, *p.ErrorKind)
	assert.Equal(t, "boom", *p.ErrorMessage)
	assert.True(t, p.Archived)
	assert.Equal(t, 90, p.Step.Progress)
	assert.Equal(t, "result persistence", p.Step.Label)
	assert.Nil(t, p.ResultID)

	assert.Equal(t, JobUpdate{}, ApplyOptions())
}
