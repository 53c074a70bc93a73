package stream

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrInvalidJob = errors.New("invalid job")

func IsInvalidJobErr(err error) bool { return errors.Is(err, ErrInvalidJob) }

// Job asks the writer to load one image and its label and store them.
// Partition values are positional and match the metadata columns.
type Job struct {
	Source    string `json:"source"`
	Label     string `json:"label"`
	Partition []any  `json:"partition"`
}

func (j Job) Validate() error {
	if j.Source == "" {
		return fmt.Errorf("%w: source is required", ErrInvalidJob)
	}
	if j.Label == "" {
		return fmt.Errorf("%w: label is required", ErrInvalidJob)
	}
	return nil
}

func (j Job) Encode() ([]byte, error) {
	if err := j.Validate(); err != nil {
		return nil, err
	}

	data, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}
	return data, nil
}

// DecodeJob parses a job message. JSON numbers in the partition decode as
// float64 and are narrowed by the column converters.
func DecodeJob(data []byte) (Job, error) {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return Job{}, fmt.Errorf("%w: %w", ErrInvalidJob, err)
	}

	if err := job.Validate(); err != nil {
		return Job{}, err
	}

	return job, nil
}
