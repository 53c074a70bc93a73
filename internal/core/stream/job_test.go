package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeJob(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    Job
		wantErr bool
	}{
		{
			name: "full job",
			data: `{"source":"s3://bucket/train/3/a.jpg","label":"s3://bucket/train/3/a.txt","partition":[100,"train"]}`,
			want: Job{Source: "s3://bucket/train/3/a.jpg", Label: "s3://bucket/train/3/a.txt", Partition: []any{float64(100), "train"}},
		},
		{
			name: "no partition",
			data: `{"source":"a.jpg","label":"a.txt"}`,
			want: Job{Source: "a.jpg", Label: "a.txt"},
		},
		{name: "missing source", data: `{"label":"a.txt"}`, wantErr: true},
		{name: "missing label", data: `{"source":"a.jpg"}`, wantErr: true},
		{name: "not json", data: `source=a.jpg`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeJob([]byte(tt.data))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsInvalidJobErr(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestJobEncode(t *testing.T) {
	data, err := Job{Source: "a.jpg", Label: "a.txt", Partition: []any{"val", 2}}.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"source":"a.jpg","label":"a.txt","partition":["val",2]}`, string(data))

	_, err = Job{Label: "a.txt"}.Encode()
	assert.ErrorIs(t, err, ErrInvalidJob)
}

func TestConsumerConfigSubject(t *testing.T) {
	assert.Equal(t, "images.jobs", ConsumerConfig{NatsStream: "images", NatsSubject: "jobs"}.Subject())
	assert.Equal(t, "images.>", ConsumerConfig{NatsStream: "images"}.Subject())
}
