package sink

import (
	"testing"

	"github.com/maxpert/sqlrunner/publisher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ publisher.Sink = (*MockSink)(nil)
var _ publisher.Sink = (*NatsSink)(nil)
var _ publisher.Sink = (*KafkaSink)(nil)

func TestMockSink(t *testing.T) {
	m := &MockSink{}
	m.FailNext(2)

	assert.ErrorIs(t, m.Publish("t", "k", []byte("1")), ErrMockPublish)
	assert.ErrorIs(t, m.Publish("t", "k", []byte("2")), ErrMockPublish)
	require.NoError(t, m.Publish("t", "k", []byte("3")))

	msgs := m.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, MockMessage{Topic: "t", Key: "k", Value: []byte("3")}, msgs[0])

	assert.False(t, m.Closed())
	require.NoError(t, m.Close())
	assert.True(t, m.Closed())
}

func TestStreamName(t *testing.T) {
	tests := map[string]string{
		"sqlrunner.opened":     "sqlrunner_opened",
		"a.b.c":                "a_b_c",
		"events.*":             "events__",
		"plain":                "plain",
		"with space/and\\more": "with_space_and_more",
	}
	for in, want := range tests {
		assert.Equal(t, want, StreamName(in), in)
	}
}

func TestKafkaSinkConfig(t *testing.T) {
	_, err := NewKafkaSink(KafkaConfig{})
	assert.Error(t, err)

	k, err := NewKafkaSink(KafkaConfig{Brokers: []string{"127.0.0.1:9092"}})
	require.NoError(t, err)
	assert.Equal(t, DefaultKafkaBatchSize, k.writer.BatchSize)
	assert.Equal(t, int64(DefaultKafkaBatchBytes), k.writer.BatchBytes)
	assert.Equal(t, DefaultKafkaWriteTimeout, k.timeout)
	require.NoError(t, k.Close())

	d := DefaultKafkaConfig([]string{"b:9092"})
	assert.True(t, d.AutoCreateTopics)
	assert.Equal(t, []string{"b:9092"}, d.Brokers)
}
