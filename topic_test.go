package mqttc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopicMatch(t *testing.T) {
	cases := []struct {
		filter string
		topic  string
		want   bool
	}{
		{"a/b", "a/b", true},
		{"a/b", "a/c", false},
		{"a/+", "a/b", true},
		{"a/+", "a/b/c", false},
		{"a/+/c", "a/b/c", true},
		{"a/#", "a/b/c", true},
		{"a/#", "a", true},
		{"#", "a/b/c", true},
		{"+/+", "a/b", true},
		{"+/+", "a", false},
		{"$SYS/broker", "$SYS/broker", true},
		{"+/broker", "$SYS/broker", false},
		{"#", "$SYS/broker", false},
	}

	for _, tc := range cases {
		got := TopicMatch(tc.filter, tc.topic)
		assert.Equal(t, tc.want, got, "filter=%q topic=%q", tc.filter, tc.topic)
	}
}

func TestValidateTopicFilter(t *testing.T) {
	valid := []string{"a", "a/b", "a/+", "+/b", "a/#", "#", "+"}
	for _, f := range valid {
		assert.NoError(t, ValidateTopicFilter(f), "filter %q", f)
	}

	invalid := []string{"", "a/#/b", "a+", "a/b#", "a/++"}
	for _, f := range invalid {
		assert.Error(t, ValidateTopicFilter(f), "filter %q", f)
	}
}

func TestValidateTopicName(t *testing.T) {
	assert.NoError(t, ValidateTopicName("a/b"))
	assert.Error(t, ValidateTopicName(""))
	assert.Error(t, ValidateTopicName("a/+"))
	assert.Error(t, ValidateTopicName("a/#"))
}
