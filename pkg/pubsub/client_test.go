package pubsub

import (
	"context"
	"testing"

	"github.com/angelmondragon/lending-backend/pkg/config"
)

func TestTopicResourceName(t *testing.T) {
	cases := []struct {
		project string
		name    string
		want    string
	}{
		{project: "library", name: "lending-events", want: "projects/library/topics/lending-events"},
		{project: "library", name: " projects/other/topics/x ", want: "projects/other/topics/x"},
		{project: "", name: "lending-events", want: ""},
		{project: "library", name: "  ", want: ""},
	}
	for _, tc := range cases {
		if got := topicResourceName(tc.project, tc.name); got != tc.want {
			t.Fatalf("topicResourceName(%q, %q) = %q, want %q", tc.project, tc.name, got, tc.want)
		}
	}
}

func TestTopicNamesSkipsBlank(t *testing.T) {
	if names := topicNames(config.PubSubConfig{}); len(names) != 0 {
		t.Fatalf("expected no topics, got %v", names)
	}
	names := topicNames(config.PubSubConfig{LendingTopic: "lending-events"})
	if len(names) != 1 || names[0] != "lending-events" {
		t.Fatalf("unexpected topics %v", names)
	}
}

func TestNilClientPublisher(t *testing.T) {
	var c *Client
	if c.Publisher("lending-events") != nil {
		t.Fatalf("nil client should not return a publisher")
	}
	if err := c.Ping(context.Background()); err == nil {
		t.Fatalf("nil client ping should fail")
	}
}
