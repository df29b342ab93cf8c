package pubsub

import (
	"context"
	"testing"

	"github.com/angelmondragon/foodops-backend/pkg/config"
)

func TestTopicResourceName(t *testing.T) {
	cases := []struct {
		project string
		name    string
		want    string
	}{
		{project: "proj", name: "notify", want: "projects/proj/topics/notify"},
		{project: "proj", name: " projects/other/topics/notify ", want: "projects/other/topics/notify"},
		{project: "", name: "notify", want: ""},
		{project: "proj", name: "  ", want: ""},
	}
	for _, tc := range cases {
		if got := TopicResourceName(tc.project, tc.name); got != tc.want {
			t.Fatalf("TopicResourceName(%q, %q) = %q, want %q", tc.project, tc.name, got, tc.want)
		}
	}
}

func TestNewClientRequiresProjectAndTopic(t *testing.T) {
	ctx := context.Background()
	if _, err := NewClient(ctx, config.GCPConfig{}, config.PubSubConfig{NotificationTopic: "t"}, nil); err != errProjectIDRequired {
		t.Fatalf("expected project id error, got %v", err)
	}
	if _, err := NewClient(ctx, config.GCPConfig{ProjectID: "p"}, config.PubSubConfig{}, nil); err != errTopicRequired {
		t.Fatalf("expected topic error, got %v", err)
	}
}

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	if c.Publisher("x") != nil || c.NotificationPublisher() != nil {
		t.Fatal("nil client must not return publishers")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close on nil client: %v", err)
	}
	if err := c.Ping(context.Background()); err == nil {
		t.Fatal("expected ping error on nil client")
	}
}

func TestSubscriptionResourceName(t *testing.T) {
	if got := SubscriptionResourceName("proj", "receipts"); got != "projects/proj/subscriptions/receipts" {
		t.Fatalf("unexpected resource name %q", got)
	}
	if got := SubscriptionResourceName("proj", "projects/x/subscriptions/r"); got != "projects/x/subscriptions/r" {
		t.Fatalf("expected full name passthrough, got %q", got)
	}
	if got := SubscriptionResourceName("", "receipts"); got != "" {
		t.Fatalf("expected empty name without project, got %q", got)
	}
	var c *Client
	if c.ReceiptSubscriber() != nil {
		t.Fatal("nil client must not return subscribers")
	}
}
