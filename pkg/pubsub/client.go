package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/angelmondragon/foodops-backend/pkg/config"
	"github.com/angelmondragon/foodops-backend/pkg/logger"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Client wraps the Pub/Sub v2 client used to hand notifications to the
// delivery transport.
type Client struct {
	client    *pubsub.Client
	projectID string
	cfg       config.PubSubConfig
}

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errTopicRequired     = errors.New("pubsub notification topic is required")
)

// NewClient creates a Pub/Sub v2 client and checks the notification topic exists.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(gcp.ProjectID) == "" {
		return nil, errProjectIDRequired
	}
	if strings.TrimSpace(cfg.NotificationTopic) == "" {
		return nil, errTopicRequired
	}

	psClient, err := pubsub.NewClient(ctx, gcp.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	c := &Client{
		client:    psClient,
		projectID: gcp.ProjectID,
		cfg:       cfg,
	}

	if err := c.ensureTopicExists(ctx, cfg.NotificationTopic); err != nil {
		_ = psClient.Close()
		return nil, err
	}
	// An empty receipt subscription skips the check.
	if strings.TrimSpace(cfg.ReceiptSubscription) != "" {
		if err := c.ensureSubscriptionExists(ctx, cfg.ReceiptSubscription); err != nil {
			_ = psClient.Close()
			return nil, err
		}
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "topic", cfg.NotificationTopic), "pubsub client initialized")
	}
	return c, nil
}

func (c *Client) ensureTopicExists(ctx context.Context, name string) error {
	fullName := TopicResourceName(c.projectID, name)
	if fullName == "" {
		return fmt.Errorf("topic %q not configured", name)
	}

	_, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: fullName})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("topic %q does not exist", name)
		}
		return fmt.Errorf("checking topic %q: %w", name, err)
	}
	return nil
}

func (c *Client) ensureSubscriptionExists(ctx context.Context, name string) error {
	fullName := SubscriptionResourceName(c.projectID, name)
	if fullName == "" {
		return fmt.Errorf("subscription %q not configured", name)
	}

	_, err := c.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: fullName})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("subscription %q does not exist", name)
		}
		return fmt.Errorf("checking subscription %q: %w", name, err)
	}
	return nil
}

// Publisher returns a publisher handle for the given topic ID or resource name.
func (c *Client) Publisher(name string) *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	fullName := TopicResourceName(c.projectID, name)
	if fullName == "" {
		return nil
	}
	return c.client.Publisher(fullName)
}

// NotificationPublisher returns the publisher for the configured notification topic.
func (c *Client) NotificationPublisher() *pubsub.Publisher {
	if c == nil {
		return nil
	}
	return c.Publisher(c.cfg.NotificationTopic)
}

// Subscriber returns a subscriber handle for the given subscription ID or resource name.
func (c *Client) Subscriber(name string) *pubsub.Subscriber {
	if c == nil || c.client == nil {
		return nil
	}
	fullName := SubscriptionResourceName(c.projectID, name)
	if fullName == "" {
		return nil
	}
	return c.client.Subscriber(fullName)
}

// ReceiptSubscriber returns the subscriber for delivery receipts.
func (c *Client) ReceiptSubscriber() *pubsub.Subscriber {
	if c == nil {
		return nil
	}
	return c.Subscriber(c.cfg.ReceiptSubscription)
}

// Ping re-checks the notification topic and, when configured, the receipt subscription.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("pubsub client not initialized")
	}
	if err := c.ensureTopicExists(ctx, c.cfg.NotificationTopic); err != nil {
		return err
	}
	if strings.TrimSpace(c.cfg.ReceiptSubscription) == "" {
		return nil
	}
	return c.ensureSubscriptionExists(ctx, c.cfg.ReceiptSubscription)
}

// Close releases the Pub/Sub client resources.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// TopicResourceName expands a bare topic ID into projects/<p>/topics/<id>.
func TopicResourceName(projectID, name string) string {
	return resourceName(projectID, "topics", name)
}

// SubscriptionResourceName expands a bare subscription ID into
// projects/<p>/subscriptions/<id>.
func SubscriptionResourceName(projectID, name string) string {
	return resourceName(projectID, "subscriptions", name)
}

func resourceName(projectID, collection, name string) string {
	n := strings.TrimSpace(name)
	if n == "" {
		return ""
	}
	if strings.HasPrefix(n, "projects/") && strings.Contains(n, "/"+collection+"/") {
		return n
	}
	p := strings.TrimSpace(projectID)
	if p == "" {
		return ""
	}
	return "projects/" + p + "/" + collection + "/" + n
}
