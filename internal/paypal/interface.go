package paypal

import "context"

// SubscriptionVerifier defines the interface for confirming a subscription with the provider
type SubscriptionVerifier interface {
	VerifySubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
}

// TrustingVerifier accepts any subscription ID as active. It is used when no
// provider credentials are configured.
type TrustingVerifier struct{}

func (TrustingVerifier) VerifySubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	return &Subscription{ID: subscriptionID, Status: StatusActive}, nil
}
