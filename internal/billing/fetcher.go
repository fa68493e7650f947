package billing

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// StripeFetcher reads subscription periods from the Stripe API.
type StripeFetcher struct {
	api *client.API
}

var _ PeriodFetcher = (*StripeFetcher)(nil)

func NewStripeFetcher(apiKey string) *StripeFetcher {
	sc := &client.API{}
	sc.Init(apiKey, nil)
	return &StripeFetcher{api: sc}
}

func (f *StripeFetcher) FetchPeriod(ctx context.Context, subscriptionID string) (Period, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := f.api.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		return Period{}, fmt.Errorf("stripe get subscription %s: %w", subscriptionID, err)
	}
	return Period{Start: unixPtr(sub.CurrentPeriodStart), End: unixPtr(sub.CurrentPeriodEnd)}, nil
}
