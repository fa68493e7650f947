package billing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Provider event types the reconciler acts on.
const (
	TypeCheckoutCompleted    = "checkout.session.completed"
	TypeSubscriptionUpdated  = "customer.subscription.updated"
	TypeSubscriptionDeleted  = "customer.subscription.deleted"
	TypeInvoicePaymentFailed = "invoice.payment_failed"
)

// Event is the closed set of decoded billing events. Every variant is handled
// by exactly one Reconciler method; anything else decodes to Ignored.
type Event interface {
	EventID() string
	EventType() string
	event()
}

type base struct {
	ID   string
	Type string
}

func (b base) EventID() string   { return b.ID }
func (b base) EventType() string { return b.Type }
func (base) event()              {}

type CheckoutCompleted struct {
	base
	Mode           string
	SubscriptionID string
	CustomerID     string
	Email          string
}

type SubscriptionUpdated struct {
	base
	SubscriptionID string
	ProviderStatus string
	PeriodStart    *time.Time
	PeriodEnd      *time.Time
}

type SubscriptionDeleted struct {
	base
	SubscriptionID string
}

type InvoicePaymentFailed struct {
	base
	SubscriptionID string
}

type Ignored struct {
	base
}

// SubscriptionRef returns the provider subscription id an event targets, if any.
func SubscriptionRef(ev Event) string {
	switch e := ev.(type) {
	case CheckoutCompleted:
		return e.SubscriptionID
	case SubscriptionUpdated:
		return e.SubscriptionID
	case SubscriptionDeleted:
		return e.SubscriptionID
	case InvoicePaymentFailed:
		return e.SubscriptionID
	default:
		return ""
	}
}

// expandableID accepts either a bare id or an expanded object carrying "id".
type expandableID string

func (x *expandableID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*x = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*x = expandableID(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*x = expandableID(obj.ID)
	return nil
}

type checkoutSessionObject struct {
	Mode            string       `json:"mode"`
	Subscription    expandableID `json:"subscription"`
	Customer        expandableID `json:"customer"`
	CustomerEmail   string       `json:"customer_email"`
	CustomerDetails *struct {
		Email string `json:"email"`
	} `json:"customer_details"`
}

type periodFields struct {
	CurrentPeriodStart int64 `json:"current_period_start"`
	CurrentPeriodEnd   int64 `json:"current_period_end"`
}

type subscriptionObject struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	periodFields
	Items struct {
		Data []periodFields `json:"data"`
	} `json:"items"`
}

// period prefers the top-level fields and falls back to the first item, where
// newer API versions report the billing period.
func (s subscriptionObject) period() (start, end *time.Time) {
	p := s.periodFields
	if p.CurrentPeriodStart == 0 && p.CurrentPeriodEnd == 0 && len(s.Items.Data) > 0 {
		p = s.Items.Data[0]
	}
	return unixPtr(p.CurrentPeriodStart), unixPtr(p.CurrentPeriodEnd)
}

type invoiceObject struct {
	Subscription expandableID `json:"subscription"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription expandableID `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

func (i invoiceObject) subscriptionID() string {
	if i.Subscription != "" {
		return string(i.Subscription)
	}
	if i.Parent != nil && i.Parent.SubscriptionDetails != nil {
		return string(i.Parent.SubscriptionDetails.Subscription)
	}
	return ""
}

// Decode turns a verified envelope into its event variant.
func Decode(env *Envelope) (Event, error) {
	b := base{ID: env.ID, Type: env.Type}

	switch env.Type {
	case TypeCheckoutCompleted:
		var o checkoutSessionObject
		if err := unmarshalObject(env, &o); err != nil {
			return nil, err
		}
		email := o.CustomerEmail
		if email == "" && o.CustomerDetails != nil {
			email = o.CustomerDetails.Email
		}
		return CheckoutCompleted{
			base:           b,
			Mode:           o.Mode,
			SubscriptionID: string(o.Subscription),
			CustomerID:     string(o.Customer),
			Email:          email,
		}, nil

	case TypeSubscriptionUpdated:
		var o subscriptionObject
		if err := unmarshalObject(env, &o); err != nil {
			return nil, err
		}
		if o.ID == "" {
			return nil, fmt.Errorf("%w: subscription without id", ErrMalformedEvent)
		}
		start, end := o.period()
		return SubscriptionUpdated{base: b, SubscriptionID: o.ID, ProviderStatus: o.Status, PeriodStart: start, PeriodEnd: end}, nil

	case TypeSubscriptionDeleted:
		var o subscriptionObject
		if err := unmarshalObject(env, &o); err != nil {
			return nil, err
		}
		if o.ID == "" {
			return nil, fmt.Errorf("%w: subscription without id", ErrMalformedEvent)
		}
		return SubscriptionDeleted{base: b, SubscriptionID: o.ID}, nil

	case TypeInvoicePaymentFailed:
		var o invoiceObject
		if err := unmarshalObject(env, &o); err != nil {
			return nil, err
		}
		return InvoicePaymentFailed{base: b, SubscriptionID: o.subscriptionID()}, nil

	default:
		return Ignored{base: b}, nil
	}
}

func unmarshalObject(env *Envelope, v any) error {
	if len(env.Object) == 0 {
		return fmt.Errorf("%w: %s without data object", ErrMalformedEvent, env.Type)
	}
	if err := json.Unmarshal(env.Object, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedEvent, env.Type, err)
	}
	return nil
}

func unixPtr(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
