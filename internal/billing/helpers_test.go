package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jmehdipour/imagegen-gateway/internal/model"
)

const testSecret = "whsec_test_secret"

// sign builds a Stripe-Signature header for payload.
func sign(t *testing.T, payload []byte, secret string, at time.Time) string {
	t.Helper()
	ts := fmt.Sprintf("%d", at.Unix())
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	return "t=" + ts + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}

func eventPayload(t *testing.T, id, typ string, object map[string]any) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"id":          id,
		"object":      "event",
		"type":        typ,
		"api_version": "2023-10-16",
		"created":     time.Now().Unix(),
		"data":        map[string]any{"object": object},
	})
	require.NoError(t, err)
	return b
}

// memStore is an in-memory SubscriptionStore and UserDirectory.
type memStore struct {
	mu       sync.Mutex
	subs     map[string]model.Subscription // by user id
	profiles map[string]string             // user id -> email
	failNext error
	upserts  int
	updates  int
}

func newMemStore() *memStore {
	return &memStore{subs: map[string]model.Subscription{}, profiles: map[string]string{}}
}

func (m *memStore) addProfile(id, email string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[id] = email
}

func (m *memStore) take() error {
	err := m.failNext
	m.failNext = nil
	return err
}

func (m *memStore) Upsert(_ context.Context, sub model.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.take(); err != nil {
		return err
	}
	m.upserts++
	if cur, ok := m.subs[sub.UserID]; ok {
		if sub.CurrentPeriodStart == nil {
			sub.CurrentPeriodStart = cur.CurrentPeriodStart
		}
		if sub.CurrentPeriodEnd == nil {
			sub.CurrentPeriodEnd = cur.CurrentPeriodEnd
		}
	}
	m.subs[sub.UserID] = sub
	return nil
}

func (m *memStore) UpdateBySubscriptionID(_ context.Context, id string, patch model.SubscriptionPatch) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.take(); err != nil {
		return 0, err
	}
	m.updates++
	var n int64
	for uid, s := range m.subs {
		if s.StripeSubscriptionID != id {
			continue
		}
		s.Status = patch.Status
		if patch.PeriodStart != nil {
			s.CurrentPeriodStart = patch.PeriodStart
		}
		if patch.PeriodEnd != nil {
			s.CurrentPeriodEnd = patch.PeriodEnd
		}
		m.subs[uid] = s
		n++
	}
	return n, nil
}

func (m *memStore) FindIDsByEmail(_ context.Context, email string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.take(); err != nil {
		return nil, err
	}
	var ids []string
	for id, e := range m.profiles {
		if strings.EqualFold(e, email) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *memStore) get(userID string) (model.Subscription, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[userID]
	return s, ok
}

type stubFetcher struct {
	period Period
	err    error
	calls  int
}

func (f *stubFetcher) FetchPeriod(context.Context, string) (Period, error) {
	f.calls++
	return f.period, f.err
}

var errStore = errors.New("store down")
