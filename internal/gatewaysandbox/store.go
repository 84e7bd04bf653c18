// Package gatewaysandbox is a local stand-in for the card payment gateway.
//
// Payments live in a BoltDB file. Creation is keyed by the caller's
// Idempotency-Key: replaying a key returns the payment created the first time
// without writing. Capture and void are idempotent through the payment status
// itself, and bolt serializes writers so a capture racing a void has exactly
// one winner.
package gatewaysandbox

import (
	"encoding/json"
	"errors"
	"github.com/YesWoolley/OnlineBookstore-sub002/internal/payment"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
	"time"
)

var (
	bucketPayments    = []byte("payments")
	bucketIdempotency = []byte("idempotency")
)

var ErrNotFound = errors.New("payment not found")

const (
	StatusCreated  = payment.WireCreated
	StatusCaptured = payment.WireCaptured
	StatusFailed   = payment.WireFailed
)

const (
	ReasonDeclined = "card_declined"
	ReasonVoided   = payment.ReasonVoided
)

type Payment struct {
	ID            string    `json:"id"`
	Token         string    `json:"token"`
	Status        string    `json:"status"`
	AmountCents   int64     `json:"amount_cents"`
	Currency      string    `json:"currency"`
	OrderID       string    `json:"order_id"`
	FailureReason string    `json:"failure_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type Store struct {
	db *bolt.DB

	// DeclineOverCents fails captures above this amount; 0 disables.
	DeclineOverCents int64
}

func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketPayments, bucketIdempotency} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Create returns (payment, true) on first use of key and (stored, false) on replay.
func (s *Store) Create(key string, amountCents int64, currency, orderID string) (Payment, bool, error) {
	var (
		out     Payment
		created bool
	)
	err := s.db.Update(func(tx *bolt.Tx) error {
		idem := tx.Bucket(bucketIdempotency)
		pays := tx.Bucket(bucketPayments)

		if token := idem.Get([]byte(key)); token != nil {
			return json.Unmarshal(pays.Get(token), &out)
		}

		now := time.Now().UTC()
		out = Payment{
			ID:          "pay_" + uuid.NewString(),
			Token:       "tok_" + uuid.NewString(),
			Status:      StatusCreated,
			AmountCents: amountCents,
			Currency:    currency,
			OrderID:     orderID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := put(pays, out); err != nil {
			return err
		}
		created = true
		return idem.Put([]byte(key), []byte(out.Token))
	})
	if err != nil {
		return Payment{}, false, err
	}
	return out, created, nil
}

func (s *Store) Get(token string) (Payment, error) {
	var p Payment
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketPayments).Get([]byte(token))
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &p)
	})
	return p, err
}

// Capture settles a created payment. A payment already captured or failed
// is returned unchanged.
func (s *Store) Capture(token string) (Payment, error) {
	return s.settle(token, func(p *Payment) {
		if s.DeclineOverCents > 0 && p.AmountCents > s.DeclineOverCents {
			p.Status, p.FailureReason = StatusFailed, ReasonDeclined
			return
		}
		p.Status = StatusCaptured
	})
}

// Void cancels a created payment. A captured payment stays captured.
func (s *Store) Void(token string) (Payment, error) {
	return s.settle(token, func(p *Payment) {
		p.Status, p.FailureReason = StatusFailed, ReasonVoided
	})
}

func (s *Store) settle(token string, apply func(*Payment)) (Payment, error) {
	var p Payment
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPayments)
		v := b.Get([]byte(token))
		if v == nil {
			return ErrNotFound
		}
		if err := json.Unmarshal(v, &p); err != nil {
			return err
		}
		if p.Status != StatusCreated {
			return nil
		}
		apply(&p)
		p.UpdatedAt = time.Now().UTC()
		return put(b, p)
	})
	return p, err
}

func put(b *bolt.Bucket, p Payment) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return b.Put([]byte(p.Token), data)
}
