package gateward

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ReceiptClaims defines a public type used by gateward APIs.
//
// ReceiptClaims instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type ReceiptClaims struct {
	jwt.RegisteredClaims
	TenantID  string `json:"tnt,omitempty"`
	SessionID string `json:"vsid"`
}

type receiptIssuer struct {
	key    []byte
	ttl    time.Duration
	issuer string
}

func newReceiptIssuer(cfg ReceiptConfig) *receiptIssuer {
	if !cfg.Enabled {
		return nil
	}
	return &receiptIssuer{
		key:    cloneBytes(cfg.SigningKey),
		ttl:    cfg.TTL,
		issuer: cfg.Issuer,
	}
}

func (r *receiptIssuer) Issue(sessionID, principalID, tenantID string, verifiedAt time.Time) (string, error) {
	if r == nil {
		return "", ErrReceiptsDisabled
	}

	claims := ReceiptClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    r.issuer,
			Subject:   principalID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(verifiedAt),
			ExpiresAt: jwt.NewNumericDate(verifiedAt.Add(r.ttl)),
		},
		TenantID:  tenantID,
		SessionID: sessionID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(r.key)
	if err != nil {
		return "", errors.Join(ErrReceiptUnavailable, err)
	}
	return signed, nil
}

func (r *receiptIssuer) Verify(tokenStr string) (*ReceiptClaims, error) {
	if r == nil {
		return nil, ErrReceiptsDisabled
	}

	claims := &ReceiptClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrReceiptInvalid
		}
		return r.key, nil
	}, jwt.WithIssuer(r.issuer), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return nil, ErrReceiptInvalid
	}

	return claims, nil
}

// VerifyReceipt validates a signed verification receipt and returns its
// claims. Downstream services can call this without a store round-trip.
func (e *Engine) VerifyReceipt(tokenStr string) (*ReceiptClaims, error) {
	if e == nil || e.receipts == nil {
		return nil, ErrReceiptsDisabled
	}
	return e.receipts.Verify(tokenStr)
}
