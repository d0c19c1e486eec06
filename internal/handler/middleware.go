package handler

import (
	"fmt"

	"github.com/nkhatri/upi-switch/internal/domain"

	"github.com/golang-jwt/jwt/v5"
)

// Transaction requests carry a detached HMAC signature: a compact JWT
// whose claims must match the business parameters of the request. A
// tampered amount or payee fails verification even with a valid token.

// SignTransactionRequest produces the signature expected by
// ProcessTransaction. Exported for client SDKs and tests.
func SignTransactionRequest(secret string, req *domain.TransactionRequest) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":         req.TransactionID,
		"payerVpa":    req.PayerVPA,
		"payeeVpa":    req.PayeeVPA,
		"amountPaisa": req.AmountPaisa,
	})
	return token.SignedString([]byte(secret))
}

// verifySignature checks the request signature against the request's
// own parameters.
func verifySignature(secret string, req *domain.TransactionRequest) error {
	if req.Signature == "" {
		return &domain.ErrUnauthorized{Message: "missing request signature"}
	}

	token, err := jwt.Parse(req.Signature, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return &domain.ErrUnauthorized{Message: "invalid request signature"}
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return &domain.ErrUnauthorized{Message: "invalid signature claims"}
	}
	if sub, _ := claims.GetSubject(); sub != req.TransactionID {
		return &domain.ErrUnauthorized{Message: "signature does not match transaction id"}
	}
	if v, ok := claims["payerVpa"].(string); !ok || v != req.PayerVPA {
		return &domain.ErrUnauthorized{Message: "signature does not match payer vpa"}
	}
	if v, ok := claims["payeeVpa"].(string); !ok || v != req.PayeeVPA {
		return &domain.ErrUnauthorized{Message: "signature does not match payee vpa"}
	}
	if v, ok := claims["amountPaisa"].(float64); !ok || int64(v) != req.AmountPaisa {
		return &domain.ErrUnauthorized{Message: "signature does not match amount"}
	}
	return nil
}
