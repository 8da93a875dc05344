package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/store"
	"go.uber.org/zap"
)

const tellerTokenIssuer = "ledger-service"

// TellerClaims are the claims carried by a teller token. The subject is the employee id.
type TellerClaims struct {
	FirstName string `json:"first_name,omitempty"`
	BranchID  string `json:"branch_id,omitempty"`
	jwt.RegisteredClaims
}

// TellerAuth logs tellers in and verifies the tokens it issued.
type TellerAuth struct {
	repo     store.Repository
	secret   []byte
	ttl      time.Duration
	clock    func() time.Time
	verifier secretVerifier
	metrics  *Metrics
	logger   *zap.Logger
}

func NewTellerAuth(repo store.Repository, secret string, ttl time.Duration, metrics *Metrics, logger *zap.Logger) *TellerAuth {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	return &TellerAuth{
		repo:    repo,
		secret:  []byte(secret),
		ttl:     ttl,
		clock:   time.Now,
		metrics: metrics,
		logger:  logger.With(zap.String("component", "teller_auth")),
	}
}

// Login checks the teller's password and issues a signed session token.
func (a *TellerAuth) Login(ctx context.Context, employeeID, password string) (domain.TellerSession, error) {
	employeeID = strings.TrimSpace(employeeID)

	teller, err := a.repo.FindTeller(ctx, employeeID)
	if err != nil && !errors.Is(err, store.ErrTellerNotFound) {
		return domain.TellerSession{}, err
	}
	if !a.verifier.verify(teller.PasswordHash, password, err == nil) {
		a.metrics.authFailed("teller")
		a.logger.Info("teller login rejected", zap.String("employee_id", employeeID))
		return domain.TellerSession{}, ErrAuthenticationFailed
	}

	now := a.clock().UTC()
	expiresAt := now.Add(a.ttl)
	claims := TellerClaims{
		FirstName: teller.FirstName,
		BranchID:  teller.BranchID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    tellerTokenIssuer,
			Subject:   teller.EmployeeID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return domain.TellerSession{}, fmt.Errorf("failed to sign teller token: %w", err)
	}

	a.logger.Info("teller logged in", zap.String("employee_id", teller.EmployeeID))
	return domain.TellerSession{
		EmployeeID: teller.EmployeeID,
		FirstName:  teller.FirstName,
		Token:      token,
		ExpiresAt:  expiresAt,
	}, nil
}

// VerifyToken parses tokenString and returns its claims when the signature, issuer
// and lifetime are valid.
func (a *TellerAuth) VerifyToken(tokenString string) (*TellerClaims, error) {
	claims := &TellerClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	},
		jwt.WithIssuer(tellerTokenIssuer),
		jwt.WithTimeFunc(a.clock),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
