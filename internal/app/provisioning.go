package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/mail"
	"strings"
	"time"

	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/store"
	"go.uber.org/zap"
)

const (
	clientIDDigits   = 10
	accountIDDigits  = 9
	employeeIDDigits = 6
	productIDDigits  = 4
	branchIDDigits   = 4

	maxIDAttempts = 8
)

// Provisioner creates the reference data the ledger posts against.
type Provisioner struct {
	repo   store.Repository
	logger *zap.Logger
	newID  func(digits int) string
	clock  func() time.Time
}

func NewProvisioner(repo store.Repository, logger *zap.Logger) *Provisioner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provisioner{
		repo:   repo,
		logger: logger.With(zap.String("component", "provisioner")),
		newID:  randomDigits,
		clock:  time.Now,
	}
}

// randomDigits returns a number with exactly n digits and no leading zero.
func randomDigits(n int) string {
	var b strings.Builder
	b.WriteByte(byte('1' + rand.Intn(9)))
	for i := 1; i < n; i++ {
		b.WriteByte(byte('0' + rand.Intn(10)))
	}
	return b.String()
}

// create calls insert with the requested id, or with generated ids until one is free.
func (p *Provisioner) create(requested string, digits int, insert func(id string) error) (string, error) {
	if id := strings.TrimSpace(requested); id != "" {
		return id, insert(id)
	}
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id := p.newID(digits)
		err := insert(id)
		if errors.Is(err, store.ErrDuplicateID) {
			continue
		}
		return id, err
	}
	return "", fmt.Errorf("could not allocate a free id after %d attempts: %w", maxIDAttempts, store.ErrDuplicateID)
}

func (p *Provisioner) CreateClient(ctx context.Context, req domain.CreateClientRequest) (domain.Client, error) {
	firstName := strings.TrimSpace(req.FirstName)
	lastName := strings.TrimSpace(req.LastName)
	email := strings.TrimSpace(req.Email)
	if firstName == "" || lastName == "" {
		return domain.Client{}, fmt.Errorf("%w: first_name and last_name are required", ErrInvalidRequest)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return domain.Client{}, fmt.Errorf("%w: email is invalid", ErrInvalidRequest)
	}
	if req.Credential == "" {
		return domain.Client{}, fmt.Errorf("%w: password is required", ErrInvalidRequest)
	}
	if err := validateSecretLength(req.Credential); err != nil {
		return domain.Client{}, err
	}

	hash, err := HashSecret(req.Credential)
	if err != nil {
		return domain.Client{}, err
	}

	client := domain.Client{
		FirstName:      firstName,
		LastName:       lastName,
		Email:          email,
		CredentialHash: hash,
		CreatedAt:      p.clock().UTC(),
	}
	client.ID, err = p.create(req.ID, clientIDDigits, func(id string) error {
		client.ID = id
		return p.repo.CreateClient(ctx, client)
	})
	if err != nil {
		return domain.Client{}, err
	}

	p.logger.Info("client created", zap.String("client_id", client.ID))
	return p.repo.FindClient(ctx, client.ID)
}

func (p *Provisioner) CreateProduct(ctx context.Context, req domain.CreateProductRequest) (domain.Product, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Product{}, fmt.Errorf("%w: product_name is required", ErrInvalidRequest)
	}
	if req.OverdraftLimit.IsNegative() || !req.OverdraftLimit.Equal(req.OverdraftLimit.Round(2)) {
		return domain.Product{}, fmt.Errorf("%w: overdraft_limit must be a non-negative amount", ErrInvalidRequest)
	}

	product := domain.Product{Name: name, OverdraftLimit: req.OverdraftLimit, CreatedAt: p.clock().UTC()}
	var err error
	product.ID, err = p.create(req.ID, productIDDigits, func(id string) error {
		product.ID = id
		return p.repo.CreateProduct(ctx, product)
	})
	if err != nil {
		return domain.Product{}, err
	}

	p.logger.Info("product created", zap.String("product_id", product.ID), zap.String("product_name", name))
	return product, nil
}

func (p *Provisioner) CreateBranch(ctx context.Context, req domain.CreateBranchRequest) (domain.Branch, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Branch{}, fmt.Errorf("%w: branch_name is required", ErrInvalidRequest)
	}

	branch := domain.Branch{Name: name, Address: strings.TrimSpace(req.Address), CreatedAt: p.clock().UTC()}
	var err error
	branch.ID, err = p.create(req.ID, branchIDDigits, func(id string) error {
		branch.ID = id
		return p.repo.CreateBranch(ctx, branch)
	})
	if err != nil {
		return domain.Branch{}, err
	}

	p.logger.Info("branch created", zap.String("branch_id", branch.ID))
	return branch, nil
}

// CreateAccount opens an account for an existing client on an existing product.
func (p *Provisioner) CreateAccount(ctx context.Context, req domain.CreateAccountRequest) (domain.Account, error) {
	if strings.TrimSpace(req.ClientID) == "" || strings.TrimSpace(req.ProductID) == "" {
		return domain.Account{}, fmt.Errorf("%w: client_id and product_id are required", ErrInvalidRequest)
	}

	account := domain.Account{ClientID: strings.TrimSpace(req.ClientID), ProductID: strings.TrimSpace(req.ProductID)}
	id, err := p.create(req.ID, accountIDDigits, func(id string) error {
		account.ID = id
		return p.repo.CreateAccount(ctx, account)
	})
	if err != nil {
		return domain.Account{}, err
	}

	p.logger.Info("account created",
		zap.String("account_id", id),
		zap.String("client_id", account.ClientID),
		zap.String("product_id", account.ProductID),
	)
	return p.repo.GetAccount(ctx, id)
}

func (p *Provisioner) CreateTeller(ctx context.Context, req domain.CreateTellerRequest) (domain.Teller, error) {
	firstName := strings.TrimSpace(req.FirstName)
	lastName := strings.TrimSpace(req.LastName)
	if firstName == "" || lastName == "" {
		return domain.Teller{}, fmt.Errorf("%w: first_name and last_name are required", ErrInvalidRequest)
	}
	if len(req.Password) < 8 {
		return domain.Teller{}, fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidRequest)
	}
	if err := validateSecretLength(req.Password); err != nil {
		return domain.Teller{}, err
	}

	hash, err := HashSecret(req.Password)
	if err != nil {
		return domain.Teller{}, err
	}

	teller := domain.Teller{
		FirstName:    firstName,
		LastName:     lastName,
		BranchID:     strings.TrimSpace(req.BranchID),
		PasswordHash: hash,
		CreatedAt:    p.clock().UTC(),
	}
	teller.EmployeeID, err = p.create(req.EmployeeID, employeeIDDigits, func(id string) error {
		teller.EmployeeID = id
		return p.repo.CreateTeller(ctx, teller)
	})
	if err != nil {
		return domain.Teller{}, err
	}

	p.logger.Info("teller created", zap.String("employee_id", teller.EmployeeID), zap.String("branch_id", teller.BranchID))
	return p.repo.FindTeller(ctx, teller.EmployeeID)
}
