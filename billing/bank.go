package billing

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// BankAccountInput carries the editable fields of a bank account.
// IsDefault is a pointer on update so "not supplied" differs from false.
type BankAccountInput struct {
	BankName      string
	AccountName   string
	AccountNumber string
	Notes         string
	IsDefault     *bool
}

// BankAccountService maintains an organization's payment instructions.
// Every mutation that can set a default runs unset-others-then-set inside
// one transaction, so at most one default exists at any commit point.
type BankAccountService struct {
	store TxStore
	now   func() time.Time
}

func NewBankAccountService(store TxStore, now func() time.Time) *BankAccountService {
	if now == nil {
		now = time.Now
	}
	return &BankAccountService{store: store, now: now}
}

// Add creates an account. Setting IsDefault clears the previous default.
func (s *BankAccountService) Add(ctx context.Context, tenantID string, in BankAccountInput) (*BankAccount, error) {
	if strings.TrimSpace(in.BankName) == "" {
		return nil, invalid("bank_name", "required")
	}
	if strings.TrimSpace(in.AccountName) == "" {
		return nil, invalid("account_name", "required")
	}
	if strings.TrimSpace(in.AccountNumber) == "" {
		return nil, invalid("account_number", "required")
	}

	now := s.now().UTC()
	acct := BankAccount{
		ID:            uuid.NewString(),
		TenantID:      tenantID,
		BankName:      strings.TrimSpace(in.BankName),
		AccountName:   strings.TrimSpace(in.AccountName),
		AccountNumber: strings.TrimSpace(in.AccountNumber),
		Notes:         strings.TrimSpace(in.Notes),
		IsDefault:     in.IsDefault != nil && *in.IsDefault,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := s.store.WithTx(ctx, func(tx Tx) error {
		if _, err := tx.GetOrganization(ctx, tenantID); err != nil {
			return err
		}
		if acct.IsDefault {
			if err := tx.ClearDefaultBankAccounts(ctx, tenantID, ""); err != nil {
				return err
			}
		}
		return tx.InsertBankAccount(ctx, acct)
	})
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

// Update changes the supplied fields. IsDefault=true clears the others.
func (s *BankAccountService) Update(ctx context.Context, tenantID, accountID string, in BankAccountInput) (*BankAccount, error) {
	var out *BankAccount
	err := s.store.WithTx(ctx, func(tx Tx) error {
		acct, err := tx.GetBankAccount(ctx, tenantID, accountID)
		if err != nil {
			return err
		}
		if v := strings.TrimSpace(in.BankName); v != "" {
			acct.BankName = v
		}
		if v := strings.TrimSpace(in.AccountName); v != "" {
			acct.AccountName = v
		}
		if v := strings.TrimSpace(in.AccountNumber); v != "" {
			acct.AccountNumber = v
		}
		if in.Notes != "" {
			acct.Notes = strings.TrimSpace(in.Notes)
		}
		if in.IsDefault != nil {
			if *in.IsDefault {
				if err := tx.ClearDefaultBankAccounts(ctx, tenantID, acct.ID); err != nil {
					return err
				}
			}
			acct.IsDefault = *in.IsDefault
		}
		acct.UpdatedAt = s.now().UTC()
		if err := tx.UpdateBankAccount(ctx, *acct); err != nil {
			return err
		}
		out = acct
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Remove deletes an account. Removing the default leaves no default.
func (s *BankAccountService) Remove(ctx context.Context, tenantID, accountID string) error {
	return s.store.DeleteBankAccount(ctx, tenantID, accountID)
}

// List returns the tenant's accounts.
func (s *BankAccountService) List(ctx context.Context, tenantID string) ([]BankAccount, error) {
	return s.store.ListBankAccounts(ctx, tenantID)
}
