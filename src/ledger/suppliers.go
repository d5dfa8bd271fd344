package ledger

import (
	"fmt"
	"time"
)

// MaxAgreementDays bounds the validity window of a supply agreement.
const MaxAgreementDays = 3650

// SupplierScores are the committed performance scores of a supplier.
type SupplierScores struct {
	DeliveryScore   Digest `json:"deliveryScore"`
	QualityScore    Digest `json:"qualityScore"`
	ComplianceScore Digest `json:"complianceScore"`
}

// SupplierProfile marks a Supplier participant as verified by the admin.
type SupplierProfile struct {
	Supplier   Address        `json:"supplier"`
	Scores     SupplierScores `json:"scores"`
	VerifiedAt time.Time      `json:"verifiedAt"`
}

// AgreementTerms are the committed terms of a supply agreement.
type AgreementTerms struct {
	MinQuantity Digest `json:"minQuantity"`
	MaxQuantity Digest `json:"maxQuantity"`
	Price       Digest `json:"price"`
	Discount    Digest `json:"discount"`
}

// Agreement binds a manufacturer to a verified supplier until ValidUntil.
type Agreement struct {
	Supplier     Address        `json:"supplier"`
	Manufacturer Address        `json:"manufacturer"`
	Terms        AgreementTerms `json:"terms"`
	CreatedAt    time.Time      `json:"createdAt"`
	ValidUntil   time.Time      `json:"validUntil"`
}

type agreementKey struct {
	supplier     Address
	manufacturer Address
}

// RegisterSupplier verifies an active Supplier participant and records its
// scores. Verifying again overwrites the scores.
func (e *Engine) RegisterSupplier(caller, supplier Address, scores SupplierScores) error {
	defer e.mutation()()
	caller = canon(caller)
	if caller != e.admin {
		return e.reject("registerSupplier", caller, 0, fmt.Errorf("%w: only the admin verifies suppliers", ErrNotAuthorized))
	}
	addr, err := ParseAddress(string(supplier))
	if err != nil {
		return e.reject("registerSupplier", caller, 0, err)
	}

	e.participantsMu.Lock()
	defer e.participantsMu.Unlock()

	p := e.participants[addr]
	if !p.IsActive {
		return e.reject("registerSupplier", caller, 0, fmt.Errorf("%w: %s", ErrNotRegistered, addr))
	}
	if p.Role != RoleSupplier {
		return e.reject("registerSupplier", caller, 0, fmt.Errorf("%w: %s is a %s", ErrInvalidRole, addr, p.Role))
	}

	profile := SupplierProfile{Supplier: addr, Scores: scores, VerifiedAt: e.now()}
	e.suppliers[addr] = profile

	e.emit(Event{
		Kind:        EventSupplierVerified,
		Participant: addr,
		At:          profile.VerifiedAt,
	})
	e.logger.Info("Verified supplier", "supplier", addr)
	return nil
}

// GetSupplier returns the supplier's profile and whether it is verified.
func (e *Engine) GetSupplier(addr Address) (SupplierProfile, bool) {
	addr = canon(addr)
	e.participantsMu.RLock()
	defer e.participantsMu.RUnlock()
	s, ok := e.suppliers[addr]
	return s, ok
}

// CreateAgreement records an agreement between the calling manufacturer and
// a verified supplier, valid for validDays from now. An existing agreement
// between the two is replaced.
func (e *Engine) CreateAgreement(caller, supplier Address, terms AgreementTerms, validDays int) error {
	defer e.mutation()()
	caller = canon(caller)
	if validDays < 1 || validDays > MaxAgreementDays {
		return e.reject("createAgreement", caller, 0,
			fmt.Errorf("%w: validDays must be between 1 and %d", ErrInvalidInput, MaxAgreementDays))
	}
	addr, err := ParseAddress(string(supplier))
	if err != nil {
		return e.reject("createAgreement", caller, 0, err)
	}

	e.participantsMu.Lock()
	defer e.participantsMu.Unlock()

	p := e.participants[caller]
	if !p.IsActive || p.Role != RoleManufacturer {
		return e.reject("createAgreement", caller, 0,
			fmt.Errorf("%w: %s is not an active Manufacturer", ErrNotRegistered, caller))
	}
	if _, ok := e.suppliers[addr]; !ok {
		return e.reject("createAgreement", caller, 0,
			fmt.Errorf("%w: supplier %s is not verified", ErrNotRegistered, addr))
	}

	now := e.now()
	a := Agreement{
		Supplier:     addr,
		Manufacturer: caller,
		Terms:        terms,
		CreatedAt:    now,
		ValidUntil:   now.Add(time.Duration(validDays) * 24 * time.Hour),
	}
	e.agreements[agreementKey{supplier: addr, manufacturer: caller}] = a

	e.emit(Event{
		Kind:         EventAgreementCreated,
		Participant:  caller,
		Counterparty: addr,
		At:           now,
	})
	e.logger.Info("Created supply agreement",
		"supplier", addr,
		"manufacturer", caller,
		"validUntil", a.ValidUntil)
	return nil
}

// GetAgreement returns the agreement between supplier and manufacturer.
func (e *Engine) GetAgreement(supplier, manufacturer Address) (Agreement, bool) {
	e.participantsMu.RLock()
	defer e.participantsMu.RUnlock()
	a, ok := e.agreements[agreementKey{supplier: canon(supplier), manufacturer: canon(manufacturer)}]
	return a, ok
}

// IsAgreementValid reports whether an agreement exists and has not expired.
func (e *Engine) IsAgreementValid(supplier, manufacturer Address) bool {
	a, ok := e.GetAgreement(supplier, manufacturer)
	return ok && e.now().Before(a.ValidUntil)
}
