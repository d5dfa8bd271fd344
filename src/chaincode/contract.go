package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/hyperledger/fabric-contract-api-go/v2/contractapi"
	"golang.org/x/crypto/sha3"

	"github.com/sealtrace/sealtrace/src/ledger"
)

// stateKey holds the whole ledger as one snapshot document.
const stateKey = "STATE"

var (
	ErrNotInitialized     = errors.New("ledger not initialized")
	ErrAlreadyInitialized = errors.New("ledger already initialized")
)

// SupplyChainContract hosts the ledger engine on Fabric. Every transaction
// restores the engine from world state, applies one operation and writes
// the snapshot back, so endorsement gives atomic ordered application.
type SupplyChainContract struct {
	contractapi.Contract
}

// callerAddress maps a Fabric client identity to a ledger address: the last
// 20 bytes of the Keccak-256 of the identity ID.
func callerAddress(id string) ledger.Address {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(id))
	sum := h.Sum(nil)
	return ledger.Address("0x" + hex.EncodeToString(sum[12:]))
}

func invoker(ctx contractapi.TransactionContextInterface) (ledger.Address, error) {
	id, err := ctx.GetClientIdentity().GetID()
	if err != nil {
		return "", fmt.Errorf("failed to read client identity: %w", err)
	}
	return callerAddress(id), nil
}

func txClock(ctx contractapi.TransactionContextInterface) (func() time.Time, error) {
	ts, err := ctx.GetStub().GetTxTimestamp()
	if err != nil {
		return nil, fmt.Errorf("failed to read transaction timestamp: %w", err)
	}
	at := ts.AsTime().UTC()
	return func() time.Time { return at }, nil
}

func loadState(ctx contractapi.TransactionContextInterface) (*ledger.State, error) {
	data, err := ctx.GetStub().GetState(stateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read world state: %w", err)
	}
	if data == nil {
		return nil, nil
	}
	var st ledger.State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to decode ledger state: %w", err)
	}
	return &st, nil
}

func saveState(ctx contractapi.TransactionContextInterface, st *ledger.State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return ctx.GetStub().PutState(stateKey, data)
}

// openEngine restores the engine with the transaction timestamp as its clock.
// Emitted events are appended to events.
func openEngine(ctx contractapi.TransactionContextInterface, events *[]ledger.Event) (*ledger.Engine, error) {
	st, err := loadState(ctx)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, ErrNotInitialized
	}
	clock, err := txClock(ctx)
	if err != nil {
		return nil, err
	}
	opts := []ledger.Option{ledger.WithClock(clock), ledger.WithEventRetention(1)}
	if events != nil {
		opts = append(opts, ledger.WithEventSink(ledger.EventSinkFunc(func(ev ledger.Event) {
			*events = append(*events, ev)
		})))
	}
	return ledger.Restore(st, opts...)
}

// mutate runs one state-changing operation as the invoking identity, then
// persists the new state and sets the operation's event on the transaction.
func mutate[T any](ctx contractapi.TransactionContextInterface, op func(e *ledger.Engine, caller ledger.Address) (T, error)) (T, error) {
	var zero T
	caller, err := invoker(ctx)
	if err != nil {
		return zero, err
	}
	var events []ledger.Event
	e, err := openEngine(ctx, &events)
	if err != nil {
		return zero, err
	}

	out, err := op(e, caller)
	if err != nil {
		return zero, err
	}
	if err := saveState(ctx, e.Snapshot()); err != nil {
		return zero, fmt.Errorf("failed to write world state: %w", err)
	}
	// Fabric keeps one event per transaction.
	if len(events) > 0 {
		ev := events[len(events)-1]
		payload, err := json.Marshal(ev)
		if err != nil {
			return zero, err
		}
		if err := ctx.GetStub().SetEvent(string(ev.Kind), payload); err != nil {
			return zero, fmt.Errorf("failed to set event: %w", err)
		}
	}
	return out, nil
}

func exec(ctx contractapi.TransactionContextInterface, op func(e *ledger.Engine, caller ledger.Address) error) error {
	_, err := mutate(ctx, func(e *ledger.Engine, caller ledger.Address) (struct{}, error) {
		return struct{}{}, op(e, caller)
	})
	return err
}

// query runs a read against the current state and returns its JSON.
func query(ctx contractapi.TransactionContextInterface, read func(e *ledger.Engine) (interface{}, error)) (string, error) {
	e, err := openEngine(ctx, nil)
	if err != nil {
		return "", err
	}
	v, err := read(e)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func parseDigests(values ...string) ([]ledger.Digest, error) {
	out := make([]ledger.Digest, len(values))
	for i, v := range values {
		if v == "" {
			continue
		}
		d, err := ledger.ParseDigest(v)
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}

// parseNonce treats an empty string as "no replay guard".
func parseNonce(s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	return ledger.ParseUint256(s)
}

// InitLedger creates an empty ledger administered by the invoking identity.
// scheme may be empty for the default commitment scheme.
func (c *SupplyChainContract) InitLedger(ctx contractapi.TransactionContextInterface, scheme string) error {
	st, err := loadState(ctx)
	if err != nil {
		return err
	}
	if st != nil {
		return ErrAlreadyInitialized
	}
	admin, err := invoker(ctx)
	if err != nil {
		return err
	}
	opts := []ledger.Option{}
	if scheme != "" {
		s, err := ledger.SchemeByName(scheme)
		if err != nil {
			return err
		}
		opts = append(opts, ledger.WithScheme(s))
	}
	e, err := ledger.NewEngine(admin, opts...)
	if err != nil {
		return err
	}
	return saveState(ctx, e.Snapshot())
}

// WhoAmI returns the ledger address of the invoking identity.
func (c *SupplyChainContract) WhoAmI(ctx contractapi.TransactionContextInterface) (string, error) {
	addr, err := invoker(ctx)
	return string(addr), err
}

func (c *SupplyChainContract) RegisterParticipant(ctx contractapi.TransactionContextInterface, participant, role, ratingCommitment string) error {
	r, err := ledger.ParseRole(role)
	if err != nil {
		return err
	}
	d, err := parseDigests(ratingCommitment)
	if err != nil {
		return err
	}
	return exec(ctx, func(e *ledger.Engine, caller ledger.Address) error {
		return e.Register(caller, ledger.Address(participant), r, d[0])
	})
}

func (c *SupplyChainContract) CreateProductBatch(ctx contractapi.TransactionContextInterface, hashedQuantity, hashedQualityScore, hashedPrice, publicMetadata, nonce string) (uint64, error) {
	d, err := parseDigests(hashedQuantity, hashedQualityScore, hashedPrice)
	if err != nil {
		return 0, err
	}
	n, err := parseNonce(nonce)
	if err != nil {
		return 0, err
	}
	return mutate(ctx, func(e *ledger.Engine, caller ledger.Address) (uint64, error) {
		return e.CreateProductBatch(caller, ledger.BatchCommitments{
			HashedQuantity:     d[0],
			HashedQualityScore: d[1],
			HashedPrice:        d[2],
		}, publicMetadata, n)
	})
}

func (c *SupplyChainContract) AddCheckpoint(ctx contractapi.TransactionContextInterface, batchID uint64, hashedTimestamp, hashedLocation, publicNote, newStatus, nonce string) error {
	d, err := parseDigests(hashedTimestamp, hashedLocation)
	if err != nil {
		return err
	}
	status, err := ledger.ParseStatus(newStatus)
	if err != nil {
		return err
	}
	n, err := parseNonce(nonce)
	if err != nil {
		return err
	}
	return exec(ctx, func(e *ledger.Engine, caller ledger.Address) error {
		return e.AddCheckpoint(caller, batchID, ledger.CheckpointInput{
			HashedTimestamp: d[0],
			HashedLocation:  d[1],
			PublicNote:      publicNote,
			NewStatus:       status,
		}, n)
	})
}

func (c *SupplyChainContract) GrantAccess(ctx contractapi.TransactionContextInterface, batchID uint64, participant string) error {
	return exec(ctx, func(e *ledger.Engine, caller ledger.Address) error {
		return e.GrantAccess(caller, ledger.Address(participant), batchID)
	})
}

func (c *SupplyChainContract) VerifyQuality(ctx contractapi.TransactionContextInterface, batchID uint64, newQualityScore, nonce string) error {
	d, err := parseDigests(newQualityScore)
	if err != nil {
		return err
	}
	n, err := parseNonce(nonce)
	if err != nil {
		return err
	}
	return exec(ctx, func(e *ledger.Engine, caller ledger.Address) error {
		return e.VerifyQuality(caller, batchID, d[0], n)
	})
}

func (c *SupplyChainContract) CommitData(ctx contractapi.TransactionContextInterface, batchID uint64, commitmentHash string) error {
	d, err := parseDigests(commitmentHash)
	if err != nil {
		return err
	}
	return exec(ctx, func(e *ledger.Engine, caller ledger.Address) error {
		return e.CommitData(caller, batchID, d[0])
	})
}

func (c *SupplyChainContract) RevealData(ctx contractapi.TransactionContextInterface, batchID uint64, data, nonce string) error {
	value, err := ledger.ParseUint256(data)
	if err != nil {
		return err
	}
	n, err := ledger.ParseUint256(nonce)
	if err != nil {
		return err
	}
	return exec(ctx, func(e *ledger.Engine, caller ledger.Address) error {
		return e.RevealData(caller, batchID, value, n)
	})
}

// VerifyDataIntegrity is a pure check; it does not touch state.
func (c *SupplyChainContract) VerifyDataIntegrity(ctx contractapi.TransactionContextInterface, batchID uint64, data, nonce, expectedHash string) (bool, error) {
	value, err := ledger.ParseUint256(data)
	if err != nil {
		return false, err
	}
	n, err := ledger.ParseUint256(nonce)
	if err != nil {
		return false, err
	}
	d, err := ledger.ParseDigest(expectedHash)
	if err != nil {
		return false, err
	}
	e, err := openEngine(ctx, nil)
	if err != nil {
		return false, err
	}
	return e.VerifyDataIntegrity(batchID, value, n, d), nil
}

func (c *SupplyChainContract) AddComponent(ctx contractapi.TransactionContextInterface, batchID uint64, componentCode, percentage, description, nonce string) (int, error) {
	d, err := parseDigests(componentCode, percentage)
	if err != nil {
		return 0, err
	}
	n, err := parseNonce(nonce)
	if err != nil {
		return 0, err
	}
	return mutate(ctx, func(e *ledger.Engine, caller ledger.Address) (int, error) {
		return e.AddComponent(caller, batchID, ledger.ComponentInput{
			ComponentCode: d[0],
			Percentage:    d[1],
			Description:   description,
		}, n)
	})
}

func (c *SupplyChainContract) UpdateQualityMetrics(ctx contractapi.TransactionContextInterface, batchID uint64, temperature, humidity, shelfLife, testResults, nonce string) error {
	d, err := parseDigests(temperature, humidity, shelfLife, testResults)
	if err != nil {
		return err
	}
	n, err := parseNonce(nonce)
	if err != nil {
		return err
	}
	return exec(ctx, func(e *ledger.Engine, caller ledger.Address) error {
		return e.UpdateQualityMetrics(caller, batchID, ledger.QualityMetricsInput{
			Temperature: d[0],
			Humidity:    d[1],
			ShelfLife:   d[2],
			TestResults: d[3],
		}, n)
	})
}

func (c *SupplyChainContract) AddCertification(ctx contractapi.TransactionContextInterface, batchID uint64, certType, certNumber, expiryDate, nonce string) error {
	d, err := parseDigests(certNumber, expiryDate)
	if err != nil {
		return err
	}
	n, err := parseNonce(nonce)
	if err != nil {
		return err
	}
	return exec(ctx, func(e *ledger.Engine, caller ledger.Address) error {
		return e.AddCertification(caller, batchID, ledger.CertificationInput{
			CertType:   certType,
			CertNumber: d[0],
			ExpiryDate: d[1],
		}, n)
	})
}

func (c *SupplyChainContract) SubmitFeedback(ctx contractapi.TransactionContextInterface, batchID uint64, rating, nonce string) error {
	d, err := parseDigests(rating)
	if err != nil {
		return err
	}
	n, err := parseNonce(nonce)
	if err != nil {
		return err
	}
	return exec(ctx, func(e *ledger.Engine, caller ledger.Address) error {
		return e.SubmitFeedback(caller, batchID, d[0], n)
	})
}

func (c *SupplyChainContract) RegisterSupplier(ctx contractapi.TransactionContextInterface, supplier, deliveryScore, qualityScore, complianceScore string) error {
	d, err := parseDigests(deliveryScore, qualityScore, complianceScore)
	if err != nil {
		return err
	}
	return exec(ctx, func(e *ledger.Engine, caller ledger.Address) error {
		return e.RegisterSupplier(caller, ledger.Address(supplier), ledger.SupplierScores{
			DeliveryScore:   d[0],
			QualityScore:    d[1],
			ComplianceScore: d[2],
		})
	})
}

func (c *SupplyChainContract) CreateAgreement(ctx contractapi.TransactionContextInterface, supplier, minQuantity, maxQuantity, price, discount string, validDays int) error {
	d, err := parseDigests(minQuantity, maxQuantity, price, discount)
	if err != nil {
		return err
	}
	return exec(ctx, func(e *ledger.Engine, caller ledger.Address) error {
		return e.CreateAgreement(caller, ledger.Address(supplier), ledger.AgreementTerms{
			MinQuantity: d[0],
			MaxQuantity: d[1],
			Price:       d[2],
			Discount:    d[3],
		}, validDays)
	})
}

// Queries return JSON documents.

func (c *SupplyChainContract) GetParticipant(ctx contractapi.TransactionContextInterface, address string) (string, error) {
	return query(ctx, func(e *ledger.Engine) (interface{}, error) {
		addr, err := ledger.ParseAddress(address)
		if err != nil {
			return nil, err
		}
		p := e.GetParticipant(addr)
		p.Address = addr
		return p, nil
	})
}

func (c *SupplyChainContract) GetBatchInfo(ctx contractapi.TransactionContextInterface, batchID uint64) (string, error) {
	return query(ctx, func(e *ledger.Engine) (interface{}, error) {
		return e.GetBatchInfo(batchID)
	})
}

func (c *SupplyChainContract) GetProductBatch(ctx contractapi.TransactionContextInterface, batchID uint64) (string, error) {
	return query(ctx, func(e *ledger.Engine) (interface{}, error) {
		return e.GetProductBatch(batchID)
	})
}

func (c *SupplyChainContract) GetCheckpoint(ctx contractapi.TransactionContextInterface, batchID uint64, index int) (string, error) {
	return query(ctx, func(e *ledger.Engine) (interface{}, error) {
		return e.GetCheckpoint(batchID, index)
	})
}

func (c *SupplyChainContract) GetCheckpointCount(ctx contractapi.TransactionContextInterface, batchID uint64) (int, error) {
	e, err := openEngine(ctx, nil)
	if err != nil {
		return 0, err
	}
	return e.GetCheckpointCount(batchID)
}

func (c *SupplyChainContract) HasAccessToBatch(ctx contractapi.TransactionContextInterface, participant string, batchID uint64) (bool, error) {
	e, err := openEngine(ctx, nil)
	if err != nil {
		return false, err
	}
	return e.HasAccessToBatch(ledger.Address(participant), batchID), nil
}

func (c *SupplyChainContract) GetCommitment(ctx contractapi.TransactionContextInterface, batchID uint64, committer string) (string, error) {
	return query(ctx, func(e *ledger.Engine) (interface{}, error) {
		return e.GetCommitment(batchID, ledger.Address(committer))
	})
}

func (c *SupplyChainContract) GetDisclosures(ctx contractapi.TransactionContextInterface, batchID uint64) (string, error) {
	return query(ctx, func(e *ledger.Engine) (interface{}, error) {
		return e.GetDisclosures(batchID)
	})
}

func (c *SupplyChainContract) GetTraceability(ctx contractapi.TransactionContextInterface, batchID uint64) (string, error) {
	return query(ctx, func(e *ledger.Engine) (interface{}, error) {
		return e.GetTraceability(batchID)
	})
}

func (c *SupplyChainContract) VerifyQualityData(ctx contractapi.TransactionContextInterface, batchID uint64, temperature, humidity, shelfLife, nonce string) (string, error) {
	values := make([]*big.Int, 4)
	for i, s := range []string{temperature, humidity, shelfLife, nonce} {
		v, err := ledger.ParseUint256(s)
		if err != nil {
			return "", err
		}
		values[i] = v
	}
	return query(ctx, func(e *ledger.Engine) (interface{}, error) {
		return e.VerifyQualityData(batchID, values[0], values[1], values[2], values[3])
	})
}

func (c *SupplyChainContract) GetSupplier(ctx contractapi.TransactionContextInterface, supplier string) (string, error) {
	return query(ctx, func(e *ledger.Engine) (interface{}, error) {
		sp, ok := e.GetSupplier(ledger.Address(supplier))
		if !ok {
			return nil, fmt.Errorf("%w: supplier %s", ledger.ErrNotRegistered, supplier)
		}
		return sp, nil
	})
}

func (c *SupplyChainContract) GetAgreement(ctx contractapi.TransactionContextInterface, supplier, manufacturer string) (string, error) {
	return query(ctx, func(e *ledger.Engine) (interface{}, error) {
		a, ok := e.GetAgreement(ledger.Address(supplier), ledger.Address(manufacturer))
		if !ok {
			return nil, fmt.Errorf("%w: no agreement between %s and %s", ledger.ErrInvalidInput, supplier, manufacturer)
		}
		return a, nil
	})
}

func (c *SupplyChainContract) IsAgreementValid(ctx contractapi.TransactionContextInterface, supplier, manufacturer string) (bool, error) {
	e, err := openEngine(ctx, nil)
	if err != nil {
		return false, err
	}
	return e.IsAgreementValid(ledger.Address(supplier), ledger.Address(manufacturer)), nil
}
