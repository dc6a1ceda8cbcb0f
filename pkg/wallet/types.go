package wallet

import (
	"encoding/json"
	"fmt"
	"strings"
)

// AmountCents is a non-negative integer amount in cents.
type AmountCents int64

// PositiveAmountCents is a strictly positive integer amount in cents.
type PositiveAmountCents int64

// SignedAmountCents is a computed amount that may be negative.
type SignedAmountCents int64

// UserID identifies an account owner.
type UserID struct {
	value string
}

// StoreID identifies a seller's store.
type StoreID struct {
	value string
}

// AccountID identifies a wallet account.
type AccountID struct {
	value string
}

// EntryID identifies a ledger entry.
type EntryID struct {
	value string
}

// Reference scopes duplicate detection of ledger entries within an account.
type Reference struct {
	value string
}

// MetadataJSON stores arbitrary request metadata.
type MetadataJSON struct {
	value string
}

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return UserID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// NewStoreID validates and normalizes a store id.
func NewStoreID(raw string) (StoreID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return StoreID{}, fmt.Errorf("%w: empty value", ErrInvalidStoreID)
	}
	return StoreID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id StoreID) String() string {
	return id.value
}

// NewAccountID validates and normalizes an account id.
func NewAccountID(raw string) (AccountID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return AccountID{}, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	return AccountID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id AccountID) String() string {
	return id.value
}

// NewEntryID validates and normalizes an entry id.
func NewEntryID(raw string) (EntryID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return EntryID{}, fmt.Errorf("%w: empty value", ErrInvalidEntryID)
	}
	return EntryID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id EntryID) String() string {
	return id.value
}

// NewReference validates and normalizes an entry reference.
func NewReference(raw string) (Reference, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Reference{}, fmt.Errorf("%w: empty value", ErrInvalidReference)
	}
	return Reference{value: trimmed}, nil
}

// String returns the normalized reference.
func (reference Reference) String() string {
	return reference.value
}

// NewMetadataJSON validates metadata string (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// MarshalMetadata encodes a value as MetadataJSON.
func MarshalMetadata(value any) (MetadataJSON, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return MetadataJSON{}, fmt.Errorf("%w: %v", ErrInvalidMetadataJSON, err)
	}
	return NewMetadataJSON(string(raw))
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	if metadata.value == "" {
		return "{}"
	}
	return metadata.value
}

// NewAmountCents validates an amount and ensures it is not negative.
func NewAmountCents(raw int64) (AmountCents, error) {
	if raw < 0 {
		return 0, fmt.Errorf("%w: must be zero or greater", ErrInvalidAmountCents)
	}
	return AmountCents(raw), nil
}

// Int64 returns the raw cents value.
func (amount AmountCents) Int64() int64 {
	return int64(amount)
}

// NewPositiveAmountCents validates an amount and ensures it is strictly positive.
func NewPositiveAmountCents(raw int64) (PositiveAmountCents, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmountCents)
	}
	return PositiveAmountCents(raw), nil
}

// Int64 returns the raw cents value.
func (amount PositiveAmountCents) Int64() int64 {
	return int64(amount)
}

// ToAmountCents widens the amount to AmountCents.
func (amount PositiveAmountCents) ToAmountCents() AmountCents {
	return AmountCents(amount)
}

// ToSignedAmountCents widens the amount to SignedAmountCents.
func (amount PositiveAmountCents) ToSignedAmountCents() SignedAmountCents {
	return SignedAmountCents(amount)
}

// Int64 returns the raw cents value.
func (amount SignedAmountCents) Int64() int64 {
	return int64(amount)
}

// EntryKind enumerates ledger entry kinds.
type EntryKind string

const (
	EntryDeposit    EntryKind = "deposit"
	EntryWithdrawal EntryKind = "withdrawal"
	EntryEarning    EntryKind = "earning"
	EntryPayment    EntryKind = "payment"
	EntryRefund     EntryKind = "refund"
)

// ParseEntryKind validates a raw entry kind.
func ParseEntryKind(raw string) (EntryKind, error) {
	kind := EntryKind(strings.TrimSpace(raw))
	switch kind {
	case EntryDeposit, EntryWithdrawal, EntryEarning, EntryPayment, EntryRefund:
		return kind, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidEntryKind, raw)
	}
}

// String returns the kind name.
func (kind EntryKind) String() string {
	return string(kind)
}

// IsCredit reports whether the kind increases the balance.
func (kind EntryKind) IsCredit() bool {
	switch kind {
	case EntryDeposit, EntryEarning, EntryRefund:
		return true
	default:
		return false
	}
}

// Signed applies the kind's sign convention to a stored amount.
func (kind EntryKind) Signed(amount PositiveAmountCents) SignedAmountCents {
	if kind.IsCredit() {
		return amount.ToSignedAmountCents()
	}
	return -amount.ToSignedAmountCents()
}

// EntryStatus enumerates ledger entry lifecycle states.
type EntryStatus string

const (
	EntryStatusPending    EntryStatus = "pending"
	EntryStatusProcessing EntryStatus = "processing"
	EntryStatusSuccess    EntryStatus = "success"
	EntryStatusFailed     EntryStatus = "failed"
	EntryStatusReversed   EntryStatus = "reversed"
)

// ParseEntryStatus validates a raw entry status.
func ParseEntryStatus(raw string) (EntryStatus, error) {
	status := EntryStatus(strings.TrimSpace(raw))
	switch status {
	case EntryStatusPending, EntryStatusProcessing, EntryStatusSuccess, EntryStatusFailed, EntryStatusReversed:
		return status, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidEntryStatus, raw)
	}
}

// String returns the status name.
func (status EntryStatus) String() string {
	return string(status)
}

// IsOpen reports whether the entry may still be settled.
func (status EntryStatus) IsOpen() bool {
	return status == EntryStatusPending || status == EntryStatusProcessing
}

// Account is a wallet account together with its concurrency version.
type Account struct {
	accountID AccountID
	userID    UserID
	version   int64
}

// NewAccount validates an account snapshot.
func NewAccount(accountID AccountID, userID UserID, version int64) (Account, error) {
	if accountID.String() == "" {
		return Account{}, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	if userID.String() == "" {
		return Account{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	if version < 0 {
		return Account{}, fmt.Errorf("%w: negative version", ErrInvalidAccountVersion)
	}
	return Account{accountID: accountID, userID: userID, version: version}, nil
}

// AccountID returns the account id.
func (account Account) AccountID() AccountID {
	return account.accountID
}

// UserID returns the owner.
func (account Account) UserID() UserID {
	return account.userID
}

// Version returns the version observed when the snapshot was read.
func (account Account) Version() int64 {
	return account.version
}

// EntryInput represents a new ledger entry before persistence.
type EntryInput struct {
	entryID        EntryID
	accountID      AccountID
	kind           EntryKind
	amountCents    PositiveAmountCents
	status         EntryStatus
	reference      Reference
	metadata       MetadataJSON
	createdUnixUTC int64
}

// NewEntryInput validates ledger entry input.
func NewEntryInput(entryID EntryID, accountID AccountID, kind EntryKind, amount PositiveAmountCents, status EntryStatus, reference Reference, metadata MetadataJSON, createdUnixUTC int64) (EntryInput, error) {
	if entryID.String() == "" {
		return EntryInput{}, fmt.Errorf("%w: empty value", ErrInvalidEntryID)
	}
	if accountID.String() == "" {
		return EntryInput{}, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	if _, err := ParseEntryKind(kind.String()); err != nil {
		return EntryInput{}, err
	}
	if amount <= 0 {
		return EntryInput{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmountCents)
	}
	if _, err := ParseEntryStatus(status.String()); err != nil {
		return EntryInput{}, err
	}
	if reference.String() == "" {
		return EntryInput{}, fmt.Errorf("%w: empty value", ErrInvalidReference)
	}
	return EntryInput{
		entryID:        entryID,
		accountID:      accountID,
		kind:           kind,
		amountCents:    amount,
		status:         status,
		reference:      reference,
		metadata:       metadata,
		createdUnixUTC: createdUnixUTC,
	}, nil
}

// EntryID returns the entry id.
func (input EntryInput) EntryID() EntryID { return input.entryID }

// AccountID returns the account id.
func (input EntryInput) AccountID() AccountID { return input.accountID }

// Kind returns the entry kind.
func (input EntryInput) Kind() EntryKind { return input.kind }

// AmountCents returns the stored (always positive) amount.
func (input EntryInput) AmountCents() PositiveAmountCents { return input.amountCents }

// Status returns the initial status.
func (input EntryInput) Status() EntryStatus { return input.status }

// Reference returns the duplicate-detection reference.
func (input EntryInput) Reference() Reference { return input.reference }

// MetadataJSON returns the metadata blob.
func (input EntryInput) MetadataJSON() MetadataJSON { return input.metadata }

// CreatedUnixUTC returns the creation time.
func (input EntryInput) CreatedUnixUTC() int64 { return input.createdUnixUTC }

// Entry is a single immutable line in the ledger.
type Entry struct {
	entryID        EntryID
	accountID      AccountID
	kind           EntryKind
	amountCents    PositiveAmountCents
	status         EntryStatus
	reference      Reference
	metadata       MetadataJSON
	createdUnixUTC int64
}

// NewEntry validates a persisted ledger entry.
func NewEntry(entryID EntryID, accountID AccountID, kind EntryKind, amount PositiveAmountCents, status EntryStatus, reference Reference, metadata MetadataJSON, createdUnixUTC int64) (Entry, error) {
	input, err := NewEntryInput(entryID, accountID, kind, amount, status, reference, metadata, createdUnixUTC)
	if err != nil {
		return Entry{}, err
	}
	return input.ToEntry(), nil
}

// ToEntry converts a validated input into its persisted form.
func (input EntryInput) ToEntry() Entry {
	return Entry{
		entryID:        input.entryID,
		accountID:      input.accountID,
		kind:           input.kind,
		amountCents:    input.amountCents,
		status:         input.status,
		reference:      input.reference,
		metadata:       input.metadata,
		createdUnixUTC: input.createdUnixUTC,
	}
}

// EntryID returns the entry id.
func (entry Entry) EntryID() EntryID { return entry.entryID }

// AccountID returns the account id.
func (entry Entry) AccountID() AccountID { return entry.accountID }

// Kind returns the entry kind.
func (entry Entry) Kind() EntryKind { return entry.kind }

// AmountCents returns the stored (always positive) amount.
func (entry Entry) AmountCents() PositiveAmountCents { return entry.amountCents }

// Status returns the entry status.
func (entry Entry) Status() EntryStatus { return entry.status }

// Reference returns the duplicate-detection reference.
func (entry Entry) Reference() Reference { return entry.reference }

// MetadataJSON returns the metadata blob.
func (entry Entry) MetadataJSON() MetadataJSON { return entry.metadata }

// CreatedUnixUTC returns the creation time.
func (entry Entry) CreatedUnixUTC() int64 { return entry.createdUnixUTC }

// SignedAmount returns the amount with the kind's sign applied.
func (entry Entry) SignedAmount() SignedAmountCents {
	return entry.kind.Signed(entry.amountCents)
}

// WithStatus returns a copy of the entry carrying a new status.
func (entry Entry) WithStatus(status EntryStatus) Entry {
	entry.status = status
	return entry
}

// Balance view for an account.
type Balance struct {
	AccountID      AccountID
	AvailableCents SignedAmountCents
}
