package ledger

import "fmt"

// EntityType is the closed set of record types that carry encrypted fields.
// Adding a type here forces every switch below to be extended.
type EntityType string

const (
	EntityAccount           EntityType = "account"
	EntityTransaction       EntityType = "transaction"
	EntityRecurringItem     EntityType = "recurring_item"
	EntitySavingsGoal       EntityType = "savings_goal"
	EntityManualAsset       EntityType = "manual_asset"
	EntityManualLiability   EntityType = "manual_liability"
	EntityInvestmentAccount EntityType = "investment_account"
)

// AllEntityTypes lists every encryptable type. Transactions are included for
// field purposes even though they carry no DEK of their own; they encrypt
// under their parent account's key.
func AllEntityTypes() []EntityType {
	return []EntityType{
		EntityAccount,
		EntityTransaction,
		EntityRecurringItem,
		EntitySavingsGoal,
		EntityManualAsset,
		EntityManualLiability,
		EntityInvestmentAccount,
	}
}

// SensitiveFields returns the ordered field names that get encrypted for a
// type. Money amounts and free text only; ids, dates, flags and foreign keys
// stay plaintext so the store can query and sort on them.
func SensitiveFields(t EntityType) []string {
	switch t {
	case EntityAccount:
		return []string{"name", "notes", "balance"}
	case EntityTransaction:
		return []string{"payee", "notes", "amount"}
	case EntityRecurringItem:
		return []string{"name", "notes", "amount"}
	case EntitySavingsGoal:
		return []string{"name", "notes", "target_amount", "current_amount"}
	case EntityManualAsset:
		return []string{"name", "notes", "value"}
	case EntityManualLiability:
		return []string{"name", "notes", "value"}
	case EntityInvestmentAccount:
		return []string{"name", "notes", "balance"}
	default:
		panic(fmt.Sprintf("ledger: unknown entity type %q", t))
	}
}

// IsNumericField reports whether a sensitive field holds an integer amount
// in cents. Decryption coerces garbage in these fields to zero so downstream
// arithmetic stays well-defined.
func IsNumericField(t EntityType, field string) bool {
	switch t {
	case EntityAccount, EntityInvestmentAccount:
		return field == "balance"
	case EntityTransaction, EntityRecurringItem:
		return field == "amount"
	case EntitySavingsGoal:
		return field == "target_amount" || field == "current_amount"
	case EntityManualAsset, EntityManualLiability:
		return field == "value"
	default:
		panic(fmt.Sprintf("ledger: unknown entity type %q", t))
	}
}

// ValidType reports whether t is a member of the closed set.
func ValidType(t EntityType) bool {
	switch t {
	case EntityAccount, EntityTransaction, EntityRecurringItem, EntitySavingsGoal,
		EntityManualAsset, EntityManualLiability, EntityInvestmentAccount:
		return true
	}
	return false
}
