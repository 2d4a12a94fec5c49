// Package pricing holds the static model price list and converts the
// human-readable costs into integer base units once, at load time.
package pricing

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/vitwit/paygate/types"
	"github.com/vitwit/paygate/utils"
)

// Provider names understood by the provider registry.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderGroq   = "groq"
	ProviderMock   = "mock"
)

// Entry is one priced model as configured.
type Entry struct {
	ID          string `json:"id" validate:"required"`
	Name        string `json:"name" validate:"required"`
	Cost        string `json:"cost" validate:"required,numeric"`
	Description string `json:"description"`
	Provider    string `json:"provider" validate:"required,oneof=openai gemini groq mock"`
	RoutingKey  string `json:"routingKey" validate:"required"`
}

type pricedEntry struct {
	Entry
	cost decimal.Decimal
	wei  *big.Int
}

// Table maps model ids to prices. It is read-only after construction and
// safe for concurrent use.
type Table struct {
	currency string
	decimals int32
	entries  map[string]pricedEntry
	order    []string
}

// DefaultEntries is the built-in price list, in TCRO.
func DefaultEntries() []Entry {
	return []Entry{
		{ID: "gpt-4o", Name: "GPT-4o", Cost: "0.5", Description: "OpenAI's reliable model", Provider: ProviderOpenAI, RoutingKey: "gpt-4o"},
		{ID: "gpt-4o-mini", Name: "GPT-4o mini", Cost: "0.15", Description: "Fast and affordable OpenAI model", Provider: ProviderOpenAI, RoutingKey: "gpt-4o-mini"},
		{ID: "gemini-2.5-flash", Name: "Gemini 2.5 Flash", Cost: "0.2", Description: "Google's fast AI model", Provider: ProviderGemini, RoutingKey: "gemini-2.5-flash"},
		{ID: "gemini-2.5-pro", Name: "Gemini 2.5 Pro", Cost: "0.5", Description: "Google's most capable AI model", Provider: ProviderGemini, RoutingKey: "gemini-2.5-pro"},
		{ID: "gemini-2.0-flash", Name: "Gemini 2.0 Flash", Cost: "0.15", Description: "Google's next-gen flash model", Provider: ProviderGemini, RoutingKey: "gemini-2.0-flash"},
		{ID: "groq", Name: "Llama 3.3 70B", Cost: "0.1", Description: "Ultra-fast Llama 3 via Groq", Provider: ProviderGroq, RoutingKey: "llama-3.3-70b-versatile"},
	}
}

// New validates entries and converts every cost to base units using the
// chain's decimal exponent. A cost that does not convert to a whole number
// of base units is rejected.
func New(entries []Entry, currency string, decimals int32) (*Table, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("pricing table is empty")
	}

	t := &Table{
		currency: currency,
		decimals: decimals,
		entries:  make(map[string]pricedEntry, len(entries)),
		order:    make([]string, 0, len(entries)),
	}

	for _, e := range entries {
		if err := utils.ValidateStruct(e); err != nil {
			return nil, &types.PaymentError{
				Code:    types.ErrConfigError,
				Message: fmt.Sprintf("invalid pricing entry %q", e.ID),
				Err:     err,
			}
		}
		if _, dup := t.entries[e.ID]; dup {
			return nil, fmt.Errorf("duplicate pricing entry %q", e.ID)
		}

		cost, err := utils.ValidateAmount(e.Cost)
		if err != nil {
			return nil, fmt.Errorf("pricing entry %q: %w", e.ID, err)
		}
		if !cost.IsPositive() {
			return nil, fmt.Errorf("pricing entry %q: cost must be positive", e.ID)
		}
		wei, err := utils.ParseAmountWithDecimals(e.Cost, decimals)
		if err != nil {
			return nil, fmt.Errorf("pricing entry %q: %w", e.ID, err)
		}

		t.entries[e.ID] = pricedEntry{Entry: e, cost: cost, wei: wei}
		t.order = append(t.order, e.ID)
	}

	sort.Strings(t.order)
	return t, nil
}

// Default builds the table from DefaultEntries.
func Default(currency string, decimals int32) (*Table, error) {
	return New(DefaultEntries(), currency, decimals)
}

// LoadFile reads a JSON array of entries from path.
func LoadFile(path, currency string, decimals int32) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pricing file: %w", err)
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse pricing file %s: %w", path, err)
	}
	return New(entries, currency, decimals)
}

// PriceOf returns the required amount in base units. The returned value is
// a copy and may be modified by the caller.
func (t *Table) PriceOf(modelID string) (*big.Int, bool) {
	e, ok := t.entries[modelID]
	if !ok {
		return nil, false
	}
	return new(big.Int).Set(e.wei), true
}

// RoutingKeyOf returns the provider and upstream model name for modelID.
func (t *Table) RoutingKeyOf(modelID string) (provider, routingKey string, ok bool) {
	e, ok := t.entries[modelID]
	if !ok {
		return "", "", false
	}
	return e.Provider, e.RoutingKey, true
}

// Lookup returns the configured entry for modelID.
func (t *Table) Lookup(modelID string) (Entry, bool) {
	e, ok := t.entries[modelID]
	return e.Entry, ok
}

// Has reports whether modelID is priced.
func (t *Table) Has(modelID string) bool {
	_, ok := t.entries[modelID]
	return ok
}

// IDs lists model ids in lexical order.
func (t *Table) IDs() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

func (t *Table) Currency() string {
	return t.currency
}

// Models returns the public view of the table.
func (t *Table) Models() []types.ModelInfo {
	out := make([]types.ModelInfo, 0, len(t.order))
	for _, id := range t.order {
		e := t.entries[id]
		out = append(out, types.ModelInfo{
			ID:          e.ID,
			Name:        e.Name,
			Cost:        e.cost.String() + " " + t.currency,
			CostWei:     e.wei.String(),
			Description: e.Description,
		})
	}
	return out
}

// FormatAmount renders base units as a decimal amount of the currency.
func (t *Table) FormatAmount(wei *big.Int) string {
	return utils.FormatAmountFromBigInt(wei, t.decimals) + " " + t.currency
}
