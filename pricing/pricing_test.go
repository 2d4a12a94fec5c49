package pricing

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wei(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad int " + s)
	}
	return v
}

func TestDefault_ConvertsToBaseUnits(t *testing.T) {
	tbl, err := Default("TCRO", 18)
	require.NoError(t, err)

	cases := map[string]string{
		"gpt-4o":           "500000000000000000",
		"gpt-4o-mini":      "150000000000000000",
		"gemini-2.5-flash": "200000000000000000",
		"gemini-2.5-pro":   "500000000000000000",
		"gemini-2.0-flash": "150000000000000000",
		"groq":             "100000000000000000",
	}
	for id, want := range cases {
		got, ok := tbl.PriceOf(id)
		require.True(t, ok, id)
		assert.Equal(t, 0, wei(want).Cmp(got), "model %s: got %s", id, got)
	}
}

func TestPriceOf_Unknown(t *testing.T) {
	tbl, err := Default("TCRO", 18)
	require.NoError(t, err)

	_, ok := tbl.PriceOf("claude-9")
	assert.False(t, ok)
	assert.False(t, tbl.Has("claude-9"))
}

func TestPriceOf_ReturnsCopy(t *testing.T) {
	tbl, err := Default("TCRO", 18)
	require.NoError(t, err)

	p, _ := tbl.PriceOf("groq")
	p.SetInt64(1)

	again, _ := tbl.PriceOf("groq")
	assert.Equal(t, "100000000000000000", again.String())
}

func TestRoutingKeyOf(t *testing.T) {
	tbl, err := Default("TCRO", 18)
	require.NoError(t, err)

	provider, key, ok := tbl.RoutingKeyOf("groq")
	require.True(t, ok)
	assert.Equal(t, ProviderGroq, provider)
	assert.Equal(t, "llama-3.3-70b-versatile", key)
}

func TestNew_RejectsSubUnitCost(t *testing.T) {
	_, err := New([]Entry{{
		ID: "tiny", Name: "Tiny", Cost: "0.0000001", Provider: ProviderMock, RoutingKey: "tiny",
	}}, "TOK", 6)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "more than 6 decimals")
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, "TCRO", 18)
	require.Error(t, err)

	_, err = New([]Entry{{ID: "x", Name: "X", Cost: "1", Provider: "acme", RoutingKey: "x"}}, "TCRO", 18)
	require.Error(t, err)

	_, err = New([]Entry{{ID: "x", Name: "X", Cost: "-1", Provider: ProviderMock, RoutingKey: "x"}}, "TCRO", 18)
	require.Error(t, err)

	dup := Entry{ID: "x", Name: "X", Cost: "1", Provider: ProviderMock, RoutingKey: "x"}
	_, err = New([]Entry{dup, dup}, "TCRO", 18)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pricing.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"id":"local","name":"Local","cost":"1.25","provider":"mock","routingKey":"local-7b"}
	]`), 0o600))

	tbl, err := LoadFile(path, "TCRO", 18)
	require.NoError(t, err)

	price, ok := tbl.PriceOf("local")
	require.True(t, ok)
	assert.Equal(t, "1250000000000000000", price.String())
	assert.Equal(t, []string{"local"}, tbl.IDs())
}

func TestModelsAndFormat(t *testing.T) {
	tbl, err := Default("TCRO", 18)
	require.NoError(t, err)

	models := tbl.Models()
	require.Len(t, models, 6)
	assert.Equal(t, "gemini-2.0-flash", models[0].ID)
	assert.Equal(t, "0.15 TCRO", models[0].Cost)

	assert.Equal(t, "0.1 TCRO", tbl.FormatAmount(wei("100000000000000000")))
	assert.Equal(t, "0 TCRO", tbl.FormatAmount(nil))
}
