package fieldstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeObjectLiteral(t *testing.T) {
	raw := map[string]any{
		"tattoo_size":   "small",
		"deposit_paid":  true,
		"times_sent":    float64(2),
		"Tattoo Style":  "fine line",
		"empty_field":   "",
		"unknown thing": "kept",
	}

	fields := Normalize(raw, nil)

	assert.Equal(t, "small", fields.Get(KeySize))
	assert.True(t, fields.Bool(KeyDepositPaid))
	assert.Equal(t, "2", fields.Get(KeyTimesSent))
	assert.Equal(t, "fine line", fields.Get(KeyStyle))
	assert.Equal(t, "kept", fields.Get("unknown_thing"))
	_, present := fields["empty_field"]
	assert.False(t, present, "empty values should not be stored")
}

func TestNormalizeEntryArray(t *testing.T) {
	raw := []any{
		map[string]any{"key": "tattoo_placement", "value": "forearm"},
		map[string]any{"name": "Deposit Link Sent", "field_value": "true"},
		map[string]any{"id": "fld_123", "value": "english"},
		map[string]any{"value": "orphaned, no key"},
		"not an object",
	}
	registry := map[string]string{"fld_123": KeyLanguagePref}

	fields := Normalize(raw, registry)

	assert.Equal(t, "forearm", fields.Get(KeyPlacement))
	assert.True(t, fields.Bool(KeyDepositLinkSent))
	assert.Equal(t, "english", fields.Get(KeyLanguagePref))
	assert.Len(t, fields, 3)
}

func TestNormalizeIndexedObject(t *testing.T) {
	raw := map[string]any{
		"0": map[string]any{"key": "tattoo_size", "value": "half sleeve"},
		"1": map[string]any{"key": "hold_warning_sent", "value": false},
	}

	fields := Normalize(raw, nil)

	assert.Equal(t, "half sleeve", fields.Get(KeySize))
	assert.False(t, fields.Bool(KeyHoldWarningSent))
}

func TestNormalizeNeverPanics(t *testing.T) {
	for _, raw := range []any{nil, 42, "plain string", []any{nil, 7}, map[string]any{}} {
		assert.NotNil(t, Normalize(raw, nil))
	}
}

func TestBoolVariants(t *testing.T) {
	fields := Fields{"a": "true", "b": "Yes", "c": "1", "d": "false", "e": "maybe"}
	assert.True(t, fields.Bool("a"))
	assert.True(t, fields.Bool("b"))
	assert.True(t, fields.Bool("c"))
	assert.False(t, fields.Bool("d"))
	assert.False(t, fields.Bool("e"))
	assert.False(t, fields.Bool("missing"))
}

func TestKnownKeyRejectsInventedNames(t *testing.T) {
	assert.True(t, KnownKey(KeySummary))
	assert.True(t, KnownKey(CanonicalKey("Tattoo Summary", nil)))
	assert.False(t, KnownKey("made_up_field"))
	assert.False(t, KnownKey(""))
}

func TestCloneIsIndependent(t *testing.T) {
	fields := Fields{KeySize: "small"}
	copy := fields.Clone()
	copy[KeySize] = "large"
	assert.Equal(t, "small", fields.Get(KeySize))
}

type fakeAPI struct {
	raw     any
	getErr  error
	updated map[string]string
	updErr  error
}

func (f *fakeAPI) GetContactFields(_ context.Context, _ string) (any, error) {
	return f.raw, f.getErr
}

func (f *fakeAPI) UpdateContactFields(_ context.Context, _ string, fields map[string]string) error {
	f.updated = fields
	return f.updErr
}

func TestAdapterLoadNormalizes(t *testing.T) {
	api := &fakeAPI{raw: []any{map[string]any{"key": "tattoo_size", "value": "small"}}}
	adapter := NewAdapter(api, nil, nil)

	fields, err := adapter.Load(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, "small", fields.Get(KeySize))
}

func TestAdapterLoadTransportError(t *testing.T) {
	api := &fakeAPI{getErr: errors.New("boom")}
	adapter := NewAdapter(api, nil, nil)

	_, err := adapter.Load(context.Background(), "c-1")
	assert.ErrorContains(t, err, "load fields for c-1")
}

func TestAdapterApplySkipsEmpty(t *testing.T) {
	api := &fakeAPI{}
	adapter := NewAdapter(api, nil, nil)

	require.NoError(t, adapter.Apply(context.Background(), "c-1", Fields{}))
	assert.Nil(t, api.updated)

	require.NoError(t, adapter.Apply(context.Background(), "c-1", Fields{KeyDepositPaid: "true"}))
	assert.Equal(t, map[string]string{KeyDepositPaid: "true"}, api.updated)
}
