package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestDenominationsTotal(t *testing.T) {
	d := EmptyDenominations()
	assert.True(t, d.Total().IsZero())

	d.Notes["50000"] = 2
	d.Notes["1000"] = 3
	d.Coins["500"] = 4
	d.Coins["100"] = 1

	assert.True(t, d.NotesTotal().Equal(decimal.NewFromInt(103000)))
	assert.True(t, d.CoinsTotal().Equal(decimal.NewFromInt(2100)))
	assert.True(t, d.Total().Equal(decimal.NewFromInt(105100)))

	var none *Denominations
	assert.True(t, none.Total().IsZero())
}

func TestDenominationsJSON(t *testing.T) {
	d := &Denominations{Notes: map[string]int{"20000": 1}}

	raw, err := d.JSON()
	require.NoError(t, err)

	var shape map[string]map[string]int
	require.NoError(t, json.Unmarshal(raw, &shape))
	assert.Len(t, shape["notes"], len(NoteDenominations))
	assert.Len(t, shape["coins"], len(CoinDenominations))
	assert.Equal(t, 1, shape["notes"]["20000"])
	assert.Equal(t, 0, shape["coins"]["200"])

	back := ParseDenominations(raw)
	require.NotNil(t, back)
	assert.True(t, back.Total().Equal(decimal.NewFromInt(20000)))

	var nilDenoms *Denominations
	raw, err = nilDenoms.JSON()
	require.NoError(t, err)
	assert.Nil(t, raw)
}

func TestParseDenominations_Lenient(t *testing.T) {
	assert.Nil(t, ParseDenominations(nil))
	assert.Nil(t, ParseDenominations(datatypes.JSON("null")))
	assert.Nil(t, ParseDenominations(datatypes.JSON("{broken")))

	partial := ParseDenominations(datatypes.JSON(`{"coins":{"1000":2}}`))
	require.NotNil(t, partial)
	assert.Equal(t, 0, partial.Notes["50000"])
	assert.True(t, partial.Total().Equal(decimal.NewFromInt(2000)))
}

func TestVaultMovementExpiry(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	m := VaultMovement{}
	assert.False(t, m.IsExpiredAt(now))

	at := now
	m.ExpiresAt = &at
	assert.True(t, m.IsExpiredAt(now))
	assert.False(t, m.IsExpiredAt(now.Add(-time.Second)))

	require.NoError(t, m.BeforeCreate(nil))
	assert.Len(t, m.Reference, 36)
}
