package models

import (
	"encoding/json"
	"strconv"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// UGX note and coin face values, largest first.
var (
	NoteDenominations = []int64{50000, 20000, 10000, 5000, 2000, 1000}
	CoinDenominations = []int64{1000, 500, 200, 100}
)

// Denominations is the itemised note/coin breakdown stored with a count line.
// Keys are face values as strings, values are quantities.
type Denominations struct {
	Notes map[string]int `json:"notes"`
	Coins map[string]int `json:"coins"`
}

func EmptyDenominations() *Denominations {
	d := &Denominations{}
	d.normalize()
	return d
}

// normalize fills in every known face value with zero when absent.
func (d *Denominations) normalize() {
	if d.Notes == nil {
		d.Notes = make(map[string]int, len(NoteDenominations))
	}
	if d.Coins == nil {
		d.Coins = make(map[string]int, len(CoinDenominations))
	}
	for _, v := range NoteDenominations {
		k := strconv.FormatInt(v, 10)
		if _, ok := d.Notes[k]; !ok {
			d.Notes[k] = 0
		}
	}
	for _, v := range CoinDenominations {
		k := strconv.FormatInt(v, 10)
		if _, ok := d.Coins[k]; !ok {
			d.Coins[k] = 0
		}
	}
}

func (d *Denominations) NotesTotal() decimal.Decimal {
	return sectionTotal(d.Notes)
}

func (d *Denominations) CoinsTotal() decimal.Decimal {
	return sectionTotal(d.Coins)
}

// Total is the sum of face value times quantity over notes and coins.
func (d *Denominations) Total() decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return d.NotesTotal().Add(d.CoinsTotal())
}

func sectionTotal(section map[string]int) decimal.Decimal {
	total := decimal.Zero
	for k, qty := range section {
		face, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			continue
		}
		total = total.Add(decimal.NewFromInt(face).Mul(decimal.NewFromInt(int64(qty))))
	}
	return total
}

// JSON serialises the breakdown for the jsonb column. A nil breakdown is
// stored as NULL.
func (d *Denominations) JSON() (datatypes.JSON, error) {
	if d == nil {
		return nil, nil
	}
	d.normalize()
	b, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

// ParseDenominations reads a stored breakdown. Empty or unreadable payloads
// yield nil.
func ParseDenominations(raw datatypes.JSON) *Denominations {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var d Denominations
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil
	}
	d.normalize()
	return &d
}
