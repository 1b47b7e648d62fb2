package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Label defaults applied on create.
const (
	DefaultCurrencyUnit = "원"
	DefaultUnit         = "식"
	DefaultFreqUnit     = "회"
	DefaultSource       = "SELF"
)

// BudgetDetail is a single cost line of an entry.
type BudgetDetail struct {
	ID                   int64          `gorm:"primaryKey" json:"id"`
	EntryID              int64          `gorm:"column:entry_id;not null;index:idx_budget_details_entry_order" json:"entry"`
	Name                 string         `gorm:"column:name;size:255;not null" json:"name"`
	Price                int64          `gorm:"column:price;not null" json:"price"`
	Qty                  float64        `gorm:"column:qty;not null" json:"qty"`
	Freq                 int            `gorm:"column:freq;not null;default:1" json:"freq"`
	CurrencyUnit         string         `gorm:"column:currency_unit;size:20;not null" json:"currency_unit"`
	Unit                 string         `gorm:"column:unit;size:20;not null" json:"unit"`
	FreqUnit             string         `gorm:"column:freq_unit;size:20;not null" json:"freq_unit"`
	SortOrder            int            `gorm:"column:sort_order;not null;default:0;index:idx_budget_details_entry_order" json:"sort_order"`
	SubLabel             *string        `gorm:"column:sub_label;size:20" json:"sub_label"`
	Source               string         `gorm:"column:source;size:50;not null" json:"source"`
	RegionContext        *string        `gorm:"column:region_context;type:text" json:"region_context"`
	WeatherContext       *string        `gorm:"column:weather_context;type:text" json:"weather_context"`
	EvidenceSourceName   *string        `gorm:"column:evidence_source_name;size:200" json:"evidence_source_name"`
	EvidenceSourceURL    *string        `gorm:"column:evidence_source_url;size:500" json:"evidence_source_url"`
	EvidenceAsOf         *time.Time     `gorm:"column:evidence_as_of;type:date" json:"evidence_as_of"`
	IsRate               bool           `gorm:"column:is_rate;not null" json:"is_rate"`
	OrganizationID       *int64         `gorm:"column:organization_id" json:"organization"`
	TransferSourceDetail *int64         `gorm:"column:transfer_source_detail_id;index" json:"transfer_source_detail"`
	BeforeSnapshot       datatypes.JSON `gorm:"column:before_snapshot" json:"-"`
	AuthorID             *int64         `gorm:"column:author_id" json:"author"`
	UpdatedByID          *int64         `gorm:"column:updated_by_id" json:"updated_by"`
	UpdatedAt            time.Time      `gorm:"column:updated_at" json:"updated_at"`
}

func (BudgetDetail) TableName() string {
	return "budget_details"
}

// TotalPrice is price*qty/100 for rate rows and price*qty*freq otherwise, rounded to whole won.
func (d *BudgetDetail) TotalPrice() int64 {
	price := decimal.NewFromInt(d.Price)
	qty := decimal.NewFromFloat(d.Qty)
	if d.IsRate {
		return price.Mul(qty).Div(decimal.NewFromInt(100)).Round(0).IntPart()
	}
	return price.Mul(qty).Mul(decimal.NewFromInt(int64(d.Freq))).Round(0).IntPart()
}

// DetailSnapshot is the fixed field set captured when a detail is cloned into another round.
type DetailSnapshot struct {
	DetailID       int64   `json:"detail_id"`
	EntryID        int64   `json:"entry_id"`
	Name           string  `json:"name"`
	Price          int64   `json:"price"`
	Qty            float64 `json:"qty"`
	Freq           int     `json:"freq"`
	CurrencyUnit   string  `json:"currency_unit"`
	Unit           string  `json:"unit"`
	FreqUnit       string  `json:"freq_unit"`
	Source         string  `json:"source"`
	SubLabel       *string `json:"sub_label"`
	SortOrder      int     `json:"sort_order"`
	IsRate         bool    `json:"is_rate"`
	OrganizationID *int64  `json:"organization"`
	TotalPrice     int64   `json:"total_price"`
}

// Snapshot captures the current state of the row.
func (d *BudgetDetail) Snapshot() DetailSnapshot {
	return DetailSnapshot{
		DetailID:       d.ID,
		EntryID:        d.EntryID,
		Name:           d.Name,
		Price:          d.Price,
		Qty:            d.Qty,
		Freq:           d.Freq,
		CurrencyUnit:   d.CurrencyUnit,
		Unit:           d.Unit,
		FreqUnit:       d.FreqUnit,
		Source:         d.Source,
		SubLabel:       d.SubLabel,
		SortOrder:      d.SortOrder,
		IsRate:         d.IsRate,
		OrganizationID: d.OrganizationID,
		TotalPrice:     d.TotalPrice(),
	}
}

// Before decodes the clone-time snapshot; nil when the row was not cloned.
func (d *BudgetDetail) Before() (*DetailSnapshot, error) {
	if len(d.BeforeSnapshot) == 0 || string(d.BeforeSnapshot) == "null" {
		return nil, nil
	}
	var s DetailSnapshot
	if err := json.Unmarshal(d.BeforeSnapshot, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// SetBefore stores a clone-time snapshot.
func (d *BudgetDetail) SetBefore(s DetailSnapshot) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	d.BeforeSnapshot = datatypes.JSON(b)
	return nil
}
