package details

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"ibms-backend/internal/domain"
	"ibms-backend/internal/pkg/apperr"
)

func validate(d *domain.BudgetDetail) error {
	if d.Name == "" {
		return apperr.Validation("name_required", "name is required.").WithField("name")
	}
	if d.Price < 0 {
		return apperr.Validation("invalid_price", "price must be zero or positive.").WithField("price")
	}
	if d.Qty < 0 {
		return apperr.Validation("invalid_qty", "qty must be zero or positive.").WithField("qty")
	}
	if d.Freq < 1 {
		return apperr.Validation("invalid_freq", "freq must be at least 1.").WithField("freq")
	}
	if hasText(d.RegionContext) || hasText(d.WeatherContext) {
		if !hasText(d.EvidenceSourceName) {
			return apperr.Validation("evidence_required", "evidence_source_name is required when context is set.").WithField("evidence_source_name")
		}
		if !hasText(d.EvidenceSourceURL) {
			return apperr.Validation("evidence_required", "evidence_source_url is required when context is set.").WithField("evidence_source_url")
		}
	}
	return nil
}

func hasText(s *string) bool {
	return s != nil && strings.TrimSpace(*s) != ""
}

// applyFields copies the editable keys of a JSON patch onto d.
func applyFields(d *domain.BudgetDetail, fields map[string]interface{}) error {
	for key, raw := range fields {
		var err error
		switch key {
		case "name":
			d.Name, err = str(key, raw)
			d.Name = strings.TrimSpace(d.Name)
		case "price":
			d.Price, err = integer(key, raw)
		case "qty":
			d.Qty, err = float(key, raw)
		case "freq":
			var v int64
			v, err = integer(key, raw)
			d.Freq = int(v)
		case "sort_order":
			var v int64
			v, err = integer(key, raw)
			d.SortOrder = int(v)
		case "currency_unit":
			d.CurrencyUnit, err = str(key, raw)
		case "unit":
			d.Unit, err = str(key, raw)
		case "freq_unit":
			d.FreqUnit, err = str(key, raw)
		case "source":
			d.Source, err = str(key, raw)
		case "sub_label":
			d.SubLabel, err = optionalStr(key, raw)
		case "region_context":
			d.RegionContext, err = optionalStr(key, raw)
		case "weather_context":
			d.WeatherContext, err = optionalStr(key, raw)
		case "evidence_source_name":
			d.EvidenceSourceName, err = optionalStr(key, raw)
		case "evidence_source_url":
			d.EvidenceSourceURL, err = optionalStr(key, raw)
		case "evidence_as_of":
			d.EvidenceAsOf, err = optionalDate(key, raw)
		case "is_rate":
			b, ok := raw.(bool)
			if !ok {
				err = invalid(key)
			}
			d.IsRate = b
		case "organization":
			if raw == nil {
				d.OrganizationID = nil
				continue
			}
			var v int64
			v, err = integer(key, raw)
			d.OrganizationID = &v
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func invalid(key string) error {
	return apperr.Validation("invalid_"+key, fmt.Sprintf("invalid %s value.", key)).WithField(key)
}

func str(key string, raw interface{}) (string, error) {
	s, ok := raw.(string)
	if !ok {
		return "", invalid(key)
	}
	return s, nil
}

func optionalStr(key string, raw interface{}) (*string, error) {
	if raw == nil {
		return nil, nil
	}
	s, err := str(key, raw)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func optionalDate(key string, raw interface{}) (*time.Time, error) {
	if raw == nil {
		return nil, nil
	}
	s, err := str(key, raw)
	if err != nil || strings.TrimSpace(s) == "" {
		return nil, err
	}
	t, perr := time.Parse("2006-01-02", strings.TrimSpace(s))
	if perr != nil {
		return nil, invalid(key)
	}
	return &t, nil
}

func float(key string, raw interface{}) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(v), ",", ""), 64)
		if err != nil {
			return 0, invalid(key)
		}
		return f, nil
	}
	return 0, invalid(key)
}

func integer(key string, raw interface{}) (int64, error) {
	f, err := float(key, raw)
	if err != nil {
		return 0, err
	}
	if f != float64(int64(f)) {
		return 0, invalid(key)
	}
	return int64(f), nil
}
