package calc

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Knetic/govaluate"
	"github.com/shopspring/decimal"
)

var (
	ErrEmptyExpression = errors.New("expression is empty")
	ErrFactorCount     = errors.New("expression must contain exactly 3 factors")
	ErrInvalidNumber   = errors.New("invalid number")
	ErrNegativeFactor  = errors.New("all factors must be non-negative")
)

var (
	separator = regexp.MustCompile(`[xX*×]`)
	number    = regexp.MustCompile(`^-?\d+(\.\d+)?$`)
	unitWords = strings.NewReplacer("원", "", "명", "", "회", "", "식", "", "월", "", "건", "", "개", "")
)

// evaluate runs an arithmetic expression through govaluate and returns its numeric result.
func evaluate(src string) (decimal.Decimal, error) {
	expr, err := govaluate.NewEvaluableExpression(src)
	if err != nil {
		return decimal.Zero, fmt.Errorf("evaluate expression: %w", err)
	}
	out, err := expr.Evaluate(nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("evaluate expression: %w", err)
	}
	v, ok := out.(float64)
	if !ok {
		return decimal.Zero, fmt.Errorf("evaluate expression: unexpected result %T", out)
	}
	return decimal.NewFromFloat(v), nil
}

// Parsed is the result of a "price x qty x freq" expression.
type Parsed struct {
	Price      int64   `json:"price"`
	Qty        float64 `json:"qty"`
	Freq       int64   `json:"freq"`
	Amount     int64   `json:"amount"`
	Normalized string  `json:"normalized"`
}

// ParseExpression reads expressions such as "50000x3x12", "50,000 * 3 * 12" or "5만원 x 2 x 12".
// Price and freq are rounded to integers; amount is round(price*qty*freq).
func ParseExpression(expression string) (*Parsed, error) {
	if strings.TrimSpace(expression) == "" {
		return nil, ErrEmptyExpression
	}
	var parts []string
	for _, p := range separator.Split(expression, -1) {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) != 3 {
		return nil, ErrFactorCount
	}

	factors := make([]decimal.Decimal, 3)
	for i, p := range parts {
		v, err := toNumber(p)
		if err != nil {
			return nil, err
		}
		if v.IsNegative() {
			return nil, ErrNegativeFactor
		}
		factors[i] = v
	}

	price := factors[0].Round(0).IntPart()
	qty, _ := factors[1].Float64()
	freq := factors[2].Round(0).IntPart()

	qtyText := strconv.FormatFloat(qty, 'f', -1, 64)
	amount, err := evaluate(fmt.Sprintf("%d * %s * %d", price, qtyText, freq))
	if err != nil {
		return nil, err
	}

	return &Parsed{
		Price:      price,
		Qty:        qty,
		Freq:       freq,
		Amount:     amount.Round(0).IntPart(),
		Normalized: fmt.Sprintf("%d x %s x %d", price, qtyText, freq),
	}, nil
}

func toNumber(token string) (decimal.Decimal, error) {
	cleaned := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(token)), ",", "")
	if strings.HasSuffix(cleaned, "만원") {
		v := strings.TrimSpace(strings.TrimSuffix(cleaned, "만원"))
		if !number.MatchString(v) {
			return decimal.Zero, ErrInvalidNumber
		}
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero, ErrInvalidNumber
		}
		return d.Mul(decimal.NewFromInt(10000)), nil
	}
	cleaned = unitWords.Replace(cleaned)
	if !number.MatchString(cleaned) {
		return decimal.Zero, ErrInvalidNumber
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, ErrInvalidNumber
	}
	return d, nil
}
