package extraction

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/zombor/expense-extractor/internal/expense"
	"github.com/zombor/expense-extractor/internal/normalize"
)

// ErrMalformedResponse is returned when the model output cannot be turned into a candidate.
var ErrMalformedResponse = errors.New("malformed model response")

// extractJSONObject strips code fences and surrounding prose, keeping the
// text between the first '{' and the last '}'.
func extractJSONObject(text string) (string, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")

	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return "", fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx < startIdx {
		return "", fmt.Errorf("invalid JSON object in response")
	}
	return text[startIdx : endIdx+1], nil
}

// parseCandidate validates a raw model response against the candidate schema
// and coerces it into a Candidate. Any failure wraps ErrMalformedResponse.
func parseCandidate(raw string) (expense.Candidate, error) {
	obj, err := extractJSONObject(raw)
	if err != nil {
		return expense.Candidate{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	var doc any
	if err := json.Unmarshal([]byte(obj), &doc); err != nil {
		return expense.Candidate{}, fmt.Errorf("%w: unmarshaling json: %v", ErrMalformedResponse, err)
	}
	if err := candidateSchema.Validate(doc); err != nil {
		return expense.Candidate{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	m := doc.(map[string]any)

	c := expense.Candidate{
		Merchant:      stringField(m["merchant"]),
		Date:          stringField(m["date"]),
		Subtotal:      normalize.Amount(m["subtotal"]),
		Tax:           normalize.Amount(m["tax"]),
		Tip:           normalize.Amount(m["tip"]),
		Miscellaneous: normalize.Amount(m["miscellaneous"]),
		Total:         normalize.Amount(m["total"]),
		Currency:      currencyField(m["currency"]),
		PaymentMethod: stringField(m["paymentMethod"]),
		InvoiceNumber: stringField(m["invoiceNumber"]),
		BillNumber:    stringField(m["billNumber"]),
		SerialNumber:  stringField(m["serialNumber"]),
		Items:         itemsField(m["items"]),
	}
	if conf := normalize.Amount(m["confidence"]); conf != nil {
		c.Confidence = normalize.Confidence(*conf)
	}
	return c, nil
}

func stringField(v any) *string {
	switch t := v.(type) {
	case string:
		return normalize.Text(&t)
	case float64:
		s := strconv.FormatFloat(t, 'f', -1, 64)
		return &s
	}
	return nil
}

// currencyField keeps only allow-listed codes.
func currencyField(v any) *string {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	code := strings.ToUpper(strings.TrimSpace(s))
	if !normalize.IsAllowedCurrency(code) {
		return nil
	}
	return &code
}

func itemsField(v any) []expense.Item {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	items := make([]expense.Item, 0, min(len(list), expense.MaxItems))
	for _, raw := range list {
		obj, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		name := stringField(obj["name"])
		if name == nil {
			continue
		}
		items = append(items, expense.Item{Name: *name, Price: normalize.Amount(obj["price"])})
		if len(items) == expense.MaxItems {
			break
		}
	}
	return items
}
