package service

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"posledger/internal/model"
)

func orderLabel(id int64) string {
	return fmt.Sprintf("Order #%d", id)
}

func paymentLabel(p *model.Payment) string {
	method := p.Method
	if method == "" {
		method = model.PaymentMethodCash
	}
	return fmt.Sprintf("Payment #%d (%s)", p.ID, method)
}

func displayName(name string) string {
	if strings.TrimSpace(name) == "" {
		return "Walk-in"
	}
	return name
}

func idString(id int64) string {
	return strconv.FormatInt(id, 10)
}

func optionalID(id *int64) string {
	if id == nil {
		return "none"
	}
	return idString(*id)
}

// normalizeDate 未传入时取当前时间，统一转换为 UTC
func normalizeDate(t *time.Time) time.Time {
	if t == nil || t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
