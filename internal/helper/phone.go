package helper

import (
	"strings"
)

// NormalizePhone keeps digits and '+' only ("+62 812-3456" -> "+628123456").
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if (r >= '0' && r <= '9') || r == '+' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// RedactPhone menyamarkan nomor telepon untuk log, sisakan 3 digit terakhir.
func RedactPhone(phone string) string {
	if len(phone) <= 3 {
		return "***"
	}
	return strings.Repeat("*", len(phone)-3) + phone[len(phone)-3:]
}
