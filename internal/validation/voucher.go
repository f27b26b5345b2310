// Package validation содержит функции нормализации и проверки входных данных.
package validation

import (
	"regexp"
	"strings"
)

var (
	voucherCodeRe   = regexp.MustCompile(`^[A-Z]+[0-9]*-[0-9]{6}`)
	voucherPrefixRe = regexp.MustCompile(`^[A-Z]+[0-9]*$`)
)

// NormalizeUsername приводит имя пользователя к каноническому виду: без пробелов по краям и в нижнем регистре.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// NormalizeSiteID убирает пробелы по краям идентификатора сайта. Регистр сохраняется.
func NormalizeSiteID(siteID string) string {
	return strings.TrimSpace(siteID)
}

// IsValidVoucherCode проверяет, что код имеет вид PREFIX-NNNNNN.
func IsValidVoucherCode(code string) bool {
	return voucherCodeRe.MatchString(code)
}

// IsValidVoucherPrefix проверяет префикс кода (например, LG3) без разделителя и номера.
func IsValidVoucherPrefix(prefix string) bool {
	return voucherPrefixRe.MatchString(prefix)
}
