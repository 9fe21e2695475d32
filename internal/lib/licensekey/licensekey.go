// Package licensekey генерирует и нормализует лицензионные ключи вида
// PDFPRO-XXXX-XXXX-XXXX-XXXX: четыре группы по четыре заглавных
// буквенно-цифровых символа после фиксированного префикса.
//
// Глобальная уникальность ключа обеспечивается уникальным ограничением в
// базе данных, а не генератором: вызывающая сторона обязана повторить
// генерацию при конфликте.
package licensekey

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
)

// Prefix фиксированный префикс всех лицензионных ключей продукта.
const Prefix = "PDFPRO"

const (
	groups   = 4
	groupLen = 4
)

// 36 символов дают ~5.17 бита на символ, 16 символов — свыше 80 бит энтропии.
const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// ErrMalformed означает, что строка не является лицензионным ключом.
var ErrMalformed = errors.New("malformed license key")

// Generate возвращает новый случайный ключ в каноническом виде.
func Generate() (string, error) {
	const op = "licensekey.Generate"

	body := make([]byte, 0, groups*groupLen)
	raw := make([]byte, 32)
	for len(body) < cap(body) {
		if _, err := rand.Read(raw); err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
		for _, b := range raw {
			// 252 = 36*7, хвост диапазона отбрасываем, чтобы остаток был равномерным
			if b >= 252 {
				continue
			}
			body = append(body, alphabet[int(b)%len(alphabet)])
			if len(body) == cap(body) {
				break
			}
		}
	}

	var sb strings.Builder
	sb.WriteString(Prefix)
	for i := 0; i < groups; i++ {
		sb.WriteByte('-')
		sb.Write(body[i*groupLen : (i+1)*groupLen])
	}
	return sb.String(), nil
}

// Normalize приводит ключ из пользовательского ввода к каноническому виду:
// регистр и разделители не учитываются, "pdfpro1234abcd5678wxyz" превращается
// в "PDFPRO-1234-ABCD-5678-WXYZ". Возвращает ErrMalformed, если после очистки
// строка не соответствует формату ключа.
func Normalize(raw string) (string, error) {
	cleaned := strings.ToUpper(strings.Map(func(r rune) rune {
		switch r {
		case '-', ' ', '\t':
			return -1
		}
		return r
	}, strings.TrimSpace(raw)))

	if !strings.HasPrefix(cleaned, Prefix) {
		return "", ErrMalformed
	}
	body := cleaned[len(Prefix):]
	if len(body) != groups*groupLen {
		return "", ErrMalformed
	}
	for i := 0; i < len(body); i++ {
		if !strings.ContainsRune(alphabet, rune(body[i])) {
			return "", ErrMalformed
		}
	}

	var sb strings.Builder
	sb.WriteString(Prefix)
	for i := 0; i < groups; i++ {
		sb.WriteByte('-')
		sb.WriteString(body[i*groupLen : (i+1)*groupLen])
	}
	return sb.String(), nil
}
