package flow

import (
	"regexp"
	"strings"

	"github.com/zapdesk/zapdesk/internal/models"
)

// ValidationError is a recoverable capture failure. Its message is shown to
// the user as the retry prompt.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

var (
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	digitsOnly   = regexp.MustCompile(`\D`)
	numberOnly   = regexp.MustCompile(`^-?\d+([.,]\d+)?$`)
)

// ValidateInput runs the named validator against a raw reply and returns the
// normalized value to store. An empty validator behaves like free.
func ValidateInput(v models.ValidatorType, raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	switch v {
	case models.ValidatorFree, "":
		return trimmed, nil
	case models.ValidatorText:
		if len([]rune(trimmed)) < 2 {
			return "", &ValidationError{Message: "Por favor, digite um texto com pelo menos 2 caracteres."}
		}
		return trimmed, nil
	case models.ValidatorEmail:
		lowered := strings.ToLower(trimmed)
		if !emailPattern.MatchString(lowered) {
			return "", &ValidationError{Message: "E-mail inválido. Digite no formato nome@dominio.com."}
		}
		return lowered, nil
	case models.ValidatorPhone:
		digits := digitsOnly.ReplaceAllString(trimmed, "")
		digits = strings.TrimPrefix(digits, "55")
		if len(digits) < 10 || len(digits) > 11 {
			return "", &ValidationError{Message: "Telefone inválido. Digite com DDD, por exemplo (11) 99999-8888."}
		}
		return digits, nil
	case models.ValidatorCPF:
		digits := digitsOnly.ReplaceAllString(trimmed, "")
		if !validCPF(digits) {
			return "", &ValidationError{Message: "CPF inválido. Confira os 11 dígitos e tente novamente."}
		}
		return digits, nil
	case models.ValidatorCNPJ:
		digits := digitsOnly.ReplaceAllString(trimmed, "")
		if !validCNPJ(digits) {
			return "", &ValidationError{Message: "CNPJ inválido. Confira os 14 dígitos e tente novamente."}
		}
		return digits, nil
	case models.ValidatorCPFCNPJ:
		digits := digitsOnly.ReplaceAllString(trimmed, "")
		if validCPF(digits) || validCNPJ(digits) {
			return digits, nil
		}
		return "", &ValidationError{Message: "Documento inválido. Digite um CPF ou CNPJ válido."}
	case models.ValidatorNumber:
		if !numberOnly.MatchString(trimmed) {
			return "", &ValidationError{Message: "Valor inválido. Digite apenas números."}
		}
		return strings.ReplaceAll(trimmed, ",", "."), nil
	default:
		return "", &ValidationError{Message: "Não foi possível validar sua resposta."}
	}
}

// validCPF checks length, the repeated-digit degenerate case and both check
// digits of a Brazilian CPF.
func validCPF(digits string) bool {
	if len(digits) != 11 || allSame(digits) {
		return false
	}
	d := toInts(digits)
	if checkDigit(d[:9], 10) != d[9] {
		return false
	}
	return checkDigit(d[:10], 11) == d[10]
}

// validCNPJ checks length, the repeated-digit degenerate case and both check
// digits of a Brazilian CNPJ.
func validCNPJ(digits string) bool {
	if len(digits) != 14 || allSame(digits) {
		return false
	}
	d := toInts(digits)
	first := []int{5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
	second := []int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
	if weightedDigit(d[:12], first) != d[12] {
		return false
	}
	return weightedDigit(d[:13], second) == d[13]
}

// checkDigit computes a CPF check digit: weights descend from start to 2.
func checkDigit(d []int, start int) int {
	sum := 0
	for i, v := range d {
		sum += v * (start - i)
	}
	rem := sum % 11
	if rem < 2 {
		return 0
	}
	return 11 - rem
}

func weightedDigit(d, weights []int) int {
	sum := 0
	for i, v := range d {
		sum += v * weights[i]
	}
	rem := sum % 11
	if rem < 2 {
		return 0
	}
	return 11 - rem
}

func allSame(s string) bool {
	for i := 1; i < len(s); i++ {
		if s[i] != s[0] {
			return false
		}
	}
	return true
}

func toInts(s string) []int {
	out := make([]int, len(s))
	for i := 0; i < len(s); i++ {
		out[i] = int(s[i] - '0')
	}
	return out
}
