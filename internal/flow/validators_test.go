package flow

import (
	"errors"
	"testing"

	"github.com/zapdesk/zapdesk/internal/models"
)

func TestValidateInput(t *testing.T) {
	cases := []struct {
		name      string
		validator models.ValidatorType
		input     string
		want      string
		wantErr   bool
	}{
		{"free accepts anything", models.ValidatorFree, "  qualquer coisa  ", "qualquer coisa", false},
		{"empty validator behaves like free", "", "ok", "ok", false},
		{"text accepts phrases", models.ValidatorText, "Ana Souza", "Ana Souza", false},
		{"text rejects single rune", models.ValidatorText, "a", "", true},
		{"email lowercased", models.ValidatorEmail, "Ana@Example.COM", "ana@example.com", false},
		{"email rejects missing domain", models.ValidatorEmail, "ana@", "", true},
		{"phone formatted", models.ValidatorPhone, "(11) 99999-8888", "11999998888", false},
		{"phone with country code", models.ValidatorPhone, "+55 11 99999-8888", "11999998888", false},
		{"phone too short", models.ValidatorPhone, "9999", "", true},
		{"cpf valid", models.ValidatorCPF, "529.982.247-25", "52998224725", false},
		{"cpf bad check digit", models.ValidatorCPF, "529.982.247-26", "", true},
		{"cpf repeated digits", models.ValidatorCPF, "111.111.111-11", "", true},
		{"cnpj valid", models.ValidatorCNPJ, "11.222.333/0001-81", "11222333000181", false},
		{"cnpj bad check digit", models.ValidatorCNPJ, "11.222.333/0001-80", "", true},
		{"cpf_cnpj accepts cpf", models.ValidatorCPFCNPJ, "52998224725", "52998224725", false},
		{"cpf_cnpj accepts cnpj", models.ValidatorCPFCNPJ, "11222333000181", "11222333000181", false},
		{"cpf_cnpj rejects garbage", models.ValidatorCPFCNPJ, "12345", "", true},
		{"number integer", models.ValidatorNumber, "42", "42", false},
		{"number decimal comma", models.ValidatorNumber, "3,50", "3.50", false},
		{"number rejects words", models.ValidatorNumber, "três", "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ValidateInput(tc.validator, tc.input)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				var verr *ValidationError
				if !errors.As(err, &verr) {
					t.Fatalf("expected *ValidationError, got %T", err)
				}
				if verr.Message == "" {
					t.Error("validation error must carry a retry prompt")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestSubstitute(t *testing.T) {
	external := map[string]string{"name": "Ana", "city": "Recife"}
	data := map[string]string{"email": "ana@example.com", "city": "Olinda"}

	cases := []struct {
		text string
		want string
	}{
		{"Olá {name}!", "Olá Ana!"},
		{"Confirmo o e-mail {email}?", "Confirmo o e-mail ana@example.com?"},
		{"Cidade: {city}", "Cidade: Recife"}, // external context wins
		{"Token {desconhecido} fica", "Token {desconhecido} fica"},
		{"sem tokens", "sem tokens"},
	}
	for _, tc := range cases {
		if got := Substitute(tc.text, external, data); got != tc.want {
			t.Errorf("Substitute(%q) = %q, want %q", tc.text, got, tc.want)
		}
	}
}
