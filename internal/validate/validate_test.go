package validate

import (
	"strings"
	"testing"

	"github.com/jdc-telecom/smsgw/internal/model"
)

func TestRows_ColumnAliases(t *testing.T) {
	t.Parallel()

	rows := []map[string]string{
		{"phone": "+33612345678", "message": "hello", "name": "Jean"},
		{"Telephone": "+33612345679", "Texte": "salut", "Nom": "Marie"},
		{"NUMERO ": "+33612345680", "sms": "hi", "prenom": "Luc"},
	}

	out := Rows(rows)
	if len(out) != 3 {
		t.Fatalf("expected 3 recipients, got %d", len(out))
	}

	for i, r := range out {
		if !r.Valid {
			t.Fatalf("row %d expected valid, got errors %v", i, r.Errors)
		}
		if r.LineNumber != i+1 {
			t.Fatalf("row %d expected lineNumber %d, got %d", i, i+1, r.LineNumber)
		}
		if r.Phone == "" || r.Message == "" || r.Name == "" {
			t.Fatalf("row %d missing extracted fields: %+v", i, r)
		}
	}
}

func TestRows_InvalidEntries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		row     map[string]string
		wantErr string
	}{
		{
			name:    "missing phone",
			row:     map[string]string{"message": "hi"},
			wantErr: "missing phone number",
		},
		{
			name:    "bad phone format",
			row:     map[string]string{"phone": "06-12-34", "message": "hi"},
			wantErr: "invalid phone number",
		},
		{
			name:    "leading zero",
			row:     map[string]string{"phone": "0612345678", "message": "hi"},
			wantErr: "invalid phone number",
		},
		{
			name:    "missing message",
			row:     map[string]string{"phone": "+33612345678"},
			wantErr: "missing message",
		},
		{
			name:    "message too long",
			row:     map[string]string{"phone": "+33612345678", "message": strings.Repeat("a", 161)},
			wantErr: "message too long",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			out := Rows([]map[string]string{tc.row})
			if len(out) != 1 {
				t.Fatalf("expected 1 recipient, got %d", len(out))
			}
			r := out[0]
			if r.Valid {
				t.Fatalf("expected invalid, got valid: %+v", r)
			}
			found := false
			for _, e := range r.Errors {
				if strings.Contains(e, tc.wantErr) {
					found = true
				}
			}
			if !found {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, r.Errors)
			}
		})
	}
}

func TestRows_PhoneWithSpacesIsValid(t *testing.T) {
	t.Parallel()

	out := Rows([]map[string]string{{"phone": "+33 6 12 34 56 78", "message": "hi"}})
	if !out[0].Valid {
		t.Fatalf("expected spaced phone to validate, got %v", out[0].Errors)
	}
}

func TestRows_MessageAtLimitIsValid(t *testing.T) {
	t.Parallel()

	out := Rows([]map[string]string{{"phone": "+33612345678", "message": strings.Repeat("a", 160)}})
	if !out[0].Valid {
		t.Fatalf("expected 160-char message to validate, got %v", out[0].Errors)
	}
}

func TestRecipient_Recheck(t *testing.T) {
	t.Parallel()

	r := Recipient(model.Recipient{Phone: "+33612345678", Message: "hello"})
	if !r.Valid || len(r.Errors) != 0 {
		t.Fatalf("expected valid, got %+v", r)
	}

	r = Recipient(model.Recipient{Phone: "", Message: ""})
	if r.Valid || len(r.Errors) != 2 {
		t.Fatalf("expected two errors, got %+v", r)
	}
}
