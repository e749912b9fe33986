package validate

import (
	"regexp"
	"strings"

	"github.com/jdc-telecom/smsgw/internal/model"
)

// MaxMessageLength is the single-segment SMS limit enforced on bulk rows.
const MaxMessageLength = 160

// E.164-ish: optional +, no leading zero, up to 15 digits.
var phonePattern = regexp.MustCompile(`^\+?[1-9]\d{1,14}$`)

var (
	phoneAliases   = []string{"phone", "telephone", "tel", "numero", "number"}
	messageAliases = []string{"message", "texte", "text", "sms", "contenu"}
	nameAliases    = []string{"name", "nom", "prenom", "firstname"}
)

// Rows validates loosely-keyed rows (as parsed out of a CSV or spreadsheet by
// the caller) into recipients, marking each row valid or listing what is
// wrong with it. Row order is preserved; line numbers start at 1.
func Rows(rows []map[string]string) []model.Recipient {
	out := make([]model.Recipient, 0, len(rows))
	for i, row := range rows {
		normalized := normalizeKeys(row)

		r := model.Recipient{
			LineNumber: i + 1,
			Phone:      pick(normalized, phoneAliases),
			Message:    pick(normalized, messageAliases),
			Name:       pick(normalized, nameAliases),
		}
		r.Errors = check(r)
		r.Valid = len(r.Errors) == 0
		out = append(out, r)
	}
	return out
}

// Recipient re-checks a single already-shaped entry, e.g. one submitted
// directly over the API rather than through row validation.
func Recipient(r model.Recipient) model.Recipient {
	r.Errors = check(r)
	r.Valid = len(r.Errors) == 0
	return r
}

func check(r model.Recipient) []string {
	var errs []string

	if r.Phone == "" {
		errs = append(errs, "missing phone number")
	} else if !phonePattern.MatchString(stripSpaces(r.Phone)) {
		errs = append(errs, "invalid phone number (international format required)")
	}

	if r.Message == "" {
		errs = append(errs, "missing message")
	} else if len([]rune(r.Message)) > MaxMessageLength {
		errs = append(errs, "message too long (max 160 characters)")
	}

	return errs
}

func normalizeKeys(row map[string]string) map[string]string {
	out := make(map[string]string, len(row))
	for k, v := range row {
		out[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return out
}

func pick(row map[string]string, aliases []string) string {
	for _, a := range aliases {
		if v := strings.TrimSpace(row[a]); v != "" {
			return v
		}
	}
	return ""
}

func stripSpaces(s string) string {
	return strings.Join(strings.Fields(s), "")
}
