package dispatch

import (
	"encoding/base64"
	"math/rand"
	"regexp"
	"strconv"
	"strings"

	"github.com/dispatch-orchestrator/internal/adapter"
)

const (
	addressSuffix = "@c.us"
	minE164Digits = 8
	maxE164Digits = 15
	randAlphabet  = "abcdefghijklmnopqrstuvwxyz0123456789"
	randTokenLen  = 6
)

var (
	recipientSeparators = regexp.MustCompile(`[\n,; \t]+`)
	nonDigits           = regexp.MustCompile(`\D`)
)

// ParseRecipients splits a free-form recipient list on newlines, commas,
// semicolons, spaces and tabs, dropping empty entries.
func ParseRecipients(text string) []string {
	parts := recipientSeparators.Split(text, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Digits strips everything but ASCII digits
func Digits(s string) string {
	return nonDigits.ReplaceAllString(s, "")
}

func e164Len(d string) bool {
	return len(d) >= minE164Digits && len(d) <= maxE164Digits
}

// ResolveAddress turns a phone number into a canonical chat address.
// International input ("+..." or "00...") and bare E.164 digits are used as
// they are. Local numbers with a leading zero need defaultCC. The second
// return is false when the number cannot be resolved.
func ResolveAddress(raw, defaultCC string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}
	digits := Digits(s)
	if digits == "" {
		return "", false
	}

	switch {
	case strings.HasPrefix(s, "+"):
		if !e164Len(digits) {
			return "", false
		}
		return digits + addressSuffix, true
	case strings.HasPrefix(digits, "00"):
		d := digits[2:]
		if !e164Len(d) {
			return "", false
		}
		return d + addressSuffix, true
	case e164Len(digits) && digits[0] != '0':
		return digits + addressSuffix, true
	}

	cc := Digits(defaultCC)
	if cc == "" {
		return "", false
	}
	full := cc + strings.TrimLeft(digits, "0")
	if !e164Len(full) {
		return "", false
	}
	return full + addressSuffix, true
}

// TemplateContext holds the placeholder values for one recipient
type TemplateContext struct {
	Number  string
	Address string
	Index   int
	Rand    string
}

// ApplyTemplate substitutes {{number}}, {{jid}}, {{index}} and {{rand}}.
func ApplyTemplate(text string, tc TemplateContext) string {
	return strings.NewReplacer(
		"{{number}}", tc.Number,
		"{{jid}}", tc.Address,
		"{{index}}", strconv.Itoa(tc.Index),
		"{{rand}}", tc.Rand,
	).Replace(text)
}

func randToken(rnd *rand.Rand) string {
	b := make([]byte, randTokenLen)
	for i := range b {
		b[i] = randAlphabet[rnd.Intn(len(randAlphabet))]
	}
	return string(b)
}

// Contact is a contact card sent ahead of the message
type Contact struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// BuildVCard renders a vCard 3.0 for the contact
func BuildVCard(name, phone string) string {
	safeName := strings.TrimSpace(strings.NewReplacer("\r\n", " ", "\n", " ").Replace(name))
	if safeName == "" {
		safeName = "Contact"
	}
	return strings.Join([]string{
		"BEGIN:VCARD",
		"VERSION:3.0",
		"FN:" + safeName,
		"TEL;type=CELL;type=VOICE:" + Digits(phone),
		"END:VCARD",
	}, "\n")
}

// Media renders the card as a text/vcard attachment
func (c Contact) Media() *adapter.Media {
	return &adapter.Media{
		MimeType: "text/vcard",
		Data:     base64.StdEncoding.EncodeToString([]byte(BuildVCard(c.Name, c.Phone))),
		FileName: c.Name + ".vcf",
	}
}
