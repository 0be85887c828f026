package dispatch

import (
	"encoding/base64"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRecipients(t *testing.T) {
	got := ParseRecipients("+1 415\n0612;;447700900123,\t 0044 7700\n\n")
	assert.Equal(t, []string{"+1", "415", "0612", "447700900123", "0044", "7700"}, got)
	assert.Empty(t, ParseRecipients("  \n,; "))
}

func TestResolveAddress(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		cc   string
		want string
		ok   bool
	}{
		{"plus prefix", "+44 7700 900123", "", "447700900123@c.us", true},
		{"plus too short", "+1234567", "", "", false},
		{"double zero prefix", "00447700900123", "", "447700900123@c.us", true},
		{"double zero too long", "001234567890123456", "", "", false},
		{"bare e164", "14155552671", "", "14155552671@c.us", true},
		{"local without cc", "0612345678", "", "", false},
		{"local with cc", "0612345678", "212", "212612345678@c.us", true},
		{"cc is cleaned", "07700900123", "+44", "447700900123@c.us", true},
		{"short local", "0612", "212", "", false},
		{"empty", "  ", "44", "", false},
		{"no digits", "abc", "44", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ResolveAddress(tt.raw, tt.cc)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApplyTemplate(t *testing.T) {
	out := ApplyTemplate("Hi {{number}} ({{jid}}) #{{index}} ref {{rand}} {{number}}", TemplateContext{
		Number:  "+1415",
		Address: "1415@c.us",
		Index:   7,
		Rand:    "abc123",
	})
	assert.Equal(t, "Hi +1415 (1415@c.us) #7 ref abc123 +1415", out)
	assert.Equal(t, "no placeholders", ApplyTemplate("no placeholders", TemplateContext{}))
}

func TestRandToken(t *testing.T) {
	tok := randToken(rand.New(rand.NewSource(1)))
	assert.Len(t, tok, 6)
	assert.Regexp(t, `^[a-z0-9]{6}$`, tok)
}

func TestBuildVCard(t *testing.T) {
	card := BuildVCard("Ann\nSmith ", "+1 (415) 555-0100")
	assert.Equal(t, "BEGIN:VCARD\nVERSION:3.0\nFN:Ann Smith\nTEL;type=CELL;type=VOICE:14155550100\nEND:VCARD", card)
	assert.Contains(t, BuildVCard("  ", "1"), "FN:Contact")
}

func TestContactMedia(t *testing.T) {
	m := Contact{Name: "Ann", Phone: "123"}.Media()
	assert.Equal(t, "text/vcard", m.MimeType)
	assert.Equal(t, "Ann.vcf", m.FileName)

	raw, err := base64.StdEncoding.DecodeString(m.Data)
	require.NoError(t, err)
	assert.Equal(t, BuildVCard("Ann", "123"), string(raw))
}
