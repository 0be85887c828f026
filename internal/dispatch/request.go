package dispatch

import (
	"strings"

	"github.com/dispatch-orchestrator/internal/account"
	"github.com/dispatch-orchestrator/internal/adapter"
	"github.com/dispatch-orchestrator/internal/billing"
	"github.com/dispatch-orchestrator/internal/errors"
	"github.com/dispatch-orchestrator/internal/types"
)

const (
	// MaxRecipientLimit bounds the optional per-request recipient limit
	MaxRecipientLimit = 50000

	// ReasonCreditEnded is the stop reason when the balance runs out mid-batch
	ReasonCreditEnded = "Credit ended. Job stopped."
	// ReasonCancelled is the stop reason when the caller goes away
	ReasonCancelled = "Dispatch cancelled."
)

// Request is one dispatch batch. Recipients and RecipientsText are merged,
// list first.
type Request struct {
	User               string               `json:"-"`
	Recipients         []string             `json:"recipients,omitempty"`
	RecipientsText     string               `json:"numbers,omitempty"`
	Messages           []string             `json:"messages,omitempty"`
	Media              *adapter.Media       `json:"media,omitempty"`
	Contact            *Contact             `json:"contact,omitempty"`
	Mode               types.SendMode       `json:"sendMode,omitempty"`
	AccountID          string               `json:"accountId,omitempty"`
	Caps               map[string]int       `json:"perAccountLimit,omitempty"`
	SafeMode           types.SafeModeConfig `json:"safeMode"`
	DelayFrom          int                  `json:"delayFrom"`
	DelayTo            int                  `json:"delayTo"`
	Limit              int                  `json:"limit,omitempty"`
	DefaultCountryCode string               `json:"defaultCountryCode,omitempty"`
}

// normalized is a validated request with every bound applied
type normalized struct {
	user       string
	all        []string
	recipients []string
	messages   []string
	media      *adapter.Media
	contact    *Contact
	mode       types.SendMode
	accountID  string
	caps       map[string]int
	safeMode   types.SafeModeConfig
	delayFrom  int
	delayTo    int
	cc         string
}

func (r Request) normalize() (*normalized, error) {
	n := &normalized{
		user:     r.User,
		media:    r.Media,
		mode:     types.ModeSingle,
		caps:     r.Caps,
		safeMode: r.SafeMode.Normalize(),
		cc:       Digits(r.DefaultCountryCode),
	}
	if r.Mode == types.ModeDistribute {
		n.mode = types.ModeDistribute
	}

	if id := strings.TrimSpace(r.AccountID); id != "" {
		if account.SanitizeID(id) != id {
			return nil, errors.NewInvalidParameterError("accountId", "only letters, digits, '_' and '-' are allowed")
		}
		n.accountID = id
	}

	for _, rc := range r.Recipients {
		n.all = append(n.all, ParseRecipients(rc)...)
	}
	n.all = append(n.all, ParseRecipients(r.RecipientsText)...)
	n.recipients = n.all
	if limit := types.ClampInt(r.Limit, 0, MaxRecipientLimit); limit > 0 && len(n.recipients) > limit {
		n.recipients = n.recipients[:limit]
	}

	for _, m := range r.Messages {
		if m = strings.TrimSpace(m); m != "" {
			n.messages = append(n.messages, m)
		}
	}

	n.delayFrom = types.ClampInt(r.DelayFrom, 0, types.MaxDelaySeconds)
	n.delayTo = types.ClampInt(r.DelayTo, 0, types.MaxDelaySeconds)
	if n.delayTo < n.delayFrom {
		n.delayFrom, n.delayTo = n.delayTo, n.delayFrom
	}

	if r.Contact != nil {
		c := Contact{Name: strings.TrimSpace(r.Contact.Name), Phone: strings.TrimSpace(r.Contact.Phone)}
		if c.Name == "" || c.Phone == "" {
			return nil, errors.NewInvalidParameterError("contact", "contact name and phone are required")
		}
		n.contact = &c
	}

	if len(n.recipients) == 0 {
		return nil, errors.NewInvalidParameterError("recipients", "provide at least one number")
	}
	if len(n.messages) == 0 && n.media == nil && n.contact == nil {
		return nil, errors.NewInvalidParameterError("messages", "provide a message, media or a contact card")
	}
	if n.media != nil && (n.media.MimeType == "" || n.media.Data == "") {
		return nil, errors.NewInvalidParameterError("media", "mimetype and data are required")
	}
	return n, nil
}

// Plan echoes how a batch was set up
type Plan struct {
	User               string               `json:"user"`
	Mode               types.SendMode       `json:"sendMode"`
	RequestedAccount   string               `json:"requestedAccountId,omitempty"`
	RecipientsTotal    int                  `json:"recipientsTotal"`
	RecipientsInBatch  int                  `json:"recipientsProcessing"`
	DelayFrom          int                  `json:"delayFromSeconds"`
	DelayTo            int                  `json:"delayToSeconds"`
	MessageCount       int                  `json:"messagesCount"`
	HasMedia           bool                 `json:"hasMedia"`
	HasContact         bool                 `json:"sendContact"`
	DefaultCountryCode string               `json:"defaultCountryCode,omitempty"`
	ReadyAccounts      []string             `json:"readyAccounts"`
	Quota              map[string]int       `json:"perAccountLimitUsed"`
	SafeMode           types.SafeModeConfig `json:"safeMode"`
	CreditBefore       float64              `json:"creditBefore"`
	CreditAfter        *float64             `json:"creditAfter,omitempty"`
	Billing            billing.Rate         `json:"billing"`
}

// Response is the result of a dispatch batch. On an early stop Results holds
// the outcomes gathered so far.
type Response struct {
	Plan          Plan            `json:"plan"`
	JobID         string          `json:"jobId"`
	Status        types.JobStatus `json:"status"`
	Reason        string          `json:"reason,omitempty"`
	FailoverCount int             `json:"failoverCount"`
	Count         int             `json:"count"`
	Results       []types.Outcome `json:"results"`
}

// ConversationRequest sends one text into an existing conversation
type ConversationRequest struct {
	AccountID string `json:"accountId,omitempty"`
	Address   string `json:"chatId"`
	Message   string `json:"message"`
}

// ConversationResult names the account that sent the message
type ConversationResult struct {
	AccountID string `json:"accountId"`
	MessageID string `json:"messageId,omitempty"`
	Attempts  int    `json:"attempts"`
}
