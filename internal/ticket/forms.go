package ticket

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// Currency is the only currency the demo forms accept.
const Currency = "EUR"

var amountPattern = regexp.MustCompile(`^[0-9]+(?:\.[0-9]{0,2})?$`)

const dateLayout = "2006-01-02"

// Amount is a decimal amount as entered, e.g. "12.50".
type Amount struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// Account identifies an account by IBAN.
type Account struct {
	IBAN     string `json:"iban"`
	Currency string `json:"currency,omitempty"`
}

// CollectPaymentData is the ticket body for CollectPayment.
type CollectPaymentData struct {
	Amount          Amount  `json:"amount"`
	CreditorAccount Account `json:"creditorAccount"`
	CreditorName    string  `json:"creditorName"`
	Remittance      string  `json:"remittance"`
}

// NewCollectPaymentData fills in the fixed currency.
func NewCollectPaymentData(amount, creditorName, creditorIBAN, remittance string) CollectPaymentData {
	return CollectPaymentData{
		Amount:          Amount{Amount: strings.TrimSpace(amount), Currency: Currency},
		CreditorAccount: Account{IBAN: normalizeIBAN(creditorIBAN)},
		CreditorName:    strings.TrimSpace(creditorName),
		Remittance:      strings.TrimSpace(remittance),
	}
}

// Validate checks the form before a ticket is requested.
func (d CollectPaymentData) Validate() error {
	var errs []error
	if !amountPattern.MatchString(d.Amount.Amount) {
		errs = append(errs, fmt.Errorf("amount %q must look like 12 or 12.34", d.Amount.Amount))
	}
	if d.Amount.Currency != Currency {
		errs = append(errs, fmt.Errorf("currency must be %s", Currency))
	}
	if d.CreditorName == "" {
		errs = append(errs, errors.New("creditor name is required"))
	}
	if d.CreditorAccount.IBAN == "" {
		errs = append(errs, errors.New("creditor IBAN is required"))
	}
	if d.Remittance == "" {
		errs = append(errs, errors.New("remittance is required"))
	}
	return errors.Join(errs...)
}

// Range is a booking date range. To is optional.
type Range struct {
	From string `json:"from"`
	To   string `json:"to,omitempty"`
}

// TransactionsData is the ticket body for Transactions.
type TransactionsData struct {
	Account Account `json:"account"`
	Range   Range   `json:"range"`
	Webhook string  `json:"webhook,omitempty"`
}

// NewTransactionsData fills in the fixed currency.
func NewTransactionsData(iban, from, to, webhook string) TransactionsData {
	return TransactionsData{
		Account: Account{IBAN: normalizeIBAN(iban), Currency: Currency},
		Range:   Range{From: strings.TrimSpace(from), To: strings.TrimSpace(to)},
		Webhook: strings.TrimSpace(webhook),
	}
}

// Validate checks the form before a ticket is requested.
func (d TransactionsData) Validate() error {
	var errs []error
	if d.Account.IBAN == "" {
		errs = append(errs, errors.New("account IBAN is required"))
	}
	from, err := time.Parse(dateLayout, d.Range.From)
	if err != nil {
		errs = append(errs, fmt.Errorf("from date %q must be YYYY-MM-DD", d.Range.From))
	}
	if d.Range.To != "" {
		to, err := time.Parse(dateLayout, d.Range.To)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("to date %q must be YYYY-MM-DD", d.Range.To))
		case to.Before(from):
			errs = append(errs, errors.New("to date is before from date"))
		}
	}
	if d.Webhook != "" {
		u, err := url.Parse(d.Webhook)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("webhook %q must be an http(s) URL", d.Webhook))
		}
	}
	return errors.Join(errs...)
}

func normalizeIBAN(s string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
}
