package domain

import "time"

// DialogInput is the interactive part of a Dialog: Confirmation, Selection or
// Field.
type DialogInput interface {
	isDialogInput()
	Kind() string
}

// Confirmation asks the user to confirm, e.g. after approving in a banking
// app. When PollingDelaySecs is set the confirmation may be sent without user
// interaction after that delay.
type Confirmation struct {
	PollingDelaySecs *int
}

// PollingDelay returns the polling delay and whether polling is allowed.
func (c Confirmation) PollingDelay() (time.Duration, bool) {
	if c.PollingDelaySecs == nil {
		return 0, false
	}
	return time.Duration(*c.PollingDelaySecs) * time.Second, true
}

// Selection asks the user to pick exactly one of the ordered options.
type Selection struct {
	Options []SelectionOption
}

// SelectionOption is one entry of a Selection. Key is sent back as the answer.
type SelectionOption struct {
	Key         string
	Label       string
	Explanation string
}

// Lookup returns the option with the given key.
func (s Selection) Lookup(key string) (SelectionOption, bool) {
	for _, opt := range s.Options {
		if opt.Key == key {
			return opt, true
		}
	}
	return SelectionOption{}, false
}

// Field asks for free-form input.
type Field struct {
	InputKind InputKind
	Secrecy   SecrecyLevel
	MinLength *int
	MaxLength *int
}

// InputKind hints at the kind of value a Field expects.
type InputKind string

const (
	InputDate   InputKind = "Date"
	InputEmail  InputKind = "Email"
	InputNumber InputKind = "Number"
	InputPhone  InputKind = "Phone"
	InputText   InputKind = "Text"
)

// SecrecyLevel tells whether a Field's value must be masked while typed.
type SecrecyLevel string

const (
	SecrecyNormal   SecrecyLevel = "Normal"
	SecrecyPassword SecrecyLevel = "Password"
)

func (Confirmation) isDialogInput() {}
func (Selection) isDialogInput()    {}
func (Field) isDialogInput()        {}

func (Confirmation) Kind() string { return "Confirmation" }
func (Selection) Kind() string    { return "Selection" }
func (Field) Kind() string        { return "Field" }
