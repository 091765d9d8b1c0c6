package routex

import (
	"encoding/json"
	"fmt"

	"github.com/tjfontaine/routex-demo/internal/domain"
)

const (
	typeResult   = "Result"
	typeDialog   = "Dialog"
	typeRedirect = "Redirect"

	inputConfirmation = "Confirmation"
	inputSelection    = "Selection"
	inputField        = "Field"
)

// DecodeResponse decodes a wire response. Unknown response or dialog input
// types decode to domain.UnknownResponse instead of failing, so the caller
// can surface them as an unexpected response kind.
func DecodeResponse(data []byte) (domain.Response, error) {
	var w wireResponse
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	switch w.Type {
	case typeResult:
		return domain.Result{Payload: w.Payload, ConnectionData: w.ConnectionData}, nil

	case typeRedirect:
		return domain.RedirectHandle{Handle: w.Handle, Context: w.Context}, nil

	case typeDialog:
		if w.Input == nil {
			return domain.UnknownResponse{Type: "Dialog/none"}, nil
		}
		input, ok := decodeInput(w.Input)
		if !ok {
			return domain.UnknownResponse{Type: "Dialog/" + w.Input.Type}, nil
		}
		d := domain.Dialog{
			Message: w.Message,
			Input:   input,
			Context: w.Context,
		}
		if w.Image != nil {
			d.Image = &domain.Image{Data: w.Image.Data, MimeType: w.Image.MimeType}
		}
		return d, nil

	default:
		return domain.UnknownResponse{Type: w.Type}, nil
	}
}

func decodeInput(w *wireInput) (domain.DialogInput, bool) {
	switch w.Type {
	case inputConfirmation:
		return domain.Confirmation{PollingDelaySecs: w.PollingDelaySecs}, true

	case inputSelection:
		opts := make([]domain.SelectionOption, len(w.Options))
		for i, o := range w.Options {
			opts[i] = domain.SelectionOption{Key: o.Key, Label: o.Label, Explanation: o.Explanation}
		}
		return domain.Selection{Options: opts}, true

	case inputField:
		kind := domain.InputKind(w.InputType)
		switch kind {
		case domain.InputDate, domain.InputEmail, domain.InputNumber, domain.InputPhone, domain.InputText:
		case "":
			kind = domain.InputText
		default:
			return nil, false
		}
		secrecy := domain.SecrecyNormal
		if w.SecrecyLevel == string(domain.SecrecyPassword) {
			secrecy = domain.SecrecyPassword
		}
		return domain.Field{
			InputKind: kind,
			Secrecy:   secrecy,
			MinLength: w.MinLength,
			MaxLength: w.MaxLength,
		}, true
	}
	return nil, false
}

// EncodeResponse is the inverse of DecodeResponse. It is used by test fakes
// of the remote service.
func EncodeResponse(r domain.Response) ([]byte, error) {
	var w wireResponse
	switch v := r.(type) {
	case domain.Result:
		w = wireResponse{Type: typeResult, Payload: v.Payload, ConnectionData: v.ConnectionData}
	case domain.RedirectHandle:
		w = wireResponse{Type: typeRedirect, Handle: v.Handle, Context: v.Context}
	case domain.Dialog:
		w = wireResponse{Type: typeDialog, Message: v.Message, Context: v.Context, Input: encodeInput(v.Input)}
		if v.Image != nil {
			w.Image = &wireImage{Data: v.Image.Data, MimeType: v.Image.MimeType}
		}
	case domain.UnknownResponse:
		w = wireResponse{Type: v.Type}
	default:
		return nil, fmt.Errorf("cannot encode response of type %T", r)
	}
	return json.Marshal(w)
}

func encodeInput(in domain.DialogInput) *wireInput {
	switch v := in.(type) {
	case domain.Confirmation:
		return &wireInput{Type: inputConfirmation, PollingDelaySecs: v.PollingDelaySecs}
	case domain.Selection:
		opts := make([]wireOption, len(v.Options))
		for i, o := range v.Options {
			opts[i] = wireOption{Key: o.Key, Label: o.Label, Explanation: o.Explanation}
		}
		return &wireInput{Type: inputSelection, Options: opts}
	case domain.Field:
		return &wireInput{
			Type:         inputField,
			InputType:    string(v.InputKind),
			SecrecyLevel: string(v.Secrecy),
			MinLength:    v.MinLength,
			MaxLength:    v.MaxLength,
		}
	}
	return nil
}
