package console

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mdp/qrterminal/v3"

	"github.com/tjfontaine/routex-demo/internal/credentials"
	"github.com/tjfontaine/routex-demo/internal/domain"
	"github.com/tjfontaine/routex-demo/internal/search"
)

var (
	colorAccent  = lipgloss.Color("#8BC34A")
	colorError   = lipgloss.Color("#e53935")
	colorWarning = lipgloss.Color("#FFC107")
	colorMuted   = lipgloss.Color("#6b7280")
)

// Renderer writes styled output. Styles degrade to plain text when w is not
// a terminal.
type Renderer struct {
	w       io.Writer
	tempDir string

	title   lipgloss.Style
	muted   lipgloss.Style
	errText lipgloss.Style
	warn    lipgloss.Style
	key     lipgloss.Style
	box     lipgloss.Style
}

// NewRenderer creates a renderer writing to w. Dialog images are written to
// tempDir, the system default when empty.
func NewRenderer(w io.Writer, tempDir string) *Renderer {
	r := lipgloss.NewRenderer(w)
	return &Renderer{
		w:       w,
		tempDir: tempDir,
		title:   r.NewStyle().Bold(true).Foreground(colorAccent),
		muted:   r.NewStyle().Foreground(colorMuted),
		errText: r.NewStyle().Bold(true).Foreground(colorError),
		warn:    r.NewStyle().Foreground(colorWarning),
		key:     r.NewStyle().Bold(true),
		box:     r.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorAccent).Padding(0, 1),
	}
}

// Title prints a section heading.
func (r *Renderer) Title(text string) {
	fmt.Fprintln(r.w, r.title.Render(text))
}

// Info prints a plain line.
func (r *Renderer) Info(format string, args ...any) {
	fmt.Fprintln(r.w, fmt.Sprintf(format, args...))
}

// Hint prints a de-emphasized line.
func (r *Renderer) Hint(format string, args ...any) {
	fmt.Fprintln(r.w, r.muted.Render(fmt.Sprintf(format, args...)))
}

// Error prints err with the details its kind carries.
func (r *Renderer) Error(err error) {
	fmt.Fprintln(r.w, r.errText.Render("Error: ")+err.Error())

	var terr *domain.TransportError
	if errors.As(err, &terr) && terr.TraceIDString() != "" {
		fmt.Fprintln(r.w, r.muted.Render("Trace ID: "+terr.TraceIDString()))
	}
	switch domain.KindOf(err) {
	case domain.ErrorKindUnexpectedResponse:
		fmt.Fprintln(r.w, r.warn.Render("The service answered in a way this client does not understand. Restart the flow to try again."))
	case domain.ErrorKindTransport:
		fmt.Fprintln(r.w, r.muted.Render("Nothing was retried. You can try again."))
	}
}

// Connections prints a numbered search result list.
func (r *Renderer) Connections(conns []domain.ConnectionInfo) {
	for i, c := range conns {
		name := c.DisplayName
		if name == search.TruncationMarker {
			name = r.muted.Render(name + " more results, refine the search")
		}
		fmt.Fprintf(r.w, "  %s %s\n", r.key.Render(fmt.Sprintf("%2d)", i+1)), name)
	}
}

// Connection prints what the user needs to know before entering credentials.
func (r *Renderer) Connection(c domain.ConnectionInfo, f credentials.Fields) {
	r.Title(c.DisplayName)
	if c.Advice != "" {
		fmt.Fprintln(r.w, r.box.Render(c.Advice))
	}
	if !f.UserID.Visible && !f.Password.Visible {
		r.Hint("This connection needs no credentials.")
	}
}

// Dialog prints an interrupt. seq is its response counter; the first one
// carries a note that answers are final.
func (r *Renderer) Dialog(seq int, d domain.Dialog) error {
	if seq == 1 {
		r.Hint("Each step can be answered once; there is no going back.")
	}
	if d.Message != "" {
		fmt.Fprintln(r.w, r.box.Render(d.Message))
	}
	if d.Image != nil {
		path, err := r.writeImage(d.Image)
		if err != nil {
			return err
		}
		r.Info("Image: %s", path)
	}

	switch in := d.Input.(type) {
	case domain.Confirmation:
		if delay, ok := in.PollingDelay(); ok {
			r.Hint("Status can be checked again after %s.", delay)
		}
	case domain.Selection:
		for i, opt := range in.Options {
			fmt.Fprintf(r.w, "  %s %s\n", r.key.Render(fmt.Sprintf("%2d)", i+1)), opt.Label)
			if opt.Explanation != "" {
				fmt.Fprintf(r.w, "      %s\n", r.muted.Render(opt.Explanation))
			}
		}
	case domain.Field:
		var notes []string
		if in.InputKind != "" && in.InputKind != domain.InputText {
			notes = append(notes, strings.ToLower(string(in.InputKind)))
		}
		if in.MinLength != nil && in.MaxLength != nil && *in.MinLength == *in.MaxLength {
			notes = append(notes, fmt.Sprintf("exactly %d characters", *in.MinLength))
		} else {
			if in.MinLength != nil {
				notes = append(notes, fmt.Sprintf("min %d", *in.MinLength))
			}
			if in.MaxLength != nil {
				notes = append(notes, fmt.Sprintf("max %d", *in.MaxLength))
			}
		}
		if len(notes) > 0 {
			r.Hint("(%s)", strings.Join(notes, ", "))
		}
	}
	return nil
}

func (r *Renderer) writeImage(img *domain.Image) (string, error) {
	ext := ".bin"
	if exts, err := mime.ExtensionsByType(img.MimeType); err == nil && len(exts) > 0 {
		ext = exts[0]
	}
	f, err := os.CreateTemp(r.tempDir, "routex-dialog-*"+ext)
	if err != nil {
		return "", fmt.Errorf("failed to store dialog image: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(img.Data); err != nil {
		return "", fmt.Errorf("failed to store dialog image: %w", err)
	}
	return f.Name(), nil
}

// Redirect shows the external URL as text and as a QR code, so it can be
// opened on a phone with the banking app.
func (r *Renderer) Redirect(externalURL string) {
	r.Title("Continue at your bank")
	fmt.Fprintln(r.w, externalURL)
	qrterminal.GenerateHalfBlock(externalURL, qrterminal.L, r.w)
}

// Result prints the terminal response. The payload is shown as received; it
// has not been verified.
func (r *Renderer) Result(res domain.Result) {
	r.Title("Done")
	r.Hint("Unverified result (verify it on your backend before trusting it):")
	fmt.Fprintln(r.w, res.Payload)
	if len(res.ConnectionData) > 0 {
		r.Hint("Connection data retained for the next run.")
	}
}
