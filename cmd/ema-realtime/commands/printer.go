package commands

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	transport "github.com/koscakluka/ema-realtime/core"
	"github.com/koscakluka/ema-realtime/core/events"
	"github.com/muesli/reflow/wordwrap"
)

var printedKinds = []events.Kind{
	events.KindTransportStateChanged,
	events.KindTransportError,
	events.KindUserSpeechStarted,
	events.KindTranscript,
	events.KindBotSpeechStopped,
	events.KindBotTTSText,
}

// printer renders session events as a chat log. Bot text is collected per
// utterance and printed once the bot stops speaking.
type printer struct {
	mu    sync.Mutex
	out   io.Writer
	width int

	userLabel   lipgloss.Style
	botLabel    lipgloss.Style
	statusStyle lipgloss.Style
	errorStyle  lipgloss.Style

	botText strings.Builder
}

func newPrinter(out io.Writer, width int) *printer {
	renderer := lipgloss.NewRenderer(out)
	return &printer{
		out:         out,
		width:       width,
		userLabel:   renderer.NewStyle().Bold(true).Foreground(lipgloss.Color("6")),
		botLabel:    renderer.NewStyle().Bold(true).Foreground(lipgloss.Color("5")),
		statusStyle: renderer.NewStyle().Faint(true),
		errorStyle:  renderer.NewStyle().Foreground(lipgloss.Color("1")),
	}
}

func (p *printer) register(tr *transport.Transport) error {
	for _, kind := range printedKinds {
		if err := tr.On(kind, p.handle); err != nil {
			return err
		}
	}
	return nil
}

func (p *printer) handle(event events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch e := event.(type) {
	case events.TransportStateChanged:
		p.status(fmt.Sprintf("%s -> %s", e.Previous, e.Current))
	case events.TransportError:
		label := "error"
		if e.Fatal {
			label = "fatal error"
		}
		fmt.Fprintln(p.out, p.errorStyle.Render(fmt.Sprintf("%s: %v", label, e.Err)))
	case events.UserSpeechStarted:
		p.status("listening...")
	case events.Transcript:
		if e.Fragment.IsFinal() {
			p.line(p.userLabel.Render("you:"), e.Fragment.Text)
		}
	case events.BotTTSText:
		p.botText.WriteString(e.Text)
	case events.BotSpeechStopped:
		text := strings.TrimSpace(p.botText.String())
		p.botText.Reset()
		if text == "" {
			return
		}
		if e.Interrupted {
			text += " " + p.statusStyle.Render("(interrupted)")
		}
		p.line(p.botLabel.Render("bot:"), text)
	}
}

func (p *printer) status(text string) {
	fmt.Fprintln(p.out, p.statusStyle.Render(text))
}

func (p *printer) line(label, text string) {
	fmt.Fprintf(p.out, "%s %s\n", label, wordwrap.String(text, p.width))
}
