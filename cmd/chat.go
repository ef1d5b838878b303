package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/eduia/tutor/internal/exitcode"
	"github.com/eduia/tutor/internal/llm"
	"github.com/eduia/tutor/internal/persona"
	"github.com/eduia/tutor/internal/session"
	"github.com/eduia/tutor/internal/ui"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const replHelp = `Interactive commands:
  /subject <name>   switch tutor (starts a new conversation)
  /subjects         list tutors
  /image <path>     attach an image to the next message
  /reset            start over with the current tutor
  /help             show this help
  /quit             exit`

var (
	chatSubject string
	chatImage   string
)

var chatCmd = &cobra.Command{
	Use:   "chat [message...]",
	Short: "Chat with a subject tutor",
	Long: `Start a tutoring chat. With a message argument (or piped stdin) one
turn is sent and the reply printed; otherwise an interactive session starts.

` + replHelp,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatSubject, "subject", "s", "", "Tutor to start with (id or name, e.g. math, historia)")
	chatCmd.Flags().StringVarP(&chatImage, "image", "i", "", "Image file to attach to the first message")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	catalog, err := persona.Load(cfg.PersonasFile)
	if err != nil {
		return err
	}

	p := catalog.First()
	if chatSubject != "" {
		found, ok := catalog.Find(chatSubject)
		if !ok {
			return exitcode.Misuse(fmt.Sprintf("unknown subject %q (see 'eduia subjects')", chatSubject))
		}
		p = found
	}

	out := cmd.OutOrStdout()
	r := newChatRunner(session.NewManager(cfg), catalog, ui.NewStyles(out), out)
	if chatImage != "" {
		if err := r.attach(chatImage); err != nil {
			return exitcode.Misuse(err.Error())
		}
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	in := cmd.InOrStdin()
	message := strings.Join(args, " ")
	if message == "" && !isTerminal(in) {
		data, err := io.ReadAll(in)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		message = strings.TrimSpace(string(data))
		if message == "" && r.image == nil {
			return exitcode.Misuse("no message given on stdin")
		}
	}

	if message != "" || !isTerminal(in) {
		return r.oneShot(ctx, p, message)
	}
	return r.repl(ctx, p, in)
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// errTurnFailed marks a turn whose failure was already shown to the user.
var errTurnFailed = errors.New("turn failed")

type chatRunner struct {
	manager *session.Manager
	catalog *persona.Catalog
	styles  *ui.Styles
	out     io.Writer

	current persona.Persona
	image   *llm.Image
}

func newChatRunner(m *session.Manager, catalog *persona.Catalog, styles *ui.Styles, out io.Writer) *chatRunner {
	return &chatRunner{manager: m, catalog: catalog, styles: styles, out: out}
}

// selectPersona starts a new conversation with p and greets the user.
func (r *chatRunner) selectPersona(ctx context.Context, p persona.Persona) error {
	if err := r.manager.StartPersona(ctx, p); err != nil {
		return err
	}
	r.current = p
	fmt.Fprintf(r.out, "%s %s\n", r.styles.Bullet(p.Color), r.styles.PersonaLabel(p.Name, p.Color))
	fmt.Fprintln(r.out, p.Greeting())
	fmt.Fprintln(r.out)
	return nil
}

// attach loads an image that will go with the next message.
func (r *chatRunner) attach(path string) error {
	img, err := loadImage(path)
	if err != nil {
		return err
	}
	r.image = img
	return nil
}

// send streams one turn to the output. A backend failure is printed and
// reported as an error wrapping errTurnFailed and the underlying cause.
func (r *chatRunner) send(ctx context.Context, text string) error {
	in := llm.TurnInput{Text: text, Image: r.image}
	stream, err := r.manager.SendMessageStream(ctx, in)
	if err != nil {
		return err
	}
	r.image = nil
	defer stream.Close()

	wrote := false
	for {
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if wrote {
				fmt.Fprintln(r.out)
			}
			return err
		}
		switch ev.Type {
		case llm.EventTextDelta:
			fmt.Fprint(r.out, ev.Text)
			wrote = true
		case llm.EventError:
			if wrote {
				fmt.Fprintln(r.out)
			}
			fmt.Fprintln(r.out, r.styles.Error.Render(ev.Text))
			return fmt.Errorf("%w: %w", errTurnFailed, ev.Err)
		}
	}
	if wrote {
		fmt.Fprintln(r.out)
	}
	return nil
}

// oneShot sends a single turn and maps failures to exit codes.
func (r *chatRunner) oneShot(ctx context.Context, p persona.Persona, message string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	if err := r.manager.StartPersona(ctx, p); err != nil {
		return err
	}
	r.current = p

	err := r.send(ctx, message)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		return exitcode.Cancel()
	case errors.Is(err, llm.ErrConfigMissing):
		return exitcode.ExitError{Code: exitcode.ConfigMissing}
	case errors.Is(err, errTurnFailed):
		return exitcode.ExitError{Code: exitcode.Error}
	case session.IsUsageError(err):
		return exitcode.Misuse(err.Error())
	default:
		return err
	}
}

// repl runs the interactive loop until /quit or end of input.
func (r *chatRunner) repl(ctx context.Context, p persona.Persona, in io.Reader) error {
	if !r.manager.HasCredential() {
		fmt.Fprintln(r.out, r.styles.Error.Render(llm.MessageConfigMissing))
		fmt.Fprintf(r.out, "%s\n\n", r.styles.Muted.Render("Run 'eduia config init' and set api_key, or export API_KEY."))
	}
	if err := r.selectPersona(ctx, p); err != nil {
		return err
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(r.out, r.styles.Muted.Render(ui.Truncate(r.current.Name, 24)+" > "))
		if !scanner.Scan() {
			fmt.Fprintln(r.out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" && r.image == nil {
			continue
		}

		if strings.HasPrefix(line, "/") {
			quit, err := r.command(ctx, line)
			if err != nil {
				fmt.Fprintln(r.out, r.styles.FormatResult(false, err.Error()))
			}
			if quit {
				return nil
			}
			continue
		}

		turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
		err := r.send(turnCtx, line)
		stop()
		switch {
		case err == nil, errors.Is(err, errTurnFailed):
		case errors.Is(err, context.Canceled):
			fmt.Fprintln(r.out, r.styles.Muted.Render("(interrompido)"))
		case session.IsUsageError(err):
			fmt.Fprintln(r.out, r.styles.Error.Render(llm.MessageUsage))
		default:
			return err
		}
	}
}

// command runs a slash command. It reports whether the loop should exit.
func (r *chatRunner) command(ctx context.Context, line string) (bool, error) {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(name) {
	case "/quit", "/exit", "/q":
		return true, nil
	case "/help", "/?":
		fmt.Fprintln(r.out, replHelp)
		return false, nil
	case "/subjects":
		printSubjects(r.out, r.styles, r.catalog, r.current.ID)
		return false, nil
	case "/subject":
		if arg == "" {
			return false, errors.New("usage: /subject <name>")
		}
		p, ok := r.catalog.Find(arg)
		if !ok {
			return false, fmt.Errorf("unknown subject %q", arg)
		}
		return false, r.selectPersona(ctx, p)
	case "/reset":
		r.image = nil
		return false, r.selectPersona(ctx, r.current)
	case "/image":
		if arg == "" {
			return false, errors.New("usage: /image <path>")
		}
		if err := r.attach(arg); err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, r.styles.FormatResult(true, "image attached to the next message"))
		return false, nil
	default:
		return false, fmt.Errorf("unknown command %s (try /help)", name)
	}
}
