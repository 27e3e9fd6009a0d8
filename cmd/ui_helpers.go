package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"atomicgo.dev/cursor"
	"github.com/pterm/pterm"

	"hueq/cli/internal/auth"
	"hueq/cli/internal/backend"
	herrors "hueq/cli/internal/errors"
	"hueq/cli/internal/httperrors"
	"hueq/cli/internal/logging"
	"hueq/cli/internal/notebook"
	"hueq/cli/internal/scheduler"
	"hueq/cli/internal/sink"
	"hueq/cli/internal/terminal"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// statusArea redraws render() under a spinner until stopped. It hides the cursor while
// running and removes itself when done.
type statusArea struct {
	area *pterm.AreaPrinter
	stop chan struct{}
	wg   sync.WaitGroup
}

func startStatusArea(render func(frame string) string) *statusArea {
	if !terminal.IsInteractive() {
		return &statusArea{}
	}
	area, err := pterm.DefaultArea.WithRemoveWhenDone(true).Start()
	if err != nil {
		return &statusArea{}
	}
	cursor.Hide()
	s := &statusArea{area: area, stop: make(chan struct{})}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		t := time.NewTicker(120 * time.Millisecond)
		defer t.Stop()
		last := ""
		for i := 0; ; i++ {
			select {
			case <-s.stop:
				return
			case <-t.C:
				text := render(spinnerFrames[i%len(spinnerFrames)])
				if text != last {
					area.Update(text)
					last = text
				}
			}
		}
	}()
	return s
}

func (s *statusArea) Stop() {
	if s.area == nil {
		return
	}
	close(s.stop)
	s.wg.Wait()
	_ = s.area.Stop()
	s.area = nil
	cursor.Show()
}

// passwordPrompt reads passwords from the terminal, or is nil when there is none.
func passwordPrompt() auth.PromptFunc {
	if !terminal.IsInteractive() {
		return nil
	}
	return terminal.ReadPassword
}

// account returns the configured user, falling back to the logged-in one.
func account(svc *auth.Service) (string, error) {
	if current.cfg.Username != "" {
		return current.cfg.Username, nil
	}
	st, ok, err := svc.WhoAmI()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", herrors.New(herrors.InvalidArgument, "no user: pass --username or run hueq login")
	}
	return st.Account, nil
}

func backendOptions(user, password string) backend.Options {
	cfg := current.cfg
	return backend.Options{
		BaseURL:  cfg.BaseURL,
		Username: user,
		Password: password,
		Timeout:  cfg.HTTPTimeout,
		Policy:   cfg.RetryPolicy(),
		Logger:   current.log,
	}
}

// openClient authenticates and opens the root notebook. The caller closes the client.
func openClient(ctx context.Context) (*scheduler.Client, error) {
	svc, err := auth.NewKeychainService(passwordPrompt())
	if err != nil {
		return nil, err
	}
	user, err := account(svc)
	if err != nil {
		return nil, err
	}
	password, _, err := svc.ResolvePassword(current.cfg.BaseURL, user, passwordFlag)
	if err != nil {
		return nil, err
	}
	api, err := backend.New(backendOptions(user, password))
	if err != nil {
		return nil, err
	}
	cfg := current.cfg.NotebookConfig()
	cfg.Logger = current.log
	return scheduler.NewClient(ctx, api, cfg, scheduler.ClientOptions{
		Interval: current.cfg.ScheduleInterval,
		Metrics:  current.metrics,
		Logger:   current.log,
	})
}

// closeClient closes c, reporting but not returning failures.
func closeClient(ctx context.Context, c *scheduler.Client) {
	if err := c.Close(context.WithoutCancel(ctx)); err != nil {
		current.log.Warn("closing notebooks failed", slog.String("error", logging.Mask(err.Error())))
	}
}

// report prints err for the user and returns it.
func report(action string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, context.Canceled):
		pterm.Println("⏹  Interrupted")
	case herrors.IsKind(err, herrors.RemoteExecution):
		logging.PresentRemoteError(err.Error())
	case herrors.IsKind(err, herrors.Transport), herrors.IsKind(err, herrors.AuthFailed),
		herrors.IsKind(err, herrors.ProxyOverloaded):
		httperrors.Print(httperrors.Explain(err, action, httperrors.HostOf(current.cfg.BaseURL)))
	default:
		pterm.Println(logging.PresentError("❌ Failed "+action, err))
	}
	return err
}

// readStatements returns the statements given as arguments followed by the contents of
// each file. "-" reads stdin.
func readStatements(args, files []string) ([]string, error) {
	var out []string
	for _, a := range args {
		if s := trimStatement(a); s != "" {
			out = append(out, s)
		}
	}
	for _, f := range files {
		var (
			b   []byte
			err error
		)
		if f == "-" {
			b, err = io.ReadAll(os.Stdin)
		} else {
			b, err = os.ReadFile(f)
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f, err)
		}
		if s := trimStatement(string(b)); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil, herrors.New(herrors.InvalidArgument, "no statements given")
	}
	return out, nil
}

func trimStatement(s string) string {
	return strings.TrimRight(strings.TrimSpace(s), "; \t\n")
}

// printTable renders at most limit rows of t.
func printTable(t notebook.Table, limit int) error {
	if len(t.Columns) == 0 {
		pterm.Println("(no result set)")
		return nil
	}
	rows := t.Rows
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	data := make([][]string, 0, len(rows)+1)
	data = append(data, t.Columns)
	for _, r := range rows {
		line := make([]string, len(r))
		for i, v := range r {
			line[i] = sink.Text(v)
		}
		data = append(data, line)
	}
	if err := pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(data).Render(); err != nil {
		return err
	}
	if len(rows) < len(t.Rows) {
		pterm.Printf("… %d of %d rows shown\n", len(rows), len(t.Rows))
	} else {
		pterm.Printf("%d rows\n", len(t.Rows))
	}
	return nil
}
