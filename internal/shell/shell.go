// Package shell はWeb層に接続する対話シェルを提供する。
// セッションの状態はsessionctxでミラーし、画面遷移は端末上のパスとして表現する。
package shell

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sort"
	"strings"

	"github.com/hitoshi/taskdeck/internal/model"
	"github.com/hitoshi/taskdeck/internal/route"
	"github.com/hitoshi/taskdeck/internal/sessionctx"
	"github.com/hitoshi/taskdeck/internal/validation"
)

// APIClient はタスク・プロジェクトAPIの読み取りを提供する。
type APIClient interface {
	FetchAPI(ctx context.Context, path string) (json.RawMessage, error)
}

const helpText = `commands:
  login [email] [password]   sign in (missing values are prompted)
  register                   create an account (fields are prompted)
  logout                     sign out
  refresh                    renew the access token
  goto <path>                navigate, e.g. goto /dashboard/tasks
  whoami                     show the cached profile
  status                     show session state and current path
  tasks [id]                 fetch /api/tasks
  projects [id]              fetch /api/projects
  help                       show this help
  quit                       exit
`

// Shell は対話シェル。
type Shell struct {
	session *sessionctx.Context
	api     APIClient
	nav     *Navigator
	out     *output
	logger  *slog.Logger
}

// New はShellを生成する。startPathは起動時の画面（通常は /dashboard）。
func New(backend sessionctx.Backend, api APIClient, w io.Writer, startPath string, logger *slog.Logger) *Shell {
	out := &output{w: w}
	if startPath == "" {
		startPath = route.DashboardPath
	}
	nav := &Navigator{out: out, path: startPath}

	return &Shell{
		session: sessionctx.New(backend, nav, &Notifier{out: out}, logger),
		api:     api,
		nav:     nav,
		out:     out,
		logger:  logger,
	}
}

// Session はシェルが保持するセッションのミラーを返す。
func (s *Shell) Session() *sessionctx.Context {
	return s.session
}

// Run はセッションを読み込み、inから1行ずつコマンドを読んで実行する。
// quit または入力の終端で終了する。
func (s *Shell) Run(ctx context.Context, in io.Reader) error {
	updates, cancel := s.session.Subscribe()
	defer cancel()
	go s.logTransitions(updates)

	s.session.Bootstrap(ctx)

	lines := &lineReader{scanner: bufio.NewScanner(in), out: s.out}
	for {
		s.prompt()
		line, ok := lines.next()
		if !ok {
			s.out.printf("\n")
			return lines.err()
		}
		if quit := s.execute(ctx, line, lines); quit {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// logTransitions はセッション状態の変化をデバッグログに記録する。
func (s *Shell) logTransitions(updates <-chan sessionctx.Snapshot) {
	last := sessionctx.State(-1)
	for snap := range updates {
		if snap.State == last {
			continue
		}
		last = snap.State
		s.logger.Debug("session state changed", slog.String("state", snap.State.String()))
	}
}

func (s *Shell) prompt() {
	snap := s.session.Snapshot()
	who := "guest"
	if snap.Profile != nil {
		who = snap.Profile.Username
	}
	s.out.printf("taskdeck [%s %s]> ", who, s.nav.CurrentPath())
}

// execute は1行のコマンドを実行する。終了する場合にtrueを返す。
func (s *Shell) execute(ctx context.Context, line string, lines *lineReader) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "quit", "exit":
		return true
	case "help", "?":
		s.out.printf("%s", helpText)
	case "login":
		s.login(ctx, args, lines)
	case "register":
		s.register(ctx, lines)
	case "logout":
		s.session.Logout(ctx)
	case "refresh":
		if s.session.Refresh(ctx) {
			s.out.printf("access token renewed\n")
		}
	case "goto":
		s.gotoPath(args)
	case "whoami":
		s.whoami()
	case "status":
		s.status()
	case "tasks", "projects":
		s.fetch(ctx, cmd, args)
	default:
		s.out.printf("unknown command %q (type help)\n", cmd)
	}
	return false
}

func (s *Shell) login(ctx context.Context, args []string, lines *lineReader) {
	input := validation.LoginInput{}
	if len(args) > 0 {
		input.Email = args[0]
	} else {
		input.Email = lines.ask("email")
	}
	if len(args) > 1 {
		input.Password = args[1]
	} else {
		input.Password = lines.ask("password")
	}

	input.Email = strings.TrimSpace(input.Email)

	// フォーム境界での検証。失敗した場合はサーバーを呼ばない
	if fields := validation.ValidateLogin(input); !fields.OK() {
		s.printFieldErrors(fields)
		return
	}

	s.session.Login(ctx, input)
}

func (s *Shell) register(ctx context.Context, lines *lineReader) {
	input := validation.RegisterInput{
		Username:        lines.ask("username"),
		Email:           lines.ask("email"),
		FirstName:       lines.ask("first name"),
		LastName:        lines.ask("last name"),
		Password:        lines.ask("password"),
		PasswordConfirm: lines.ask("confirm password"),
	}

	if fields := validation.ValidateRegister(input); !fields.OK() {
		s.printFieldErrors(fields)
		return
	}

	s.session.Register(ctx, input)
}

func (s *Shell) gotoPath(args []string) {
	if len(args) != 1 || !strings.HasPrefix(args[0], "/") {
		s.out.printf("usage: goto <path>\n")
		return
	}
	s.nav.Push(args[0])
	s.session.PathChanged(args[0])
}

func (s *Shell) whoami() {
	snap := s.session.Snapshot()
	if snap.Profile == nil {
		s.out.printf("not signed in\n")
		return
	}
	p := snap.Profile
	s.out.printf("%s (%s %s) <%s> role=%s id=%d\n", p.Username, p.FirstName, p.LastName, p.Email, p.Role, p.ID)
}

func (s *Shell) status() {
	snap := s.session.Snapshot()
	s.out.printf("state=%s path=%s busy=%t\n", snap.State, s.nav.CurrentPath(), snap.Busy)
}

func (s *Shell) fetch(ctx context.Context, resource string, args []string) {
	path := "/api/" + resource
	if len(args) > 0 {
		path += "/" + url.PathEscape(args[0])
	}

	raw, err := s.api.FetchAPI(ctx, path)
	if err != nil {
		s.out.printf("[!] %s\n", model.FailureDescription(err, "Request failed"))
		return
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		s.out.printf("%s\n", raw)
		return
	}
	s.out.printf("%s\n", buf.String())
}

func (s *Shell) printFieldErrors(fields validation.FieldErrors) {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		s.out.printf("  %s: %s\n", name, fields[name])
	}
}

// lineReader は入力を1行ずつ読む。フォーム項目の問い合わせにも使う。
type lineReader struct {
	scanner *bufio.Scanner
	out     *output
}

func (l *lineReader) next() (string, bool) {
	if !l.scanner.Scan() {
		return "", false
	}
	return l.scanner.Text(), true
}

// ask はラベルを表示して1行読む。入力が終端に達した場合は空文字列を返す。
func (l *lineReader) ask(label string) string {
	l.out.printf("%s: ", label)
	line, _ := l.next()
	return line
}

func (l *lineReader) err() error {
	if err := l.scanner.Err(); err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	return nil
}
