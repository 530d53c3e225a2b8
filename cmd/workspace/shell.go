package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/zcraft/internal/domain/conversation"
	"github.com/GriffinCanCode/zcraft/internal/infrastructure/config"
	"github.com/GriffinCanCode/zcraft/internal/infrastructure/logging"
	"github.com/GriffinCanCode/zcraft/internal/shared/errs"
	"github.com/GriffinCanCode/zcraft/internal/shared/paths"
	"github.com/GriffinCanCode/zcraft/internal/shared/types"
	"github.com/GriffinCanCode/zcraft/internal/workspace"
)

// errQuit ends the loop.
var errQuit = errors.New("quit")

const (
	editTerminator     = "."
	terminalEscape     = "~."
	defaultPollTimeout = 2 * time.Minute
)

type handler func(ctx context.Context, args []string) error

// shell is the line-oriented front end over a workspace.
type shell struct {
	ws          *workspace.Workspace
	in          *bufio.Scanner
	out         io.Writer
	r           *renderer
	logger      *logging.Logger
	profile     *config.Profile
	profilePath string
	pollEvery   time.Duration
	history     io.Writer
	commands    map[string]handler
}

func newShell(ws *workspace.Workspace, in io.Reader, out io.Writer, r *renderer, logger *logging.Logger) *shell {
	s := &shell{
		ws:        ws,
		in:        bufio.NewScanner(in),
		out:       out,
		r:         r,
		logger:    logging.OrNop(logger).Named("shell"),
		profile:   &config.Profile{},
		pollEvery: 2 * time.Second,
	}
	s.in.Buffer(make([]byte, 64*1024), 1024*1024)
	s.commands = map[string]handler{
		"help":    s.help,
		"login":   s.login,
		"logout":  s.logout,
		"ls":      s.listContainers,
		"members": s.listMembers,
		"open":    s.open,
		"refresh": s.refresh,
		"buffers": s.buffers,
		"use":     s.use,
		"show":    s.show,
		"edit":    s.edit,
		"insert":  s.insert,
		"diff":    s.diff,
		"save":    s.save,
		"close":   s.close,
		"discard": s.discard,
		"submit":  s.submit,
		"jobs":    s.jobs,
		"status":  s.status,
		"wait":    s.wait,
		"output":  s.output,
		"chat":    s.chat,
		"ask":     s.ask,
		"run":     s.run,
		"analyze": s.analyze,
		"term":    s.term,
		"quit":    func(context.Context, []string) error { return errQuit },
	}
	s.commands["exit"] = s.commands["quit"]
	return s
}

// withProfile sets the connection defaults used by a bare "login PASSWORD".
func (s *shell) withProfile(path string, p *config.Profile) *shell {
	s.profilePath = path
	if p != nil {
		s.profile = p
	}
	return s
}

// withHistory records every command line to w. Passwords are masked.
func (s *shell) withHistory(w io.Writer) *shell {
	s.history = w
	return s
}

// Run reads commands until EOF, quit or ctx ends.
func (s *shell) Run(ctx context.Context) error {
	s.printf("Type 'help' for commands.\n")
	for {
		if ctx.Err() != nil {
			return nil
		}
		s.printf("zcraft> ")
		if !s.in.Scan() {
			s.printf("\n")
			return s.in.Err()
		}
		if err := s.Exec(ctx, s.in.Text()); errors.Is(err, errQuit) {
			return nil
		}
	}
}

// Exec runs one command line. Command failures are printed, not returned;
// only errQuit comes back.
func (s *shell) Exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	name, args := strings.ToLower(fields[0]), fields[1:]
	if s.history != nil {
		fmt.Fprintln(s.history, redact(name, fields))
	}
	h, ok := s.commands[name]
	if !ok {
		s.printf("unknown command %q, try 'help'\n", name)
		return nil
	}

	err := s.ws.Trace(ctx, name, func(ctx context.Context) error {
		return h(ctx, args)
	})
	switch {
	case err == nil:
	case errors.Is(err, errQuit):
		return err
	default:
		s.logger.Debug("command failed", zap.String("command", name), zap.Error(err))
		s.printf("%s\n", s.r.err(err))
	}
	return nil
}

func (s *shell) printf(format string, a ...any) {
	fmt.Fprintf(s.out, format, a...)
}

func (s *shell) help(context.Context, []string) error {
	s.printf(`Session
  login HOST PORT USER PASSWORD | login PASSWORD   connect (profile supplies host, port and user)
  logout [force]                                   disconnect, discarding open buffers when forced
Browse
  ls [PATTERN]                                     list datasets, e.g. ls USER.*
  members DSN                                      list members
Edit
  open DSN(MEMBER)  refresh DSN(MEMBER)            open a member, or re-read it from the host
  buffers  use DSN(MEMBER)  show                   list, activate and print buffers
  edit                                             replace the active buffer; end input with "."
  insert N                                         copy code block N of the last reply into the buffer
  diff  save  close  discard
Jobs
  submit  jobs  status JOBID  wait JOBID  output JOBID [JOBLOG|SYSOUT|SYSPRINT]
Assistant
  chat TEXT  ask TEXT  run N  analyze [refresh]
Shell
  term                                             interactive host shell; "~." returns
  quit
`)
	return nil
}

func (s *shell) login(ctx context.Context, args []string) error {
	var creds types.Credentials
	switch len(args) {
	case 4:
		creds = types.Credentials{Host: args[0], Port: args[1], Username: args[2], Password: args[3]}
	case 1:
		creds = types.Credentials{Host: s.profile.Host, Port: s.profile.Port, Username: s.profile.Username, Password: args[0]}
	default:
		return errors.New("usage: login HOST PORT USER PASSWORD | login PASSWORD")
	}

	sess, err := s.ws.Login(ctx, creds)
	if err != nil {
		return err
	}
	s.printf("%s as %s on %s:%s\n", s.r.ok.Render("connected"), sess.Credentials.Username, sess.Credentials.Host, sess.Credentials.Port)

	s.profile = &config.Profile{Host: sess.Credentials.Host, Port: sess.Credentials.Port, Username: sess.Credentials.Username}
	if s.profilePath != "" {
		if err := config.SaveProfile(s.profilePath, s.profile); err != nil {
			s.logger.Warn("profile not saved", zap.Error(err))
		}
	}
	return nil
}

func (s *shell) logout(_ context.Context, args []string) error {
	force := len(args) > 0 && (args[0] == "force" || args[0] == "!")
	if err := s.ws.Logout(force); err != nil {
		return fmt.Errorf("%w (use 'logout force' to discard)", err)
	}
	s.printf("disconnected\n")
	return nil
}

func (s *shell) listContainers(ctx context.Context, args []string) error {
	_, err := s.ws.Resources().ListContainers(ctx)
	if err != nil {
		s.printf("%s\n", s.r.err(err))
	}
	pattern := ""
	if len(args) > 0 {
		pattern = args[0]
	}
	for _, c := range s.ws.Resources().Containers(pattern) {
		scope := "user"
		if c.IsPublic {
			scope = "public"
		}
		s.printf("%-44s %-6s %-4s %-4s %s\n", c.Name, scope, c.Dsorg, c.Recfm, c.Volume)
	}
	return nil
}

func (s *shell) listMembers(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: members DSN")
	}
	members, err := s.ws.Resources().ListMembers(ctx, strings.ToUpper(args[0]))
	for _, m := range members {
		s.printf("%-8s %s\n", m.Name, m.Type)
	}
	return err
}

func (s *shell) ref(args []string, usage string) (types.ResourceRef, error) {
	if len(args) != 1 {
		return types.ResourceRef{}, errors.New("usage: " + usage)
	}
	return paths.ParseRef(args[0])
}

func (s *shell) open(ctx context.Context, args []string) error {
	ref, err := s.ref(args, "open DSN(MEMBER)")
	if err != nil {
		return err
	}
	b, err := s.ws.Buffers().Open(ctx, ref)
	if err != nil {
		return err
	}
	if err := s.ws.Buffers().Activate(b.ID); err != nil {
		return err
	}
	s.printf("opened %s (%s, %d bytes)\n", b.Ref, b.Language, len(b.Content))
	return nil
}

func (s *shell) refresh(ctx context.Context, args []string) error {
	ref, err := s.ref(args, "refresh DSN(MEMBER)")
	if err != nil {
		return err
	}
	if b, ok := s.ws.Buffers().Find(ref); ok && b.Dirty {
		return fmt.Errorf("%s: %w", ref, errs.ErrBufferDirty)
	}
	m, err := s.ws.Resources().RefreshMember(ctx, ref)
	if err != nil {
		return err
	}
	if b, ok := s.ws.Buffers().Find(ref); ok {
		if _, err := s.ws.Buffers().Edit(b.ID, m.Content); err != nil {
			return err
		}
	}
	s.printf("refreshed %s (%d bytes)\n", ref, len(m.Content))
	return nil
}

func (s *shell) buffers(context.Context, []string) error {
	list := s.ws.Buffers().List()
	if len(list) == 0 {
		s.printf("no open buffers\n")
	}
	for _, b := range list {
		s.printf("%s\n", s.r.buffer(b))
	}
	return nil
}

func (s *shell) use(_ context.Context, args []string) error {
	ref, err := s.ref(args, "use DSN(MEMBER)")
	if err != nil {
		return err
	}
	b, ok := s.ws.Buffers().Find(ref)
	if !ok {
		return fmt.Errorf("%s: %w", ref, errs.ErrBufferNotFound)
	}
	return s.ws.Buffers().Activate(b.ID)
}

func (s *shell) show(context.Context, []string) error {
	b, ok := s.ws.Buffers().Active()
	if !ok {
		return errs.ErrBufferNotFound
	}
	s.printf("%s\n%s", s.r.buffer(b), b.Content)
	if !strings.HasSuffix(b.Content, "\n") {
		s.printf("\n")
	}
	return nil
}

// edit reads replacement content up to a line holding only ".".
func (s *shell) edit(context.Context, []string) error {
	b, ok := s.ws.Buffers().Active()
	if !ok {
		return errs.ErrBufferNotFound
	}
	s.printf("editing %s, end with a line containing only %q\n", b.Ref, editTerminator)

	var lines []string
	for s.in.Scan() {
		line := s.in.Text()
		if line == editTerminator {
			break
		}
		lines = append(lines, line)
	}
	content := strings.Join(lines, "\n")
	if len(lines) > 0 {
		content += "\n"
	}

	updated, err := s.ws.Buffers().Edit(b.ID, content)
	if err != nil {
		return err
	}
	s.printf("%s\n", s.r.buffer(updated))
	return nil
}

// insert copies the n-th code block (1-based) of the latest assistant
// reply into the active buffer.
func (s *shell) insert(_ context.Context, args []string) error {
	n, err := index(args, "insert N")
	if err != nil {
		return err
	}
	b, ok := s.ws.Buffers().Active()
	if !ok {
		return errs.ErrBufferNotFound
	}

	blocks := s.lastCodeBlocks()
	if n >= len(blocks) {
		return fmt.Errorf("no code block %d in the last reply", n+1)
	}
	updated, err := s.ws.Buffers().Insert(b.ID, conversation.TrimCode(blocks[n])+"\n")
	if err != nil {
		return err
	}
	s.printf("%s\n", s.r.buffer(updated))
	return nil
}

func (s *shell) lastCodeBlocks() []string {
	var latest []string
	var latestAt time.Time
	for _, mode := range []types.Mode{types.ModeChat, types.ModeActions} {
		thread := s.ws.Assistant().Thread(mode)
		for i := len(thread) - 1; i >= 0; i-- {
			m := thread[i]
			if m.Role != types.RoleAssistant || m.Failed || m.Execution != nil {
				continue
			}
			if !m.Timestamp.After(latestAt) {
				break
			}
			var blocks []string
			for _, seg := range m.Segments {
				if seg.Kind == conversation.SegmentCode {
					blocks = append(blocks, seg.Payload)
				}
			}
			latest, latestAt = blocks, m.Timestamp
			break
		}
	}
	return latest
}

func (s *shell) diff(context.Context, []string) error {
	b, ok := s.ws.Buffers().Active()
	if !ok {
		return errs.ErrBufferNotFound
	}
	patch, err := s.ws.Buffers().Diff(b.ID)
	if err != nil {
		return err
	}
	if patch == "" {
		s.printf("no changes\n")
		return nil
	}
	s.printf("%s", patch)
	return nil
}

func (s *shell) save(ctx context.Context, _ []string) error {
	b, ok := s.ws.Buffers().Active()
	if !ok {
		return errs.ErrBufferNotFound
	}
	err := s.ws.Buffers().Save(ctx, b.ID)
	if updated, ok := s.ws.Buffers().Get(b.ID); ok {
		s.printf("%s\n", s.r.buffer(updated))
	}
	return err
}

func (s *shell) close(context.Context, []string) error {
	b, ok := s.ws.Buffers().Active()
	if !ok {
		return errs.ErrBufferNotFound
	}
	if err := s.ws.Buffers().Close(b.ID); err != nil {
		return fmt.Errorf("%w (use 'discard' to drop the changes)", err)
	}
	s.printf("closed %s\n", b.Ref)
	return nil
}

func (s *shell) discard(context.Context, []string) error {
	b, ok := s.ws.Buffers().Active()
	if !ok {
		return errs.ErrBufferNotFound
	}
	if err := s.ws.Buffers().Discard(b.ID); err != nil {
		return err
	}
	s.printf("discarded %s\n", b.Ref)
	return nil
}

func (s *shell) submit(ctx context.Context, _ []string) error {
	j, err := s.ws.SubmitActive(ctx)
	if err != nil {
		return err
	}
	s.printf("submitted %s\n", s.r.job(j))
	return nil
}

func (s *shell) jobs(ctx context.Context, _ []string) error {
	list, err := s.ws.Jobs().List(ctx)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		s.printf("no jobs\n")
	}
	for _, j := range list {
		s.printf("%s\n", s.r.job(j))
	}
	return nil
}

func (s *shell) status(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: status JOBID")
	}
	j, err := s.ws.Jobs().RefreshStatus(ctx, strings.ToUpper(args[0]))
	if err != nil {
		return err
	}
	s.printf("%s\n", s.r.job(j))
	return nil
}

func (s *shell) wait(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: wait JOBID")
	}
	ctx, cancel := context.WithTimeout(ctx, defaultPollTimeout)
	defer cancel()

	j, err := s.ws.WaitJob(ctx, strings.ToUpper(args[0]), s.pollEvery)
	if err != nil {
		return err
	}
	s.printf("%s\n", s.r.job(j))
	return nil
}

func (s *shell) output(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.New("usage: output JOBID [JOBLOG|SYSOUT|SYSPRINT]")
	}
	jobID := strings.ToUpper(args[0])
	streams := types.Streams
	if len(args) == 2 {
		streams = []types.OutputStream{types.OutputStream(strings.ToUpper(args[1]))}
	}

	for _, stream := range streams {
		text, err := s.ws.Jobs().FetchOutput(ctx, jobID, stream)
		if err != nil {
			return err
		}
		s.printf("%s\n%s\n", s.r.label.Render("--- "+string(stream)+" ---"), text)
	}
	return nil
}

func (s *shell) chat(ctx context.Context, args []string) error {
	return s.post(ctx, types.ModeChat, args)
}

func (s *shell) ask(ctx context.Context, args []string) error {
	return s.post(ctx, types.ModeActions, args)
}

func (s *shell) post(ctx context.Context, mode types.Mode, args []string) error {
	reply, err := s.ws.Assistant().PostMessage(ctx, mode, strings.Join(args, " "))
	if err != nil {
		return err
	}
	s.printf("%s", s.r.message(reply))
	return nil
}

func (s *shell) run(ctx context.Context, args []string) error {
	n, err := index(args, "run N")
	if err != nil {
		return err
	}
	p, ok := s.ws.Assistant().Proposal(n)
	if !ok {
		return fmt.Errorf("no proposed command %d", n+1)
	}
	s.printf("running %s\n", s.r.bold.Render(p.Command))

	msg, err := s.ws.Assistant().ExecuteProposal(ctx, p)
	if err != nil {
		return err
	}
	s.printf("%s", s.r.message(msg))
	return nil
}

func (s *shell) analyze(ctx context.Context, args []string) error {
	get := s.ws.Assistant().Analyze
	if len(args) > 0 && args[0] == "refresh" {
		get = s.ws.Assistant().RefreshAnalysis
	}
	a, err := get(ctx)
	if err != nil {
		return err
	}
	s.printf("%s", s.r.segments(conversation.ParseReply(a.Analysis)))
	for _, rec := range a.Recommendations {
		s.printf("  • %s\n", rec)
	}
	return nil
}

// term relays lines to the host shell until the escape line.
func (s *shell) term(ctx context.Context, _ []string) error {
	ch, err := s.ws.OpenTerminal(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	s.printf("connected to host shell, %q to return\n", terminalEscape)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for line := range ch.Lines() {
			s.printf("%s\n", line)
		}
	}()

	for s.in.Scan() {
		line := s.in.Text()
		if line == terminalEscape {
			break
		}
		if err := ch.Send(line); err != nil {
			return err
		}
	}
	_ = ch.Close()
	<-done
	return ch.Err()
}

func index(args []string, usage string) (int, error) {
	if len(args) != 1 {
		return 0, errors.New("usage: " + usage)
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 {
		return 0, errors.New("usage: " + usage)
	}
	return n - 1, nil
}

// redact masks the password of a login line.
func redact(name string, fields []string) string {
	if name != "login" || len(fields) < 2 {
		return strings.Join(fields, " ")
	}
	masked := append([]string(nil), fields...)
	masked[len(masked)-1] = "****"
	return strings.Join(masked, " ")
}
