package backendtest

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/GriffinCanCode/zcraft/internal/shared/types"
)

// Token issues an access token for creds the way the real backend does.
func (s *Server) Token(creds types.Credentials) (string, error) {
	return s.sign(creds, time.Now().Add(s.tokenTTL))
}

// ExpiredToken issues a token whose exp is in the past.
func (s *Server) ExpiredToken(creds types.Credentials) (string, error) {
	return s.sign(creds, time.Now().Add(-time.Minute))
}

func (s *Server) sign(creds types.Credentials, exp time.Time) (string, error) {
	claims := jwt.MapClaims{
		"sub":  creds.Username,
		"host": creds.Host,
		"port": creds.Port,
		"exp":  exp.Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// TerminalURL is the WebSocket address of the shell channel.
func (s *Server) TerminalURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/api/terminal/ws"
}

// Calls returns how many requests reached route.
func (s *Server) Calls(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

// Fail makes route answer with status and {detail} until Recover.
func (s *Server) Fail(route string, status int, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[route] = Failure{Status: status, Detail: detail}
}

// Recover removes an injected failure.
func (s *Server) Recover(route string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, route)
}

// Block holds every request to route until the returned gate is released.
func (s *Server) Block(route string) *Gate {
	g := &Gate{
		entered: make(chan struct{}, 16),
		release: make(chan struct{}),
	}
	s.mu.Lock()
	s.gates[route] = g
	s.mu.Unlock()
	return g
}

// AddUser restricts login to the registered users.
func (s *Server) AddUser(username, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[username] = password
}

// AddDataset registers a container and its members.
func (s *Server) AddDataset(c types.Container, members map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.datasets = append(s.datasets, c)
	list := s.members[c.Name]
	for name, content := range members {
		list = append(list, types.MemberInfo{Name: name, Type: "member"})
		s.contents[types.ResourceRef{Container: c.Name, Member: name}.String()] = content
	}
	if list == nil {
		list = []types.MemberInfo{}
	}
	s.members[c.Name] = list
}

// Content returns the stored content of a member.
func (s *Server) Content(ref types.ResourceRef) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.contents[ref.String()]
	return content, ok
}

// SetContent replaces stored content without recording a write.
func (s *Server) SetContent(ref types.ResourceRef, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contents[ref.String()] = content
}

// Writes returns accepted writes in arrival order.
func (s *Server) Writes() []Write {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Write(nil), s.writes...)
}

// OmitJobName makes submissions answer without a jobName.
func (s *Server) OmitJobName(omit bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.omitName = omit
}

// SetJobStatus changes the host status reported for a job.
func (s *Server) SetJobStatus(jobID, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[jobID]; ok {
		j.Status = status
	}
}

// SetJobOutput sets the text of one output stream.
func (s *Server) SetJobOutput(jobID, stream, output string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[jobID]; ok {
		j.Outputs[stream] = output
	}
}

// AddJob registers a job that was not submitted through the fake.
func (s *Server) AddJob(id, name, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[id] = &Job{ID: id, Name: name, Status: status, Outputs: make(map[string]string)}
	s.jobOrder = append(s.jobOrder, id)
}

// SetReply sets the assistant response for a mode.
func (s *Server) SetReply(mode types.Mode, reply Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[mode] = reply
}

// Prompts returns every prompt received, in order.
func (s *Server) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}

// SetCommand sets the result of executing command.
func (s *Server) SetCommand(command string, result CommandResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands[command] = result
}

// SetAnalysis replaces the analyze response.
func (s *Server) SetAnalysis(analysis string, recommendations []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analysis = gin.H{"analysis": analysis, "recommendations": recommendations}
}

// LastToken returns the bearer token of the last authenticated request.
func (s *Server) LastToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAuth
}

// LastCredentials returns the credential payload of the last credentialed request.
func (s *Server) LastCredentials() types.Credentials {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCreds
}

// LastTraceID returns the most recent X-Trace-ID header received.
func (s *Server) LastTraceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTrace
}
