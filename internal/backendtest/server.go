// Package backendtest runs an in-process fake of the mainframe backend for
// tests. It records per-route call counts, can inject failures and can hold
// requests on a route until released.
package backendtest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/GriffinCanCode/zcraft/internal/shared/types"
)

// Route keys, as "METHOD path" with gin path parameters.
const (
	RouteLogin    = "POST /auth/login"
	RouteDatasets = "POST /api/datasets/"
	RouteMembers  = "POST /api/datasets/:name/members"
	RouteRead     = "POST /api/datasets/:name/members/:member"
	RouteWrite    = "PUT /api/datasets/:name/members/:member"
	RouteSubmit   = "POST /api/datasets/:name/members/:member/execute"
	RouteJobs     = "POST /api/jobs/"
	RouteOutput   = "POST /api/jobs/:id/output"
	RouteGenerate = "POST /api/ai/generate"
	RouteCommand  = "POST /api/ai/execute"
	RouteAnalyze  = "GET /api/ai/analyze"
	RouteTerminal = "GET /api/terminal/ws"
)

// Failure is an injected error response.
type Failure struct {
	Status int
	Detail string
}

// Reply is a canned assistant response.
type Reply struct {
	Content string
	// UseResponseKey sends the text under "response" instead of "content".
	UseResponseKey bool
	Commands       []types.CommandProposal
	// Raw, when set, is sent verbatim as the JSON body.
	Raw string
}

// CommandResult is the outcome of an executed command.
type CommandResult struct {
	Output string
	Status int
	Detail string
}

// Job is a job known to the fake.
type Job struct {
	ID      string
	Name    string
	Status  string
	Outputs map[string]string
}

// Write is one accepted member write, in arrival order.
type Write struct {
	Ref     types.ResourceRef
	Content string
}

// Gate holds requests on a route until Release.
type Gate struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

// Entered receives once per request that reached the gate.
func (g *Gate) Entered() <-chan struct{} { return g.entered }

// Release lets held and future requests through.
func (g *Gate) Release() { g.once.Do(func() { close(g.release) }) }

// Server is the fake backend.
type Server struct {
	*httptest.Server

	secret   []byte
	tokenTTL time.Duration

	mu        sync.Mutex
	calls     map[string]int
	failures  map[string]Failure
	gates     map[string]*Gate
	users     map[string]string
	datasets  []types.Container
	members   map[string][]types.MemberInfo
	contents  map[string]string
	writes    []Write
	jobs      map[string]*Job
	jobOrder  []string
	nextJob   int
	omitName  bool
	replies   map[types.Mode]Reply
	prompts   []string
	commands  map[string]CommandResult
	analysis  gin.H
	lastAuth  string
	lastCreds types.Credentials
	lastTrace string
}

// New starts a fake backend. Callers must Close it.
func New() *Server {
	gin.SetMode(gin.TestMode)

	s := &Server{
		secret:   []byte("backendtest-secret"),
		tokenTTL: time.Hour,
		calls:    make(map[string]int),
		failures: make(map[string]Failure),
		gates:    make(map[string]*Gate),
		users:    make(map[string]string),
		members:  make(map[string][]types.MemberInfo),
		contents: make(map[string]string),
		jobs:     make(map[string]*Job),
		replies:  make(map[types.Mode]Reply),
		commands: make(map[string]CommandResult),
		analysis: gin.H{
			"analysis":        "System analysis shows a healthy environment.",
			"recommendations": []string{"Review dataset space usage"},
		},
	}

	router := gin.New()
	router.Use(gin.Recovery(), s.intercept)

	router.POST("/auth/login", s.handleLogin)

	api := router.Group("/api", s.requireToken)
	api.POST("/datasets/", s.handleDatasets)
	api.POST("/datasets/:name/members", s.handleMembers)
	api.POST("/datasets/:name/members/:member", s.handleRead)
	api.PUT("/datasets/:name/members/:member", s.handleWrite)
	api.POST("/datasets/:name/members/:member/execute", s.handleSubmit)
	api.POST("/jobs/", s.handleJobs)
	api.POST("/jobs/:id/output", s.handleOutput)
	api.POST("/ai/generate", s.handleGenerate)
	api.POST("/ai/execute", s.handleCommand)
	api.GET("/ai/analyze", s.handleAnalyze)
	router.GET("/api/terminal/ws", s.handleTerminal)

	s.Server = httptest.NewServer(router)
	return s
}

// intercept counts the call, then applies any gate and injected failure.
func (s *Server) intercept(c *gin.Context) {
	key := c.Request.Method + " " + c.FullPath()

	s.mu.Lock()
	s.calls[key]++
	if trace := c.GetHeader("X-Trace-ID"); trace != "" {
		s.lastTrace = trace
	}
	gate := s.gates[key]
	failure, failing := s.failures[key]
	s.mu.Unlock()

	if gate != nil {
		select {
		case gate.entered <- struct{}{}:
		default:
		}
		select {
		case <-gate.release:
		case <-c.Request.Context().Done():
			c.Abort()
			return
		}
	}

	if failing {
		c.AbortWithStatusJSON(failure.Status, gin.H{"detail": failure.Detail})
		return
	}
	c.Next()
}

func (s *Server) requireToken(c *gin.Context) {
	header := c.GetHeader("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Not authenticated"})
		return
	}
	_, err := jwt.Parse(raw, func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Could not validate credentials"})
		return
	}
	s.mu.Lock()
	s.lastAuth = raw
	s.mu.Unlock()
	c.Next()
}

// bindCredentials decodes a flat credential body and rejects incomplete ones.
func (s *Server) bindCredentials(c *gin.Context, dst any, creds *types.Credentials) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return false
	}
	if missing := creds.Missing(); len(missing) > 0 {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity,
			gin.H{"detail": "missing credentials: " + strings.Join(missing, ", ")})
		return false
	}
	s.mu.Lock()
	s.lastCreds = *creds
	s.mu.Unlock()
	return true
}

func (s *Server) handleLogin(c *gin.Context) {
	var creds types.Credentials
	if !s.bindCredentials(c, &creds, &creds) {
		return
	}

	s.mu.Lock()
	want, known := s.users[creds.Username]
	restricted := len(s.users) > 0
	s.mu.Unlock()
	if restricted && (!known || want != creds.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "Invalid mainframe credentials"})
		return
	}

	token, err := s.Token(creds)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": token, "token_type": "bearer"})
}

func (s *Server) handleDatasets(c *gin.Context) {
	var creds types.Credentials
	if !s.bindCredentials(c, &creds, &creds) {
		return
	}
	s.mu.Lock()
	datasets := append([]types.Container(nil), s.datasets...)
	s.mu.Unlock()
	if datasets == nil {
		datasets = []types.Container{}
	}
	c.JSON(http.StatusOK, gin.H{"datasets": datasets})
}

func (s *Server) handleMembers(c *gin.Context) {
	var creds types.Credentials
	if !s.bindCredentials(c, &creds, &creds) {
		return
	}
	s.mu.Lock()
	members, ok := s.members[c.Param("name")]
	members = append([]types.MemberInfo(nil), members...)
	s.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Dataset not found: " + c.Param("name")})
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}

func (s *Server) handleRead(c *gin.Context) {
	var creds types.Credentials
	if !s.bindCredentials(c, &creds, &creds) {
		return
	}
	ref := types.ResourceRef{Container: c.Param("name"), Member: c.Param("member")}
	s.mu.Lock()
	content, ok := s.contents[ref.String()]
	s.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Member not found: " + ref.String()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"content": content})
}

type writeBody struct {
	Content     *string           `json:"content"`
	Credentials types.Credentials `json:"credentials"`
}

func (s *Server) handleWrite(c *gin.Context) {
	var body writeBody
	if !s.bindCredentials(c, &body, &body.Credentials) {
		return
	}
	if body.Content == nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "content is required"})
		return
	}
	ref := types.ResourceRef{Container: c.Param("name"), Member: c.Param("member")}
	s.mu.Lock()
	s.contents[ref.String()] = *body.Content
	s.writes = append(s.writes, Write{Ref: ref, Content: *body.Content})
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"message": "Member updated successfully"})
}

type submitBody struct {
	types.Credentials
	Content string `json:"content"`
}

var jobCard = regexp.MustCompile(`(?m)^//(\S+)\s+JOB\b`)

func (s *Server) handleSubmit(c *gin.Context) {
	var body submitBody
	if !s.bindCredentials(c, &body, &body.Credentials) {
		return
	}
	ref := types.ResourceRef{Container: c.Param("name"), Member: c.Param("member")}

	s.mu.Lock()
	defer s.mu.Unlock()

	content := body.Content
	if content == "" {
		stored, ok := s.contents[ref.String()]
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"detail": "Member content not found"})
			return
		}
		content = stored
	}

	s.nextJob++
	job := &Job{
		ID:      fmt.Sprintf("JOB%05d", s.nextJob),
		Status:  "INPUT",
		Outputs: make(map[string]string),
	}
	if m := jobCard.FindStringSubmatch(content); m != nil {
		job.Name = m[1]
	}
	s.jobs[job.ID] = job
	s.jobOrder = append(s.jobOrder, job.ID)

	resp := gin.H{"message": "Job submitted successfully", "jobId": job.ID}
	if !s.omitName {
		resp["jobName"] = job.Name
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleJobs(c *gin.Context) {
	var creds types.Credentials
	if !s.bindCredentials(c, &creds, &creds) {
		return
	}
	s.mu.Lock()
	jobs := make([]gin.H, 0, len(s.jobOrder))
	for _, id := range s.jobOrder {
		j := s.jobs[id]
		jobs = append(jobs, gin.H{"jobId": j.ID, "jobName": j.Name, "status": j.Status})
	}
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

type outputBody struct {
	types.Credentials
	Stream string `json:"stream"`
}

func (s *Server) handleOutput(c *gin.Context) {
	var body outputBody
	if !s.bindCredentials(c, &body, &body.Credentials) {
		return
	}
	s.mu.Lock()
	job, ok := s.jobs[c.Param("id")]
	var output string
	if ok {
		output = job.Outputs[body.Stream]
	}
	s.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Job not found: " + c.Param("id")})
		return
	}
	c.JSON(http.StatusOK, gin.H{"output": output})
}

type generateBody struct {
	Prompt string `json:"prompt"`
	Mode   string `json:"mode"`
}

func (s *Server) handleGenerate(c *gin.Context) {
	var body generateBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}
	s.mu.Lock()
	s.prompts = append(s.prompts, body.Prompt)
	reply, ok := s.replies[types.Mode(body.Mode)]
	s.mu.Unlock()

	if !ok {
		c.JSON(http.StatusOK, gin.H{"content": "You said: " + body.Prompt})
		return
	}
	if reply.Raw != "" {
		c.Data(http.StatusOK, "application/json", []byte(reply.Raw))
		return
	}
	key := "content"
	if reply.UseResponseKey {
		key = "response"
	}
	resp := gin.H{key: reply.Content}
	if reply.Commands != nil {
		resp["commands"] = reply.Commands
	}
	c.JSON(http.StatusOK, resp)
}

type commandBody struct {
	Command     string            `json:"command"`
	Credentials types.Credentials `json:"credentials"`
}

func (s *Server) handleCommand(c *gin.Context) {
	var body commandBody
	if !s.bindCredentials(c, &body, &body.Credentials) {
		return
	}
	s.mu.Lock()
	result, ok := s.commands[body.Command]
	s.mu.Unlock()
	if !ok {
		result = CommandResult{Output: "executed: " + body.Command}
	}
	if result.Status >= http.StatusBadRequest {
		c.JSON(result.Status, gin.H{"detail": result.Detail})
		return
	}
	c.JSON(http.StatusOK, gin.H{"output": result.Output})
}

func (s *Server) handleAnalyze(c *gin.Context) {
	s.mu.Lock()
	analysis := s.analysis
	s.mu.Unlock()
	c.JSON(http.StatusOK, analysis)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleTerminal echoes each line back prefixed with "> ".
func (s *Server) handleTerminal(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	_ = conn.WriteMessage(websocket.TextMessage, []byte("READY"))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, []byte("> "+string(data))); err != nil {
			return
		}
	}
}
