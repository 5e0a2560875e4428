// Package runner implements the Runner Fabric (§4.8): the websocket
// connection registry build agents attach to, pipeline-config parsing and
// job dispatch, and the job lifecycle updates runners report back over the
// same socket.
package runner

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"gopkg.in/yaml.v3"
	"lukechampine.com/blake3"

	"github.com/plectr/core/pkg/apperr"
	"github.com/plectr/core/pkg/auth"
	"github.com/plectr/core/pkg/blobstore"
	"github.com/plectr/core/pkg/middleware"
)

func currentUser(r *http.Request) (uuid.UUID, bool) {
	u, ok := middleware.UserFromContext(r.Context())
	if !ok {
		return uuid.Nil, false
	}
	return u.ID, true
}

func blake3Hex(data []byte) string {
	sum := blake3.Sum256(data)
	return fmt.Sprintf("%x", sum[:])
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type conn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *conn) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(v)
}

// Hub tracks the runners currently attached over websocket, keyed by
// runner id. Dispatch picks an arbitrary connected runner (§9: this is
// intentional, not yet fair-scheduled, and a commit with no runner online
// silently drops its jobs — documented, not patched here).
type Hub struct {
	mu      sync.RWMutex
	runners map[uuid.UUID]*conn
}

func newHub() *Hub {
	return &Hub{runners: make(map[uuid.UUID]*conn)}
}

func (h *Hub) add(id uuid.UUID, c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.runners[id] = c
}

func (h *Hub) remove(id uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.runners, id)
}

// any returns an arbitrary connected runner. Go map iteration order is
// randomized per-run, which is enough to match the "arbitrary first
// runner" dispatch behavior without engineering real scheduling.
func (h *Hub) any() (uuid.UUID, *conn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, c := range h.runners {
		return id, c, true
	}
	return uuid.Nil, nil, false
}

type Service struct {
	DB    *sql.DB
	Store blobstore.Store
	Auth  *auth.Service
	Hub   *Hub

	SystemTokenTTL      time.Duration
	HeartbeatWindowSecs int
}

func NewService(db *sql.DB, store blobstore.Store, authSvc *auth.Service, systemTokenTTL time.Duration, heartbeatWindowSecs int) *Service {
	return &Service{
		DB:                  db,
		Store:               store,
		Auth:                authSvc,
		Hub:                 newHub(),
		SystemTokenTTL:      systemTokenTTL,
		HeartbeatWindowSecs: heartbeatWindowSecs,
	}
}

// tokenPrefixLen is how much of a runner token is kept in the clear so a
// presented token can be looked up before the bcrypt comparison runs
// against the matching row's hash.
const tokenPrefixLen = 18

// Connect handles GET /api/runner/ws?token=...&name=...: authenticates
// the runner by its bearer token, upgrades to a websocket, and keeps the
// connection registered in the Hub until it drops.
func (s *Service) Connect(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	name := r.URL.Query().Get("name")
	if token == "" || len(token) < tokenPrefixLen {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var runnerID uuid.UUID
	var hash string
	err := s.DB.QueryRowContext(r.Context(), `
		SELECT id, token_hash FROM runners WHERE token_prefix = $1`, token[:tokenPrefixLen]).Scan(&runnerID, &hash)
	if err != nil || !auth.CheckRunnerToken(token, hash) {
		log.Printf("[runner] rejected connection attempt from %q", name)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[runner] websocket upgrade failed: %v", err)
		return
	}
	s.handleSocket(ws, runnerID, name)
}

func (s *Service) handleSocket(ws *websocket.Conn, runnerID uuid.UUID, name string) {
	defer ws.Close()

	c := &conn{ws: ws}
	s.Hub.add(runnerID, c)
	defer s.Hub.remove(runnerID)

	ctx := context.Background()
	s.DB.ExecContext(ctx, `UPDATE runners SET is_active = TRUE, last_heartbeat_at = NOW() WHERE id = $1`, runnerID)
	defer s.DB.ExecContext(context.Background(), `UPDATE runners SET is_active = FALSE WHERE id = $1`, runnerID)

	log.Printf("[runner] connected: %s (%s)", name, runnerID)

	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			break
		}
		s.handleMessage(ctx, msg)
	}

	log.Printf("[runner] disconnected: %s (%s)", name, runnerID)
}

func (s *Service) handleMessage(ctx context.Context, raw []byte) {
	var envelope struct {
		Type    string          `json:"type"`
		JobID   string          `json:"job_id"`
		Content string          `json:"content"`
		Status  string          `json:"status"`
		Exit    int             `json:"exit_code"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return
	}

	switch envelope.Type {
	case "job_log":
		jobID, err := uuid.Parse(envelope.JobID)
		if err != nil {
			return
		}
		s.DB.ExecContext(ctx, `UPDATE jobs SET logs = COALESCE(logs, '') || $1 WHERE id = $2`, envelope.Content, jobID)

	case "job_started":
		jobID, err := uuid.Parse(envelope.JobID)
		if err != nil {
			return
		}
		s.DB.ExecContext(ctx, `UPDATE jobs SET status = 'running', started_at = NOW() WHERE id = $1`, jobID)

	case "job_completed":
		jobID, err := uuid.Parse(envelope.JobID)
		if err != nil {
			return
		}
		s.DB.ExecContext(ctx, `
			UPDATE jobs SET status = $1, finished_at = NOW(), exit_code = $2 WHERE id = $3`,
			envelope.Status, envelope.Exit, jobID)

		var pipelineID uuid.UUID
		if err := s.DB.QueryRowContext(ctx, `SELECT pipeline_id FROM jobs WHERE id = $1`, jobID).Scan(&pipelineID); err == nil {
			s.updatePipelineStatus(ctx, pipelineID)
		}
	}
}

func (s *Service) updatePipelineStatus(ctx context.Context, pipelineID uuid.UUID) {
	rows, err := s.DB.QueryContext(ctx, `SELECT status FROM jobs WHERE pipeline_id = $1`, pipelineID)
	if err != nil {
		return
	}
	defer rows.Close()

	allSuccess, anyFailed, anyRunning := true, false, false
	for rows.Next() {
		var status string
		if rows.Scan(&status) != nil {
			continue
		}
		switch status {
		case "failed", "cancelled":
			anyFailed = true
		case "running", "pending":
			anyRunning = true
		}
		if status != "success" {
			allSuccess = false
		}
	}

	var newStatus string
	switch {
	case anyFailed && !anyRunning:
		newStatus = "failed"
	case allSuccess && !anyRunning:
		newStatus = "success"
	default:
		return
	}

	s.DB.ExecContext(ctx, `UPDATE pipelines SET status = $1, finished_at = NOW() WHERE id = $2`, newStatus, pipelineID)
}

type pipelineYAML struct {
	Pipeline struct {
		Name string `yaml:"name"`
		Jobs []struct {
			Name      string   `yaml:"name"`
			Image     string   `yaml:"image"`
			Stage     string   `yaml:"stage"`
			Script    []string `yaml:"script"`
			Artifacts []string `yaml:"artifacts"`
		} `yaml:"jobs"`
	} `yaml:"pipeline"`
}

// TriggerPipeline is the fire-and-forget hook the commit graph calls after
// a durable commit (§4.5, §4.8). A commit without a plectr.yaml at its root
// is silently a no-op; any error past that point is logged, never
// propagated, since the commit that triggered this has already succeeded.
func (s *Service) TriggerPipeline(repoID, commitID uuid.UUID) {
	ctx := context.Background()

	var repoName string
	if err := s.DB.QueryRowContext(ctx, `SELECT name FROM repositories WHERE id = $1`, repoID).Scan(&repoName); err != nil {
		log.Printf("[runner] pipeline trigger: repo lookup failed: %v", err)
		return
	}

	var hash string
	err := s.DB.QueryRowContext(ctx, `
		SELECT b.hash FROM commit_files cf JOIN blobs b ON cf.blob_hash = b.hash
		WHERE cf.commit_id = $1 AND cf.file_path = 'plectr.yaml'`, commitID).Scan(&hash)
	if err == sql.ErrNoRows {
		return
	}
	if err != nil {
		log.Printf("[runner] pipeline trigger: plectr.yaml lookup failed: %v", err)
		return
	}

	rc, err := s.Store.Get(ctx, hash)
	if err != nil {
		log.Printf("[runner] pipeline trigger: failed reading plectr.yaml: %v", err)
		return
	}
	content, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		log.Printf("[runner] pipeline trigger: failed reading plectr.yaml: %v", err)
		return
	}

	var config pipelineYAML
	if err := yaml.Unmarshal(content, &config); err != nil {
		log.Printf("[runner] pipeline trigger: invalid plectr.yaml: %v", err)
		return
	}

	var pipelineID uuid.UUID
	err = s.DB.QueryRowContext(ctx, `
		INSERT INTO pipelines (repo_id, commit_id, status) VALUES ($1, $2, 'running') RETURNING id`,
		repoID, commitID).Scan(&pipelineID)
	if err != nil {
		log.Printf("[runner] pipeline trigger: failed to create pipeline row: %v", err)
		return
	}

	systemToken, err := s.Auth.MintSystemToken(s.SystemTokenTTL)
	if err != nil {
		log.Printf("[runner] pipeline trigger: failed to mint system token: %v", err)
		return
	}

	for _, job := range config.Pipeline.Jobs {
		runnerID, c, found := s.Hub.any()
		if !found {
			log.Printf("[runner] no connected runner available, dropping job %q", job.Name)
			continue
		}

		scriptJSON, _ := json.Marshal(job.Script)
		var jobID uuid.UUID
		err = s.DB.QueryRowContext(ctx, `
			INSERT INTO jobs (pipeline_id, name, stage, image, script, status, runner_id)
			VALUES ($1, $2, $3, $4, $5, 'pending', $6) RETURNING id`,
			pipelineID, job.Name, job.Stage, job.Image, scriptJSON, runnerID).Scan(&jobID)
		if err != nil {
			log.Printf("[runner] failed to create job row: %v", err)
			continue
		}

		payload := map[string]any{
			"type": "job_request",
			"payload": map[string]any{
				"job_id":    jobID.String(),
				"image":     job.Image,
				"script":    job.Script,
				"artifacts": job.Artifacts,
				"env":       []string{"CI=true"},
				"context": map[string]any{
					"repo_name":  repoName,
					"commit_id":  commitID.String(),
					"auth_token": systemToken,
				},
			},
		}
		if err := c.send(payload); err != nil {
			log.Printf("[runner] failed to dispatch job %s to runner %s: %v", jobID, runnerID, err)
		}
	}
}

// ListPipelines handles GET /repos/{name}/pipelines.
func (s *Service) ListPipelines(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	rows, err := s.DB.QueryContext(r.Context(), `
		SELECT p.id, p.status, p.commit_id, p.created_at, p.finished_at, c.message, c.author_name
		FROM pipelines p
		JOIN repositories r ON p.repo_id = r.id
		JOIN commits c ON p.commit_id = c.id
		WHERE r.name = $1
		ORDER BY p.created_at DESC LIMIT 20`, name)
	if err != nil {
		apperr.Write(w, apperr.Wrap(apperr.Internal, "list pipelines", err))
		return
	}
	defer rows.Close()

	type pipelineOut struct {
		ID            uuid.UUID  `json:"id"`
		Status        string     `json:"status"`
		CommitID      uuid.UUID  `json:"commit_id"`
		CommitMessage string     `json:"commit_message"`
		Author        string     `json:"author"`
		CreatedAt     time.Time  `json:"created_at"`
		FinishedAt    *time.Time `json:"finished_at"`
	}
	var out []pipelineOut
	for rows.Next() {
		var p pipelineOut
		if err := rows.Scan(&p.ID, &p.Status, &p.CommitID, &p.CreatedAt, &p.FinishedAt, &p.CommitMessage, &p.Author); err != nil {
			apperr.Write(w, apperr.Wrap(apperr.Internal, "scan pipeline row", err))
			return
		}
		out = append(out, p)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// GetPipelineDetails handles GET /repos/{name}/pipelines/{id}.
func (s *Service) GetPipelineDetails(w http.ResponseWriter, r *http.Request) {
	pipelineID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		apperr.Write(w, apperr.New(apperr.BadRequest, "invalid pipeline id"))
		return
	}

	rows, err := s.DB.QueryContext(r.Context(), `
		SELECT id, name, stage, status, started_at, finished_at, exit_code, logs
		FROM jobs WHERE pipeline_id = $1 ORDER BY started_at ASC NULLS LAST`, pipelineID)
	if err != nil {
		apperr.Write(w, apperr.Wrap(apperr.Internal, "list pipeline jobs", err))
		return
	}
	defer rows.Close()

	type jobOut struct {
		ID         uuid.UUID `json:"id"`
		Name       string    `json:"name"`
		Stage      string    `json:"stage"`
		Status     string    `json:"status"`
		Logs       *string   `json:"logs"`
		Duration   string    `json:"duration"`
		ExitCode   *int      `json:"exit_code"`
		startedAt  sql.NullTime
		finishedAt sql.NullTime
	}
	var jobs []jobOut
	for rows.Next() {
		var j jobOut
		if err := rows.Scan(&j.ID, &j.Name, &j.Stage, &j.Status, &j.startedAt, &j.finishedAt, &j.ExitCode, &j.Logs); err != nil {
			apperr.Write(w, apperr.Wrap(apperr.Internal, "scan job row", err))
			return
		}
		j.Duration = jobDuration(j.startedAt, j.finishedAt)
		jobs = append(jobs, j)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"jobs": jobs})
}

func jobDuration(start, end sql.NullTime) string {
	switch {
	case start.Valid && end.Valid:
		return fmt.Sprintf("%ds", int(end.Time.Sub(start.Time).Seconds()))
	case start.Valid:
		return "running..."
	default:
		return "0s"
	}
}

// UploadJobArtifact handles POST /api/runner/jobs/{id}/artifacts.
func (s *Service) UploadJobArtifact(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		apperr.Write(w, apperr.New(apperr.BadRequest, "invalid job id"))
		return
	}

	var exists bool
	if err := s.DB.QueryRowContext(r.Context(), `SELECT EXISTS(SELECT 1 FROM jobs WHERE id = $1)`, jobID).Scan(&exists); err != nil {
		apperr.Write(w, apperr.Wrap(apperr.Internal, "look up job", err))
		return
	}
	if !exists {
		apperr.Write(w, apperr.New(apperr.NotFound, "job not found"))
		return
	}

	if err := r.ParseMultipartForm(64 << 20); err != nil {
		apperr.Write(w, apperr.New(apperr.BadRequest, "invalid multipart body"))
		return
	}

	var uploaded []string
	for _, headers := range r.MultipartForm.File {
		for _, fh := range headers {
			f, err := fh.Open()
			if err != nil {
				continue
			}

			var buf bytes.Buffer
			size, err := io.Copy(&buf, f)
			f.Close()
			if err != nil {
				continue
			}

			hash := blake3Hex(buf.Bytes())
			contentType := fh.Header.Get("Content-Type")
			if contentType == "" {
				contentType = "application/octet-stream"
			}

			if err := s.Store.Put(r.Context(), hash, bytes.NewReader(buf.Bytes())); err != nil {
				log.Printf("[runner] failed to store artifact %s: %v", fh.Filename, err)
				continue
			}
			s.DB.ExecContext(r.Context(), `
				INSERT INTO blobs (hash, size, mime_type) VALUES ($1, $2, $3) ON CONFLICT (hash) DO NOTHING`,
				hash, size, contentType)
			s.DB.ExecContext(r.Context(), `
				INSERT INTO job_artifacts (job_id, name, blob_hash, size, mime_type) VALUES ($1, $2, $3, $4, $5)`,
				jobID, fh.Filename, hash, size, contentType)

			uploaded = append(uploaded, fh.Filename)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"status": "uploaded", "files": uploaded})
}

// ListReleases handles GET /repos/{name}/releases.
func (s *Service) ListReleases(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	rows, err := s.DB.QueryContext(r.Context(), `
		SELECT ja.id, ja.name, ja.size, ja.blob_hash, ja.created_at, p.commit_id, c.message
		FROM job_artifacts ja
		JOIN jobs j ON ja.job_id = j.id
		JOIN pipelines p ON j.pipeline_id = p.id
		JOIN commits c ON p.commit_id = c.id
		JOIN repositories r ON p.repo_id = r.id
		WHERE r.name = $1 AND j.status = 'success'
		ORDER BY ja.created_at DESC LIMIT 50`, name)
	if err != nil {
		apperr.Write(w, apperr.Wrap(apperr.Internal, "list releases", err))
		return
	}
	defer rows.Close()

	type releaseOut struct {
		ID            uuid.UUID `json:"id"`
		Name          string    `json:"name"`
		Size          int64     `json:"size"`
		Hash          string    `json:"hash"`
		Date          time.Time `json:"date"`
		CommitID      uuid.UUID `json:"commit_id"`
		CommitMessage string    `json:"commit_msg"`
		DownloadURL   string    `json:"download_url"`
	}
	var out []releaseOut
	for rows.Next() {
		var rel releaseOut
		if err := rows.Scan(&rel.ID, &rel.Name, &rel.Size, &rel.Hash, &rel.Date, &rel.CommitID, &rel.CommitMessage); err != nil {
			apperr.Write(w, apperr.Wrap(apperr.Internal, "scan release row", err))
			return
		}
		rel.DownloadURL = fmt.Sprintf("/repos/%s/releases/%s/download", name, rel.ID)
		out = append(out, rel)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// DownloadArtifact handles GET /repos/{name}/releases/{id}/download.
func (s *Service) DownloadArtifact(w http.ResponseWriter, r *http.Request) {
	artifactID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		apperr.Write(w, apperr.New(apperr.BadRequest, "invalid artifact id"))
		return
	}

	var hash, name, mime string
	err = s.DB.QueryRowContext(r.Context(), `
		SELECT blob_hash, name, COALESCE(mime_type, 'application/octet-stream') FROM job_artifacts WHERE id = $1`,
		artifactID).Scan(&hash, &name, &mime)
	if err == sql.ErrNoRows {
		apperr.Write(w, apperr.New(apperr.NotFound, "artifact not found"))
		return
	}
	if err != nil {
		apperr.Write(w, apperr.Wrap(apperr.Internal, "look up artifact", err))
		return
	}

	rc, err := s.Store.Get(r.Context(), hash)
	if err != nil {
		apperr.Write(w, apperr.Wrap(apperr.Internal, "read artifact blob", err))
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", mime)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	io.Copy(w, rc)
}

// --- System-admin runner management (§4.8 supplement, §9 admin gating) ---

func (s *Service) requireAdmin(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	u, ok := currentUser(r)
	if !ok {
		apperr.Write(w, apperr.New(apperr.Unauthorized, "authentication required"))
		return uuid.Nil, false
	}
	isAdmin, err := s.Auth.IsSystemAdmin(r.Context(), u)
	if err != nil {
		apperr.Write(w, apperr.Wrap(apperr.Internal, "check admin status", err))
		return uuid.Nil, false
	}
	if !isAdmin {
		apperr.Write(w, apperr.New(apperr.Forbidden, "system admin privileges required"))
		return uuid.Nil, false
	}
	return u, true
}

// ListRunners handles GET /api/admin/runners.
func (s *Service) ListRunners(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAdmin(w, r); !ok {
		return
	}

	rows, err := s.DB.QueryContext(r.Context(), `
		SELECT id, name, platform, hostname,
			(EXTRACT(EPOCH FROM (NOW() - last_heartbeat_at)) < $1) AS is_online,
			last_heartbeat_at,
			(SELECT COUNT(*) FROM jobs WHERE runner_id = runners.id AND status = 'running') AS active_jobs
		FROM runners ORDER BY is_online DESC, name ASC`, s.HeartbeatWindowSecs)
	if err != nil {
		apperr.Write(w, apperr.Wrap(apperr.Internal, "list runners", err))
		return
	}
	defer rows.Close()

	type runnerOut struct {
		ID         uuid.UUID  `json:"id"`
		Name       string     `json:"name"`
		Platform   *string    `json:"platform"`
		Hostname   *string    `json:"hostname"`
		Online     bool       `json:"online"`
		LastSeen   *time.Time `json:"last_seen"`
		ActiveJobs int        `json:"active_jobs"`
	}
	var out []runnerOut
	for rows.Next() {
		var rn runnerOut
		if err := rows.Scan(&rn.ID, &rn.Name, &rn.Platform, &rn.Hostname, &rn.Online, &rn.LastSeen, &rn.ActiveJobs); err != nil {
			apperr.Write(w, apperr.Wrap(apperr.Internal, "scan runner row", err))
			return
		}
		out = append(out, rn)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// CreateRunnerToken handles POST /api/admin/runners.
func (s *Service) CreateRunnerToken(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAdmin(w, r); !ok {
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	json.NewDecoder(r.Body).Decode(&req)
	if req.Name == "" {
		req.Name = "unnamed-runner"
	}

	raw, hash, err := auth.GenerateRunnerToken()
	if err != nil {
		apperr.Write(w, apperr.Wrap(apperr.Internal, "generate runner token", err))
		return
	}

	_, err = s.DB.ExecContext(r.Context(), `
		INSERT INTO runners (name, token_prefix, token_hash, platform) VALUES ($1, $2, $3, 'unknown')`,
		req.Name, raw[:tokenPrefixLen], hash)
	if err != nil {
		apperr.Write(w, apperr.Wrap(apperr.Internal, "create runner", err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"token": raw, "name": req.Name})
}

// DeleteRunner handles DELETE /api/admin/runners/{id}.
func (s *Service) DeleteRunner(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAdmin(w, r); !ok {
		return
	}

	runnerID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		apperr.Write(w, apperr.New(apperr.BadRequest, "invalid runner id"))
		return
	}

	if _, err := s.DB.ExecContext(r.Context(), `DELETE FROM runners WHERE id = $1`, runnerID); err != nil {
		apperr.Write(w, apperr.Wrap(apperr.Internal, "delete runner", err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "deleted"})
}
