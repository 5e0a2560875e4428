// Package repo implements the Commit Graph (§4.5): repositories, commits,
// trees, divergence, and merge. Ported operation-for-operation from the
// reference implementation's repo module, with sqlx transactions replaced
// by database/sql ones and Postgres unique-violation detection done
// through lib/pq's error type instead of sqlx's generic database error.
package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/lib/pq"

	"github.com/plectr/core/pkg/apperr"
	"github.com/plectr/core/pkg/blobstore"
	"github.com/plectr/core/pkg/diff"
	"github.com/plectr/core/pkg/middleware"
)

type Service struct {
	DB    *sql.DB
	Store blobstore.Store

	// Fire-and-forget fan-out after a durable commit (§4.5, §5). Left nil
	// in tests; main wires these to the mirror and runner packages.
	TriggerMirror   func(repoID uuid.UUID)
	TriggerPipeline func(repoID, commitID uuid.UUID)
}

func NewService(db *sql.DB, store blobstore.Store) *Service {
	return &Service{DB: db, Store: store}
}

type FileEntry struct {
	Path string `json:"path"`
	Hash string `json:"hash"`
}

type createRepoRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	IsPublic    bool   `json:"is_public"`
}

// CreateRepository handles POST /repos.
func (s *Service) CreateRepository(w http.ResponseWriter, r *http.Request) {
	var req createRepoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperr.Write(w, apperr.New(apperr.BadRequest, "invalid request body"))
		return
	}
	if req.Name == "" {
		apperr.Write(w, apperr.New(apperr.BadRequest, "name is required"))
		return
	}

	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		apperr.Write(w, apperr.New(apperr.Unauthorized, "authentication required"))
		return
	}

	tx, err := s.DB.BeginTx(r.Context(), nil)
	if err != nil {
		apperr.Write(w, apperr.Wrap(apperr.Internal, "begin transaction", err))
		return
	}
	defer tx.Rollback()

	var repoID uuid.UUID
	err = tx.QueryRowContext(r.Context(), `
		INSERT INTO repositories (name, description, is_public) VALUES ($1, $2, $3)
		RETURNING id`, req.Name, req.Description, req.IsPublic).Scan(&repoID)
	if pqErr, isPQ := err.(*pq.Error); isPQ && pqErr.Code == "23505" {
		apperr.Write(w, apperr.New(apperr.Conflict, fmt.Sprintf("repository %q already exists", req.Name)))
		return
	}
	if err != nil {
		apperr.Write(w, apperr.Wrap(apperr.Internal, "create repository", err))
		return
	}

	_, err = tx.ExecContext(r.Context(), `
		INSERT INTO repository_members (repo_id, user_id, role) VALUES ($1, $2, 'admin')`, repoID, user.ID)
	if err != nil {
		apperr.Write(w, apperr.Wrap(apperr.Internal, "grant admin membership", err))
		return
	}

	if err := tx.Commit(); err != nil {
		apperr.Write(w, apperr.Wrap(apperr.Internal, "commit transaction", err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{"repo_id": repoID})
}

// repositoryLanguages maps a modal file extension to a presentation label.
// Purely cosmetic: must never gate behavior (§4.5).
var repositoryLanguages = map[string]string{
	"rs": "Rust", "py": "Python", "ts": "TypeScript", "tsx": "TypeScript",
	"js": "JavaScript", "go": "Go", "csv": "Data", "parquet": "Data",
	"safetensors": "AI Model",
}

// ListRepositories handles GET /repos: public repos plus those the caller
// is a member of, each with a derived "primary language" label.
func (s *Service) ListRepositories(w http.ResponseWriter, r *http.Request) {
	var userID uuid.UUID
	if u, ok := middleware.UserFromContext(r.Context()); ok {
		userID = u.ID
	}

	rows, err := s.DB.QueryContext(r.Context(), `
		SELECT
			r.id, r.name, r.description, r.is_public,
			COALESCE(MAX(c.created_at), r.created_at) AS last_updated,
			(
				SELECT split_part(cf.file_path, '.', 2)
				FROM commit_files cf
				JOIN commits c2 ON cf.commit_id = c2.id
				WHERE c2.repo_id = r.id
				GROUP BY split_part(cf.file_path, '.', 2)
				ORDER BY COUNT(*) DESC LIMIT 1
			) AS primary_extension
		FROM repositories r
		LEFT JOIN commits c ON r.id = c.repo_id
		LEFT JOIN repository_members rm ON r.id = rm.repo_id AND rm.user_id = $1
		WHERE r.is_public = TRUE OR rm.user_id IS NOT NULL
		GROUP BY r.id, r.name, r.description, r.is_public, r.created_at
		ORDER BY last_updated DESC`, userID)
	if err != nil {
		apperr.Write(w, apperr.Wrap(apperr.Internal, "list repositories", err))
		return
	}
	defer rows.Close()

	type repoOut struct {
		ID          uuid.UUID `json:"id"`
		Name        string    `json:"name"`
		Description *string   `json:"description"`
		IsPublic    bool      `json:"is_public"`
		LastUpdated time.Time `json:"last_updated"`
		Language    string    `json:"language"`
	}

	var out []repoOut
	for rows.Next() {
		var o repoOut
		var ext sql.NullString
		if err := rows.Scan(&o.ID, &o.Name, &o.Description, &o.IsPublic, &o.LastUpdated, &ext); err != nil {
			apperr.Write(w, apperr.Wrap(apperr.Internal, "scan repository row", err))
			return
		}
		lang, ok := repositoryLanguages[ext.String]
		if !ok {
			lang = "Empty"
		}
		o.Language = lang
		out = append(out, o)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// GetHead handles GET /repos/:name/head.
func (s *Service) GetHead(w http.ResponseWriter, r *http.Request) {
	repoID, ok := repoIDFromContext(r)
	if !ok {
		apperr.Write(w, apperr.New(apperr.Internal, "missing repo context"))
		return
	}
	role, _ := r.Context().Value(middleware.RoleKey).(string)

	var commitID uuid.UUID
	var message string
	var createdAt time.Time
	err := s.DB.QueryRowContext(r.Context(), `
		SELECT id, message, created_at FROM commits
		WHERE repo_id = $1 AND is_divergent = FALSE
		ORDER BY created_at DESC LIMIT 1`, repoID).Scan(&commitID, &message, &createdAt)

	w.Header().Set("Content-Type", "application/json")
	if err == sql.ErrNoRows {
		json.NewEncoder(w).Encode(map[string]any{
			"status": "empty", "repo_id": repoID, "commit_id": nil,
			"message": "repository is empty", "access_level": role,
		})
		return
	}
	if err != nil {
		apperr.Write(w, apperr.Wrap(apperr.Internal, "fetch head commit", err))
		return
	}

	json.NewEncoder(w).Encode(map[string]any{
		"status": "active", "repo_id": repoID, "commit_id": commitID,
		"message": message, "date": createdAt, "access_level": role,
	})
}

type createCommitRequest struct {
	Message        string      `json:"message"`
	AuthorName     string      `json:"author_name"`
	AuthorEmail    string      `json:"author_email"`
	ParentCommitID *string     `json:"parent_commit_id"`
	Files          []FileEntry `json:"files"`
}

// CreateCommit handles POST /repos/:name/commits (§4.5's transactional
// five-step sequence, followed by the two best-effort background fan-outs).
func (s *Service) CreateCommit(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var req createCommitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperr.Write(w, apperr.New(apperr.BadRequest, "invalid request body"))
		return
	}

	tx, err := s.DB.BeginTx(r.Context(), nil)
	if err != nil {
		apperr.Write(w, apperr.Wrap(apperr.Internal, "begin transaction", err))
		return
	}
	defer tx.Rollback()

	var repoID uuid.UUID
	err = tx.QueryRowContext(r.Context(), `SELECT id FROM repositories WHERE name = $1`, name).Scan(&repoID)
	if err == sql.ErrNoRows {
		apperr.Write(w, apperr.New(apperr.NotFound, "repository not found"))
		return
	}
	if err != nil {
		apperr.Write(w, apperr.Wrap(apperr.Internal, "look up repository", err))
		return
	}

	var currentHead uuid.NullUUID
	err = tx.QueryRowContext(r.Context(), `
		SELECT id FROM commits WHERE repo_id = $1 ORDER BY created_at DESC LIMIT 1`, repoID).Scan(&currentHead)
	if err != nil && err != sql.ErrNoRows {
		apperr.Write(w, apperr.Wrap(apperr.Internal, "fetch current head", err))
		return
	}

	var parentID uuid.NullUUID
	if req.ParentCommitID != nil {
		if pid, perr := uuid.Parse(*req.ParentCommitID); perr == nil {
			var exists bool
			err = tx.QueryRowContext(r.Context(), `SELECT EXISTS(SELECT 1 FROM commits WHERE id = $1)`, pid).Scan(&exists)
			if err != nil {
				apperr.Write(w, apperr.Wrap(apperr.Internal, "validate parent commit", err))
				return
			}
			if exists {
				parentID = uuid.NullUUID{UUID: pid, Valid: true}
			}
		}
	}

	isDivergent := computeDivergence(currentHead, parentID)

	var commitID uuid.UUID
	err = tx.QueryRowContext(r.Context(), `
		INSERT INTO commits (repo_id, message, author_name, author_email, parent_id, is_divergent)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		repoID, req.Message, req.AuthorName, req.AuthorEmail, parentID, isDivergent).Scan(&commitID)
	if err != nil {
		apperr.Write(w, apperr.Wrap(apperr.Internal, "insert commit", err))
		return
	}

	for _, f := range req.Files {
		_, err = tx.ExecContext(r.Context(), `
			INSERT INTO commit_files (commit_id, file_path, blob_hash) VALUES ($1, $2, $3)`,
			commitID, f.Path, f.Hash)
		if err != nil {
			apperr.Write(w, apperr.Wrap(apperr.Internal, "insert commit file", err))
			return
		}
	}

	if err := tx.Commit(); err != nil {
		apperr.Write(w, apperr.Wrap(apperr.Internal, "commit transaction", err))
		return
	}

	// Fire-and-forget: neither may fail the commit response (§4.5, §5).
	if s.TriggerMirror != nil {
		go s.TriggerMirror(repoID)
	}
	if s.TriggerPipeline != nil {
		go s.TriggerPipeline(repoID, commitID)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"commit_id": commitID, "is_divergent": isDivergent})
}

// ListCommits handles GET /repos/:name/commits.
func (s *Service) ListCommits(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	rows, err := s.DB.QueryContext(r.Context(), `
		SELECT c.id, c.message, c.author_name, c.author_email, c.is_divergent, c.created_at,
		       (SELECT COUNT(*) FROM commit_files cf WHERE cf.commit_id = c.id) AS file_count
		FROM commits c
		JOIN repositories r ON c.repo_id = r.id
		WHERE r.name = $1
		ORDER BY c.created_at DESC`, name)
	if err != nil {
		apperr.Write(w, apperr.Wrap(apperr.Internal, "list commits", err))
		return
	}
	defer rows.Close()

	type commitOut struct {
		ID          uuid.UUID `json:"id"`
		Message     string    `json:"message"`
		Author      string    `json:"author"`
		Email       string    `json:"email"`
		IsDivergent bool      `json:"is_divergent"`
		Date        time.Time `json:"date"`
		FileCount   int       `json:"file_count"`
	}
	var out []commitOut
	for rows.Next() {
		var c commitOut
		if err := rows.Scan(&c.ID, &c.Message, &c.Author, &c.Email, &c.IsDivergent, &c.Date, &c.FileCount); err != nil {
			apperr.Write(w, apperr.Wrap(apperr.Internal, "scan commit row", err))
			return
		}
		out = append(out, c)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// Tree handles GET /repos/:name/commits/:commit/tree.
func (s *Service) Tree(w http.ResponseWriter, r *http.Request) {
	commitID, err := uuid.Parse(mux.Vars(r)["commit"])
	if err != nil {
		apperr.Write(w, apperr.New(apperr.BadRequest, "invalid commit id"))
		return
	}

	rows, err := s.DB.QueryContext(r.Context(), `
		SELECT cf.file_path, b.hash, b.size
		FROM commit_files cf JOIN blobs b ON cf.blob_hash = b.hash
		WHERE cf.commit_id = $1 ORDER BY cf.file_path ASC`, commitID)
	if err != nil {
		apperr.Write(w, apperr.Wrap(apperr.Internal, "list commit tree", err))
		return
	}
	defer rows.Close()

	type entry struct {
		Path string `json:"path"`
		Hash string `json:"hash"`
		Size int64  `json:"size"`
		Type string `json:"type"`
	}
	var out []entry
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.Path, &e.Hash, &e.Size); err != nil {
			apperr.Write(w, apperr.Wrap(apperr.Internal, "scan tree row", err))
			return
		}
		e.Type = fileKind(e.Path)
		out = append(out, e)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

func fileKind(path string) string {
	switch {
	case strings.HasSuffix(path, ".safetensors"):
		return "ai"
	case strings.HasSuffix(path, ".csv") || strings.HasSuffix(path, ".parquet"):
		return "data"
	default:
		return "code"
	}
}

// GetFileContent handles GET /repos/:name/commits/:commit/files/*path.
func (s *Service) GetFileContent(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	commitID, err := uuid.Parse(vars["commit"])
	if err != nil {
		apperr.Write(w, apperr.New(apperr.BadRequest, "invalid commit id"))
		return
	}
	path := vars["path"]

	var hash, mime string
	err = s.DB.QueryRowContext(r.Context(), `
		SELECT b.hash, COALESCE(b.mime_type, 'application/octet-stream')
		FROM commit_files cf JOIN blobs b ON cf.blob_hash = b.hash
		WHERE cf.commit_id = $1 AND cf.file_path = $2`, commitID, path).Scan(&hash, &mime)
	if err == sql.ErrNoRows {
		apperr.Write(w, apperr.New(apperr.NotFound, "file not found"))
		return
	}
	if err != nil {
		apperr.Write(w, apperr.Wrap(apperr.Internal, "look up file", err))
		return
	}

	rc, err := s.Store.Get(r.Context(), hash)
	if err != nil {
		apperr.Write(w, apperr.Wrap(apperr.Internal, "read blob", err))
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", mime)
	io.Copy(w, rc)
}

// GetFileMetadata handles GET /repos/:name/commits/:commit/metadata/*path.
func (s *Service) GetFileMetadata(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	commitID, err := uuid.Parse(vars["commit"])
	if err != nil {
		apperr.Write(w, apperr.New(apperr.BadRequest, "invalid commit id"))
		return
	}
	path := vars["path"]

	var size int64
	var mime sql.NullString
	var metadata sql.NullString
	err = s.DB.QueryRowContext(r.Context(), `
		SELECT b.size, b.mime_type, b.metadata
		FROM commit_files cf JOIN blobs b ON cf.blob_hash = b.hash
		WHERE cf.commit_id = $1 AND cf.file_path = $2`, commitID, path).Scan(&size, &mime, &metadata)
	if err == sql.ErrNoRows {
		apperr.Write(w, apperr.New(apperr.NotFound, "file not found"))
		return
	}
	if err != nil {
		apperr.Write(w, apperr.Wrap(apperr.Internal, "look up file metadata", err))
		return
	}

	var meta any
	if metadata.Valid {
		json.Unmarshal([]byte(metadata.String), &meta)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"size": size, "mime": mime.String, "metadata": meta})
}

type mergeRequest struct {
	DivergentCommitID string            `json:"divergent_commit_id"`
	RemoteCommitID    string            `json:"remote_commit_id"`
	Decisions         map[string]string `json:"decisions"`
}

// Merge handles POST /repos/:name/merge (§4.5's three-layer tree build:
// remote tree, then local-only paths, then decisions last-write-wins).
func (s *Service) Merge(w http.ResponseWriter, r *http.Request) {
	var req mergeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperr.Write(w, apperr.New(apperr.BadRequest, "invalid request body"))
		return
	}

	name := mux.Vars(r)["name"]
	remoteID, err := uuid.Parse(req.RemoteCommitID)
	if err != nil {
		apperr.Write(w, apperr.New(apperr.BadRequest, "invalid remote commit id"))
		return
	}
	localID, err := uuid.Parse(req.DivergentCommitID)
	if err != nil {
		apperr.Write(w, apperr.New(apperr.BadRequest, "invalid local commit id"))
		return
	}

	tx, err := s.DB.BeginTx(r.Context(), nil)
	if err != nil {
		apperr.Write(w, apperr.Wrap(apperr.Internal, "begin transaction", err))
		return
	}
	defer tx.Rollback()

	var repoID uuid.UUID
	err = tx.QueryRowContext(r.Context(), `SELECT id FROM repositories WHERE name = $1`, name).Scan(&repoID)
	if err == sql.ErrNoRows {
		apperr.Write(w, apperr.New(apperr.NotFound, "repository not found"))
		return
	}
	if err != nil {
		apperr.Write(w, apperr.Wrap(apperr.Internal, "look up repository", err))
		return
	}

	remoteFiles, err := treeRows(r.Context(), tx, remoteID)
	if err != nil {
		apperr.Write(w, apperr.Wrap(apperr.Internal, "fetch remote tree", err))
		return
	}
	localFiles, err := treeRows(r.Context(), tx, localID)
	if err != nil {
		apperr.Write(w, apperr.Wrap(apperr.Internal, "fetch local tree", err))
		return
	}

	finalTree := make(map[string]string, len(remoteFiles))
	for path, hash := range remoteFiles {
		finalTree[path] = hash
	}
	for path, hash := range localFiles {
		if _, inRemote := remoteFiles[path]; !inRemote {
			finalTree[path] = hash
		}
	}
	for path, hash := range req.Decisions {
		finalTree[path] = hash
	}

	message := fmt.Sprintf("Merge resonance from local divergence (%s)", req.DivergentCommitID[:min(8, len(req.DivergentCommitID))])

	var newCommitID uuid.UUID
	err = tx.QueryRowContext(r.Context(), `
		INSERT INTO commits (repo_id, message, author_name, author_email, parent_id, is_divergent)
		VALUES ($1, $2, 'Plectr Merge System', 'merge@plectr.io', $3, FALSE) RETURNING id`,
		repoID, message, remoteID).Scan(&newCommitID)
	if err != nil {
		apperr.Write(w, apperr.Wrap(apperr.Internal, "insert merge commit", err))
		return
	}

	for path, hash := range finalTree {
		_, err = tx.ExecContext(r.Context(), `
			INSERT INTO commit_files (commit_id, file_path, blob_hash) VALUES ($1, $2, $3)`,
			newCommitID, path, hash)
		if err != nil {
			apperr.Write(w, apperr.Wrap(apperr.Internal, "insert merge tree file", err))
			return
		}
	}

	_, err = tx.ExecContext(r.Context(), `UPDATE commits SET is_divergent = FALSE WHERE id = $1`, localID)
	if err != nil {
		apperr.Write(w, apperr.Wrap(apperr.Internal, "clear divergence flag", err))
		return
	}

	if err := tx.Commit(); err != nil {
		apperr.Write(w, apperr.Wrap(apperr.Internal, "commit transaction", err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"commit_id": newCommitID})
}

func treeRows(ctx context.Context, tx *sql.Tx, commitID uuid.UUID) (map[string]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT file_path, blob_hash FROM commit_files WHERE commit_id = $1`, commitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tree := make(map[string]string)
	for rows.Next() {
		var path, hash string
		if err := rows.Scan(&path, &hash); err != nil {
			return nil, err
		}
		tree[path] = hash
	}
	return tree, rows.Err()
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

type compareRequest struct {
	LocalHash  string `json:"local_hash"`
	RemoteHash string `json:"remote_hash"`
}

// Compare handles POST /repos/:name/compare.
func (s *Service) Compare(w http.ResponseWriter, r *http.Request) {
	var req compareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperr.Write(w, apperr.New(apperr.BadRequest, "invalid request body"))
		return
	}

	local := s.readBlobString(r.Context(), req.LocalHash)
	remote := s.readBlobString(r.Context(), req.RemoteHash)

	changes := diff.TextDiff(remote, local)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"diff": changes, "local_content": local, "remote_content": remote,
	})
}

func (s *Service) readBlobString(ctx context.Context, hash string) string {
	if hash == "" {
		return ""
	}
	rc, err := s.Store.Get(ctx, hash)
	if err != nil {
		return ""
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return ""
	}
	return string(b)
}

type addMemberRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

// AddMember handles POST /repos/:name/members.
func (s *Service) AddMember(w http.ResponseWriter, r *http.Request) {
	repoID, ok := repoIDFromContext(r)
	if !ok {
		apperr.Write(w, apperr.New(apperr.Internal, "missing repo context"))
		return
	}

	var req addMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperr.Write(w, apperr.New(apperr.BadRequest, "invalid request body"))
		return
	}

	var userID uuid.UUID
	err := s.DB.QueryRowContext(r.Context(), `SELECT id FROM users WHERE email = $1`, req.Email).Scan(&userID)
	if err == sql.ErrNoRows {
		apperr.Write(w, apperr.New(apperr.NotFound, "user not found (must authenticate at least once)"))
		return
	}
	if err != nil {
		apperr.Write(w, apperr.Wrap(apperr.Internal, "look up user", err))
		return
	}

	_, err = s.DB.ExecContext(r.Context(), `
		INSERT INTO repository_members (repo_id, user_id, role) VALUES ($1, $2, $3)
		ON CONFLICT (repo_id, user_id) DO UPDATE SET role = EXCLUDED.role`, repoID, userID, req.Role)
	if err != nil {
		apperr.Write(w, apperr.Wrap(apperr.Internal, "add member", err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"status": "member_added", "user": req.Email, "role": req.Role})
}

// ListMembers handles GET /repos/:name/members.
func (s *Service) ListMembers(w http.ResponseWriter, r *http.Request) {
	repoID, ok := repoIDFromContext(r)
	if !ok {
		apperr.Write(w, apperr.New(apperr.Internal, "missing repo context"))
		return
	}

	rows, err := s.DB.QueryContext(r.Context(), `
		SELECT u.username, u.email, rm.role
		FROM repository_members rm JOIN users u ON rm.user_id = u.id
		WHERE rm.repo_id = $1 ORDER BY rm.role DESC, u.username ASC`, repoID)
	if err != nil {
		apperr.Write(w, apperr.Wrap(apperr.Internal, "list members", err))
		return
	}
	defer rows.Close()

	type memberOut struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Role     string `json:"role"`
	}
	var out []memberOut
	for rows.Next() {
		var m memberOut
		if err := rows.Scan(&m.Username, &m.Email, &m.Role); err != nil {
			apperr.Write(w, apperr.Wrap(apperr.Internal, "scan member row", err))
			return
		}
		out = append(out, m)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

type updateRepoRequest struct {
	IsPublic    *bool   `json:"is_public"`
	Description *string `json:"description"`
}

// UpdateRepository handles PATCH /repos/:name.
func (s *Service) UpdateRepository(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var req updateRepoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperr.Write(w, apperr.New(apperr.BadRequest, "invalid request body"))
		return
	}

	res, err := s.DB.ExecContext(r.Context(), `
		UPDATE repositories SET
			is_public = COALESCE($1, is_public),
			description = COALESCE($2, description)
		WHERE name = $3`, req.IsPublic, req.Description, name)
	if err != nil {
		apperr.Write(w, apperr.Wrap(apperr.Internal, "update repository", err))
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		apperr.Write(w, apperr.New(apperr.NotFound, "repository not found"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "updated"})
}

// DeleteRepository handles DELETE /repos/:name.
func (s *Service) DeleteRepository(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	res, err := s.DB.ExecContext(r.Context(), `DELETE FROM repositories WHERE name = $1`, name)
	if err != nil {
		apperr.Write(w, apperr.Wrap(apperr.Internal, "delete repository", err))
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		apperr.Write(w, apperr.New(apperr.NotFound, "repository not found"))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// CheckNameAvailable handles GET /api/check/repo/:name, backing the
// pre-create availability check (§6).
func (s *Service) CheckNameAvailable(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var exists bool
	err := s.DB.QueryRowContext(r.Context(), `SELECT EXISTS(SELECT 1 FROM repositories WHERE name = $1)`, name).Scan(&exists)
	if err != nil {
		apperr.Write(w, apperr.Wrap(apperr.Internal, "check repository name availability", err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"available": !exists})
}

func repoIDFromContext(r *http.Request) (uuid.UUID, bool) {
	id, ok := r.Context().Value(middleware.RepoIDKey).(uuid.UUID)
	return id, ok
}

// computeDivergence decides whether a new commit diverges from the
// repository's current head (§4.5 step 4, §8 invariant): a repository with
// no existing commits is never divergent regardless of the requested
// parent, and a commit parented at the current head is never divergent.
// Anything else — including a parent that doesn't match the head, or no
// parent given while commits already exist — is divergent.
func computeDivergence(currentHead, parentID uuid.NullUUID) bool {
	if !currentHead.Valid {
		return false
	}
	if parentID.Valid && currentHead.UUID == parentID.UUID {
		return false
	}
	return true
}
