// Package mirror implements the Mirror Worker (§4.9): materializes a
// commit's tree into an ephemeral git working copy and pushes it to a
// configured remote, using the real git binary via os/exec rather than a
// library reimplementation of the git wire protocol.
package mirror

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/plectr/core/pkg/apperr"
	"github.com/plectr/core/pkg/blobstore"
	"github.com/plectr/core/pkg/crypto"
	"github.com/plectr/core/pkg/middleware"
)

type Service struct {
	DB    *sql.DB
	Store blobstore.Store

	// EncryptionKey is only read once, lazily, the first time a mirror is
	// actually configured or synced (§6: required "once mirror
	// functionality is exercised", not at process start).
	EncryptionKey string
	sealerOnce    sync.Once
	sealer        *crypto.Sealer
	sealerErr     error
}

func NewService(db *sql.DB, store blobstore.Store, encryptionKey string) *Service {
	return &Service{DB: db, Store: store, EncryptionKey: encryptionKey}
}

// getSealer lazily constructs the AEAD sealer on first use, so a deployment
// that never configures a mirror never needs ENCRYPTION_KEY set.
func (s *Service) getSealer() (*crypto.Sealer, error) {
	s.sealerOnce.Do(func() {
		s.sealer, s.sealerErr = crypto.NewSealer(s.EncryptionKey)
	})
	return s.sealer, s.sealerErr
}

type saveConfigRequest struct {
	RemoteURL string `json:"remote_url"`
	Token     string `json:"token"`
	Enabled   bool   `json:"enabled"`
}

// SaveConfig handles PUT /repos/{name}/mirror.
func (s *Service) SaveConfig(w http.ResponseWriter, r *http.Request) {
	repoID, ok := repoIDFromContext(r)
	if !ok {
		apperr.Write(w, apperr.New(apperr.Internal, "missing repo context"))
		return
	}

	var req saveConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperr.Write(w, apperr.New(apperr.BadRequest, "invalid request body"))
		return
	}

	sealer, err := s.getSealer()
	if err != nil {
		apperr.Write(w, apperr.Wrap(apperr.Internal, "initialize mirror token sealer", err))
		return
	}

	ciphertext, nonce, err := sealer.Encrypt(req.Token)
	if err != nil {
		apperr.Write(w, apperr.Wrap(apperr.Internal, "encrypt mirror token", err))
		return
	}

	_, err = s.DB.ExecContext(r.Context(), `
		INSERT INTO repo_mirrors (repo_id, remote_url, encrypted_token, iv, is_enabled, last_status)
		VALUES ($1, $2, $3, $4, $5, 'pending')
		ON CONFLICT (repo_id) DO UPDATE SET
			remote_url = EXCLUDED.remote_url,
			encrypted_token = EXCLUDED.encrypted_token,
			iv = EXCLUDED.iv,
			is_enabled = EXCLUDED.is_enabled,
			last_status = 'pending',
			last_error = NULL`,
		repoID, req.RemoteURL, ciphertext, nonce, req.Enabled)
	if err != nil {
		apperr.Write(w, apperr.Wrap(apperr.Internal, "save mirror config", err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"status": "configured", "encrypted": true})
}

// GetStatus handles GET /repos/{name}/mirror.
func (s *Service) GetStatus(w http.ResponseWriter, r *http.Request) {
	repoID, ok := repoIDFromContext(r)
	if !ok {
		apperr.Write(w, apperr.New(apperr.Internal, "missing repo context"))
		return
	}

	var remoteURL, status string
	var enabled bool
	var lastSync, lastError sql.NullString
	err := s.DB.QueryRowContext(r.Context(), `
		SELECT remote_url, is_enabled, last_sync_at::text, last_status, last_error
		FROM repo_mirrors WHERE repo_id = $1`, repoID).Scan(&remoteURL, &enabled, &lastSync, &status, &lastError)

	w.Header().Set("Content-Type", "application/json")
	if err == sql.ErrNoRows {
		json.NewEncoder(w).Encode(map[string]any{"configured": false})
		return
	}
	if err != nil {
		apperr.Write(w, apperr.Wrap(apperr.Internal, "fetch mirror status", err))
		return
	}

	json.NewEncoder(w).Encode(map[string]any{
		"configured": true, "remote_url": remoteURL, "enabled": enabled,
		"last_sync": lastSync.String, "status": status, "error": lastError.String,
	})
}

func repoIDFromContext(r *http.Request) (uuid.UUID, bool) {
	id, ok := r.Context().Value(middleware.RepoIDKey).(uuid.UUID)
	return id, ok
}

// TriggerSync is the fire-and-forget hook the commit graph calls after a
// durable commit (§4.5, §4.9). Failures are recorded on the mirror row and
// never surfaced to the commit's own response.
func (s *Service) TriggerSync(repoID uuid.UUID) {
	go func() {
		ctx := context.Background()
		if err := s.sync(ctx, repoID); err != nil {
			log.Printf("[mirror] sync failed for %s: %v", repoID, err)
			s.DB.ExecContext(ctx, `
				UPDATE repo_mirrors SET last_status = 'failed', last_error = $2 WHERE repo_id = $1`, repoID, err.Error())
		}
	}()
}

func (s *Service) sync(ctx context.Context, repoID uuid.UUID) error {
	var remoteURL, ciphertext, nonce string
	err := s.DB.QueryRowContext(ctx, `
		SELECT remote_url, encrypted_token, iv FROM repo_mirrors WHERE repo_id = $1 AND is_enabled = TRUE`,
		repoID).Scan(&remoteURL, &ciphertext, &nonce)
	if err == sql.ErrNoRows {
		return fmt.Errorf("sync disabled or not configured")
	}
	if err != nil {
		return fmt.Errorf("load mirror config: %w", err)
	}

	sealer, err := s.getSealer()
	if err != nil {
		return fmt.Errorf("initialize mirror token sealer: %w", err)
	}

	token, err := sealer.Decrypt(ciphertext, nonce)
	if err != nil {
		return fmt.Errorf("decrypt access token: %w", err)
	}

	var commitID uuid.UUID
	var authorName, authorEmail, message string
	err = s.DB.QueryRowContext(ctx, `
		SELECT id, author_name, author_email, message FROM commits
		WHERE repo_id = $1 ORDER BY created_at DESC LIMIT 1`, repoID).Scan(&commitID, &authorName, &authorEmail, &message)
	if err == sql.ErrNoRows {
		return fmt.Errorf("repository is void")
	}
	if err != nil {
		return fmt.Errorf("load head commit: %w", err)
	}

	workDir, err := os.MkdirTemp("", "plectr-mirror-*")
	if err != nil {
		return fmt.Errorf("create temp workspace: %w", err)
	}
	defer os.RemoveAll(workDir)

	if err := s.materialize(ctx, workDir, commitID); err != nil {
		return err
	}

	if err := runGit(ctx, workDir, false, "init"); err != nil {
		return err
	}
	if err := runGit(ctx, workDir, false, "config", "user.name", authorName); err != nil {
		return err
	}
	if err := runGit(ctx, workDir, false, "config", "user.email", authorEmail); err != nil {
		return err
	}
	if err := runGit(ctx, workDir, false, "branch", "-m", "main"); err != nil {
		return err
	}

	cleanURL := strings.TrimPrefix(strings.TrimPrefix(remoteURL, "https://"), "http://")
	authenticatedURL := fmt.Sprintf("https://oauth2:%s@%s", token, cleanURL)

	if err := runGit(ctx, workDir, true, "remote", "add", "origin", authenticatedURL); err != nil {
		return err
	}
	if err := runGit(ctx, workDir, false, "add", "."); err != nil {
		return err
	}
	if err := runGit(ctx, workDir, false, "commit", "-m", fmt.Sprintf("%s (Plectr Sync)", message)); err != nil {
		return err
	}
	if err := runGit(ctx, workDir, true, "push", "--force", "origin", "main"); err != nil {
		return err
	}

	_, err = s.DB.ExecContext(ctx, `
		UPDATE repo_mirrors SET last_sync_at = NOW(), last_status = 'success', last_error = NULL WHERE repo_id = $1`, repoID)
	return err
}

func (s *Service) materialize(ctx context.Context, workDir string, commitID uuid.UUID) error {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT cf.file_path, b.hash FROM commit_files cf JOIN blobs b ON cf.blob_hash = b.hash
		WHERE cf.commit_id = $1`, commitID)
	if err != nil {
		return fmt.Errorf("list commit files: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var path, hash string
		if err := rows.Scan(&path, &hash); err != nil {
			return err
		}

		fullPath := filepath.Join(workDir, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
			return fmt.Errorf("create directory for %s: %w", path, err)
		}

		rc, err := s.Store.Get(ctx, hash)
		if err != nil {
			return fmt.Errorf("read blob %s: %w", hash, err)
		}
		f, err := os.Create(fullPath)
		if err != nil {
			rc.Close()
			return fmt.Errorf("create file %s: %w", path, err)
		}
		_, copyErr := io.Copy(f, rc)
		rc.Close()
		f.Close()
		if copyErr != nil {
			return fmt.Errorf("write file %s: %w", path, copyErr)
		}
	}
	return rows.Err()
}

// runGit shells out to the real git binary. When sensitive is true, the
// arguments (which embed the access token in the remote URL) are never
// included in the returned error (§8 invariant on token redaction).
func runGit(ctx context.Context, dir string, sensitive bool, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if err == nil {
		return nil
	}

	if sensitive {
		return fmt.Errorf("git command failed (arguments redacted): check remote URL and credentials")
	}
	return fmt.Errorf("git %s: %s", args[0], strings.TrimSpace(string(output)))
}
