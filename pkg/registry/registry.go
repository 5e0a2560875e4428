// Package registry implements the OCI Distribution v2 surface (§4.7): blob
// upload/fetch, manifest put/get, tag listing, and first-push namespace
// auto-provisioning, layered on top of the same repository/membership
// tables the commit graph uses.
package registry

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"lukechampine.com/blake3"

	"github.com/plectr/core/pkg/apperr"
	"github.com/plectr/core/pkg/auth"
	"github.com/plectr/core/pkg/blobstore"
)

type Handler struct {
	DB    *sql.DB
	Store blobstore.Store
}

func NewHandler(db *sql.DB, store blobstore.Store) *Handler {
	return &Handler{DB: db, Store: store}
}

func dockerHeaders(w http.ResponseWriter) {
	w.Header().Set("Docker-Distribution-Api-Version", "registry/2.0")
}

func ociError(w http.ResponseWriter, status int, code, message string) {
	dockerHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"errors": []map[string]string{{"code": code, "message": message}},
	})
}

// Base handles GET /v2/.
func (h *Handler) Base(w http.ResponseWriter, r *http.Request) {
	dockerHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("{}"))
}

// accessCaller is what checkAccess recovers from the request's credentials,
// independent of whether the bearer token belongs to a registered user yet.
type accessCaller struct {
	id       uuid.UUID
	username string
	email    string
}

func callerFromRequest(r *http.Request) *accessCaller {
	authz := r.Header.Get("Authorization")
	var token string
	switch {
	case strings.HasPrefix(authz, "Basic "):
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(authz, "Basic "))
		if err != nil {
			return nil
		}
		parts := strings.SplitN(string(decoded), ":", 2)
		if len(parts) != 2 {
			return nil
		}
		token = parts[1]
	case strings.HasPrefix(authz, "Bearer "):
		token = strings.TrimPrefix(authz, "Bearer ")
	default:
		return nil
	}
	if token == "" {
		return nil
	}

	user, err := auth.ParseBearer(token)
	if err != nil {
		return nil
	}
	return &accessCaller{id: user.ID, username: user.Username, email: user.Email}
}

// checkAccessReq mirrors the reference implementation's docker gateway:
// reads or creates the backing repository on first authenticated write, and
// otherwise checks the same membership/visibility rule the commit graph
// uses (§4.7, §9 design note on the docker gateway sharing repositories).
func (h *Handler) checkAccessReq(r *http.Request, w http.ResponseWriter, fullName string, requireWrite bool) (string, bool) {
	plectrRepoName := strings.SplitN(fullName, "/", 2)[0]
	caller := callerFromRequest(r)

	var isPublic bool
	var role, orgRole sql.NullString
	var userID uuid.UUID
	if caller != nil {
		userID = caller.id
	}

	err := h.DB.QueryRowContext(r.Context(), `
		SELECT r.is_public, rm.role, om.role::text
		FROM repositories r
		LEFT JOIN repository_members rm ON r.id = rm.repo_id AND rm.user_id = $2
		LEFT JOIN organization_members om ON r.org_id = om.org_id AND om.user_id = $2
		WHERE r.name = $1`, plectrRepoName, userID).Scan(&isPublic, &role, &orgRole)
	isOrgOwner := orgRole.Valid && orgRole.String == "owner"

	if err == sql.ErrNoRows {
		if !requireWrite {
			ociError(w, http.StatusNotFound, "NAME_UNKNOWN", "repository not known to registry")
			return "", false
		}
		if caller == nil {
			dockerHeaders(w)
			w.Header().Set("Www-Authenticate", `Basic realm="Registry Realm"`)
			ociError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required to create repository")
			return "", false
		}
		if err := h.autoProvision(r.Context(), plectrRepoName, *caller); err != nil {
			ociError(w, http.StatusInternalServerError, "UNKNOWN", "failed to auto-create repository")
			return "", false
		}
		return plectrRepoName, true
	}
	if err != nil {
		ociError(w, http.StatusInternalServerError, "UNKNOWN", err.Error())
		return "", false
	}

	if requireWrite {
		if caller == nil {
			dockerHeaders(w)
			w.Header().Set("Www-Authenticate", `Basic realm="Registry Realm"`)
			ociError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
			return "", false
		}
		if isOrgOwner || (role.Valid && role.String != "viewer") {
			return plectrRepoName, true
		}
		ociError(w, http.StatusForbidden, "DENIED", "write access denied")
		return "", false
	}

	if isPublic || role.Valid || isOrgOwner {
		return plectrRepoName, true
	}
	if caller == nil {
		dockerHeaders(w)
		w.Header().Set("Www-Authenticate", `Basic realm="Registry Realm"`)
		ociError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
		return "", false
	}
	ociError(w, http.StatusForbidden, "DENIED", "read access denied")
	return "", false
}

func (h *Handler) autoProvision(ctx context.Context, repoName string, caller accessCaller) error {
	tx, err := h.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO users (id, username, email) VALUES ($1, $2, $3) ON CONFLICT (id) DO NOTHING`,
		caller.id, caller.username, caller.email); err != nil {
		return err
	}

	repoID := uuid.New()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO repositories (id, name, description, is_public) VALUES ($1, $2, 'Auto-created via Docker push', FALSE)`,
		repoID, repoName); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO repository_members (repo_id, user_id, role) VALUES ($1, $2, 'admin')`, repoID, caller.id); err != nil {
		return err
	}

	log.Printf("[registry] auto-created repository %q from docker push", repoName)
	return tx.Commit()
}

// StartUpload handles POST /v2/{name}/blobs/uploads/.
func (h *Handler) StartUpload(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if _, ok := h.checkAccessReq(r, w, name, true); !ok {
		return
	}

	uploadID := uuid.New().String()
	dockerHeaders(w)
	w.Header().Set("Location", fmt.Sprintf("/v2/%s/blobs/uploads/%s", name, uploadID))
	w.Header().Set("Range", "0-0")
	w.Header().Set("Docker-Upload-UUID", uploadID)
	w.WriteHeader(http.StatusAccepted)
}

// CompleteUpload handles PUT /v2/{name}/blobs/uploads/{uuid}?digest=sha256:...
// Hashes with both SHA-256 (OCI digest identity) and BLAKE3 (blob store key),
// verifies the caller's claimed digest, then writes once under the BLAKE3
// key (§4.7, §9: dual-hash blob identity).
func (h *Handler) CompleteUpload(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if _, ok := h.checkAccessReq(r, w, name, true); !ok {
		return
	}

	expectedDigest := r.URL.Query().Get("digest")
	if expectedDigest == "" {
		ociError(w, http.StatusBadRequest, "DIGEST_INVALID", "digest query parameter required")
		return
	}

	sha := sha256.New()
	b3 := blake3.New(32, nil)
	data, err := io.ReadAll(io.TeeReader(r.Body, io.MultiWriter(sha, b3)))
	if err != nil {
		ociError(w, http.StatusInternalServerError, "UNKNOWN", "failed reading upload stream")
		return
	}

	calculatedDigest := "sha256:" + hex.EncodeToString(sha.Sum(nil))
	blakeKey := hex.EncodeToString(b3.Sum(nil))

	if calculatedDigest != expectedDigest {
		ociError(w, http.StatusBadRequest, "DIGEST_INVALID", "digest mismatch")
		return
	}

	if err := h.Store.Put(r.Context(), blakeKey, strings.NewReader(string(data))); err != nil {
		ociError(w, http.StatusInternalServerError, "UNKNOWN", "failed to write blob")
		return
	}

	_, err = h.DB.ExecContext(r.Context(), `
		INSERT INTO blobs (hash, sha256, size, mime_type) VALUES ($1, $2, $3, 'application/vnd.docker.image.rootfs.diff.tar.gzip')
		ON CONFLICT (hash) DO UPDATE SET sha256 = EXCLUDED.sha256`,
		blakeKey, strings.TrimPrefix(calculatedDigest, "sha256:"), len(data))
	if err != nil {
		ociError(w, http.StatusInternalServerError, "UNKNOWN", "failed to register blob")
		return
	}

	dockerHeaders(w)
	w.Header().Set("Docker-Content-Digest", calculatedDigest)
	w.Header().Set("Location", fmt.Sprintf("/v2/%s/blobs/%s", name, calculatedDigest))
	w.WriteHeader(http.StatusCreated)
}

// HeadBlob handles HEAD /v2/{name}/blobs/{digest}.
func (h *Handler) HeadBlob(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if _, ok := h.checkAccessReq(r, w, vars["name"], false); !ok {
		return
	}

	digest := strings.TrimPrefix(vars["digest"], "sha256:")
	var size int64
	err := h.DB.QueryRowContext(r.Context(), `SELECT size FROM blobs WHERE sha256 = $1`, digest).Scan(&size)
	if err == sql.ErrNoRows {
		ociError(w, http.StatusNotFound, "BLOB_UNKNOWN", "blob unknown to registry")
		return
	}
	if err != nil {
		ociError(w, http.StatusInternalServerError, "UNKNOWN", err.Error())
		return
	}

	dockerHeaders(w)
	w.Header().Set("Docker-Content-Digest", vars["digest"])
	w.Header().Set("Content-Length", fmt.Sprintf("%d", size))
	w.WriteHeader(http.StatusOK)
}

// GetBlob handles GET /v2/{name}/blobs/{digest}.
func (h *Handler) GetBlob(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if _, ok := h.checkAccessReq(r, w, vars["name"], false); !ok {
		return
	}

	digest := strings.TrimPrefix(vars["digest"], "sha256:")
	var blakeKey string
	err := h.DB.QueryRowContext(r.Context(), `SELECT hash FROM blobs WHERE sha256 = $1`, digest).Scan(&blakeKey)
	if err == sql.ErrNoRows {
		ociError(w, http.StatusNotFound, "BLOB_UNKNOWN", "blob unknown to registry")
		return
	}
	if err != nil {
		ociError(w, http.StatusInternalServerError, "UNKNOWN", err.Error())
		return
	}

	rc, err := h.Store.Get(r.Context(), blakeKey)
	if err != nil {
		ociError(w, http.StatusNotFound, "BLOB_UNKNOWN", "blob missing from storage")
		return
	}
	defer rc.Close()

	dockerHeaders(w)
	w.Header().Set("Docker-Content-Digest", vars["digest"])
	w.Header().Set("Content-Type", "application/octet-stream")
	io.Copy(w, rc)
}

type manifestDescriptor struct {
	MediaType string `json:"mediaType"`
	Size      int64  `json:"size"`
	Digest    string `json:"digest"`
}

type manifestV2 struct {
	Config manifestDescriptor   `json:"config"`
	Layers []manifestDescriptor `json:"layers"`
}

// PutManifest handles PUT /v2/{name}/manifests/{reference}. The raw request
// body is persisted verbatim so a later GetManifest round-trips byte for
// byte, rather than re-serializing through a parsed JSON value.
func (h *Handler) PutManifest(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name, reference := vars["name"], vars["reference"]
	if _, ok := h.checkAccessReq(r, w, name, true); !ok {
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		ociError(w, http.StatusInternalServerError, "UNKNOWN", "failed to read manifest body")
		return
	}

	sum := sha256.Sum256(body)
	digest := "sha256:" + hex.EncodeToString(sum[:])

	mediaType := "application/vnd.docker.distribution.manifest.v2+json"
	var parsed map[string]any
	if json.Unmarshal(body, &parsed) == nil {
		if mt, ok := parsed["mediaType"].(string); ok && mt != "" {
			mediaType = mt
		}
	}

	tx, err := h.DB.BeginTx(r.Context(), nil)
	if err != nil {
		ociError(w, http.StatusInternalServerError, "UNKNOWN", "begin transaction")
		return
	}
	defer tx.Rollback()

	var dockerRepoID uuid.UUID
	err = tx.QueryRowContext(r.Context(), `
		INSERT INTO docker_repositories (name) VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name RETURNING id`, name).Scan(&dockerRepoID)
	if err != nil {
		ociError(w, http.StatusInternalServerError, "UNKNOWN", "register docker repository")
		return
	}

	_, err = tx.ExecContext(r.Context(), `
		INSERT INTO docker_manifests (digest, repo_id, content, media_type)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (digest) DO UPDATE SET content = EXCLUDED.content, media_type = EXCLUDED.media_type`,
		digest, dockerRepoID, body, mediaType)
	if err != nil {
		ociError(w, http.StatusInternalServerError, "UNKNOWN", "store manifest")
		return
	}

	if !strings.HasPrefix(reference, "sha256:") {
		_, err = tx.ExecContext(r.Context(), `
			INSERT INTO docker_tags (repo_id, tag, manifest_digest) VALUES ($1, $2, $3)
			ON CONFLICT (repo_id, tag) DO UPDATE SET manifest_digest = EXCLUDED.manifest_digest, updated_at = NOW()`,
			dockerRepoID, reference, digest)
		if err != nil {
			ociError(w, http.StatusInternalServerError, "UNKNOWN", "tag manifest")
			return
		}
	}

	if err := tx.Commit(); err != nil {
		ociError(w, http.StatusInternalServerError, "UNKNOWN", "commit transaction")
		return
	}

	dockerHeaders(w)
	w.Header().Set("Docker-Content-Digest", digest)
	w.Header().Set("Location", fmt.Sprintf("/v2/%s/manifests/%s", name, digest))
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) resolveManifest(ctx context.Context, name, reference string) (digest string, content []byte, mediaType string, err error) {
	var mt sql.NullString
	err = h.DB.QueryRowContext(ctx, `
		SELECT m.digest, m.content, m.media_type
		FROM docker_manifests m
		JOIN docker_repositories r ON m.repo_id = r.id
		LEFT JOIN docker_tags t ON t.repo_id = r.id AND t.manifest_digest = m.digest
		WHERE r.name = $1 AND (t.tag = $2 OR m.digest = $2)
		LIMIT 1`, name, reference).Scan(&digest, &content, &mt)
	if mt.Valid {
		mediaType = mt.String
	} else {
		mediaType = "application/vnd.docker.distribution.manifest.v2+json"
	}
	return digest, content, mediaType, err
}

// GetManifest handles GET /v2/{name}/manifests/{reference}.
func (h *Handler) GetManifest(w http.ResponseWriter, r *http.Request) {
	h.serveManifest(w, r, false)
}

// HeadManifest handles HEAD /v2/{name}/manifests/{reference}.
func (h *Handler) HeadManifest(w http.ResponseWriter, r *http.Request) {
	h.serveManifest(w, r, true)
}

func (h *Handler) serveManifest(w http.ResponseWriter, r *http.Request, headOnly bool) {
	vars := mux.Vars(r)
	name, reference := vars["name"], vars["reference"]
	if _, ok := h.checkAccessReq(r, w, name, false); !ok {
		return
	}

	digest, content, mediaType, err := h.resolveManifest(r.Context(), name, reference)
	if err == sql.ErrNoRows {
		ociError(w, http.StatusNotFound, "MANIFEST_UNKNOWN", "manifest unknown")
		return
	}
	if err != nil {
		ociError(w, http.StatusInternalServerError, "UNKNOWN", err.Error())
		return
	}

	dockerHeaders(w)
	w.Header().Set("Docker-Content-Digest", digest)
	w.Header().Set("Content-Type", mediaType)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(content)))
	if headOnly {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.Write(content)
}

// Tags handles GET /v2/{name}/tags/list.
func (h *Handler) Tags(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if _, ok := h.checkAccessReq(r, w, name, false); !ok {
		return
	}

	rows, err := h.DB.QueryContext(r.Context(), `
		SELECT t.tag FROM docker_tags t
		JOIN docker_repositories r ON t.repo_id = r.id
		WHERE r.name = $1 ORDER BY t.tag ASC`, name)
	if err != nil {
		ociError(w, http.StatusInternalServerError, "UNKNOWN", err.Error())
		return
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			ociError(w, http.StatusInternalServerError, "UNKNOWN", err.Error())
			return
		}
		tags = append(tags, tag)
	}

	dockerHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"name": name, "tags": tags})
}

// Catalog handles GET /v2/_catalog.
func (h *Handler) Catalog(w http.ResponseWriter, r *http.Request) {
	rows, err := h.DB.QueryContext(r.Context(), `SELECT name FROM docker_repositories ORDER BY name ASC`)
	if err != nil {
		ociError(w, http.StatusInternalServerError, "UNKNOWN", err.Error())
		return
	}
	defer rows.Close()

	var repos []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			ociError(w, http.StatusInternalServerError, "UNKNOWN", err.Error())
			return
		}
		repos = append(repos, name)
	}

	dockerHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"repositories": repos})
}

// summarizeManifestLayers parses a stored manifest's raw JSON content and
// reports the true image size (sum of layer sizes, not the manifest JSON's
// own byte length) and layer count. A manifest that fails to parse as v2
// reports zero for both rather than failing the whole image listing.
func summarizeManifestLayers(content []byte) (size int64, layerCount int) {
	var manifest manifestV2
	if err := json.Unmarshal(content, &manifest); err != nil {
		return 0, 0
	}
	for _, layer := range manifest.Layers {
		size += layer.Size
	}
	return size, len(manifest.Layers)
}

// ListImages handles GET /repos/{name}/images: tags joined with summed
// layer size and layer count, for the repo UI's image list (§4.7
// supplement). A Plectr repo named X owns every docker-repo named X or
// X/*, matching the sub-repository naming Docker clients use for a
// single project's multiple images (e.g. X/worker, X/api).
func (h *Handler) ListImages(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	rows, err := h.DB.QueryContext(r.Context(), `
		SELECT t.tag, m.digest, m.media_type, m.content, t.updated_at
		FROM docker_tags t
		JOIN docker_repositories r ON t.repo_id = r.id
		JOIN docker_manifests m ON t.manifest_digest = m.digest
		WHERE r.name = $1 OR r.name LIKE $1 || '/%'
		ORDER BY t.updated_at DESC`, name)
	if err != nil {
		apperr.Write(w, apperr.Wrap(apperr.Internal, "list images", err))
		return
	}
	defer rows.Close()

	type imageOut struct {
		Tag        string `json:"tag"`
		Digest     string `json:"digest"`
		MediaType  string `json:"media_type"`
		Size       int64  `json:"size"`
		LayerCount int    `json:"layer_count"`
	}
	var out []imageOut
	for rows.Next() {
		var img imageOut
		var content []byte
		var updatedAt any
		if err := rows.Scan(&img.Tag, &img.Digest, &img.MediaType, &content, &updatedAt); err != nil {
			apperr.Write(w, apperr.Wrap(apperr.Internal, "scan image row", err))
			return
		}

		img.Size, img.LayerCount = summarizeManifestLayers(content)

		out = append(out, img)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// ImageConfig handles GET /v2/{name}/images/{digest}/config: resolves the
// manifest's config descriptor and serves the referenced blob's JSON body
// (§4.7 supplement, used by UI dashboards to show image labels/entrypoint
// without a full `docker inspect`).
func (h *Handler) ImageConfig(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name, digest := vars["name"], vars["digest"]
	if _, ok := h.checkAccessReq(r, w, name, false); !ok {
		return
	}

	var content []byte
	err := h.DB.QueryRowContext(r.Context(), `SELECT content FROM docker_manifests WHERE digest = $1`, digest).Scan(&content)
	if err == sql.ErrNoRows {
		apperr.Write(w, apperr.New(apperr.NotFound, "manifest not found"))
		return
	}
	if err != nil {
		apperr.Write(w, apperr.Wrap(apperr.Internal, "fetch manifest", err))
		return
	}

	var m manifestV2
	if err := json.Unmarshal(content, &m); err != nil || m.Config.Digest == "" {
		apperr.Write(w, apperr.New(apperr.BadRequest, "manifest has no resolvable config descriptor"))
		return
	}

	cleanDigest := strings.TrimPrefix(m.Config.Digest, "sha256:")
	var blakeKey string
	err = h.DB.QueryRowContext(r.Context(), `SELECT hash FROM blobs WHERE sha256 = $1`, cleanDigest).Scan(&blakeKey)
	if err == sql.ErrNoRows {
		apperr.Write(w, apperr.New(apperr.NotFound, "config blob not found"))
		return
	}
	if err != nil {
		apperr.Write(w, apperr.Wrap(apperr.Internal, "look up config blob", err))
		return
	}

	rc, err := h.Store.Get(r.Context(), blakeKey)
	if err != nil {
		apperr.Write(w, apperr.Wrap(apperr.Internal, "read config blob", err))
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/json")
	io.Copy(w, rc)
}
