package main

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"

	"github.com/plectr/core/pkg/apperr"
	"github.com/plectr/core/pkg/auth"
	"github.com/plectr/core/pkg/blobstore"
	"github.com/plectr/core/pkg/config"
	"github.com/plectr/core/pkg/database"
	"github.com/plectr/core/pkg/ingest"
	"github.com/plectr/core/pkg/middleware"
	"github.com/plectr/core/pkg/mirror"
	"github.com/plectr/core/pkg/policy"
	"github.com/plectr/core/pkg/registry"
	"github.com/plectr/core/pkg/repo"
	"github.com/plectr/core/pkg/runner"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	log.Printf("Starting Plectr core on %s...\n", cfg.ServerPort)

	store, err := blobstore.NewS3Store(cfg)
	if err != nil {
		log.Fatalf("failed to initialize blob store: %v", err)
	}

	var dbConn *sql.DB
	for i := 0; i < 10; i++ {
		dbConn, err = database.Connect(cfg)
		if err == nil {
			break
		}
		log.Printf("failed to connect to database (attempt %d/10): %v, retrying in 2s...", i+1, err)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		log.Fatalf("failed to connect to database after retries: %v", err)
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(redisClient.Context()).Err(); err != nil {
			log.Printf("warning: redis unreachable at %s, dedup cache disabled: %v", cfg.RedisAddr, err)
			redisClient = nil
		}
	}

	authSvc := auth.NewService(dbConn)
	policyEngine := policy.NewEngine()
	ingestSvc := ingest.NewService(dbConn, store, redisClient)
	repoSvc := repo.NewService(dbConn, store)
	registryHandler := registry.NewHandler(dbConn, store)
	mirrorSvc := mirror.NewService(dbConn, store, cfg.EncryptionKey)
	runnerSvc := runner.NewService(dbConn, store, authSvc, time.Duration(cfg.SystemTokenTTLMinutes)*time.Minute, cfg.RunnerHeartbeatWindowS)

	repoSvc.TriggerMirror = mirrorSvc.TriggerSync
	repoSvc.TriggerPipeline = runnerSvc.TriggerPipeline

	capGuard := &middleware.CapabilityGuard{DB: dbConn, Policy: policyEngine}
	bearerAuth := middleware.BearerAuth(authSvc)

	requireRole := func(role string, h http.HandlerFunc) http.Handler {
		return bearerAuth(capGuard.Require(role)(h))
	}
	authenticated := func(h http.HandlerFunc) http.Handler {
		return bearerAuth(h)
	}

	r := mux.NewRouter()

	r.HandleFunc("/healthz", healthCheck).Methods("GET")
	r.Handle("/api/me", authenticated(meHandler(authSvc))).Methods("GET")
	r.Handle("/api/me", authenticated(updateProfileHandler(authSvc))).Methods("PATCH")
	r.Handle("/api/check/repo/{name}", authenticated(http.HandlerFunc(repoSvc.CheckNameAvailable))).Methods("GET")
	r.Handle("/api/check/username/{name}", authenticated(checkUsernameHandler(authSvc))).Methods("GET")

	repos := r.PathPrefix("/repos").Subrouter()
	repos.Handle("", authenticated(repoSvc.ListRepositories)).Methods("GET")
	repos.Handle("", authenticated(repoSvc.CreateRepository)).Methods("POST")
	repos.Handle("/{name:.+}/head", requireRole(policy.RoleRead, repoSvc.GetHead)).Methods("GET")
	repos.Handle("/{name:.+}/commits", requireRole(policy.RoleRead, repoSvc.ListCommits)).Methods("GET")
	repos.Handle("/{name:.+}/commits", requireRole(policy.RoleWrite, repoSvc.CreateCommit)).Methods("POST")
	repos.Handle("/{name:.+}/commits/{commit}/tree", requireRole(policy.RoleRead, repoSvc.Tree)).Methods("GET")
	repos.Handle("/{name:.+}/commits/{commit}/files/{path:.+}", requireRole(policy.RoleRead, repoSvc.GetFileContent)).Methods("GET")
	repos.Handle("/{name:.+}/commits/{commit}/metadata/{path:.+}", requireRole(policy.RoleRead, repoSvc.GetFileMetadata)).Methods("GET")
	repos.Handle("/{name:.+}/merge", requireRole(policy.RoleWrite, repoSvc.Merge)).Methods("POST")
	repos.Handle("/{name:.+}/compare", requireRole(policy.RoleRead, repoSvc.Compare)).Methods("POST")
	repos.Handle("/{name:.+}/members", requireRole(policy.RoleAdmin, repoSvc.AddMember)).Methods("POST")
	repos.Handle("/{name:.+}/members", requireRole(policy.RoleRead, repoSvc.ListMembers)).Methods("GET")
	repos.Handle("/{name:.+}/mirror", requireRole(policy.RoleAdmin, mirrorSvc.SaveConfig)).Methods("PUT")
	repos.Handle("/{name:.+}/mirror", requireRole(policy.RoleAdmin, mirrorSvc.GetStatus)).Methods("GET")
	repos.Handle("/{name:.+}/images", requireRole(policy.RoleRead, registryHandler.ListImages)).Methods("GET")
	repos.Handle("/{name:.+}/pipelines", requireRole(policy.RoleRead, runnerSvc.ListPipelines)).Methods("GET")
	repos.Handle("/{name:.+}/pipelines/{id}", requireRole(policy.RoleRead, runnerSvc.GetPipelineDetails)).Methods("GET")
	repos.Handle("/{name:.+}/releases", requireRole(policy.RoleRead, runnerSvc.ListReleases)).Methods("GET")
	repos.Handle("/{name:.+}/releases/{id}/download", requireRole(policy.RoleRead, runnerSvc.DownloadArtifact)).Methods("GET")

	repos.Handle("/{name:.+}", requireRole(policy.RoleAdmin, repoSvc.UpdateRepository)).Methods("PATCH")
	repos.Handle("/{name:.+}", requireRole(policy.RoleAdmin, repoSvc.DeleteRepository)).Methods("DELETE").MatcherFunc(onlyExactRepoPath)

	r.Handle("/upload", authenticated(uploadBlobHandler(ingestSvc))).Methods("POST")
	r.Handle("/api/runner/jobs/{id}/artifacts", authenticated(http.HandlerFunc(runnerSvc.UploadJobArtifact))).Methods("POST")
	r.HandleFunc("/api/runner/ws", runnerSvc.Connect).Methods("GET")

	admin := r.PathPrefix("/api/admin").Subrouter()
	admin.Handle("/runners", authenticated(http.HandlerFunc(runnerSvc.ListRunners))).Methods("GET")
	admin.Handle("/runners", authenticated(http.HandlerFunc(runnerSvc.CreateRunnerToken))).Methods("POST")
	admin.Handle("/runners/{id}", authenticated(http.HandlerFunc(runnerSvc.DeleteRunner))).Methods("DELETE")

	v2 := r.PathPrefix("/v2").Subrouter()
	v2.HandleFunc("/", registryHandler.Base).Methods("GET")
	v2.HandleFunc("/_catalog", registryHandler.Catalog).Methods("GET")
	v2.HandleFunc("/{name:.+}/blobs/uploads/", registryHandler.StartUpload).Methods("POST")
	v2.HandleFunc("/{name:.+}/blobs/uploads/{uuid}", registryHandler.CompleteUpload).Methods("PUT", "PATCH")
	v2.HandleFunc("/{name:.+}/blobs/{digest}", registryHandler.HeadBlob).Methods("HEAD")
	v2.HandleFunc("/{name:.+}/blobs/{digest}", registryHandler.GetBlob).Methods("GET")
	v2.HandleFunc("/{name:.+}/manifests/{reference}", registryHandler.PutManifest).Methods("PUT")
	v2.HandleFunc("/{name:.+}/manifests/{reference}", registryHandler.GetManifest).Methods("GET")
	v2.HandleFunc("/{name:.+}/manifests/{reference}", registryHandler.HeadManifest).Methods("HEAD")
	v2.HandleFunc("/{name:.+}/images/{digest}/config", registryHandler.ImageConfig).Methods("GET")
	v2.HandleFunc("/{name:.+}/tags/list", registryHandler.Tags).Methods("GET")

	log.Fatal(http.ListenAndServe(cfg.ServerPort, withCORS(withRequestLog(r))))
}

// onlyExactRepoPath keeps the greedy {name:.+} delete route from swallowing
// the longer sub-paths registered above it (mirrors gorilla/mux ordering
// quirks the teacher already worked around for its own greedy routes).
func onlyExactRepoPath(r *http.Request, rm *mux.RouteMatch) bool {
	segments := 0
	for _, c := range r.URL.Path {
		if c == '/' {
			segments++
		}
	}
	return segments == 2
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func meHandler(authSvc *auth.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := middleware.UserFromContext(r.Context())
		if !ok {
			apperr.Write(w, apperr.New(apperr.Unauthorized, "authentication required"))
			return
		}
		isAdmin, _ := authSvc.IsSystemAdmin(r.Context(), user.ID)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id": user.ID, "username": user.Username, "email": user.Email, "is_system_admin": isAdmin,
		})
	}
}

func updateProfileHandler(authSvc *auth.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := middleware.UserFromContext(r.Context())
		if !ok {
			apperr.Write(w, apperr.New(apperr.Unauthorized, "authentication required"))
			return
		}

		var req struct {
			Username string `json:"username"`
			Email    string `json:"email"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperr.Write(w, apperr.New(apperr.BadRequest, "invalid request body"))
			return
		}

		if err := authSvc.UpdateProfile(r.Context(), user.ID, req.Username, req.Email); err != nil {
			apperr.Write(w, apperr.Wrap(apperr.Internal, "update profile", err))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "updated"})
	}
}

func checkUsernameHandler(authSvc *auth.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]

		available, err := authSvc.UsernameAvailable(r.Context(), name)
		if err != nil {
			apperr.Write(w, apperr.Wrap(apperr.Internal, "check username availability", err))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]bool{"available": available})
	}
}

func uploadBlobHandler(ingestSvc *ingest.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(256 << 20); err != nil {
			apperr.Write(w, apperr.New(apperr.BadRequest, "invalid multipart body"))
			return
		}

		var blobs []*ingest.BlobInfo
		for _, headers := range r.MultipartForm.File {
			for _, fh := range headers {
				f, err := fh.Open()
				if err != nil {
					continue
				}

				contentType := fh.Header.Get("Content-Type")
				if contentType == "" {
					contentType = "application/octet-stream"
				}

				info, err := ingestSvc.Ingest(r.Context(), fh.Filename, contentType, f)
				f.Close()
				if err != nil {
					apperr.Write(w, apperr.Wrap(apperr.Internal, "ingest blob", err))
					return
				}
				blobs = append(blobs, info)
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"status": "ok", "blobs": blobs})
	}
}

func withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("%s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, HEAD, PATCH")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Docker-Upload-UUID, X-Requested-With")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
