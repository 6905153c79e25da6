package api

import (
	"gitmem/internal/pipeline"
	"gitmem/internal/store"

	"github.com/go-logr/logr"
)

type AuthConfig struct {
	Read  BearerPolicy
	JWT   JWTPolicy
	Audit AuditPolicy
	Rate  RateLimitPolicy
}

type BearerPolicy struct {
	Token string
}

type JWTPolicy struct {
	Enabled     bool
	Issuer      string
	Audience    string
	HS256Secret string
}

type AuditPolicy struct {
	LogFile string
}

type RateLimitPolicy struct {
	Enabled         bool
	ReadPerMinute   int
	IngestPerMinute int
}

type ServerOptions struct {
	Auth   AuthConfig
	Logger logr.Logger
}

// Server is the HTTP boundary. It resolves the repository context for a
// delivery and hands it to the pipeline; the pipeline does the rest.
type Server struct {
	pipe        *pipeline.Pipeline
	repo        store.Repository
	auth        AuthConfig
	rateLimiter *authRateLimiter
	logger      logr.Logger
}

func NewServer(repo store.Repository, pipe *pipeline.Pipeline, opts ServerOptions) *Server {
	return &Server{
		pipe:        pipe,
		repo:        repo,
		auth:        opts.Auth,
		rateLimiter: newAuthRateLimiter(opts.Auth.Rate),
		logger:      opts.Logger,
	}
}
