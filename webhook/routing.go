package webhook

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/matrix-org/util"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentivy/sentinel/moderation"
	"github.com/agentivy/sentinel/scan"
	"github.com/agentivy/sentinel/store"
)

// MessageProcessor runs the moderation pipeline for one inbound message.
type MessageProcessor interface {
	ProcessMessage(ctx context.Context, msg moderation.Message) (moderation.Decision, error)
}

// Scanner performs ad-hoc artifact scans outside the message pipeline.
type Scanner interface {
	Submit(ctx context.Context, a scan.Artifact) (*scan.Job, error)
	Poll(ctx context.Context, job *scan.Job) (scan.Report, error)
}

var (
	_ MessageProcessor = (*moderation.Moderator)(nil)
	_ Scanner          = (*scan.Gateway)(nil)
)

// errorBody is the JSON shape of every non-2xx response.
type errorBody struct {
	Error string `json:"error"`
}

// NewRouter returns the router the HTTP entrypoint serves.
func NewRouter() *mux.Router {
	return mux.NewRouter().SkipClean(true).UseEncodedPath()
}

// Setup mounts all API routes onto the router.
func Setup(
	router *mux.Router,
	processor MessageProcessor,
	scanner Scanner,
	cfgStore store.ConfigStore,
	limits *RateLimits,
) {
	v1 := router.PathPrefix("/api/v1").Subrouter()

	v1.Handle("/groups", util.MakeJSONAPI(util.NewJSONRequestHandler(
		func(req *http.Request) util.JSONResponse {
			return CreateGroup(req, cfgStore)
		},
	))).Methods(http.MethodPost)

	v1.Handle("/ingest", util.MakeJSONAPI(util.NewJSONRequestHandler(
		func(req *http.Request) util.JSONResponse {
			return Ingest(req, processor, limits)
		},
	))).Methods(http.MethodPost)

	v1.Handle("/scan/url", util.MakeJSONAPI(util.NewJSONRequestHandler(
		func(req *http.Request) util.JSONResponse {
			return ScanURL(req, scanner)
		},
	))).Methods(http.MethodPost)

	v1.Handle("/scan/file", util.MakeJSONAPI(util.NewJSONRequestHandler(
		func(req *http.Request) util.JSONResponse {
			return ScanFile(req, scanner)
		},
	))).Methods(http.MethodPost)

	v1.Handle("/groups/{groupID}/history", util.MakeJSONAPI(util.NewJSONRequestHandler(
		func(req *http.Request) util.JSONResponse {
			return History(req, cfgStore)
		},
	))).Methods(http.MethodGet)

	v1.Handle("/groups/{groupID}/policy", util.MakeJSONAPI(util.NewJSONRequestHandler(
		func(req *http.Request) util.JSONResponse {
			return UpdatePolicy(req, cfgStore)
		},
	))).Methods(http.MethodPut)

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}
