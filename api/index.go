package api

import (
	"encoding/json"
	"net/http"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"

	"vidtube-api/internal/app"
)

// buildOnce constructs the runtime on first invocation and caches it for the
// lifetime of the serverless instance.
var buildOnce = sync.OnceValues(func() (*app.Runtime, error) {
	return app.Build(app.Options{
		LoadDotEnv:    false,
		RunMigrations: app.EnvBoolOrDefault("RUN_MIGRATIONS_ON_STARTUP", false),
	})
})

// Handler is the serverless entrypoint.
func Handler(w http.ResponseWriter, r *http.Request) {
	runtime, err := buildOnce()
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "application bootstrap failed"})
		return
	}

	runtime.Handler.ServeHTTP(w, r)
}
