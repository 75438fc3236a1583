package main

import (
	"context"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/mulekit/anypoint-hub/internal/api"
	"github.com/mulekit/anypoint-hub/internal/auth/anypoint"
	"github.com/mulekit/anypoint-hub/internal/auth/token"
	"github.com/mulekit/anypoint-hub/internal/config"
	"github.com/mulekit/anypoint-hub/internal/db"
	"github.com/mulekit/anypoint-hub/internal/logging"
	"github.com/mulekit/anypoint-hub/internal/platform"
	"github.com/mulekit/anypoint-hub/internal/registry"
	"github.com/mulekit/anypoint-hub/internal/secrets"
	"github.com/mulekit/anypoint-hub/internal/version"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	database, err := db.InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	store := secrets.NewGormStore(database)
	reg := registry.New(store)

	catalog, err := platform.LoadCatalog(cfg.RegionsFile)
	if err != nil {
		log.Fatalf("Failed to load region catalog: %v", err)
	}
	region, err := catalog.Resolve(cfg.Region)
	if err != nil {
		log.Fatalf("Failed to resolve region: %v", err)
	}

	oauthCfg := anypoint.NewConfig(region.AuthorizeURL(), region.TokenURL(), cfg.CallbackPort)
	loginController := anypoint.NewLoginController(oauthCfg, store, reg, region.BaseURL, region.ID)
	tokenManager := token.NewManager(oauthCfg, store, reg)

	// Outbound platform calls ride on the active account's token, with the
	// legacy unscoped slot as fallback for pre-migration setups.
	activeToken := func(ctx context.Context) (string, error) {
		active, err := reg.Active(ctx)
		if err != nil {
			return "", err
		}
		if active != nil {
			accessToken, err := store.Get(ctx, secrets.AccountKey(active.ID, secrets.FieldAccessToken))
			if err != nil {
				return "", err
			}
			if accessToken != "" {
				return accessToken, nil
			}
		}
		return store.Get(ctx, secrets.LegacyKey(secrets.FieldAccessToken))
	}
	client := platform.NewClient(region.BaseURL, activeToken)

	if result := reg.MigrateLegacy(ctx); result.Migrated {
		log.Printf("Migrated legacy credentials into account %s", result.AccountID)
	} else if result.Error != "" {
		log.Printf("Legacy migration skipped with error: %s", result.Error)
	}

	adminKey, err := api.EnsureAdminKey(ctx, store, cfg.AdminKey)
	if err != nil {
		log.Fatalf("Failed to ensure admin key: %v", err)
	}

	r := chi.NewRouter()
	r.Use(logging.RequestIDMiddleware)
	r.Use(chimiddleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Use(api.AdminKeyAuth(adminKey))

		// Account management
		r.Get("/accounts", api.AccountsHandler(reg))
		r.Post("/accounts/{id}/activate", api.ActivateAccountHandler(reg))
		r.Delete("/accounts/{id}", api.RemoveAccountHandler(reg))
		r.Patch("/accounts/{id}/region", api.SetRegionHandler(reg, catalog))
		r.Post("/accounts/{id}/refresh", api.RefreshHandler(tokenManager))
		r.Get("/accounts/{id}/environments", api.EnvironmentsHandler(reg, store, region.BaseURL))
		r.Put("/accounts/{id}/environment", api.SelectEnvironmentHandler(reg, store))
		r.Post("/accounts/statuses", api.RefreshStatusesHandler(reg, api.NewStatusProbe(client, tokenManager)))

		// Login lifecycle
		r.Post("/auth/login", api.LoginHandler(loginController))
		r.Post("/auth/commit", api.CommitLoginHandler(loginController))
		r.Post("/auth/refresh", api.RefreshActiveHandler(tokenManager))

		// Legacy migration
		r.Post("/migrate", api.MigrateHandler(reg))
	})

	log.Printf("Anypoint Hub %s starting on http://%s (region: %s)", version.Version, cfg.Addr, region.ID)
	if err := http.ListenAndServe(cfg.Addr, r); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
