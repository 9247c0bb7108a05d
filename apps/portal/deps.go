// Package portal builds the dependencies shared by the api server and dashctl.
package portal

import (
	"log"
	"os"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/fetch"
	"github.com/trezcool/masomo-portal/core/reconcile"
	logsvc "github.com/trezcool/masomo-portal/services/logger"
)

func NewLogger(conf *core.Config, prefix string) *logsvc.RollbarLogger {
	return logsvc.NewRollbarLogger(log.New(os.Stdout, prefix+" : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile), conf)
}

func NewTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}

// NewValidator returns a validator with our translations registered.
func NewValidator(translator ut.Translator) *validator.Validate {
	validate := validator.New()
	core.InitValidators(validate, translator)
	return validate
}

// NewTokenProvider forwards the caller's bearer token when there is one and otherwise signs
// short-lived service tokens with the app secret.
func NewTokenProvider(conf *core.Config) fetch.TokenProvider {
	issuer := fetch.JWTIssuer{
		Issuer:    conf.AppName,
		Subject:   conf.Auth.Subject,
		SecretKey: []byte(conf.SecretKey),
		TTL:       conf.Auth.TokenTTL,
	}
	return fetch.ContextTokenProvider{
		Fallback: fetch.NewRefreshingTokenSource(issuer.Issue, conf.Fetch.TokenLeeway, conf.Auth.TokenTTL),
	}
}

// NewOrchestrator wires the executor and the secondary store into a fetch.Orchestrator.
func NewOrchestrator(conf *core.Config, store fetch.SecondaryStore, logger core.Logger) *fetch.Orchestrator {
	tokens := NewTokenProvider(conf)
	exec := fetch.NewExecutor(fetch.ExecutorOptions{
		Tokens:     tokens,
		Timeout:    conf.Fetch.Timeout,
		MaxRetries: conf.Fetch.MaxRetries,
		Backoff:    fetch.LinearBackoff(conf.Fetch.BackoffStep),
		Logger:     logger,
	})
	return fetch.NewOrchestrator(fetch.OrchestratorOptions{
		Endpoints: fetch.Endpoints(conf.Services),
		Executor:  exec,
		Tokens:    tokens,
		Store:     store,
		Logger:    logger,
	})
}

func NewDashboardService(fetcher reconcile.Fetcher, logger core.Logger) *reconcile.Service {
	return reconcile.NewService(fetcher, logger)
}
