package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"monsterline/internal/domain"
	"monsterline/internal/engine"
	"monsterline/internal/repo"
	"monsterline/internal/state"
	"monsterline/internal/transmit"
	"monsterline/internal/validate"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	Transmit *transmit.Service
	BasePath string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_workflow_state"`
	Message string         `json:"message" example:"monster is in state REJECTED, cannot transmit"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the monsterline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema errors on the request itself are the caller's fault.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	hcfg := huma.DefaultConfig("Monsterline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerOpenAPI(router, api, basePath)
	registerHealth(group, cfg.Transmit)
	registerMonsters(group, cfg.Engine)
	registerReview(group, cfg.Engine)
	registerTransmit(group, cfg.Engine, cfg.Transmit)
	registerStats(group, cfg.Engine)
	registerValidationRules(group)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", verr.Error(),
			map[string]any{"issues": verr.Issues})
	}
	var werr *domain.WorkflowStateError
	if errors.As(err, &werr) {
		return newAPIError(http.StatusConflict, "invalid_workflow_state", werr.Error(),
			map[string]any{"state": string(werr.State)})
	}
	var ierr state.IllegalTransitionError
	if errors.As(err, &ierr) {
		return newAPIError(http.StatusConflict, "illegal_transition", ierr.Error(),
			map[string]any{"from": string(ierr.From), "to": string(ierr.To)})
	}
	var terr *transmit.Error
	if errors.As(err, &terr) {
		return newAPIError(http.StatusBadGateway, "transmission_failed", terr.Error(),
			map[string]any{"attempts": terr.Attempts})
	}
	var serr *repo.StorageError
	if errors.As(err, &serr) {
		return newAPIError(http.StatusInternalServerError, "storage_error", "storage error",
			map[string]any{"op": serr.Op})
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error",
		map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusBadGateway:
		return "transmission_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Monsterline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API, svc *transmit.Service) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		body := map[string]string{"status": "ok"}
		if svc != nil {
			if err := svc.HealthCheck(ctx); err != nil {
				body["downstream"] = "unreachable"
			} else {
				body["downstream"] = "ok"
			}
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: body}, nil
	})
}

func registerMonsters(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "ingest-monster",
		Method:        http.MethodPost,
		Path:          "/monsters",
		Summary:       "Ingest a generated monster document",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body IngestRequest `json:"body"`
	}) (*struct {
		Body MonsterResponse `json:"body"`
	}, error) {
		if input.Body.Doc == nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "doc is required", nil)
		}
		m, err := e.IngestGenerated(ctx, engine.IngestOptions{
			Doc:              input.Body.Doc,
			GeneratedBy:      input.Body.GeneratedBy,
			GenerationPrompt: input.Body.GenerationPrompt,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MonsterResponse `json:"body"`
		}{Body: monsterResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-monsters",
		Method:      http.MethodGet,
		Path:        "/monsters",
		Summary:     "List monsters",
		Errors:      []int{http.StatusBadRequest, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		State  string `query:"state"`
		Limit  int    `query:"limit" default:"50"`
		Offset int    `query:"offset"`
	}) (*struct {
		Body []MonsterResponse `json:"body"`
	}, error) {
		items, err := e.List(ctx, domain.State(input.State), input.Limit, input.Offset)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []MonsterResponse `json:"body"`
		}{Body: mapMonsters(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-monster",
		Method:      http.MethodGet,
		Path:        "/monsters/{id}",
		Summary:     "Get monster",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body MonsterResponse `json:"body"`
	}, error) {
		m, err := e.Get(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MonsterResponse `json:"body"`
		}{Body: monsterResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "monster-history",
		Method:      http.MethodGet,
		Path:        "/monsters/{id}/history",
		Summary:     "Monster transition history",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []TransitionResponse `json:"body"`
	}, error) {
		history, err := e.History(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TransitionResponse `json:"body"`
		}{Body: mapTransitions(history)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-monster-card",
		Method:      http.MethodPatch,
		Path:        "/monsters/{id}/card",
		Summary:     "Edit structured card fields",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body UpdateCardRequest `json:"body"`
	}) (*struct {
		Body MonsterResponse `json:"body"`
	}, error) {
		m, err := e.UpdateCard(ctx, input.ID, engine.CardUpdate{
			Name:              input.Body.Name,
			CardDescription:   input.Body.CardDescription,
			VisualDescription: input.Body.VisualDescription,
			ImageURL:          input.Body.ImageURL,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MonsterResponse `json:"body"`
		}{Body: monsterResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-monster-skill",
		Method:        http.MethodPost,
		Path:          "/monsters/{id}/skills",
		Summary:       "Add a skill to a structured card",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   string       `path:"id"`
		Body SkillRequest `json:"body"`
	}) (*struct {
		Body MonsterResponse `json:"body"`
	}, error) {
		m, err := e.AddSkill(ctx, input.ID, input.Body.toInput())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MonsterResponse `json:"body"`
		}{Body: monsterResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-monster-skill",
		Method:      http.MethodPut,
		Path:        "/monsters/{id}/skills/{skill_id}",
		Summary:     "Replace a skill on a structured card",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID      string       `path:"id"`
		SkillID int64        `path:"skill_id"`
		Body    SkillRequest `json:"body"`
	}) (*struct {
		Body MonsterResponse `json:"body"`
	}, error) {
		m, err := e.UpdateSkill(ctx, input.ID, input.SkillID, input.Body.toInput())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MonsterResponse `json:"body"`
		}{Body: monsterResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-monster-skill",
		Method:      http.MethodDelete,
		Path:        "/monsters/{id}/skills/{skill_id}",
		Summary:     "Remove a skill from a structured card",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID      string `path:"id"`
		SkillID int64  `path:"skill_id"`
	}) (*struct {
		Body MonsterResponse `json:"body"`
	}, error) {
		m, err := e.DeleteSkill(ctx, input.ID, input.SkillID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MonsterResponse `json:"body"`
		}{Body: monsterResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-monster",
		Method:      http.MethodDelete,
		Path:        "/monsters/{id}",
		Summary:     "Delete monster",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		if err := e.Delete(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerReview(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "review-monster",
		Method:      http.MethodPost,
		Path:        "/monsters/{id}/review",
		Summary:     "Record a review decision",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body ReviewRequest `json:"body"`
	}) (*struct {
		Body MonsterResponse `json:"body"`
	}, error) {
		if input.Body.Decision != "approved" && input.Body.Decision != "rejected" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "decision must be approved or rejected", nil)
		}
		m, err := e.Review(ctx, engine.ReviewOptions{
			ID:       input.ID,
			Approve:  input.Body.Decision == "approved",
			Reviewer: input.Body.Reviewer,
			Notes:    input.Body.Notes,
			Doc:      input.Body.Doc,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MonsterResponse `json:"body"`
		}{Body: monsterResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reopen-monster",
		Method:      http.MethodPost,
		Path:        "/monsters/{id}/reopen",
		Summary:     "Roll an approved monster back to review",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body struct {
			Actor string `json:"actor,omitempty"`
			Note  string `json:"note,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body MonsterResponse `json:"body"`
	}, error) {
		m, err := e.Reopen(ctx, input.ID, input.Body.Actor, input.Body.Note)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MonsterResponse `json:"body"`
		}{Body: monsterResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "correct-monster",
		Method:      http.MethodPost,
		Path:        "/monsters/{id}/correct",
		Summary:     "Correct a defective monster document",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body CorrectRequest `json:"body"`
	}) (*struct {
		Body MonsterResponse `json:"body"`
	}, error) {
		if input.Body.Doc == nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "doc is required", nil)
		}
		m, err := e.Correct(ctx, engine.CorrectOptions{ID: input.ID, Doc: input.Body.Doc, Actor: input.Body.Actor})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MonsterResponse `json:"body"`
		}{Body: monsterResponse(m)}, nil
	})
}

func registerTransmit(api huma.API, e engine.Engine, svc *transmit.Service) {
	huma.Register(api, huma.Operation{
		OperationID: "transmit-monster",
		Method:      http.MethodPost,
		Path:        "/monsters/{id}/transmit",
		Summary:     "Transmit an approved monster downstream",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusBadGateway,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID    string `path:"id"`
		Force bool   `query:"force"`
	}) (*struct {
		Body MonsterResponse `json:"body"`
	}, error) {
		if svc == nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", "transmission not configured", nil)
		}
		m, err := svc.Transmit(ctx, input.ID, input.Force)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MonsterResponse `json:"body"`
		}{Body: monsterResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transmit-batch",
		Method:      http.MethodPost,
		Path:        "/monsters/transmit",
		Summary:     "Transmit every approved monster",
		Errors:      []int{http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		MaxCount int `query:"max_count" minimum:"0"`
	}) (*struct {
		Body transmit.BatchResult `json:"body"`
	}, error) {
		if svc == nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", "transmission not configured", nil)
		}
		res, err := svc.TransmitBatch(ctx, input.MaxCount)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body transmit.BatchResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerStats(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "dashboard-stats",
		Method:      http.MethodGet,
		Path:        "/stats",
		Summary:     "Dashboard statistics",
		Errors:      []int{http.StatusInternalServerError},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body StatsResponse `json:"body"`
	}, error) {
		stats, err := e.Stats(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StatsResponse `json:"body"`
		}{Body: statsResponse(stats)}, nil
	})
}

func registerValidationRules(api huma.API) {
	type rangeRule struct {
		Min float64 `json:"min"`
		Max float64 `json:"max"`
	}
	type rulesBody struct {
		Elements []string             `json:"elements"`
		Ranks    []string             `json:"ranks"`
		Stats    []string             `json:"stats"`
		Ranges   map[string]rangeRule `json:"ranges"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "validation-rules",
		Method:      http.MethodGet,
		Path:        "/validation-rules",
		Summary:     "Document validation rules",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body rulesBody `json:"body"`
	}, error) {
		return &struct {
			Body rulesBody `json:"body"`
		}{Body: rulesBody{
			Elements: domain.Elements(),
			Ranks:    domain.Ranks(),
			Stats:    domain.Stats(),
			Ranges: map[string]rangeRule{
				"stats.hp":              {Min: validate.MinHP, Max: validate.MaxHP},
				"stats.atk":             {Min: validate.MinATK, Max: validate.MaxATK},
				"stats.def":             {Min: validate.MinDEF, Max: validate.MaxDEF},
				"stats.vit":             {Min: validate.MinVIT, Max: validate.MaxVIT},
				"skills.damage":         {Min: validate.MinDamage, Max: validate.MaxDamage},
				"skills.cooldown":       {Min: validate.MinCooldown, Max: validate.MaxCooldown},
				"skills.lvlMax":         {Min: 1, Max: validate.MaxLvl},
				"skills.ratio.percent":  {Min: validate.MinPercent, Max: validate.MaxPercent},
				"cardDescription.chars": {Min: 0, Max: validate.MaxCardDescriptionLen},
			},
		}}, nil
	})
}
