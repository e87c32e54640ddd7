package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"monsterline/internal/app"
	"monsterline/internal/assets"
	"monsterline/internal/config"
	"monsterline/internal/db"
	"monsterline/internal/domain"
	"monsterline/internal/engine"
	"monsterline/internal/genai"
	"monsterline/internal/server"
	"monsterline/internal/transmit"
)

var rootCmd = &cobra.Command{
	Use:   "mline",
	Short: "Monsterline CLI",
	Long: `Monsterline moderates AI-generated monster cards before they reach the game backend.
Lifecycle: GENERATED -> PENDING_REVIEW -> APPROVED -> TRANSMITTED, with DEFECTIVE/CORRECTED
for invalid documents and REJECTED as the other exit. Generated documents are validated on
ingest, structured into cards at the review boundary, reviewed by a human, and transmitted
downstream with retries.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("MONSTERLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor", rootCmd.PersistentFlags().Lookup("actor"))
}

func registerCommands() {
	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(monsterCmd())
	rootCmd.AddCommand(transmitCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(processCmd())
	rootCmd.AddCommand(serveCmd())
}

func generateCmd() *cobra.Command {
	var prompt string
	var count int
	var withImage bool
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate monsters with the configured model and ingest them",
		RunE: func(cmd *cobra.Command, args []string) error {
			if prompt == "" {
				return fmt.Errorf("--prompt is required")
			}
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			gen := genai.NewClient(genai.Config{
				APIKey:         cfg.Generation.APIKey,
				BaseURL:        cfg.Generation.BaseURL,
				Model:          cfg.Generation.Model,
				ImageModel:     cfg.Generation.ImageModel,
				TimeoutSeconds: cfg.Generation.TimeoutSeconds,
			})
			var store *assets.Store
			if withImage {
				if cfg.Assets.Endpoint == "" {
					return fmt.Errorf("--with-image requires assets configuration in %s", config.Path(viper.GetString("workspace")))
				}
				store, err = assets.NewStore(assets.Config{
					Endpoint:  cfg.Assets.Endpoint,
					AccessKey: cfg.Assets.AccessKey,
					SecretKey: cfg.Assets.SecretKey,
					Bucket:    cfg.Assets.Bucket,
					UseSSL:    cfg.Assets.UseSSL,
					PublicURL: cfg.Assets.PublicURL,
				})
				if err != nil {
					return err
				}
				if err := store.EnsureBucket(cmd.Context()); err != nil {
					return err
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				for i := 0; i < count; i++ {
					doc, err := gen.GenerateMonster(ctx, prompt)
					if err != nil {
						return err
					}
					if store != nil {
						if desc, ok := doc["visualDescription"].(string); ok && desc != "" {
							png, err := gen.GenerateImage(ctx, desc)
							if err != nil {
								return err
							}
							// Image keys need the monster id, so ingest first.
							m, err := e.IngestGenerated(ctx, engine.IngestOptions{
								Doc:              doc,
								GeneratedBy:      cfg.Generation.Model,
								GenerationPrompt: prompt,
							})
							if err != nil {
								return err
							}
							url, err := store.PutImage(ctx, m.ID, png)
							if err != nil {
								return err
							}
							if _, err := e.UpdateCard(ctx, m.ID, engine.CardUpdate{ImageURL: &url}); err != nil && !engine.IsNotFound(err) {
								// Defective monsters have no card yet; keep the image URL aside.
								fmt.Printf("generated %s (%s), image stored at %s but not attached: %v\n", m.ID, m.State, url, err)
								continue
							}
							fmt.Printf("generated %s (%s)\n", m.ID, m.State)
							continue
						}
					}
					m, err := e.IngestGenerated(ctx, engine.IngestOptions{
						Doc:              doc,
						GeneratedBy:      cfg.Generation.Model,
						GenerationPrompt: prompt,
					})
					if err != nil {
						return err
					}
					fmt.Printf("generated %s (%s)\n", m.ID, m.State)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&prompt, "prompt", "", "generation prompt")
	cmd.Flags().IntVar(&count, "count", 1, "number of monsters to generate")
	cmd.Flags().BoolVar(&withImage, "with-image", false, "also generate and store a card image")
	return cmd
}

func ingestCmd() *cobra.Command {
	var generatedBy, prompt string
	cmd := &cobra.Command{
		Use:   "ingest [file]",
		Short: "Ingest a monster document from a JSON file or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			var err error
			if len(args) == 1 && args[0] != "-" {
				data, err = os.ReadFile(args[0])
			} else {
				data, err = io.ReadAll(os.Stdin)
			}
			if err != nil {
				return err
			}
			var doc domain.Document
			if err := json.Unmarshal(data, &doc); err != nil {
				return fmt.Errorf("parse document: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.IngestGenerated(ctx, engine.IngestOptions{
					Doc:              doc,
					GeneratedBy:      generatedBy,
					GenerationPrompt: prompt,
				})
				if err != nil {
					return err
				}
				return printJSONOrMonster(m)
			})
		},
	}
	cmd.Flags().StringVar(&generatedBy, "generated-by", "", "generator identifier")
	cmd.Flags().StringVar(&prompt, "prompt", "", "generation prompt")
	return cmd
}

func monsterCmd() *cobra.Command {
	m := &cobra.Command{Use: "monster", Short: "Inspect and moderate monsters"}
	m.AddCommand(monsterListCmd())
	m.AddCommand(monsterShowCmd())
	m.AddCommand(monsterHistoryCmd())
	m.AddCommand(monsterReviewCmd())
	m.AddCommand(monsterReopenCmd())
	m.AddCommand(monsterCorrectCmd())
	m.AddCommand(monsterCardCmd())
	m.AddCommand(monsterDeleteCmd())
	return m
}

func monsterListCmd() *cobra.Command {
	var st string
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List monsters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.List(ctx, domain.State(st), limit, offset)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "State", "Valid", "Attempts", "Updated"})
				for i := range items {
					m := &items[i]
					tw.AppendRow(table.Row{m.ID, m.DisplayName(), m.State, m.IsValid, m.TransmissionAttempts, m.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&st, "state", "", "state filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")
	return cmd
}

func monsterShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a monster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrMonster(m)
			})
		},
	}
}

func monsterHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <id>",
		Short: "Show a monster's transition history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				history, err := e.History(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(history)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"From", "To", "Actor", "When", "Note"})
				for _, t := range history {
					from := ""
					if t.FromState != nil {
						from = string(*t.FromState)
					}
					note := ""
					if t.Note != nil {
						note = *t.Note
					}
					tw.AppendRow(table.Row{from, t.ToState, t.Actor, t.Timestamp, note})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func monsterReviewCmd() *cobra.Command {
	var approve, reject bool
	var notes, docFile string
	cmd := &cobra.Command{
		Use:   "review <id>",
		Short: "Approve or reject a pending monster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if approve == reject {
				return fmt.Errorf("pass exactly one of --approve or --reject")
			}
			var doc domain.Document
			if docFile != "" {
				data, err := os.ReadFile(docFile)
				if err != nil {
					return err
				}
				if err := json.Unmarshal(data, &doc); err != nil {
					return fmt.Errorf("parse document: %w", err)
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.Review(ctx, engine.ReviewOptions{
					ID:       args[0],
					Approve:  approve,
					Reviewer: viper.GetString("actor"),
					Notes:    notes,
					Doc:      doc,
				})
				if err != nil {
					return err
				}
				return printJSONOrMonster(m)
			})
		},
	}
	cmd.Flags().BoolVar(&approve, "approve", false, "approve the monster")
	cmd.Flags().BoolVar(&reject, "reject", false, "reject the monster")
	cmd.Flags().StringVar(&notes, "notes", "", "review notes")
	cmd.Flags().StringVar(&docFile, "doc", "", "corrected document JSON file applied with the decision")
	return cmd
}

func monsterReopenCmd() *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "reopen <id>",
		Short: "Send an approved monster back to review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.Reopen(ctx, args[0], viper.GetString("actor"), note)
				if err != nil {
					return err
				}
				return printJSONOrMonster(m)
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "reason for reopening")
	return cmd
}

func monsterCorrectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "correct <id> [file]",
		Short: "Replace a defective monster's document from a JSON file or stdin",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			var err error
			if len(args) == 2 && args[1] != "-" {
				data, err = os.ReadFile(args[1])
			} else {
				data, err = io.ReadAll(os.Stdin)
			}
			if err != nil {
				return err
			}
			var doc domain.Document
			if err := json.Unmarshal(data, &doc); err != nil {
				return fmt.Errorf("parse document: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.Correct(ctx, engine.CorrectOptions{
					ID:    args[0],
					Doc:   doc,
					Actor: viper.GetString("actor"),
				})
				if err != nil {
					return err
				}
				return printJSONOrMonster(m)
			})
		},
	}
	return cmd
}

func monsterCardCmd() *cobra.Command {
	var name, description, visual, imageURL string
	cmd := &cobra.Command{
		Use:   "card <id>",
		Short: "Edit structured card fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			upd := engine.CardUpdate{}
			if cmd.Flags().Changed("name") {
				upd.Name = &name
			}
			if cmd.Flags().Changed("description") {
				upd.CardDescription = &description
			}
			if cmd.Flags().Changed("visual") {
				upd.VisualDescription = &visual
			}
			if cmd.Flags().Changed("image-url") {
				upd.ImageURL = &imageURL
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.UpdateCard(ctx, args[0], upd)
				if err != nil {
					return err
				}
				return printJSONOrMonster(m)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "card name")
	cmd.Flags().StringVar(&description, "description", "", "card description")
	cmd.Flags().StringVar(&visual, "visual", "", "visual description")
	cmd.Flags().StringVar(&imageURL, "image-url", "", "card image URL")
	return cmd
}

func monsterDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a monster and its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Delete(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

func transmitCmd() *cobra.Command {
	t := &cobra.Command{Use: "transmit", Short: "Send approved monsters downstream"}
	t.AddCommand(transmitSendCmd())
	t.AddCommand(transmitBatchCmd())
	t.AddCommand(transmitHealthCmd())
	return t
}

func transmitSendCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "send <id>",
		Short: "Transmit a single monster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, svc *transmit.Service) error {
				m, err := svc.Transmit(ctx, args[0], force)
				if err != nil {
					return err
				}
				return printJSONOrMonster(m)
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "retransmit an already transmitted monster")
	return cmd
}

func transmitBatchCmd() *cobra.Command {
	var maxCount int
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Transmit approved monsters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, svc *transmit.Service) error {
				res, err := svc.TransmitBatch(ctx, maxCount)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "External ID", "Error"})
				for _, d := range res.Details {
					tw.AppendRow(table.Row{d.MonsterID, d.Name, d.ExternalID, d.Error})
				}
				tw.Render()
				fmt.Printf("%d total, %d succeeded, %d failed\n", res.Total, res.Succeeded, res.Failed)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&maxCount, "max", 0, "cap on monsters sent this run (0 = no limit)")
	return cmd
}

func transmitHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the downstream API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, svc *transmit.Service) error {
				if err := svc.HealthCheck(ctx); err != nil {
					return fmt.Errorf("downstream unreachable: %w", err)
				}
				fmt.Println("downstream ok")
				return nil
			})
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Moderation dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				stats, err := e.Stats(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(stats)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"State", "Count"})
				for _, s := range domain.States() {
					tw.AppendRow(table.Row{s, stats.ByState[s]})
				}
				tw.AppendFooter(table.Row{"TOTAL", stats.Total})
				tw.Render()
				fmt.Printf("transmission rate: %.1f%%  avg review time: %.1fh\n", stats.TransmissionRate*100, stats.AvgReviewHours)
				return nil
			})
		},
	}
}

func processCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process",
		Short: "Advance valid GENERATED monsters to review",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.ProcessGenerated(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("advanced %d monster(s) to review\n", n)
				return nil
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			appCtx, err := app.Open(app.Options{Workspace: viper.GetString("workspace")})
			if err != nil {
				return err
			}
			defer appCtx.Close()
			handler, err := server.New(server.Config{Engine: appCtx.Engine, Transmit: appCtx.Transmit, BasePath: basePath})
			if err != nil {
				return err
			}
			if addr == "" {
				addr = appCtx.Config.Server.Addr
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Monsterline API on %s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to config)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	appCtx, err := app.Open(app.Options{Workspace: viper.GetString("workspace"), Quiet: true})
	if err != nil {
		return err
	}
	defer appCtx.Close()
	return fn(ctx, appCtx.Engine)
}

func withService(ctx context.Context, fn func(context.Context, *transmit.Service) error) error {
	appCtx, err := app.Open(app.Options{Workspace: viper.GetString("workspace")})
	if err != nil {
		return err
	}
	defer appCtx.Close()
	return fn(ctx, appCtx.Transmit)
}

func printJSONOrMonster(m *domain.Monster) error {
	if viper.GetBool("json") {
		return printJSON(m)
	}
	fmt.Printf("%s  %s  [%s]\n", m.ID, m.DisplayName(), m.State)
	if len(m.ValidationIssues) > 0 {
		for _, issue := range m.ValidationIssues {
			fmt.Printf("  issue: %s %s: %s\n", issue.Kind, issue.Field, issue.Message)
		}
	}
	if m.ReviewedBy != nil {
		fmt.Printf("  reviewed by %s\n", *m.ReviewedBy)
	}
	if m.ExternalID != nil {
		fmt.Printf("  external id %s\n", *m.ExternalID)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
