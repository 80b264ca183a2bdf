package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/dictation/internal/device"
	"github.com/pavelanni/dictation/internal/extract"
	"github.com/pavelanni/dictation/internal/handler"
	appI18n "github.com/pavelanni/dictation/internal/i18n"
	"github.com/pavelanni/dictation/internal/llm"
	"github.com/pavelanni/dictation/internal/llm/prompts"
	"github.com/pavelanni/dictation/internal/model"
	"github.com/pavelanni/dictation/internal/session"
	"github.com/pavelanni/dictation/internal/store"
)

var defaultRecognitionLangs = [3]string{"zh-HK", "zh-TW", "en-US"}

func main() {
	// A missing .env file is fine.
	_ = godotenv.Load()

	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "dictation",
		Short: "Chinese dictation practice with LLM extraction and speech",
	}

	serve := serveCmd()
	root.AddCommand(serve, extractCmd(), exportCmd(), decksCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `dictation --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addLLMFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2-vision", "LLM model name (must accept images for scanned pages)")
	f.Duration("extract-timeout", 2*time.Minute, "Extraction timeout (0 disables)")
}

func addCommonFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("db", "dictation.db", "SQLite database path")
	f.StringP("lang", "l", "en", "UI language (en, zh-Hant)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP practice server",
		RunE:  runServe,
	}
	addCommonFlags(cmd)
	addLLMFlags(cmd)
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("tts-model", "", "Text-to-speech model for assistant replies")
	f.String("tts-voice", "", "Text-to-speech voice for assistant replies")
	f.Bool("speak-replies", false, "Render assistant replies to audio")
	f.String("reading-lang", "zh-HK", "Preferred dictation voice language")
	f.StringSlice("recognition-langs", defaultRecognitionLangs[:], "Recognition languages: dialect, standard, additional")
	f.Duration("chat-timeout", 30*time.Second, "Assistant reply timeout (0 disables)")
	f.Duration("speech-timeout", 30*time.Second, "Reply audio rendering timeout (0 disables)")
	f.Duration("idiom-pause", 0, "Pause between an idiom and its meaning")
	f.Int64("max-attachment-bytes", 10<<20, "Maximum upload size for one extraction")
	f.StringSlice("origins", nil, "Allowed device origins for the WebSocket handshake")
	return cmd
}

func extractCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract [page images...]",
		Short: "Extract dictation items and save them as a deck",
		RunE:  runExtract,
	}
	addCommonFlags(cmd)
	addLLMFlags(cmd)
	f := cmd.Flags()
	f.StringP("mode", "m", string(model.ModeParagraph), "Extraction mode (paragraph, vocab, idiom)")
	f.StringP("text", "t", "", "Source text")
	f.StringP("file", "f", "", "Read source text from file (- for stdin)")
	f.String("title", "", "Deck title")
	f.Bool("save", true, "Store the extracted deck")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export [deck-id]",
		Short: "Export decks as worksheet JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runExport,
	}
	addCommonFlags(cmd)
	f := cmd.Flags()
	f.Bool("all", false, "Export every deck")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	return cmd
}

func decksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decks",
		Short: "List stored decks",
		RunE:  runDecks,
	}
	addCommonFlags(cmd)
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("DICTATION")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("dictation")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/dictation")
	v.AddConfigPath("/etc/dictation")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// appConfig collects the runtime parameters from v. Flags missing from the
// command keep their zero value.
func appConfig(v *viper.Viper) model.AppConfig {
	cfg := model.AppConfig{
		UILang:             v.GetString("lang"),
		ReadingLang:        v.GetString("reading-lang"),
		RecognitionLangs:   defaultRecognitionLangs,
		ExtractTimeout:     v.GetDuration("extract-timeout"),
		ChatTimeout:        v.GetDuration("chat-timeout"),
		SpeechTimeout:      v.GetDuration("speech-timeout"),
		SpeakReplies:       v.GetBool("speak-replies"),
		IdiomPause:         v.GetDuration("idiom-pause"),
		MaxAttachmentBytes: v.GetInt64("max-attachment-bytes"),
	}
	langs := v.GetStringSlice("recognition-langs")
	if len(langs) > 0 && len(langs) != len(cfg.RecognitionLangs) {
		slog.Warn("recognition-langs needs exactly three languages, using defaults", "got", langs)
	} else {
		for i, l := range langs {
			cfg.RecognitionLangs[i] = strings.TrimSpace(l)
		}
	}
	return cfg
}

func newLLMClient(v *viper.Viper) *llm.Client {
	return llm.New(
		v.GetString("llm-url"),
		v.GetString("llm-key"),
		v.GetString("llm-model"),
		llm.WithSpeech(v.GetString("tts-model"), v.GetString("tts-voice")),
	)
}

// initRuntime loads prompts and translations and returns a context carrying
// the configured UI language.
func initRuntime(lang string) (context.Context, error) {
	if err := prompts.Load(prompts.Templates); err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}
	if err := appI18n.Init(lang); err != nil {
		return nil, fmt.Errorf("init i18n: %w", err)
	}
	return appI18n.WithLocalizer(context.Background(), appI18n.NewLocalizer(lang)), nil
}

func sessionConfig(ctx context.Context, cfg model.AppConfig, origins []string) session.Config {
	sc := session.Config{
		ReadingLang:      cfg.ReadingLang,
		RecognitionLangs: cfg.RecognitionLangs,
		ChatTimeout:      cfg.ChatTimeout,
		SpeechTimeout:    cfg.SpeechTimeout,
		IdiomPause:       cfg.IdiomPause,
		SpeakReplies:     cfg.SpeakReplies,
		Fallback:         appI18n.T(ctx, "ChatFallback"),
		Congratulations:  appI18n.T(ctx, "Congratulations"),
		NoticeText: func(k model.NoticeKind) string {
			return appI18n.Notice(ctx, model.Notice{Kind: k}).Text
		},
	}
	if len(origins) > 0 {
		sc.Bridge = append(sc.Bridge, device.WithAcceptOptions(&websocket.AcceptOptions{OriginPatterns: origins}))
	}
	return sc
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	cfg := appConfig(v)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	i18nCtx, err := initRuntime(cfg.UILang)
	if err != nil {
		return err
	}

	llmClient := newLLMClient(v)
	if err := llmClient.Ping(context.Background()); err != nil {
		return fmt.Errorf("LLM health check: %w", err)
	}
	slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", v.GetString("llm-model"))

	sessions := session.NewManager(llmClient, llmClient, sessionConfig(i18nCtx, cfg, v.GetStringSlice("origins")))
	defer sessions.CloseAll()

	h := handler.New(db, extract.New(llmClient, cfg.ExtractTimeout), sessions, cfg, v.GetString("llm-model"))

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(cfg.UILang))
	h.Routes(r)

	addr := v.GetString("addr")
	srv := &http.Server{Addr: addr, Handler: r}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", addr,
			"model", v.GetString("llm-model"),
			"llm_url", v.GetString("llm-url"),
			"lang", cfg.UILang,
			"reading_lang", cfg.ReadingLang,
			"recognition_langs", cfg.RecognitionLangs,
			"speak_replies", cfg.SpeakReplies,
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down", "sessions", sessions.Len())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runExtract(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	cfg := appConfig(v)

	i18nCtx, err := initRuntime(cfg.UILang)
	if err != nil {
		return err
	}

	mode, err := model.ParseMode(v.GetString("mode"))
	if err != nil {
		return err
	}
	text, err := sourceText(v.GetString("text"), v.GetString("file"))
	if err != nil {
		return err
	}
	req := extract.Request{RawText: text, Mode: mode}
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		req.Attachments = append(req.Attachments, extract.Attachment{
			MIMEType: http.DetectContentType(data),
			Data:     data,
		})
	}

	svc := extract.New(newLLMClient(v), cfg.ExtractTimeout)
	items, err := svc.ExtractDetailed(cmd.Context(), req)
	if err != nil || len(items) == 0 {
		slog.Debug("extraction failed", "error", err)
		n := appI18n.Notice(i18nCtx, model.Notice{Kind: model.NoticeContentMissing})
		return errors.New(n.Text)
	}

	out := any(items)
	if v.GetBool("save") {
		db, err := store.New(v.GetString("db"))
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()

		deck, err := db.SaveDeck(mode, items)
		if err != nil {
			return fmt.Errorf("save deck: %w", err)
		}
		src := model.DeckSource{
			Title:       v.GetString("title"),
			Model:       v.GetString("llm-model"),
			TextRunes:   len([]rune(text)),
			Attachments: len(req.Attachments),
		}
		if err := db.SetDeckSource(deck.ID, src); err != nil {
			return fmt.Errorf("record deck source: %w", err)
		}
		slog.Info("saved deck", "deck", deck.ID, "items", len(deck.Items))
		out = deck
	}
	return writeJSON(os.Stdout, out)
}

func sourceText(text, path string) (string, error) {
	switch path {
	case "":
		return text, nil
	case "-":
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

func runExport(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	var export any
	switch {
	case v.GetBool("all"):
		all, err := db.ExportAllDecks()
		if err != nil {
			return fmt.Errorf("export decks: %w", err)
		}
		export = all
	case len(args) == 1:
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid deck ID %q", args[0])
		}
		ws, err := db.ExportDeck(id)
		if err != nil {
			return fmt.Errorf("export deck: %w", err)
		}
		if ws == nil {
			return fmt.Errorf("deck %d not found", id)
		}
		export = ws
	default:
		return errors.New("give a deck ID or --all")
	}

	outPath := v.GetString("output")
	if outPath == "" || outPath == "-" {
		return writeJSON(os.Stdout, export)
	}
	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()
	return writeJSON(f, export)
}

func runDecks(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	ctx, err := initRuntime(v.GetString("lang"))
	if err != nil {
		return err
	}

	decks, err := db.ListDecks()
	if err != nil {
		return fmt.Errorf("list decks: %w", err)
	}
	printDecks(ctx, cmd.OutOrStdout(), decks)
	return nil
}

func printDecks(ctx context.Context, w io.Writer, decks []model.DeckSummary) {
	for _, d := range decks {
		fmt.Fprintf(w, "%-10s %-12s %3d  %s  %s\n",
			appI18n.Td(ctx, "DeckN", map[string]any{"ID": d.ID}),
			appI18n.ModeName(ctx, d.Mode), d.NumItems, d.CreatedAt.Format(time.DateOnly), d.First)
	}
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)
	return nil
}
