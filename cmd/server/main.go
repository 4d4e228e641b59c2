package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"recall-ai/internal/api"
	"recall-ai/internal/config"
	"recall-ai/internal/db"
	"recall-ai/internal/llm"
	"recall-ai/internal/models"
	"recall-ai/internal/realtime"
	"recall-ai/internal/services"
	"recall-ai/internal/speech"
	"recall-ai/internal/store"
	"recall-ai/internal/uploads"
)

var rootCmd = &cobra.Command{
	Use:   "recall-ai",
	Short: "Conversational active-recall study server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd)
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().String("port", "", "Port to listen on (overrides PORT)")
	rootCmd.Flags().String("store", "", "Session store driver: memory, redis or sqlite (overrides STORE_DRIVER)")
	rootCmd.Flags().StringSlice("env-file", nil, "Environment files to load before reading settings")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command) error {
	envFiles, _ := cmd.Flags().GetStringSlice("env-file")
	cfg := config.Load(envFiles...)
	if p, _ := cmd.Flags().GetString("port"); p != "" {
		cfg.Port = p
	}
	if s, _ := cmd.Flags().GetString("store"); s != "" {
		cfg.StoreDriver = s
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backing, closers, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				log.Printf("close: %v", err)
			}
		}
	}()

	defaults := models.TTSPreferences{
		VoiceID:   cfg.DefaultVoice,
		ModelID:   cfg.DefaultTTSModel,
		ServerTTS: true,
	}
	sessions := store.NewSessions(backing, defaults)

	provider, err := llm.NewProvider(ctx, llm.Config{
		Provider:  cfg.LLMProvider,
		OpenAI:    llm.OpenAIConfig{APIKey: cfg.OpenAIKey, Model: cfg.OpenAIModel, BaseURL: cfg.OpenAIEndpoint},
		Anthropic: llm.AnthropicConfig{APIKey: cfg.AnthropicKey, Model: cfg.AnthropicModel},
		Gemini:    llm.GeminiConfig{APIKey: cfg.GeminiKey, Model: cfg.GeminiModel},
	})
	if err != nil {
		if !errors.Is(err, llm.ErrNotConfigured) {
			return err
		}
		log.Printf("%v; question generation and feedback are disabled", err)
		provider = nil
	}

	ai := services.NewAIService(provider)
	documents := services.NewDocumentService(cfg.UploadDir)
	dialogue := services.NewDialogueService(ai, services.NewProgressTracker(services.NewReviewScheduler()))
	ingestion := services.NewIngestionService(documents, services.NewPDFService(), ai)

	var transcriber services.Transcriber
	if t := services.NewWhisperTranscriber(cfg.OpenAIKey, cfg.OpenAIEndpoint, cfg.TranscribeModel); t != nil {
		transcriber = t
	} else {
		log.Printf("OPENAI_API_KEY not set; transcription is disabled")
	}
	audio := services.NewAudioService(transcriber, documents)

	synth, err := newSynthesizer(cfg)
	if err != nil {
		return err
	}
	if synth == nil {
		log.Printf("no %s credentials; server-side speech is disabled", cfg.TTSProvider)
	}

	hub := realtime.NewHub()
	engine := speech.NewEngine(sessions, synth, hub, speech.Options{
		StreamThreshold: cfg.StreamThreshold,
		SegmentDelay:    cfg.SegmentDelay,
	})

	presigner, err := uploads.NewPresigner(ctx, cfg.AWSRegion, cfg.BucketName)
	if err != nil {
		return fmt.Errorf("configure uploads: %w", err)
	}

	server := api.NewServer(api.Deps{
		Sessions:  sessions,
		Dialogue:  dialogue,
		Ingestion: ingestion,
		Audio:     audio,
		Speech:    engine,
		Hub:       hub,
		WebSocket: realtime.NewHandler(hub, sessions, api.CheckOrigin(cfg.AllowedOrigins)),
		Presigner: presigner,
	}, api.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		CookieSecure:   cfg.CookieSecure || cfg.TLSEnabled(),
		MaxUploadBytes: cfg.MaxUploadBytes,
		TokenTTL:       cfg.TokenTTL,
		DefaultTTS:     defaults,
	})

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     server.Handler(),
		ReadTimeout: 15 * time.Second,
		// Streamed speech and PDF processing can outlive a short write timeout.
		WriteTimeout: 5 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on :%s (store=%s, llm=%s, tts=%s)", cfg.Port, cfg.StoreDriver, cfg.LLMProvider, cfg.TTSProvider)
		var err error
		if cfg.TLSEnabled() {
			err = srv.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openStore builds the session store for cfg.StoreDriver and returns what
// must be closed on exit.
func openStore(ctx context.Context, cfg config.Config) (store.Store, []io.Closer, error) {
	switch store.StoreType(cfg.StoreDriver) {
	case store.StoreTypeRedis:
		client, err := store.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		s, err := store.NewStore(store.StoreTypeRedis, store.WithRedisClient(client))
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		return s, []io.Closer{s}, nil
	case store.StoreTypeSQLite:
		conn, err := db.Open(cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("open database: %w", err)
		}
		s, err := store.NewStore(store.StoreTypeSQLite, store.WithDB(conn))
		if err != nil {
			conn.Close()
			return nil, nil, err
		}
		return s, []io.Closer{s, conn}, nil
	default:
		s, err := store.NewStore(store.StoreTypeMemory)
		if err != nil {
			return nil, nil, err
		}
		return s, []io.Closer{s}, nil
	}
}

// newSynthesizer returns the configured speech backend, or nil when it has
// no credentials.
func newSynthesizer(cfg config.Config) (speech.Synthesizer, error) {
	var (
		synth speech.Synthesizer
		err   error
	)
	switch cfg.TTSProvider {
	case "cartesia":
		var c *speech.CartesiaSynthesizer
		c, err = speech.NewCartesiaSynthesizer(speech.CartesiaConfig{
			APIKey:  cfg.CartesiaKey,
			BaseURL: cfg.CartesiaBaseURL,
			Version: cfg.CartesiaVersion,
		})
		if err == nil {
			synth = c
		}
	case "openai":
		var o *speech.OpenAISynthesizer
		o, err = speech.NewOpenAISynthesizer(speech.OpenAIConfig{
			APIKey:  cfg.OpenAIKey,
			BaseURL: cfg.OpenAIEndpoint,
			Voice:   cfg.OpenAIVoice,
			Model:   cfg.OpenAISpeechModel,
		})
		if err == nil {
			synth = o
		}
	default:
		return nil, fmt.Errorf("unknown TTS provider %q", cfg.TTSProvider)
	}
	if errors.Is(err, speech.ErrUnavailable) {
		return nil, nil
	}
	return synth, err
}
