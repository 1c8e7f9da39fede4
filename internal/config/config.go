package config

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress    string
	AuthPassword   string
	ICEServersJSON string
	CORSOrigins    []string

	AssemblyAIKey string

	LLMProvider     string
	GeminiKey       string
	GeminiModel     string
	CerebrasKey     string
	CerebrasModelID string

	TTSProvider       string
	DeepgramKey       string
	DeepgramModel     string
	ElevenLabsKey     string
	ElevenLabsVoiceID string

	DatabaseURL string
	SQLitePath  string
	RedisURL    string

	SupabaseURL            string
	SupabaseServiceRoleKey string
	SupabaseBucket         string

	TwilioAccountSID string
	TwilioAuthToken  string
	// BaseURL is the public origin Twilio reaches this server at.
	BaseURL string

	ConnectDelay time.Duration
	AdvanceDelay time.Duration
	ListenWindow time.Duration
}

const defaultICEServers = `[{"urls":["stun:stun.l.google.com:19302"]}]`

// Load reads .env, then the environment, then command line flags in args.
// Missing provider keys are logged as warnings; only malformed values fail.
func Load(args []string) (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found or error loading it: %v", err)
	}

	var cfg Config
	var cors string
	fs := flag.NewFlagSet("prepflash", flag.ContinueOnError)
	fs.StringVar(&cfg.HTTPAddress, "addr", getEnv("HTTP_ADDRESS", ":8080"), "HTTP listen address")
	fs.StringVar(&cfg.AuthPassword, "auth-password", os.Getenv("AUTH_PASSWORD"), "password required by the session websocket")
	fs.StringVar(&cfg.ICEServersJSON, "ice-servers", getEnv("ICE_SERVERS_JSON", defaultICEServers), "ICE servers as a JSON array")
	fs.StringVar(&cors, "cors-origins", getEnv("CORS_ORIGINS", "http://localhost:8080"), "comma separated allowed origins")

	fs.StringVar(&cfg.AssemblyAIKey, "assemblyai-key", os.Getenv("ASSEMBLYAI_API_KEY"), "AssemblyAI API key")

	fs.StringVar(&cfg.LLMProvider, "llm-provider", os.Getenv("LLM_PROVIDER"), "gemini or cerebras; empty picks the first configured")
	fs.StringVar(&cfg.GeminiKey, "gemini-key", os.Getenv("GEMINI_API_KEY"), "Gemini API key")
	fs.StringVar(&cfg.GeminiModel, "gemini-model", getEnv("GEMINI_MODEL", "gemini-2.0-flash"), "Gemini model")
	fs.StringVar(&cfg.CerebrasKey, "cerebras-key", os.Getenv("CEREBRAS_API_KEY"), "Cerebras API key")
	fs.StringVar(&cfg.CerebrasModelID, "cerebras-model", getEnv("CEREBRAS_MODEL_ID", "llama3.1-8b"), "Cerebras model id")

	fs.StringVar(&cfg.TTSProvider, "tts-provider", os.Getenv("TTS_PROVIDER"), "deepgram or elevenlabs; empty picks the first configured")
	fs.StringVar(&cfg.DeepgramKey, "deepgram-key", os.Getenv("DEEPGRAM_API_KEY"), "Deepgram API key")
	fs.StringVar(&cfg.DeepgramModel, "deepgram-model", getEnv("DEEPGRAM_MODEL", "aura-2-thalia-en"), "Deepgram speak model")
	fs.StringVar(&cfg.ElevenLabsKey, "elevenlabs-key", os.Getenv("ELEVENLABS_API_KEY"), "ElevenLabs API key")
	fs.StringVar(&cfg.ElevenLabsVoiceID, "elevenlabs-voice", os.Getenv("ELEVENLABS_VOICE_ID"), "ElevenLabs voice id")

	fs.StringVar(&cfg.DatabaseURL, "database-url", os.Getenv("DATABASE_URL"), "Postgres URL; SQLite is used when empty")
	fs.StringVar(&cfg.SQLitePath, "sqlite-path", os.Getenv("SQLITE_PATH"), "SQLite file (default ~/.prepflash/sessions.db)")
	fs.StringVar(&cfg.RedisURL, "redis-url", os.Getenv("REDIS_URL"), "Redis URL for the internships cache")

	fs.StringVar(&cfg.SupabaseURL, "supabase-url", os.Getenv("SUPABASE_URL"), "Supabase URL")
	fs.StringVar(&cfg.SupabaseServiceRoleKey, "supabase-key", os.Getenv("SUPABASE_SERVICE_ROLE_KEY"), "Supabase service role key")
	fs.StringVar(&cfg.SupabaseBucket, "supabase-bucket", getEnv("SUPABASE_BUCKET", "interview-archive"), "Supabase storage bucket")

	fs.StringVar(&cfg.TwilioAccountSID, "twilio-sid", os.Getenv("TWILIO_ACCOUNT_SID"), "Twilio account SID")
	fs.StringVar(&cfg.TwilioAuthToken, "twilio-token", os.Getenv("TWILIO_AUTH_TOKEN"), "Twilio auth token")
	fs.StringVar(&cfg.BaseURL, "base-url", os.Getenv("BASE_URL"), "public base URL for Twilio callbacks")

	var err error
	if cfg.ConnectDelay, err = getDuration("CONNECT_DELAY", 1500*time.Millisecond); err != nil {
		return cfg, err
	}
	if cfg.AdvanceDelay, err = getDuration("ADVANCE_DELAY", 2*time.Second); err != nil {
		return cfg, err
	}
	if cfg.ListenWindow, err = getDuration("LISTEN_WINDOW", 30*time.Second); err != nil {
		return cfg, err
	}
	fs.DurationVar(&cfg.ConnectDelay, "connect-delay", cfg.ConnectDelay, "simulated connect time before the intro")
	fs.DurationVar(&cfg.AdvanceDelay, "advance-delay", cfg.AdvanceDelay, "pause between an answer and the next question")
	fs.DurationVar(&cfg.ListenWindow, "listen-window", cfg.ListenWindow, "longest time one answer is captured")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	cfg.CORSOrigins = splitList(cors)
	cfg.warn()
	log.Printf("config: HTTP_ADDRESS=%s", cfg.HTTPAddress)
	return cfg, nil
}

func (c Config) warn() {
	if c.AssemblyAIKey == "" {
		log.Println("Warning: ASSEMBLYAI_API_KEY not set - streamed capture disabled, relay capture only")
	}
	if c.GeminiKey == "" && c.CerebrasKey == "" {
		log.Println("Warning: GEMINI_API_KEY and CEREBRAS_API_KEY not set - question generation and feedback disabled")
	}
	if c.DeepgramKey == "" && (c.ElevenLabsKey == "" || c.ElevenLabsVoiceID == "") {
		log.Println("Warning: no TTS key set - questions will not be spoken over WebRTC")
	}
	if c.TwilioAuthToken == "" {
		log.Println("Warning: TWILIO_AUTH_TOKEN not set - phone interviews disabled")
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
