package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

const DefaultModel = "gemini-flash-latest"

// DefaultModelFor returns the generation model used when none is configured
// for provider. Unknown providers get none.
func DefaultModelFor(provider string) string {
	switch provider {
	case ProviderGemini:
		return DefaultModel
	case ProviderOpenAI:
		return "gpt-4o-mini"
	case ProviderOllama:
		return "llama3.1:8b"
	default:
		return ""
	}
}

type Config struct {
	DataDir  string `yaml:"data_dir"`
	HTTPAddr string `yaml:"http_addr"`

	Store StoreConfig `yaml:"store"`

	PostgresDSN string `yaml:"postgres_dsn"`
	Neo4jURI    string `yaml:"neo4j_uri"`
	Neo4jUser   string `yaml:"neo4j_username"`
	Neo4jPass   string `yaml:"neo4j_password"`

	LLM        LLMConfig       `yaml:"llm"`
	Embeddings EmbeddingConfig `yaml:"embeddings"`
	Chunking   ChunkingConfig  `yaml:"chunking"`
	Retrieval  RetrievalConfig `yaml:"retrieval"`

	OllamaHost    string `yaml:"ollama_host"`
	OpenAIAPIKey  string `yaml:"openai_api_key"`
	OpenAIBaseURL string `yaml:"openai_base_url"`
	GeminiAPIKey  string `yaml:"gemini_api_key"`

	// RenderHTML loads the target URL in headless Chrome when a script request
	// carries no HTML source.
	RenderHTML bool `yaml:"render_html"`
}

type StoreConfig struct {
	Backend string `yaml:"backend"`
	Dir     string `yaml:"dir"`
}

type LLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

type EmbeddingConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
}

type ChunkingConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

// RetrievalConfig holds the top-K depth used by each task.
type RetrievalConfig struct {
	TestsK  int `yaml:"tests_k"`
	ScriptK int `yaml:"script_k"`
	ChatK   int `yaml:"chat_k"`
}

func Default() Config {
	return Config{
		DataDir:  "data",
		HTTPAddr: ":8000",
		Store: StoreConfig{
			Backend: StoreSQLite,
			Dir:     "knowledge_db",
		},
		PostgresDSN: "postgres://localhost:5432/qa-agent?sslmode=disable",
		Neo4jUser:   "neo4j",
		LLM: LLMConfig{
			Provider: ProviderGemini,
		},
		Embeddings: EmbeddingConfig{
			Provider:  ProviderOllama,
			Model:     "nomic-embed-text",
			Dimension: 768,
		},
		Chunking: ChunkingConfig{
			Size:    1000,
			Overlap: 200,
		},
		Retrieval: RetrievalConfig{
			TestsK:  5,
			ScriptK: 3,
			ChatK:   5,
		},
		OllamaHost: "http://localhost:11434",
	}
}

// Load builds the configuration from defaults, an optional YAML file and the
// environment, in that order of precedence (environment wins).
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = DefaultModelFor(cfg.LLM.Provider)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.DataDir = getEnv("QA_AGENT_DATA_DIR", c.DataDir)
	c.HTTPAddr = getEnv("QA_AGENT_HTTP_ADDR", c.HTTPAddr)
	c.Store.Backend = strings.ToLower(getEnv("QA_AGENT_STORE_BACKEND", c.Store.Backend))
	c.Store.Dir = getEnv("QA_AGENT_STORE_DIR", c.Store.Dir)

	c.PostgresDSN = getEnv("POSTGRES_DSN", c.PostgresDSN)
	c.Neo4jURI = getEnv("NEO4J_URI", c.Neo4jURI)
	c.Neo4jUser = getEnv("NEO4J_USERNAME", c.Neo4jUser)
	c.Neo4jPass = getEnv("NEO4J_PASSWORD", c.Neo4jPass)

	c.LLM.Provider = strings.ToLower(getEnv("LLM_PROVIDER", c.LLM.Provider))
	c.LLM.Model = getEnv("LLM_MODEL", c.LLM.Model)
	c.Embeddings.Provider = strings.ToLower(getEnv("EMBEDDING_PROVIDER", c.Embeddings.Provider))
	c.Embeddings.Model = getEnv("EMBEDDING_MODEL", c.Embeddings.Model)

	c.OllamaHost = getEnv("OLLAMA_HOST", c.OllamaHost)
	c.OpenAIAPIKey = getEnv("OPENAI_API_KEY", c.OpenAIAPIKey)
	c.OpenAIBaseURL = getEnv("OPENAI_BASE_URL", c.OpenAIBaseURL)
	c.GeminiAPIKey = getEnv("GEMINI_API_KEY", c.GeminiAPIKey)

	var err error
	if c.Embeddings.Dimension, err = getEnvInt("EMBEDDING_DIMENSION", c.Embeddings.Dimension); err != nil {
		return err
	}
	if c.Chunking.Size, err = getEnvInt("QA_AGENT_CHUNK_SIZE", c.Chunking.Size); err != nil {
		return err
	}
	if c.Chunking.Overlap, err = getEnvInt("QA_AGENT_CHUNK_OVERLAP", c.Chunking.Overlap); err != nil {
		return err
	}
	if c.RenderHTML, err = getEnvBool("QA_AGENT_RENDER_HTML", c.RenderHTML); err != nil {
		return err
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return value, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return value, nil
}
