package config

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("VECTOR_DIM", "")
	t.Setenv("COLLECTION_NAME", "")
	cfg := FromEnv()

	if cfg.Port != 8000 || cfg.PortAttempts != 10 {
		t.Fatalf("unexpected port settings %d/%d", cfg.Port, cfg.PortAttempts)
	}
	if cfg.VectorBackend != BackendMilvus || cfg.MilvusAddr() != "localhost:19530" {
		t.Fatalf("unexpected vector settings %s %s", cfg.VectorBackend, cfg.MilvusAddr())
	}
	if cfg.Collection != "docs" || cfg.VectorDim != 1024 {
		t.Fatalf("unexpected collection %s/%d", cfg.Collection, cfg.VectorDim)
	}
	if cfg.BootstrapAttempts != 5 || cfg.BootstrapDelay != 3*time.Second {
		t.Fatalf("unexpected bootstrap %d/%s", cfg.BootstrapAttempts, cfg.BootstrapDelay)
	}
	if cfg.ChatModel != "gpt-4o" || cfg.MaxTokens != 100 || cfg.TopK != 5 {
		t.Fatalf("unexpected query settings %+v", cfg)
	}
	if cfg.ChunkSize != 1000 || cfg.ChunkOverlap != 200 {
		t.Fatalf("unexpected chunking %d/%d", cfg.ChunkSize, cfg.ChunkOverlap)
	}
	if cfg.ServiceName != "largo-chat-lambda" || cfg.ServiceVersion != "1.0.0" {
		t.Fatalf("unexpected service identity %s %s", cfg.ServiceName, cfg.ServiceVersion)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("VECTOR_BACKEND", "Qdrant")
	t.Setenv("MILVUS_HOST", "milvus.internal")
	t.Setenv("MILVUS_PORT", "29530")
	t.Setenv("BOOTSTRAP_DELAY", "2")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	cfg := FromEnv()

	if cfg.VectorBackend != BackendQdrant {
		t.Fatalf("expected qdrant, got %s", cfg.VectorBackend)
	}
	if cfg.MilvusAddr() != "milvus.internal:29530" {
		t.Fatalf("unexpected addr %s", cfg.MilvusAddr())
	}
	if cfg.BootstrapDelay != 2*time.Second {
		t.Fatalf("bare seconds should parse, got %s", cfg.BootstrapDelay)
	}
	if cfg.LogLevel != slog.LevelDebug || cfg.RateLimitRPS != 2.5 {
		t.Fatalf("unexpected level/rps %s %g", cfg.LogLevel, cfg.RateLimitRPS)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestMalformedValuesFallBackAndReport(t *testing.T) {
	t.Setenv("PORT", "eighty")
	t.Setenv("BOOTSTRAP_DELAY", "soon")
	cfg := FromEnv()

	if cfg.Port != 8000 || cfg.BootstrapDelay != 3*time.Second {
		t.Fatalf("expected defaults, got %d %s", cfg.Port, cfg.BootstrapDelay)
	}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "PORT") || !strings.Contains(err.Error(), "BOOTSTRAP_DELAY") {
		t.Fatalf("expected both problems reported, got %v", err)
	}
}

func TestValidateRejectsBadSettings(t *testing.T) {
	t.Setenv("VECTOR_BACKEND", "faiss")
	t.Setenv("CHUNK_OVERLAP", "1000")
	cfg := FromEnv()
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "VECTOR_BACKEND") || !strings.Contains(err.Error(), "CHUNK_OVERLAP") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("LARGO_TEST_COLLECTION=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ENV_FILE", path)
	t.Setenv("COLLECTION_NAME", "from-env")
	t.Cleanup(func() { os.Unsetenv("LARGO_TEST_COLLECTION") })

	cfg := Load()
	if os.Getenv("LARGO_TEST_COLLECTION") != "from-file" {
		t.Fatal(".env values should be loaded into the environment")
	}
	if cfg.Collection != "from-env" {
		t.Fatalf("environment should win over .env, got %s", cfg.Collection)
	}
}

type fakeSecrets struct {
	values map[string]string
	fail   map[string]error
}

func (f *fakeSecrets) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	id := aws.ToString(in.SecretId)
	if err := f.fail[id]; err != nil {
		return nil, err
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(f.values[id])}, nil
}

func TestResolveCredentialsFromSecrets(t *testing.T) {
	cfg := Config{OpenAISecretARN: "arn:openai", GoogleSecretARN: "arn:google"}
	f := &fakeSecrets{values: map[string]string{"arn:openai": "sk-test", "arn:google": `{"type":"service_account"}`}}

	creds, err := ResolveCredentials(context.Background(), cfg, f)
	if err != nil {
		t.Fatal(err)
	}
	if creds.OpenAIKey != "sk-test" || string(creds.GoogleJSON) != `{"type":"service_account"}` {
		t.Fatalf("unexpected credentials %+v", creds)
	}
}

func TestResolveCredentialsIndependent(t *testing.T) {
	cfg := Config{OpenAISecretARN: "arn:openai", GoogleSecretARN: "arn:google"}
	f := &fakeSecrets{
		values: map[string]string{"arn:google": `{}`},
		fail:   map[string]error{"arn:openai": errors.New("access denied")},
	}

	creds, err := ResolveCredentials(context.Background(), cfg, f)
	if err == nil || !strings.Contains(err.Error(), "openai") {
		t.Fatalf("expected openai failure, got %v", err)
	}
	if creds.OpenAIKey != "" {
		t.Fatal("openai key should be empty")
	}
	if string(creds.GoogleJSON) != "{}" {
		t.Fatal("google credential should still resolve")
	}
}

func TestResolveCredentialsLocal(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "google.json")
	os.WriteFile(keyFile, []byte("{}"), 0o600)

	cfg := Config{OpenAIAPIKey: "sk-local", GoogleAPIKey: keyFile}
	creds, err := ResolveCredentials(context.Background(), cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if creds.OpenAIKey != "sk-local" || creds.GoogleFile != keyFile {
		t.Fatalf("unexpected credentials %+v", creds)
	}
}

func TestResolveCredentialsMissingLocalFile(t *testing.T) {
	cfg := Config{OpenAIAPIKey: "sk-local", GoogleAPIKey: filepath.Join(t.TempDir(), "nope.json")}
	creds, err := ResolveCredentials(context.Background(), cfg, nil)
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if creds.OpenAIKey != "sk-local" || creds.GoogleFile != "" {
		t.Fatalf("unexpected credentials %+v", creds)
	}
}

func TestWriteCredentialsFileMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "creds.json")
	if err := WriteCredentialsFile(path, []byte(`{"k":"v"}`)); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600, got %o", info.Mode().Perm())
	}
	data, _ := os.ReadFile(path)
	if string(data) != `{"k":"v"}` {
		t.Fatalf("unexpected content %s", data)
	}
}
