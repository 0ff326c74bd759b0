package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestConfig(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Config Suite")
}

var _ = Describe("Config", func() {
	var (
		tempDir    string
		configFile string
	)

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "config-test")
		Expect(err).NotTo(HaveOccurred())
		configFile = filepath.Join(tempDir, "config.yaml")
		os.Setenv("ENCRYPTION_KEY", "dGVzdC1rZXktMzItYnl0ZXMtbG9uZy1wYWQhISE=")
		os.Unsetenv("DATABASE_URL")
	})

	AfterEach(func() {
		os.RemoveAll(tempDir)
		os.Unsetenv("ENCRYPTION_KEY")
	})

	Describe("Load", func() {
		Context("when config file exists with valid content", func() {
			BeforeEach(func() {
				valid := `
server:
  http_port: "8081"
  metrics_port: "9091"

database:
  url: "postgres://localhost/orchestrator"
  max_open_conns: 12
  transaction_ceiling: 3s

queue:
  poll_interval: 1s

planning_db:
  requests_per_sec: 3
  base_url: "https://api.example.com"

logging:
  level: "debug"
  format: "console"
`
				Expect(os.WriteFile(configFile, []byte(valid), 0644)).To(Succeed())
			})

			It("loads configuration successfully", func() {
				cfg, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Server.HTTPPort).To(Equal("8081"))
				Expect(cfg.Database.URL).To(Equal("postgres://localhost/orchestrator"))
				Expect(cfg.Database.MaxOpenConns).To(Equal(12))
				Expect(cfg.Database.TransactionCeiling).To(Equal(3 * time.Second))
				Expect(cfg.Queue.PollInterval).To(Equal(1 * time.Second))
				Expect(cfg.Logging.Level).To(Equal("debug"))
				Expect(cfg.Logging.Format).To(Equal("console"))
			})
		})

		Context("when config file has minimal content", func() {
			BeforeEach(func() {
				Expect(os.WriteFile(configFile, []byte("database:\n  url: \"postgres://localhost/db\"\n"), 0644)).To(Succeed())
			})

			It("fills in defaults for everything else", func() {
				cfg, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Server.HTTPPort).To(Equal("8080"))
				Expect(cfg.Subprocess.DefaultTimeout).To(Equal(600 * time.Second))
				Expect(cfg.Subprocess.UploadTimeout).To(Equal(1200 * time.Second))
				Expect(cfg.PlanningDB.RequestsPerSec).To(Equal(float64(3)))
			})
		})

		Context("when DATABASE_URL env var is set", func() {
			BeforeEach(func() {
				Expect(os.WriteFile(configFile, []byte("database:\n  url: \"postgres://file/db\"\n"), 0644)).To(Succeed())
				os.Setenv("DATABASE_URL", "postgres://env/db")
			})
			AfterEach(func() { os.Unsetenv("DATABASE_URL") })

			It("overrides the file value", func() {
				cfg, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Database.URL).To(Equal("postgres://env/db"))
			})
		})

		Context("when ENCRYPTION_KEY is missing", func() {
			BeforeEach(func() {
				os.Unsetenv("ENCRYPTION_KEY")
				Expect(os.WriteFile(configFile, []byte("database:\n  url: \"postgres://localhost/db\"\n"), 0644)).To(Succeed())
			})

			It("fails validation", func() {
				_, err := Load(configFile)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("ENCRYPTION_KEY"))
			})
		})

		Context("when the file does not exist", func() {
			It("returns an error", func() {
				_, err := Load(filepath.Join(tempDir, "missing.yaml"))
				Expect(err).To(HaveOccurred())
			})
		})
	})

	Describe("Validate", func() {
		It("rejects a non-positive transaction ceiling", func() {
			cfg := DefaultConfig()
			cfg.Database.URL = "postgres://x/y"
			cfg.Database.TransactionCeiling = 0
			os.Setenv("ENCRYPTION_KEY", "k")
			cfg.LoadEnv()
			Expect(cfg.Validate()).To(HaveOccurred())
		})
	})
})
