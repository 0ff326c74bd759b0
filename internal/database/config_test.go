package database

import (
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Database Configuration", func() {
	Describe("DefaultConfig", func() {
		It("returns sane defaults", func() {
			config := DefaultConfig()
			Expect(config.Host).To(Equal("localhost"))
			Expect(config.Port).To(Equal(5432))
			Expect(config.SSLMode).To(Equal("disable"))
			Expect(config.MaxOpenConns).To(Equal(10))
			Expect(config.MaxIdleConns).To(Equal(5))
			Expect(config.ConnMaxLifetime).To(Equal(5 * time.Minute))
		})
	})

	Describe("LoadFromEnv", func() {
		var config *Config
		var saved map[string]string

		BeforeEach(func() {
			config = DefaultConfig()
			saved = map[string]string{}
			for _, k := range []string{"DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME", "DB_SSL_MODE"} {
				saved[k] = os.Getenv(k)
				os.Unsetenv(k)
			}
		})

		AfterEach(func() {
			for k, v := range saved {
				if v == "" {
					os.Unsetenv(k)
				} else {
					os.Setenv(k, v)
				}
			}
		})

		Context("when all environment variables are set", func() {
			BeforeEach(func() {
				os.Setenv("DB_HOST", "testhost")
				os.Setenv("DB_PORT", "3306")
				os.Setenv("DB_USER", "testuser")
				os.Setenv("DB_PASSWORD", "testpass")
				os.Setenv("DB_NAME", "testdb")
				os.Setenv("DB_SSL_MODE", "require")
			})

			It("loads values from the environment", func() {
				config.LoadFromEnv()
				Expect(config.Host).To(Equal("testhost"))
				Expect(config.Port).To(Equal(3306))
				Expect(config.User).To(Equal("testuser"))
				Expect(config.Password).To(Equal("testpass"))
				Expect(config.Database).To(Equal("testdb"))
				Expect(config.SSLMode).To(Equal("require"))
			})
		})

		Context("when DB_PORT is not a valid integer", func() {
			BeforeEach(func() { os.Setenv("DB_PORT", "not-a-port") })

			It("keeps the default port", func() {
				original := config.Port
				config.LoadFromEnv()
				Expect(config.Port).To(Equal(original))
			})
		})
	})

	Describe("Validate", func() {
		var config *Config

		BeforeEach(func() { config = DefaultConfig() })

		It("passes for a valid config", func() {
			Expect(config.Validate()).NotTo(HaveOccurred())
		})

		It("rejects an empty host", func() {
			config.Host = ""
			err := config.Validate()
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("database host is required"))
		})

		It("rejects a zero port", func() {
			config.Port = 0
			err := config.Validate()
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("database port must be between 1 and 65535"))
		})

		It("rejects a port above 65535", func() {
			config.Port = 70000
			err := config.Validate()
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("database port must be between 1 and 65535"))
		})
	})
})
