package logger_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/motorlink/motorlink/pkg/logger"
)

var _ = Describe("Logger", func() {
	Describe("New", func() {
		Context("with default config", func() {
			It("should create a non-nil logger", func() {
				log := logger.New(logger.DefaultConfig())
				Expect(log).NotTo(BeNil())
			})
		})

		Context("with nil config", func() {
			It("should create a non-nil logger with defaults", func() {
				log := logger.New(nil)
				Expect(log).NotTo(BeNil())
			})
		})

		Context("with custom level", func() {
			It("should create a logger with the specified level", func() {
				cfg := &logger.Config{
					Level:  slog.LevelDebug,
					Output: &bytes.Buffer{},
				}
				log := logger.New(cfg)
				Expect(log).NotTo(BeNil())
			})
		})

		Context("with add source enabled", func() {
			It("should create a logger that includes source information", func() {
				cfg := &logger.Config{
					Level:     slog.LevelInfo,
					Output:    &bytes.Buffer{},
					AddSource: true,
				}
				log := logger.New(cfg)
				Expect(log).NotTo(BeNil())
			})
		})
	})

	Describe("NewDefault", func() {
		It("should create a non-nil logger with default settings", func() {
			log := logger.NewDefault()
			Expect(log).NotTo(BeNil())
		})
	})

	Describe("NewWithLevel", func() {
		DescribeTable("should create loggers with different levels",
			func(level slog.Level) {
				log := logger.NewWithLevel(level)
				Expect(log).NotTo(BeNil())
			},
			Entry("debug level", slog.LevelDebug),
			Entry("info level", slog.LevelInfo),
			Entry("warn level", slog.LevelWarn),
			Entry("error level", slog.LevelError),
		)
	})

	Describe("ParseLevel", func() {
		DescribeTable("should parse level strings correctly",
			func(input string, expected slog.Level) {
				level := logger.ParseLevel(input)
				Expect(level).To(Equal(expected))
			},
			Entry("debug", "debug", slog.LevelDebug),
			Entry("info", "info", slog.LevelInfo),
			Entry("warn", "warn", slog.LevelWarn),
			Entry("warning", "warning", slog.LevelWarn),
			Entry("error", "error", slog.LevelError),
			Entry("invalid defaults to info", "invalid", slog.LevelInfo),
			Entry("empty string defaults to info", "", slog.LevelInfo),
		)
	})

	Describe("Component", func() {
		var (
			buf *bytes.Buffer
			log *slog.Logger
		)

		BeforeEach(func() {
			buf = &bytes.Buffer{}
			log = logger.New(&logger.Config{
				Level:  slog.LevelInfo,
				Output: buf,
			})
		})

		It("should tag all records with the component name", func() {
			child := logger.Component(log, "hub")
			child.Info("message")

			var logEntry map[string]interface{}
			err := json.Unmarshal(buf.Bytes(), &logEntry)
			Expect(err).NotTo(HaveOccurred())
			Expect(logEntry).To(HaveKeyWithValue("component", "hub"))
		})

		It("should fall back to a default logger when the base is nil", func() {
			child := logger.Component(nil, "store")
			Expect(child).NotTo(BeNil())
		})
	})

	Describe("Logger Output Format", func() {
		var (
			buf *bytes.Buffer
			log *slog.Logger
		)

		BeforeEach(func() {
			buf = &bytes.Buffer{}
			cfg := &logger.Config{
				Level:  slog.LevelInfo,
				Output: buf,
			}
			log = logger.New(cfg)
		})

		It("should output valid JSON", func() {
			log.Info("test message")

			var logEntry map[string]interface{}
			err := json.Unmarshal(buf.Bytes(), &logEntry)
			Expect(err).NotTo(HaveOccurred())
		})

		It("should include required fields", func() {
			log.Info("test message")

			var logEntry map[string]interface{}
			err := json.Unmarshal(buf.Bytes(), &logEntry)
			Expect(err).NotTo(HaveOccurred())

			Expect(logEntry).To(HaveKey("time"))
			Expect(logEntry).To(HaveKey("level"))
			Expect(logEntry).To(HaveKey("msg"))
		})

		It("should include structured attributes", func() {
			log.Info("motor toggled", "motor", "A", "state", true)

			var logEntry map[string]interface{}
			err := json.Unmarshal(buf.Bytes(), &logEntry)
			Expect(err).NotTo(HaveOccurred())

			Expect(logEntry).To(HaveKeyWithValue("motor", "A"))
			Expect(logEntry).To(HaveKeyWithValue("state", true))
		})

		It("should respect the configured level", func() {
			log.Debug("below threshold")
			Expect(strings.TrimSpace(buf.String())).To(BeEmpty())

			log.Info("at threshold")
			Expect(buf.String()).To(ContainSubstring("at threshold"))
		})
	})
})
