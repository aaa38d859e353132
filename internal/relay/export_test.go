package relay_test

import (
	"context"
	"errors"
	"log/slog"
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/motorlink/motorlink/internal/relay"
	"github.com/motorlink/motorlink/pkg/mq"
	"github.com/motorlink/motorlink/pkg/mq/mock"
)

var _ = Describe("Exporter", func() {
	var (
		logger     *slog.Logger
		mockClient *mock.MockClient
	)

	BeforeEach(func() {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
		mockClient = mock.NewMockClient()
	})

	Describe("NewExporter", func() {
		It("should create an exporter", func() {
			exporter, err := relay.NewExporter(&relay.ExporterConfig{
				Logger:    logger,
				Publisher: mockClient,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(exporter).NotTo(BeNil())

			Expect(exporter.Stop()).To(Succeed())
		})

		It("should return error when config is nil", func() {
			exporter, err := relay.NewExporter(nil)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("config cannot be nil"))
			Expect(exporter).To(BeNil())
		})

		It("should return error when logger is nil", func() {
			exporter, err := relay.NewExporter(&relay.ExporterConfig{
				Publisher: mockClient,
			})
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("logger"))
			Expect(exporter).To(BeNil())
		})

		It("should return error when publisher is nil", func() {
			exporter, err := relay.NewExporter(&relay.ExporterConfig{
				Logger: logger,
			})
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("publisher"))
			Expect(exporter).To(BeNil())
		})
	})

	Describe("Publish", func() {
		It("should push queued frames to the broker", func() {
			pushed := make(chan []byte, 8)
			mockClient.PushFunc = func(ctx context.Context, data []byte) error {
				pushed <- data
				return nil
			}

			exporter, err := relay.NewExporter(&relay.ExporterConfig{
				Logger:    logger,
				Publisher: mockClient,
			})
			Expect(err).NotTo(HaveOccurred())
			defer exporter.Stop()

			frame := []byte(`{"type":"state_update","motorA":true}`)
			exporter.Publish(frame)

			Eventually(pushed, "2s").Should(Receive(Equal(frame)))
		})

		It("should keep pushing after a broker error", func() {
			pushed := make(chan []byte, 8)
			calls := 0
			mockClient.PushFunc = func(ctx context.Context, data []byte) error {
				calls++
				if calls == 1 {
					return errors.New("broker unavailable")
				}
				pushed <- data
				return nil
			}

			exporter, err := relay.NewExporter(&relay.ExporterConfig{
				Logger:    logger,
				Publisher: mockClient,
			})
			Expect(err).NotTo(HaveOccurred())
			defer exporter.Stop()

			exporter.Publish([]byte(`{"type":"state_update","motorA":true}`))
			second := []byte(`{"type":"state_update","motorB":true}`)
			exporter.Publish(second)

			Eventually(pushed, "2s").Should(Receive(Equal(second)))
		})

		It("should not block when the publish worker is wedged", func() {
			gate := make(chan struct{})
			mockClient.PushFunc = func(ctx context.Context, data []byte) error {
				<-gate
				return nil
			}

			exporter, err := relay.NewExporter(&relay.ExporterConfig{
				Logger:    logger,
				Publisher: mockClient,
			})
			Expect(err).NotTo(HaveOccurred())

			// Well past the queue capacity; the surplus is dropped.
			for i := 0; i < 300; i++ {
				exporter.Publish([]byte(`{"type":"state_update"}`))
			}

			close(gate)
			Expect(exporter.Stop()).To(Succeed())
			Expect(len(mockClient.PushCalls)).To(BeNumerically("<", 300))
		})
	})

	Describe("Stop", func() {
		It("should drain remaining frames before closing the publisher", func() {
			exporter, err := relay.NewExporter(&relay.ExporterConfig{
				Logger:    logger,
				Publisher: mockClient,
			})
			Expect(err).NotTo(HaveOccurred())

			frames := [][]byte{
				[]byte(`{"type":"state_update","voltage":11.9}`),
				[]byte(`{"type":"state_update","voltage":12.0}`),
				[]byte(`{"type":"state_update","voltage":12.1}`),
			}
			for _, frame := range frames {
				exporter.Publish(frame)
			}

			Expect(exporter.Stop()).To(Succeed())

			Expect(mockClient.PushCalls).To(HaveLen(len(frames)))
			for i, call := range mockClient.PushCalls {
				Expect(call.Data).To(Equal(frames[i]))
			}
			Expect(mockClient.CloseCalls).To(Equal(1))
		})

		It("should surface a publisher close failure", func() {
			mockClient.CloseError = errors.New("channel gone")

			exporter, err := relay.NewExporter(&relay.ExporterConfig{
				Logger:    logger,
				Publisher: mockClient,
			})
			Expect(err).NotTo(HaveOccurred())

			err = exporter.Stop()
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("failed to close publisher"))
		})

		It("should shut down cleanly when the publisher never connected", func() {
			mockClient.CloseError = mq.ErrAlreadyClosed

			exporter, err := relay.NewExporter(&relay.ExporterConfig{
				Logger:    logger,
				Publisher: mockClient,
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(exporter.Stop()).To(Succeed())
			Expect(mockClient.CloseCalls).To(Equal(1))
		})
	})
})
