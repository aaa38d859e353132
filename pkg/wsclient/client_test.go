package wsclient_test

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/motorlink/motorlink/pkg/wsclient"
)

// echoServer upgrades every request and echoes text messages back.
func echoServer() *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
}

// wsURL rewrites an httptest server URL to the ws scheme.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

var _ = Describe("WSClient", func() {
	var (
		logger *slog.Logger
	)

	BeforeEach(func() {
		// Create a logger that discards output for tests
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
	})

	Describe("New", func() {
		Context("with invalid configuration", func() {
			It("should return an error when config is nil", func() {
				client, err := wsclient.New(nil)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("config is required"))
				Expect(client).To(BeNil())
			})

			It("should return an error when logger is nil", func() {
				client, err := wsclient.New(&wsclient.Config{
					URL: "ws://localhost:8080/ws",
				})
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("logger is required"))
				Expect(client).To(BeNil())
			})

			It("should return an error when URL is empty", func() {
				client, err := wsclient.New(&wsclient.Config{
					Logger: logger,
				})
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("relay URL is required"))
				Expect(client).To(BeNil())
			})

			It("should return an error when URL does not parse", func() {
				client, err := wsclient.New(&wsclient.Config{
					Logger: logger,
					URL:    "%zz",
				})
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to parse relay URL"))
				Expect(client).To(BeNil())
			})

			It("should reject non-websocket schemes", func() {
				client, err := wsclient.New(&wsclient.Config{
					Logger: logger,
					URL:    "http://localhost:8080/ws",
				})
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("ws or wss scheme"))
				Expect(client).To(BeNil())
			})
		})

		Context("with an unreachable relay", func() {
			It("should create the client and keep retrying in the background", func() {
				client, err := wsclient.New(&wsclient.Config{
					Logger: logger,
					URL:    "ws://localhost:1/ws",
				})
				Expect(err).NotTo(HaveOccurred())
				Expect(client).NotTo(BeNil())

				// Give the dial a moment to fail
				time.Sleep(100 * time.Millisecond)
				Expect(client.Connected()).To(BeFalse())

				_ = client.Close()
			})
		})
	})

	Describe("Send", func() {
		Context("when not connected", func() {
			It("should return a not connected error", func() {
				client, err := wsclient.New(&wsclient.Config{
					Logger: logger,
					URL:    "ws://localhost:1/ws",
				})
				Expect(err).NotTo(HaveOccurred())

				time.Sleep(100 * time.Millisecond)

				err = client.Send([]byte(`{"type":"state_update"}`))
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("not connected"))

				_ = client.Close()
			})
		})

		Context("when connected", func() {
			It("should deliver frames and receive replies through OnMessage", func() {
				srv := echoServer()
				defer srv.Close()

				received := make(chan []byte, 4)
				client, err := wsclient.New(&wsclient.Config{
					Logger: logger,
					URL:    wsURL(srv),
					OnMessage: func(data []byte) {
						received <- data
					},
				})
				Expect(err).NotTo(HaveOccurred())
				defer func() { _ = client.Close() }()

				Eventually(client.Connected, "3s", "50ms").Should(BeTrue())

				frame := []byte(`{"type":"state_update","motorA":true}`)
				Expect(client.Send(frame)).To(Succeed())

				Eventually(received, "3s").Should(Receive(Equal(frame)))
			})
		})
	})

	Describe("OnConnect", func() {
		It("should fire after every successful connection", func() {
			srv := echoServer()
			defer srv.Close()

			connected := make(chan struct{}, 1)
			client, err := wsclient.New(&wsclient.Config{
				Logger: logger,
				URL:    wsURL(srv),
				OnConnect: func() {
					connected <- struct{}{}
				},
			})
			Expect(err).NotTo(HaveOccurred())
			defer func() { _ = client.Close() }()

			Eventually(connected, "3s").Should(Receive())
		})
	})

	Describe("connection loss", func() {
		It("should drop to disconnected when the relay goes away", func() {
			srv := echoServer()

			client, err := wsclient.New(&wsclient.Config{
				Logger: logger,
				URL:    wsURL(srv),
			})
			Expect(err).NotTo(HaveOccurred())
			defer func() { _ = client.Close() }()

			Eventually(client.Connected, "3s", "50ms").Should(BeTrue())

			srv.CloseClientConnections()
			srv.Close()

			Eventually(client.Connected, "3s", "50ms").Should(BeFalse())
		})
	})

	Describe("Close", func() {
		It("should stop the redial loop", func() {
			client, err := wsclient.New(&wsclient.Config{
				Logger: logger,
				URL:    "ws://localhost:1/ws",
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(client.Close()).To(Succeed())
		})

		It("should return an error on second close", func() {
			client, err := wsclient.New(&wsclient.Config{
				Logger: logger,
				URL:    "ws://localhost:1/ws",
			})
			Expect(err).NotTo(HaveOccurred())

			_ = client.Close()
			err = client.Close()
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("already closed"))
		})
	})
})
