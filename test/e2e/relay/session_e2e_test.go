// Package relay provides end-to-end tests for the relay server against
// real PostgreSQL and RabbitMQ instances.
package relay

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/motorlink/motorlink/pkg/protocol"
)

// dialRelay opens a websocket session against the running relay.
func dialRelay() *websocket.Conn {
	GinkgoHelper()

	conn, resp, err := websocket.DefaultDialer.Dial(relayURL, nil)
	Expect(err).NotTo(HaveOccurred())
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn
}

// sendFrame writes v as a single JSON text frame.
func sendFrame(conn *websocket.Conn, v any) {
	GinkgoHelper()
	Expect(conn.WriteJSON(v)).To(Succeed())
}

// awaitFrame reads frames until one of the wanted type arrives. Frames
// of other types (presence broadcasts mostly) are dropped on the floor.
func awaitFrame(conn *websocket.Conn, wantType string) map[string]any {
	GinkgoHelper()

	deadline := time.Now().Add(5 * time.Second)
	for {
		Expect(conn.SetReadDeadline(deadline)).To(Succeed())
		_, data, err := conn.ReadMessage()
		Expect(err).NotTo(HaveOccurred(), "waiting for %q frame", wantType)

		var frame map[string]any
		Expect(json.Unmarshal(data, &frame)).To(Succeed())
		if frame["type"] == wantType {
			return frame
		}
	}
}

// registerDevice announces conn as the motor controller and returns the
// initial_state reply.
func registerDevice(conn *websocket.Conn, id string) map[string]any {
	GinkgoHelper()

	sendFrame(conn, protocol.DeviceRegister{Type: protocol.TypeDeviceRegister, ID: id})
	return awaitFrame(conn, "initial_state")
}

// registerObserver announces conn as a web client and returns the
// snapshot and presence frames sent back.
func registerObserver(conn *websocket.Conn) (map[string]any, map[string]any) {
	GinkgoHelper()

	sendFrame(conn, protocol.ObserverRegister{Type: protocol.TypeObserverRegister})
	snapshot := awaitFrame(conn, "state_update")
	status := awaitFrame(conn, "device_status")
	return snapshot, status
}

// getJSON fetches path from the relay's REST facade.
func getJSON(path string) (int, map[string]any) {
	GinkgoHelper()

	resp, err := http.Get(baseURL + path)
	Expect(err).NotTo(HaveOccurred())
	defer func() { _ = resp.Body.Close() }()

	var body map[string]any
	Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
	return resp.StatusCode, body
}

// postJSON posts a JSON body to the relay's REST facade.
func postJSON(path, payload string) (int, map[string]any) {
	GinkgoHelper()

	resp, err := http.Post(baseURL+path, "application/json", bytes.NewBufferString(payload))
	Expect(err).NotTo(HaveOccurred())
	defer func() { _ = resp.Body.Close() }()

	var body map[string]any
	Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
	return resp.StatusCode, body
}

var _ = Describe("Relay Session E2E", func() {
	Context("Device and Observer Session", func() {
		It("should relay telemetry from the device to observers and storage", func() {
			// Step 1: Connect the device
			device := dialRelay()
			defer func() { _ = device.Close() }()

			initial := registerDevice(device, "e2e-device-001")
			Expect(initial).To(HaveKey("motorA"))
			Expect(initial).To(HaveKey("motorB"))

			// Step 2: Connect an observer
			observer := dialRelay()
			defer func() { _ = observer.Close() }()

			_, status := registerObserver(observer)
			Expect(status["connected"]).To(BeTrue())

			// Step 3: Device pushes a telemetry update
			sendFrame(device, map[string]any{
				"type":    "state_update",
				"motorA":  true,
				"motorB":  false,
				"voltage": 12.34,
				"current": 1.31,
				"power":   16.17,
			})

			// Step 4: Observer receives the stamped frame
			update := awaitFrame(observer, "state_update")
			Expect(update["voltage"]).To(Equal(12.34))
			Expect(update["motorA"]).To(BeTrue())
			Expect(update["lastUpdated"]).NotTo(BeEmpty())

			stamped, err := time.Parse(time.RFC3339Nano, update["lastUpdated"].(string))
			Expect(err).NotTo(HaveOccurred())
			Expect(stamped).To(BeTemporally("~", time.Now(), time.Minute))

			// Step 5: REST facade reflects the persisted state
			code, body := getJSON("/status")
			Expect(code).To(Equal(http.StatusOK))
			Expect(body["motorA"]).To(BeTrue())
			Expect(body["voltage"]).To(Equal(12.34))
			Expect(body["deviceConnected"]).To(BeTrue())

			code, health := getJSON("/health")
			Expect(code).To(Equal(http.StatusOK))
			Expect(health["status"]).To(Equal("OK"))
			Expect(health["storageConnected"]).To(BeTrue())
			Expect(health["deviceConnected"]).To(BeTrue())
			Expect(health["observerCount"]).To(BeNumerically(">=", 1))

			testLogger.Info("verified full device to observer relay path")
		})

		It("should notify observers when the device disconnects", func() {
			device := dialRelay()
			initial := registerDevice(device, "e2e-device-002")
			Expect(initial).To(HaveKey("motorA"))

			observer := dialRelay()
			defer func() { _ = observer.Close() }()

			_, status := registerObserver(observer)
			Expect(status["connected"]).To(BeTrue())

			// Drop the device without a close handshake
			Expect(device.Close()).To(Succeed())

			gone := awaitFrame(observer, "device_status")
			Expect(gone["connected"]).To(BeFalse())

			Eventually(func() any {
				_, body := getJSON("/status")
				return body["deviceConnected"]
			}, "3s").Should(BeFalse())

			testLogger.Info("verified device disconnect propagation")
		})
	})

	Context("REST Motor Control", func() {
		It("should relay REST commands to the device and persist the switch", func() {
			device := dialRelay()
			defer func() { _ = device.Close() }()
			registerDevice(device, "e2e-device-003")

			// Switch motor B on through the facade
			code, body := postJSON("/motor/B", `{"state":true}`)
			Expect(code).To(Equal(http.StatusOK))
			Expect(body["success"]).To(BeTrue())
			Expect(body["message"]).To(Equal("motor B switched on"))

			command := awaitFrame(device, "motor_command")
			Expect(command["motor"]).To(Equal("B"))
			Expect(command["state"]).To(BeTrue())

			Eventually(func() any {
				_, status := getJSON("/status")
				return status["motorB"]
			}, "3s").Should(BeTrue())

			// And off again
			code, body = postJSON("/motor/B", `{"state":false}`)
			Expect(code).To(Equal(http.StatusOK))
			Expect(body["message"]).To(Equal("motor B switched off"))

			command = awaitFrame(device, "motor_command")
			Expect(command["state"]).To(BeFalse())

			Eventually(func() any {
				_, status := getJSON("/status")
				return status["motorB"]
			}, "3s").Should(BeFalse())

			testLogger.Info("verified REST motor control round trip")
		})

		It("should reject commands while no device is connected", func() {
			// No device registered in this spec; any prior device conns
			// are closed by their own specs.
			Eventually(func() any {
				_, status := getJSON("/status")
				return status["deviceConnected"]
			}, "3s").Should(BeFalse())

			code, body := postJSON("/motor/A", `{"state":true}`)
			Expect(code).To(Equal(http.StatusServiceUnavailable))
			Expect(body["success"]).To(BeFalse())
			Expect(body["message"]).To(Equal("device not connected"))
		})
	})

	Context("State Persistence", func() {
		It("should restore motor flags to a reconnecting device", func() {
			// First session switches both motors on
			device := dialRelay()
			registerDevice(device, "e2e-device-004")

			sendFrame(device, map[string]any{
				"type":    "state_update",
				"motorA":  true,
				"motorB":  true,
				"voltage": 11.9,
				"current": 2.45,
				"power":   29.16,
			})

			// Gate on motorB: the control specs leave it off, so it only
			// turns true once this update is persisted.
			Eventually(func() any {
				_, status := getJSON("/status")
				return status["motorB"]
			}, "3s").Should(BeTrue())

			Expect(device.Close()).To(Succeed())

			Eventually(func() any {
				_, status := getJSON("/status")
				return status["deviceConnected"]
			}, "3s").Should(BeFalse())

			// Second session sees the flags it left behind
			reconnected := dialRelay()
			defer func() { _ = reconnected.Close() }()

			initial := registerDevice(reconnected, "e2e-device-004")
			Expect(initial["motorA"]).To(BeTrue())
			Expect(initial["motorB"]).To(BeTrue())

			testLogger.Info("verified motor flags survive device reconnect")
		})
	})

	Context("Telemetry Export", func() {
		It("should export device telemetry to the RabbitMQ queue", func() {
			// Drain the export queue; earlier specs may have left frames
			deliveries, err := mqChannel.Consume(
				exportQueueName,
				"",    // consumer tag
				true,  // auto-ack
				false, // exclusive
				false, // no-local
				false, // no-wait
				nil,
			)
			Expect(err).NotTo(HaveOccurred())

			device := dialRelay()
			defer func() { _ = device.Close() }()
			registerDevice(device, "e2e-device-005")

			// Distinctive voltage so the frame is recognizable among
			// leftovers from earlier specs
			sendFrame(device, map[string]any{
				"type":    "state_update",
				"voltage": 10.42,
				"current": 0.99,
				"power":   10.32,
			})

			timeout := time.After(10 * time.Second)
			for {
				select {
				case delivery := <-deliveries:
					var frame map[string]any
					Expect(json.Unmarshal(delivery.Body, &frame)).To(Succeed())
					if frame["voltage"] == 10.42 {
						Expect(frame["type"]).To(Equal("state_update"))
						Expect(frame["lastUpdated"]).NotTo(BeEmpty())
						testLogger.Info("verified telemetry export to RabbitMQ")
						return
					}
				case <-timeout:
					Fail("exported telemetry frame did not arrive within timeout")
				}
			}
		})
	})

	Context("Observability", func() {
		It("should serve relay metrics", func() {
			// Ensure at least one instrumented request has completed
			code, _ := getJSON("/health")
			Expect(code).To(Equal(http.StatusOK))

			resp, err := http.Get(baseURL + "/metrics")
			Expect(err).NotTo(HaveOccurred())
			defer func() { _ = resp.Body.Close() }()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			buf := new(bytes.Buffer)
			_, err = buf.ReadFrom(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(buf.String()).To(ContainSubstring("motorlink_http_requests_total"))
			Expect(buf.String()).To(ContainSubstring("motorlink_store_operations_total"))
		})
	})
})
