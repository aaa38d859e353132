package simulator_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/motorlink/motorlink/internal/simulator"
)

var _ = Describe("Identity", func() {
	It("should fabricate a full hardware identity", func() {
		identity := simulator.NewIdentity()
		Expect(identity).NotTo(BeNil())
		Expect(identity.DeviceID).NotTo(BeEmpty())
		Expect(identity.MacAddress).NotTo(BeEmpty())
		Expect(identity.Firmware).NotTo(BeEmpty())
	})

	It("should fabricate distinct device ids", func() {
		first := simulator.NewIdentity()
		second := simulator.NewIdentity()
		Expect(first.DeviceID).NotTo(Equal(second.DeviceID))
	})
})

var _ = Describe("Device", func() {
	var device *simulator.Device

	BeforeEach(func() {
		device = simulator.NewDevice()
	})

	Describe("Apply", func() {
		It("should switch motors independently", func() {
			Expect(device.Apply("A", true)).To(BeTrue())

			motorA, motorB := device.Motors()
			Expect(motorA).To(BeTrue())
			Expect(motorB).To(BeFalse())

			Expect(device.Apply("B", true)).To(BeTrue())
			Expect(device.RunningCount()).To(Equal(2))

			Expect(device.Apply("A", false)).To(BeTrue())
			motorA, motorB = device.Motors()
			Expect(motorA).To(BeFalse())
			Expect(motorB).To(BeTrue())
		})

		It("should reject an unknown motor id", func() {
			Expect(device.Apply("C", true)).To(BeFalse())
			Expect(device.RunningCount()).To(BeZero())
		})
	})

	Describe("Restore", func() {
		It("should overwrite both motor flags", func() {
			device.Apply("A", true)

			device.Restore(false, true)

			motorA, motorB := device.Motors()
			Expect(motorA).To(BeFalse())
			Expect(motorB).To(BeTrue())
		})
	})

	Describe("Telemetry", func() {
		It("should read near the resting voltage with both motors off", func() {
			update := device.Telemetry()

			Expect(string(update.Type)).To(Equal("state_update"))
			Expect(update.MotorA).To(BeFalse())
			Expect(update.MotorB).To(BeFalse())
			Expect(update.Voltage).To(BeNumerically("~", 12.6, 0.06))
			Expect(update.Current).To(Equal(0.05))
			Expect(update.Power).To(BeNumerically("~", 0.63, 0.01))
		})

		It("should sag the supply and raise the draw per running motor", func() {
			device.Apply("A", true)
			oneMotor := device.Telemetry()
			Expect(oneMotor.Voltage).To(BeNumerically("~", 12.25, 0.06))
			Expect(oneMotor.Current).To(BeNumerically("~", 1.25, 0.07))

			device.Apply("B", true)
			twoMotors := device.Telemetry()
			Expect(twoMotors.Voltage).To(BeNumerically("~", 11.9, 0.06))
			Expect(twoMotors.Current).To(BeNumerically("~", 2.45, 0.13))
			Expect(twoMotors.Voltage).To(BeNumerically("<", oneMotor.Voltage))
			Expect(twoMotors.Current).To(BeNumerically(">", oneMotor.Current))
		})

		It("should report power consistent with voltage and current", func() {
			device.Apply("A", true)
			update := device.Telemetry()

			Expect(update.Power).To(BeNumerically("~", update.Voltage*update.Current, 0.1))
		})

		It("should mirror the motor flags", func() {
			device.Apply("B", true)
			update := device.Telemetry()

			Expect(update.MotorA).To(BeFalse())
			Expect(update.MotorB).To(BeTrue())
		})

		It("should leave the timestamp for the relay to stamp", func() {
			Expect(device.Telemetry().LastUpdated.IsZero()).To(BeTrue())
		})
	})
})
