package store_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/motorlink/motorlink/internal/store"
)

var _ = Describe("Models", func() {
	Describe("MotorState", func() {
		Context("table name", func() {
			It("should return motor_state", func() {
				row := store.MotorState{}
				Expect(row.TableName()).To(Equal("motor_state"))
			})
		})

		Context("struct initialization", func() {
			It("should initialize with zero values", func() {
				row := store.MotorState{}
				Expect(row.MotorA).To(BeFalse())
				Expect(row.MotorB).To(BeFalse())
				Expect(row.Voltage).To(BeZero())
				Expect(row.Current).To(BeZero())
				Expect(row.Power).To(BeZero())
				Expect(row.ID).To(BeZero())
			})
		})
	})
})
