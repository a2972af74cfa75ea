package ralphloop

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/jordigilh/ralph-core/pkg/schema"
)

var _ = Describe("retryBuffer", func() {
	It("pushes and drains signals in FIFO order", func() {
		b := newRetryBuffer(4)

		Expect(b.push(*schema.NewSignal("s1", schema.SignalTypeRFPDetected, "e1", 0.8))).To(BeTrue())
		Expect(b.push(*schema.NewSignal("s2", schema.SignalTypeRFPDetected, "e1", 0.8))).To(BeTrue())
		Expect(b.len()).To(Equal(2))

		drained := b.drainAll()
		Expect(drained).To(HaveLen(2))
		Expect(drained[0].ID).To(Equal("s1"))
		Expect(drained[1].ID).To(Equal("s2"))
		Expect(b.len()).To(Equal(0))
	})

	It("rejects a push once the buffer is at capacity", func() {
		b := newRetryBuffer(2)

		Expect(b.push(*schema.NewSignal("s1", schema.SignalTypeRFPDetected, "e1", 0.8))).To(BeTrue())
		Expect(b.push(*schema.NewSignal("s2", schema.SignalTypeRFPDetected, "e1", 0.8))).To(BeTrue())
		Expect(b.push(*schema.NewSignal("s3", schema.SignalTypeRFPDetected, "e1", 0.8))).To(BeFalse())
		Expect(b.len()).To(Equal(2))
	})

	It("allows pushing again after a drain", func() {
		b := newRetryBuffer(1)

		Expect(b.push(*schema.NewSignal("s1", schema.SignalTypeRFPDetected, "e1", 0.8))).To(BeTrue())
		Expect(b.drainAll()).To(HaveLen(1))
		Expect(b.push(*schema.NewSignal("s2", schema.SignalTypeRFPDetected, "e1", 0.8))).To(BeTrue())
		Expect(b.len()).To(Equal(1))
	})

	It("returns an empty slice when draining an empty buffer", func() {
		b := newRetryBuffer(3)
		Expect(b.drainAll()).To(BeEmpty())
	})
})
