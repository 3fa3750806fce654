package scanning

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Route", func() {
	DescribeTable("routing",
		func(mimeType string, want Path) {
			got, err := Route(mimeType)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(want))
		},
		Entry("pdf", "application/pdf", PathPDF),
		Entry("pdf with params", "Application/PDF; charset=binary", PathPDF),
		Entry("jpeg", "image/jpeg", PathImage),
		Entry("heic", "image/heic", PathImage),
	)

	It("rejects anything else", func() {
		_, err := Route("text/plain")
		Expect(errors.Is(err, ErrUnsupportedType)).To(BeTrue())
	})
})
