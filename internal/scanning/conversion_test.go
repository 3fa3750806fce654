package scanning

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("PrepareImage", func() {
	var pngData []byte

	BeforeEach(func() {
		img := image.NewGray(image.Rect(0, 0, 4, 4))
		img.Set(1, 1, color.White)
		var buf bytes.Buffer
		Expect(png.Encode(&buf, img)).To(Succeed())
		pngData = buf.Bytes()
	})

	It("passes PNG through", func() {
		out, err := PrepareImage(pngData, "image/png")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal(pngData))
	})

	It("re-encodes other decodable formats as PNG", func() {
		out, err := PrepareImage(pngData, "image/x-unknown")
		Expect(err).NotTo(HaveOccurred())
		_, format, err := image.Decode(bytes.NewReader(out))
		Expect(err).NotTo(HaveOccurred())
		Expect(format).To(Equal("png"))
	})

	It("rejects undecodable data", func() {
		_, err := PrepareImage([]byte("not an image"), "image/bmp")
		Expect(errors.Is(err, ErrUnsupportedType)).To(BeTrue())
	})

	It("detects HEIC by its brand", func() {
		Expect(isHEICFormat([]byte("\x00\x00\x00\x18ftypheic\x00\x00"))).To(BeTrue())
		Expect(isHEICFormat(pngData)).To(BeFalse())
	})
})
