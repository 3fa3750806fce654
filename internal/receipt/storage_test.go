package receipt

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var (
	pdfUpload  = []byte("%PDF-1.4\n1 0 obj <<>> endobj\ntrailer <<>>\n%%EOF")
	heicUpload = append([]byte{0, 0, 0, 24}, []byte("ftypheic\x00\x00\x00\x00mif1heic")...)
)

var _ = Describe("LocalStorage", func() {
	var (
		baseDir string
		storage *LocalStorage
	)

	BeforeEach(func() {
		baseDir = GinkgoT().TempDir()
		var err error
		storage, err = NewLocalStorage(baseDir)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Save", func() {
		var (
			name  string
			data  []byte
			saved string
			err   error
		)

		BeforeEach(func() {
			name = "rcpt-7f3a_receipt.pdf"
			data = pdfUpload
		})

		JustBeforeEach(func() {
			saved, err = storage.Save(name, data)
		})

		It("returns the name to read the upload back with", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(saved).To(Equal(name))
		})

		It("writes the upload bytes under the base directory", func() {
			Expect(os.ReadFile(filepath.Join(baseDir, name))).To(Equal(pdfUpload))
		})

		When("an upload with the same id is saved again", func() {
			BeforeEach(func() {
				_, err := storage.Save(name, []byte("%PDF-1.3 older scan"))
				Expect(err).NotTo(HaveOccurred())
			})

			It("replaces the earlier bytes", func() {
				Expect(storage.Get(name)).To(Equal(pdfUpload))
			})
		})
	})

	Describe("Get", func() {
		var (
			name string
			data []byte
			err  error
		)

		JustBeforeEach(func() {
			data, err = storage.Get(name)
		})

		When("the upload was stored", func() {
			BeforeEach(func() {
				name = "rcpt-91bc_img_4410.heic"
				_, saveErr := storage.Save(name, heicUpload)
				Expect(saveErr).NotTo(HaveOccurred())
			})

			It("returns the original bytes untouched", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(data).To(Equal(heicUpload))
			})
		})

		When("the upload is missing", func() {
			BeforeEach(func() {
				name = "rcpt-0000_lost.jpg"
			})

			It("wraps the read error", func() {
				Expect(err).To(MatchError(ContainSubstring("reading file")))
				Expect(errors.Is(err, os.ErrNotExist)).To(BeTrue())
			})
		})
	})

	Describe("Delete", func() {
		var (
			name string
			err  error
		)

		JustBeforeEach(func() {
			err = storage.Delete(name)
		})

		When("the upload exists", func() {
			BeforeEach(func() {
				name = "rcpt-7f3a_receipt.pdf"
				_, saveErr := storage.Save(name, pdfUpload)
				Expect(saveErr).NotTo(HaveOccurred())
			})

			It("removes it from disk", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(filepath.Join(baseDir, name)).NotTo(BeAnExistingFile())
				_, getErr := storage.Get(name)
				Expect(getErr).To(HaveOccurred())
			})
		})

		When("the upload is already gone", func() {
			BeforeEach(func() {
				name = "rcpt-0000_lost.jpg"
			})

			It("wraps the remove error", func() {
				Expect(err).To(MatchError(ContainSubstring("deleting file")))
			})
		})
	})

	It("keeps uploads with different ids apart", func() {
		for i, data := range [][]byte{pdfUpload, heicUpload} {
			_, err := storage.Save(fmt.Sprintf("rcpt-%d_scan.bin", i), data)
			Expect(err).NotTo(HaveOccurred())
		}
		Expect(storage.Get("rcpt-0_scan.bin")).To(Equal(pdfUpload))
		Expect(storage.Get("rcpt-1_scan.bin")).To(Equal(heicUpload))
	})

	DescribeTable("rejects names that leave the receipts directory",
		func(name string) {
			_, err := storage.Save(name, pdfUpload)
			Expect(err).To(MatchError(ContainSubstring("invalid file name")))
			_, err = storage.Get(name)
			Expect(err).To(MatchError(ContainSubstring("invalid file name")))
			Expect(storage.Delete(name)).To(MatchError(ContainSubstring("invalid file name")))
		},
		Entry("parent traversal", "../rcpt-1_receipt.pdf"),
		Entry("nested path", "2024/rcpt-1_receipt.pdf"),
		Entry("windows separator", `..\rcpt-1_receipt.pdf`),
		Entry("dot dot", ".."),
		Entry("dot", "."),
		Entry("empty", ""),
	)
})

var _ = Describe("NewLocalStorage", func() {
	When("the receipts directory does not exist", func() {
		It("creates it and accepts uploads", func() {
			dir := filepath.Join(GinkgoT().TempDir(), "receipts", "2024")
			storage, err := NewLocalStorage(dir)
			Expect(err).NotTo(HaveOccurred())
			Expect(dir).To(BeADirectory())

			_, err = storage.Save("rcpt-1_receipt.pdf", pdfUpload)
			Expect(err).NotTo(HaveOccurred())
		})
	})

	When("the path is an existing file", func() {
		It("fails to create the directory", func() {
			file := filepath.Join(GinkgoT().TempDir(), "receipts")
			Expect(os.WriteFile(file, pdfUpload, 0o600)).To(Succeed())

			_, err := NewLocalStorage(file)
			Expect(err).To(MatchError(ContainSubstring("creating storage directory")))
		})
	})
})
