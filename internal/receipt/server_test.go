package receipt

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/expense-extractor/internal/expense"
	"github.com/zombor/expense-extractor/internal/failure"
	"github.com/zombor/expense-extractor/internal/pipeline"
	"github.com/zombor/expense-extractor/internal/scanning"
)

// uploadRequest builds a multipart upload with an optional part content type
func uploadRequest(url, filename, partType string, data []byte, fields map[string]string) *http.Request {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for k, v := range fields {
		Expect(writer.WriteField(k, v)).To(Succeed())
	}
	if filename != "" {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
		if partType != "" {
			h.Set("Content-Type", partType)
		}
		part, err := writer.CreatePart(h)
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(data)
		Expect(err).NotTo(HaveOccurred())
	}
	Expect(writer.Close()).To(Succeed())

	req, err := http.NewRequest("POST", url, body)
	Expect(err).NotTo(HaveOccurred())
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func decodeError(resp *http.Response) string {
	var out map[string]string
	Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
	return out["error"]
}

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		storage     *mockStorage
		processor   *mockProcessor
		opts        ServerOptions
		ghttpServer *ghttp.Server
	)

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		processor = newMockProcessor()
		opts = ServerOptions{}
	})

	JustBeforeEach(func() {
		service := NewServiceWithDeps(db, processor, storage, &mockIDGenerator{id: "rcpt-1"},
			&mockTimeSource{now: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)})
		server := NewServerWithMux(service, opts, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		ghttpServer.AppendHandlers(server.ServeHTTP)
	})

	AfterEach(func() {
		ghttpServer.Close()
	})

	Describe("POST /api/receipts", func() {
		var (
			filename string
			partType string
			data     []byte
			fields   map[string]string
			rawBody  string
			resp     *http.Response
		)

		BeforeEach(func() {
			filename = "lunch.jpg"
			partType = "image/jpeg"
			data = []byte("jpeg bytes")
			fields = map[string]string{"currency": " usd "}
			rawBody = ""
		})

		JustBeforeEach(func() {
			url := ghttpServer.URL() + "/api/receipts"
			var req *http.Request
			if rawBody != "" {
				var err error
				req, err = http.NewRequest("POST", url, bytes.NewBufferString(rawBody))
				Expect(err).NotTo(HaveOccurred())
				req.Header.Set("Content-Type", "application/json")
			} else {
				req = uploadRequest(url, filename, partType, data, fields)
			}
			var err error
			resp, err = http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
		})

		AfterEach(func() {
			resp.Body.Close()
		})

		When("the upload is processed", func() {
			It("returns 201 with the receipt", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))

				var receipt Receipt
				Expect(json.NewDecoder(resp.Body).Decode(&receipt)).To(Succeed())
				Expect(receipt.ID).To(Equal("rcpt-1"))
				Expect(*receipt.Record.Total).To(Equal(12.45))
				Expect(receipt.OCRMethod).To(Equal(expense.MethodVisionAdvanced))
			})

			It("passes an upper-cased currency hint", func() {
				Expect(processor.opts[0].CurrencyHint).To(Equal("USD"))
			})
		})

		When("the part has no useful content type", func() {
			BeforeEach(func() {
				filename = "statement.PDF"
				partType = "application/octet-stream"
				data = []byte("%PDF")
			})

			It("infers it from the extension", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				Expect(processor.docs[0].MIMEType).To(Equal("application/pdf"))
			})
		})

		When("an extraction service is down", func() {
			BeforeEach(func() {
				processor.result = expense.Result{ErrorType: failure.ServiceFailure, Warnings: []string{"quota exceeded"}}
			})

			It("returns 503 with Retry-After", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusServiceUnavailable))
				Expect(resp.Header.Get("Retry-After")).To(Equal("60"))
				Expect(decodeError(resp)).To(ContainSubstring("quota exceeded"))
			})
		})

		When("the type is unsupported", func() {
			BeforeEach(func() {
				processor.err = scanning.ErrUnsupportedType
			})

			It("returns 415", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusUnsupportedMediaType))
			})
		})

		When("the file is empty", func() {
			BeforeEach(func() {
				processor.err = pipeline.ErrEmptyDocument
			})

			It("returns 400", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(decodeError(resp)).To(ContainSubstring("empty"))
			})
		})

		When("no file is attached", func() {
			BeforeEach(func() {
				filename = ""
			})

			It("returns 400 with a helpful message", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(decodeError(resp)).To(ContainSubstring("No file was selected"))
				Expect(processor.docs).To(BeEmpty())
			})
		})

		When("the upload is too large", func() {
			BeforeEach(func() {
				opts.MaxUploadBytes = 512
				data = bytes.Repeat([]byte("x"), 4096)
			})

			It("returns 413", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusRequestEntityTooLarge))
				Expect(processor.docs).To(BeEmpty())
			})
		})

		When("the body is not multipart", func() {
			BeforeEach(func() {
				rawBody = "{}"
			})

			It("returns 400", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})
	})

	Describe("GET /api/receipts", func() {
		BeforeEach(func() {
			db.receipts["a"] = &Receipt{ID: "a"}
			db.receipts["b"] = &Receipt{ID: "b"}
		})

		It("lists receipts as JSON", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/receipts")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var receipts []*Receipt
			Expect(json.NewDecoder(resp.Body).Decode(&receipts)).To(Succeed())
			Expect(receipts).To(HaveLen(2))
		})

		When("the database fails", func() {
			BeforeEach(func() {
				db.listErr = io.ErrUnexpectedEOF
			})

			It("returns 500", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/receipts")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
			})
		})
	})

	Describe("GET /api/receipts/{id}", func() {
		BeforeEach(func() {
			db.receipts["rcpt-1"] = &Receipt{ID: "rcpt-1", Confidence: 0.8}
		})

		It("returns the receipt", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/receipts/rcpt-1")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var receipt Receipt
			Expect(json.NewDecoder(resp.Body).Decode(&receipt)).To(Succeed())
			Expect(receipt.Confidence).To(Equal(0.8))
		})

		It("returns 404 for unknown IDs", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/receipts/nope")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("GET /api/receipts/{id}/file", func() {
		BeforeEach(func() {
			db.receipts["rcpt-1"] = &Receipt{ID: "rcpt-1", Filename: "rcpt-1_a.png", ContentType: "image/png"}
			storage.files["rcpt-1_a.png"] = []byte("png bytes")
		})

		It("serves the original upload", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/receipts/rcpt-1/file")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("image/png"))
			body, _ := io.ReadAll(resp.Body)
			Expect(string(body)).To(Equal("png bytes"))
		})
	})

	Describe("POST /api/receipts/{id}/reextract", func() {
		BeforeEach(func() {
			db.receipts["rcpt-1"] = &Receipt{ID: "rcpt-1", Record: &expense.Record{OriginalText: "CAFE\nTotal 40.00"}}
			db.receipts["blank"] = &Receipt{ID: "blank"}
			processor.textResult = expense.Result{
				Success:           true,
				Extraction:        &expense.Record{Total: expense.Float(40), Currency: "INR"},
				OverallConfidence: 0.9,
			}
		})

		It("returns the updated receipt", func() {
			resp, err := http.Post(ghttpServer.URL()+"/api/receipts/rcpt-1/reextract", "", nil)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var receipt Receipt
			Expect(json.NewDecoder(resp.Body).Decode(&receipt)).To(Succeed())
			Expect(*receipt.Record.Total).To(Equal(40.0))
		})

		It("returns 409 when there is no text", func() {
			resp, err := http.Post(ghttpServer.URL()+"/api/receipts/blank/reextract", "", nil)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
		})

		It("returns 404 for unknown IDs", func() {
			resp, err := http.Post(ghttpServer.URL()+"/api/receipts/nope/reextract", "", nil)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("DELETE /api/receipts/{id}", func() {
		BeforeEach(func() {
			db.receipts["rcpt-1"] = &Receipt{ID: "rcpt-1", Filename: "f"}
			storage.files["f"] = []byte("x")
		})

		It("returns 204 and removes the receipt", func() {
			req, _ := http.NewRequest("DELETE", ghttpServer.URL()+"/api/receipts/rcpt-1", nil)
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(db.receipts).To(BeEmpty())
		})

		It("returns 404 for unknown IDs", func() {
			req, _ := http.NewRequest("DELETE", ghttpServer.URL()+"/api/receipts/nope", nil)
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("GET /api/stats", func() {
		BeforeEach(func() {
			processor.stats = pipeline.Stats{
				Documents:  3,
				Fallbacks:  1,
				OCRMethods: map[expense.Method]int64{expense.MethodPDFText: 2},
			}
		})

		It("returns the counters", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/stats")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			var stats map[string]any
			Expect(json.NewDecoder(resp.Body).Decode(&stats)).To(Succeed())
			Expect(stats).To(HaveKeyWithValue("documents", 3.0))
			Expect(stats).To(HaveKeyWithValue("fallbacks", 1.0))
			Expect(stats["ocrMethods"]).To(HaveKeyWithValue("pdf_text", 2.0))
		})
	})

	Describe("CORS", func() {
		It("answers preflight requests", func() {
			req, _ := http.NewRequest("OPTIONS", ghttpServer.URL()+"/api/receipts", nil)
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
			Expect(resp.Header.Get("Access-Control-Allow-Methods")).To(ContainSubstring("DELETE"))
		})

		It("sets headers on normal responses", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/receipts")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})
	})

	Describe("basic auth", func() {
		BeforeEach(func() {
			opts.Auth = BasicAuth{Username: "admin", Password: "secret"}
		})

		It("rejects requests without credentials", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/receipts")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})

		It("rejects the wrong password", func() {
			req, _ := http.NewRequest("GET", ghttpServer.URL()+"/api/receipts", nil)
			req.SetBasicAuth("admin", "guess")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("rejects malformed headers", func() {
			req, _ := http.NewRequest("GET", ghttpServer.URL()+"/api/receipts", nil)
			req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("no-colon")))
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("accepts the right credentials", func() {
			req, _ := http.NewRequest("GET", ghttpServer.URL()+"/api/receipts", nil)
			req.SetBasicAuth("admin", "secret")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("still answers preflight without credentials", func() {
			req, _ := http.NewRequest("OPTIONS", ghttpServer.URL()+"/api/receipts", nil)
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
		})
	})

	Describe("routing", func() {
		It("rejects unknown methods", func() {
			req, _ := http.NewRequest("PUT", ghttpServer.URL()+"/api/receipts", nil)
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusMethodNotAllowed))
		})
	})
})
