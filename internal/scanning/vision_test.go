package scanning

import (
	"context"
	"encoding/base64"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/vision/v1"

	"github.com/zombor/expense-extractor/internal/expense"
	"github.com/zombor/expense-extractor/internal/failure"
)

type fakeAnnotator struct {
	resp *vision.BatchAnnotateImagesResponse
	err  error
	reqs []*vision.BatchAnnotateImagesRequest
}

func (f *fakeAnnotator) annotate(ctx context.Context, req *vision.BatchAnnotateImagesRequest) (*vision.BatchAnnotateImagesResponse, error) {
	f.reqs = append(f.reqs, req)
	return f.resp, f.err
}

var _ = Describe("Vision", func() {
	var (
		fake *fakeAnnotator
		v    *Vision
	)

	BeforeEach(func() {
		fake = &fakeAnnotator{}
		v = &Vision{client: fake, languageHints: []string{"en", "hi"}}
	})

	Describe("advanced mode", func() {
		BeforeEach(func() {
			fake.resp = &vision.BatchAnnotateImagesResponse{Responses: []*vision.AnnotateImageResponse{{
				FullTextAnnotation: &vision.TextAnnotation{
					Text: "STARBUCKS\nTotal $12.45",
					Pages: []*vision.Page{{Property: &vision.TextProperty{
						DetectedLanguages: []*vision.DetectedLanguage{{LanguageCode: "en"}, {LanguageCode: "en"}},
					}}},
				},
			}}}
		})

		It("sends a document text detection request", func() {
			_, err := v.Advanced().Recognize(context.Background(), []byte("png"))
			Expect(err).NotTo(HaveOccurred())
			req := fake.reqs[0].Requests[0]
			Expect(req.Features[0].Type).To(Equal("DOCUMENT_TEXT_DETECTION"))
			Expect(req.Image.Content).To(Equal(base64.StdEncoding.EncodeToString([]byte("png"))))
			Expect(req.ImageContext.LanguageHints).To(Equal([]string{"en", "hi"}))
		})

		It("reports fixed high confidence and asks for model processing", func() {
			res, err := v.Advanced().Recognize(context.Background(), []byte("png"))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Success).To(BeTrue())
			Expect(res.Confidence).To(Equal(0.95))
			Expect(res.NeedsAIProcessing).To(BeTrue())
			Expect(res.DetectedLanguages).To(Equal([]string{"en"}))
			Expect(res.WordCount).To(Equal(3))
		})

		It("treats an empty read as no text", func() {
			fake.resp.Responses[0].FullTextAnnotation = nil
			_, err := v.Advanced().Recognize(context.Background(), nil)
			Expect(errors.Is(err, ErrNoText)).To(BeTrue())
		})

		It("surfaces an in-band quota error as a service failure", func() {
			fake.resp.Responses[0].Error = &vision.Status{Code: 8, Message: "Quota exceeded"}
			_, err := v.Advanced().Recognize(context.Background(), nil)
			Expect(err).To(MatchError(ContainSubstring("RESOURCE_EXHAUSTED")))
			Expect(failure.IsService(err)).To(BeTrue())
		})

		It("passes HTTP errors through for classification", func() {
			fake.err = &googleapi.Error{Code: 403, Message: "forbidden"}
			_, err := v.Advanced().Recognize(context.Background(), nil)
			Expect(failure.IsService(err)).To(BeTrue())
		})
	})

	Describe("basic mode", func() {
		BeforeEach(func() {
			fake.resp = &vision.BatchAnnotateImagesResponse{Responses: []*vision.AnnotateImageResponse{{
				TextAnnotations: []*vision.EntityAnnotation{
					{Description: "CAFE\nTotal 40", Locale: "en"},
					{Description: "CAFE"},
					{Description: "Total"},
					{Description: "40"},
				},
			}}}
		})

		It("uses the first annotation as the text", func() {
			res, err := v.Basic().Recognize(context.Background(), nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Method).To(Equal(expense.MethodVisionBasic))
			Expect(res.Text).To(Equal("CAFE\nTotal 40"))
			Expect(res.WordCount).To(Equal(3))
			Expect(res.DetectedLanguages).To(Equal([]string{"en"}))
			Expect(fake.reqs[0].Requests[0].Features[0].Type).To(Equal("TEXT_DETECTION"))
		})

		It("averages the per-word estimate", func() {
			res, _ := v.Basic().Recognize(context.Background(), nil)
			Expect(res.Confidence).To(BeNumerically("~", 0.85, 1e-9))
			Expect(res.NeedsAIProcessing).To(BeFalse())
		})

		It("fails when nothing was detected", func() {
			fake.resp.Responses[0].TextAnnotations = nil
			_, err := v.Basic().Recognize(context.Background(), nil)
			Expect(errors.Is(err, ErrNoText)).To(BeTrue())
			Expect(failure.IsService(err)).To(BeFalse())
		})
	})
})
