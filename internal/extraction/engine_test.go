package extraction

import (
	"context"
	"errors"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/expense-extractor/internal/expense"
	"github.com/zombor/expense-extractor/internal/failure"
)

// mockCompleter is a mock implementation of Completer
type mockCompleter struct {
	responses []string
	errs      []error
	calls     int
	system    string
	user      string
	deadline  bool
}

func (m *mockCompleter) Name() string { return "mock" }

func (m *mockCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	i := m.calls
	m.calls++
	m.system, m.user = system, user
	_, m.deadline = ctx.Deadline()
	var err error
	if i < len(m.errs) {
		err = m.errs[i]
	}
	if err != nil {
		return "", err
	}
	if i < len(m.responses) {
		return m.responses[i], nil
	}
	return m.responses[len(m.responses)-1], nil
}

func (m *mockCompleter) Close() error { return nil }

var _ = Describe("Engine", func() {
	var (
		completer *mockCompleter
		engine    *Engine
		candidate expense.Candidate
		err       error
		text      string
	)

	BeforeEach(func() {
		completer = &mockCompleter{responses: []string{starbucksJSON}}
		text = "STARBUCKS\nSubtotal $11.50\nTax $0.95\nTip $2.00\nTotal $12.45"
	})

	JustBeforeEach(func() {
		engine = NewEngine(completer, EngineOptions{Attempts: 2, RetryDelay: time.Millisecond})
		candidate, err = engine.Extract(context.Background(), text, "usd")
	})

	When("the model answers", func() {
		It("returns the parsed candidate", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(*candidate.Total).To(Equal(12.45))
			Expect(completer.calls).To(Equal(1))
		})

		It("sends the system contract", func() {
			Expect(completer.system).To(ContainSubstring("miscellaneous"))
			Expect(completer.system).To(ContainSubstring("Oct-19"))
		})

		It("sends the text and the hint", func() {
			Expect(completer.user).To(ContainSubstring("Currency hint: USD"))
			Expect(completer.user).To(ContainSubstring("Total $12.45"))
		})

		It("bounds the call with a deadline", func() {
			Expect(completer.deadline).To(BeTrue())
		})
	})

	When("the text is very long", func() {
		BeforeEach(func() {
			text = strings.Repeat("a", maxPromptText+500)
		})

		It("truncates it", func() {
			Expect(strings.Count(completer.user, "a")).To(BeNumerically("<=", maxPromptText+10))
		})
	})

	When("the model is rate limited once", func() {
		BeforeEach(func() {
			completer.errs = []error{errors.New("429 Too Many Requests")}
		})

		It("retries and succeeds", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(completer.calls).To(Equal(2))
		})
	})

	When("the model keeps failing with a service error", func() {
		BeforeEach(func() {
			completer.errs = []error{errors.New("503 service unavailable"), errors.New("503 service unavailable")}
		})

		It("returns a classified service failure", func() {
			Expect(err).To(HaveOccurred())
			Expect(failure.ClassOf(err)).To(Equal(failure.ServiceFailure))
			Expect(completer.calls).To(Equal(2))
		})
	})

	When("the model fails with a non-transient error", func() {
		BeforeEach(func() {
			completer.errs = []error{errors.New("content blocked by safety filter")}
		})

		It("does not retry", func() {
			Expect(err).To(HaveOccurred())
			Expect(completer.calls).To(Equal(1))
			Expect(failure.ClassOf(err)).To(Equal(failure.DataQualityFailure))
		})
	})

	When("the model returns garbage", func() {
		BeforeEach(func() {
			completer.responses = []string{"I'm sorry, I can't help with that."}
		})

		It("returns ErrMalformedResponse", func() {
			Expect(errors.Is(err, ErrMalformedResponse)).To(BeTrue())
		})
	})
})

var _ = Describe("Engine without a completer", func() {
	It("is disabled", func() {
		e := NewEngine(nil, EngineOptions{})
		Expect(e.Enabled()).To(BeFalse())
		_, err := e.Extract(context.Background(), "text", "")
		Expect(err).To(MatchError(ErrNoCompleter))
		Expect(e.Close()).To(Succeed())
	})
})
