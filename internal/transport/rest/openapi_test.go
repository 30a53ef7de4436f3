package rest_test

import (
	"context"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestRest(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Rest Suite")
}

var _ = Describe("OpenAPI contract", func() {
	var doc *openapi3.T

	BeforeEach(func() {
		loader := openapi3.NewLoader()
		var err error
		doc, err = loader.LoadFromFile("../../../api/openapi.yml")
		Expect(err).NotTo(HaveOccurred())
	})

	It("is a valid OpenAPI 3 document", func() {
		Expect(doc.Validate(context.Background())).To(Succeed())
	})

	It("documents every billing route the router mounts", func() {
		for _, path := range []string{
			"/health",
			"/ping",
			"/billing/payments/confirm",
			"/billing/payments/status",
			"/billing/payments/checkout",
		} {
			Expect(doc.Paths.Find(path)).NotTo(BeNil(), "missing path %s", path)
		}
	})

	It("declares the confirmation callback as form encoded", func() {
		op := doc.Paths.Find("/billing/payments/confirm").Post
		Expect(op).NotTo(BeNil())
		body := op.RequestBody.Value.Content.Get("application/x-www-form-urlencoded")
		Expect(body).NotTo(BeNil())
	})
})
