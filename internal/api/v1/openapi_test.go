package apiv1

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const openAPIFile = "../../../public/docs/v1/openapi.yml"

func loadDoc(t *testing.T) *openapi3.T {
	t.Helper()
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromFile(openAPIFile)
	require.NoError(t, err)
	require.NoError(t, doc.Validate(loader.Context))
	return doc
}

func TestOpenAPIDocumentsEveryRoute(t *testing.T) {
	t.Parallel()
	doc := loadDoc(t)

	app := fiber.New()
	RegisterHandlers(app, NewAPIServer(nil))

	seen := 0
	for _, r := range app.GetRoutes(true) {
		if r.Method == fiber.MethodHead {
			continue
		}
		seen++
		item := doc.Paths.Find(r.Path)
		if !assert.NotNil(t, item, "path %s is not documented", r.Path) {
			continue
		}
		assert.NotNil(t, item.GetOperation(r.Method), "%s %s is not documented", r.Method, r.Path)
	}
	assert.Equal(t, 19, seen)
}

func TestOpenAPIInternalRoutesRequireSecret(t *testing.T) {
	t.Parallel()
	doc := loadDoc(t)

	for path, item := range doc.Paths.Map() {
		internal := strings.HasPrefix(path, "/private/") || strings.HasPrefix(path, "/triggers/")
		for method, op := range item.Operations() {
			if internal {
				require.NotNil(t, op.Security, "%s %s", method, path)
				assert.NotEmpty(t, *op.Security, "%s %s", method, path)
			} else {
				assert.Nil(t, op.Security, "%s %s", method, path)
			}
		}
	}
}

func TestInternalMiddlewaresGuardOnlyInternalRoutes(t *testing.T) {
	t.Parallel()

	app := fiber.New()
	deny := func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusUnauthorized) }
	RegisterHandlersWithOptions(app, NewAPIServer(nil), FiberServerOptions{
		InternalMiddlewares: []MiddlewareFunc{deny},
	})

	tests := []struct {
		method string
		path   string
		status int
	}{
		{method: fiber.MethodGet, path: "/ping", status: fiber.StatusOK},
		{method: fiber.MethodPost, path: "/private/bundle", status: fiber.StatusUnauthorized},
		{method: fiber.MethodPost, path: "/triggers/credits", status: fiber.StatusUnauthorized},
	}
	for _, tt := range tests {
		resp, err := app.Test(httptest.NewRequest(tt.method, tt.path, nil))
		require.NoError(t, err)
		assert.Equal(t, tt.status, resp.StatusCode, "%s %s", tt.method, tt.path)
	}
}
