package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"collections-dialer/internal/auth"

	"github.com/gin-gonic/gin"
)

func serveWithIdentity(userID, accountID, role string, allowed ...string) int {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/x", func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), userID, accountID, role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}, RequireAccount(), RequireAnyRole(allowed...), func(c *gin.Context) {
		c.Status(200)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	r.ServeHTTP(w, req)
	return w.Code
}

func TestRequireAnyRole_SuperAdminBypasses(t *testing.T) {
	if code := serveWithIdentity("u", "a", RoleSuperAdmin, RoleOwner); code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireAnyRole_AllowedRolePasses(t *testing.T) {
	if code := serveWithIdentity("u", "a", RoleFinance, RoleOwner, RoleFinance); code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireAnyRole_UnlistedRoleForbidden(t *testing.T) {
	if code := serveWithIdentity("u", "a", RoleOperator, RoleFinance); code != 403 {
		t.Fatalf("expected 403, got %d", code)
	}
}

func TestRequireAccount_MissingAccountUnauthorized(t *testing.T) {
	if code := serveWithIdentity("u", "", RoleOwner, RoleOwner); code != 401 {
		t.Fatalf("expected 401, got %d", code)
	}
}
