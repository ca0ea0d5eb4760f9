package shared

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestParsePagination(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		query    string
		page     int
		pageSize int
	}{
		{"", 1, defaultPageSize},
		{"page=3&page_size=50", 3, 50},
		{"page=0&page_size=1000", 1, maxPageSize},
		{"page=abc&page_size=-4", 1, defaultPageSize},
	}
	for _, tc := range cases {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/earnings/entries?"+tc.query, nil)
		page, size := ParsePagination(c)
		if page != tc.page || size != tc.pageSize {
			t.Fatalf("query %q: want %d/%d got %d/%d", tc.query, tc.page, tc.pageSize, page, size)
		}
	}
}

func TestParseIDParamRejectsZero(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/early-pay/requests/0", nil)
	c.Params = gin.Params{{Key: "id", Value: "0"}}
	if _, ok := ParseIDParam(c, "id"); ok {
		t.Fatalf("zero id should be rejected")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("envelope errors use http 200, got %d", rec.Code)
	}

	c, _ = gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/early-pay/requests/42", nil)
	c.Params = gin.Params{{Key: "id", Value: "42"}}
	if id, ok := ParseIDParam(c, "id"); !ok || id != 42 {
		t.Fatalf("want id 42 got %d %v", id, ok)
	}
}
