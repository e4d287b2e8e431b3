package user

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegisterRejectsMissingCredentials(t *testing.T) {
	// A nil service is safe here: validation rejects the request
	// before the service is touched.
	h := NewHandler(nil)

	cases := []string{
		`{"username":"","password":"secret"}`,
		`{"username":"   ","password":"secret"}`,
		`{"username":"alice","password":""}`,
	}
	for _, body := range cases {
		req := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(body))
		w := httptest.NewRecorder()

		h.Register(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code, "body %s", body)
	}
}

func TestRegisterRejectsMalformedBody(t *testing.T) {
	h := NewHandler(nil)

	req := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader("{not json"))
	w := httptest.NewRecorder()

	h.Register(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
