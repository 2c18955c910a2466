package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kuutamolabs/kld/errs"
)

func TestWriteErrorMapsTaxonomyToHTTPStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{errs.Unauthorizedf("no macaroon"), http.StatusUnauthorized},
		{errs.BadRequestf("bad amount"), http.StatusBadRequest},
		{errs.NotFoundf("no such peer"), http.StatusNotFound},
		{errs.Unavailablef("chain backend down"), http.StatusServiceUnavailable},
		{errs.Conflictf("channel already funded"), http.StatusConflict},
		{errors.New("unannotated failure"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeError(rec, tc.err)
		if rec.Code != tc.status {
			t.Errorf("err %v: expected status %d, got %d", tc.err, tc.status, rec.Code)
		}
		var body errorBody
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("decoding error body: %v", err)
		}
		if body.Detail != tc.err.Error() {
			t.Errorf("expected detail %q, got %q", tc.err.Error(), body.Detail)
		}
	}
}

func TestWriteJSONEncodesValue(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, map[string]int{"a": 1})
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json content type, got %q", ct)
	}
	var out map[string]int
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if out["a"] != 1 {
		t.Errorf("expected a=1, got %v", out)
	}
}
