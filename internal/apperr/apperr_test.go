package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", Validationf("cart is empty"), http.StatusBadRequest},
		{"conflict points", Conflictf("you only have 3 points, not enough to redeem 50"), http.StatusBadRequest},
		{"conflict stock", Conflictf("product %q is out of stock: only %d left", "Keyboard", 1), http.StatusBadRequest},
		{"conflict state", Conflictf("order has already been cancelled"), http.StatusBadRequest},
		{"external", Externalf("online payment is currently unavailable"), http.StatusBadRequest},
		{"authorization", Forbiddenf("not yours"), http.StatusForbidden},
		{"not found", NotFoundf("order not found"), http.StatusNotFound},
		{"unclassified", errors.New("pg: broken pipe"), http.StatusInternalServerError},
		{"wrapped", fmt.Errorf("checkout: %w", Conflictf("out of stock")), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestMessageHidesAuthorizationDetail(t *testing.T) {
	msg := Message(Forbiddenf("order 42 does not belong to user 9"))
	assert.NotContains(t, msg, "42")
	assert.Equal(t, "you are not allowed to perform this action", msg)

	assert.Equal(t, "internal error", Message(errors.New("pg: broken pipe")))
	assert.Equal(t, "cart is empty", Message(Validationf("cart is empty")))
}

func TestKindOf(t *testing.T) {
	k, ok := KindOf(fmt.Errorf("outer: %w", NotFoundf("gone")))
	assert.True(t, ok)
	assert.Equal(t, NotFound, k)

	_, ok = KindOf(errors.New("plain"))
	assert.False(t, ok)

	assert.True(t, IsKind(Conflictf("nope"), Conflict))
	assert.False(t, IsKind(Conflictf("nope"), Validation))
}
