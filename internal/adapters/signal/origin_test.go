package signal

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckOrigin(t *testing.T) {
	check := checkOrigin([]string{"https://app.example.com/", "http://localhost:3000"})

	cases := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://dialogue.test", true},
		{"https://APP.example.com", true},
		{"http://localhost:3000", true},
		{"http://app.example.com", false},
		{"https://evil.example", false},
		{"null", false},
	}
	for _, tc := range cases {
		r := httptest.NewRequest("GET", "http://dialogue.test/api/ws/signal", nil)
		if tc.origin != "" {
			r.Header.Set("Origin", tc.origin)
		}
		assert.Equal(t, tc.want, check(r), tc.origin)
	}
}
