package identity

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseRobotsTxt(t *testing.T) {
	body := `# sample
User-agent: googlebot
Disallow: /private/

User-agent: bot-a
User-agent: bot-b
Disallow: /shared/

User-agent: *
Allow: /public/
Disallow: /
`

	rules := parseRobotsTxt(body)

	require.Len(t, rules.groups, 3)
	assert.Equal(t, []string{"googlebot"}, rules.groups[0].agents)
	assert.Equal(t, []string{"bot-a", "bot-b"}, rules.groups[1].agents)
	assert.Equal(t, []string{"*"}, rules.groups[2].agents)
	assert.Equal(t, []string{"/public/"}, rules.groups[2].allow)
	assert.Equal(t, []string{"/"}, rules.groups[2].disallow)
}

func TestRobotsRules_Allows(t *testing.T) {
	rules := parseRobotsTxt(`User-agent: *
Allow: /public/
Disallow: /
`)

	t.Run("longest prefix wins", func(t *testing.T) {
		assert.True(t, rules.allows("anybot", "/public/page"))
		assert.False(t, rules.allows("anybot", "/private/page"))
		assert.False(t, rules.allows("anybot", "/"))
	})

	t.Run("specific agent group takes precedence", func(t *testing.T) {
		rules := parseRobotsTxt(`User-agent: specialbot
Disallow: /special/

User-agent: *
Disallow: /
`)
		assert.True(t, rules.allows("Mozilla/5.0 compatible specialbot/1.0", "/anything"))
		assert.False(t, rules.allows("Mozilla/5.0 compatible specialbot/1.0", "/special/path"))
		assert.False(t, rules.allows("otherbot", "/anything"))
	})

	t.Run("no matching group allows", func(t *testing.T) {
		rules := parseRobotsTxt(`User-agent: onlybot
Disallow: /
`)
		assert.True(t, rules.allows("unrelated", "/anything"))
	})
}

func TestRobotsChecker_Allowed(t *testing.T) {
	logger := discardLogger()

	t.Run("enforces disallow rules", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/robots.txt", r.URL.Path)
			io.WriteString(w, "User-agent: *\nDisallow: /blocked/\n")
		}))
		defer server.Close()

		rc := NewRobotsChecker(logger)

		assert.True(t, rc.Allowed(context.Background(), server.URL+"/open/page", "test-agent"))
		assert.False(t, rc.Allowed(context.Background(), server.URL+"/blocked/page", "test-agent"))
	})

	t.Run("fails open on 404", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		rc := NewRobotsChecker(logger)

		assert.True(t, rc.Allowed(context.Background(), server.URL+"/anything", "test-agent"))
	})

	t.Run("fails open on server error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		rc := NewRobotsChecker(logger)

		assert.True(t, rc.Allowed(context.Background(), server.URL+"/anything", "test-agent"))
	})

	t.Run("fails open on unreachable host", func(t *testing.T) {
		rc := NewRobotsChecker(logger)

		assert.True(t, rc.Allowed(context.Background(), "http://127.0.0.1:1/page", "test-agent"))
	})

	t.Run("fails open on unparseable url", func(t *testing.T) {
		rc := NewRobotsChecker(logger)

		assert.True(t, rc.Allowed(context.Background(), "not a url", "test-agent"))
	})

	t.Run("caches per host", func(t *testing.T) {
		var fetches atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fetches.Add(1)
			io.WriteString(w, "User-agent: *\nDisallow: /blocked/\n")
		}))
		defer server.Close()

		rc := NewRobotsChecker(logger)

		for i := 0; i < 5; i++ {
			rc.Allowed(context.Background(), server.URL+"/page", "test-agent")
		}
		assert.Equal(t, int32(1), fetches.Load())
	})
}
