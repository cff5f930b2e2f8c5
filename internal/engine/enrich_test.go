package engine

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrapegrid/scrapegrid/internal/identity"
	"github.com/scrapegrid/scrapegrid/internal/models"
)

func testEngineLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestExtractContacts(t *testing.T) {
	t.Run("mailto and tel links win", func(t *testing.T) {
		html := `<html><body>
			<a href="mailto:Info@Example.com?subject=hi">Contact</a>
			<a href="mailto:info@example.com">Contact again</a>
			<a href="tel:+49 30 1234567">Call us</a>
			<p>unrelated@elsewhere.org</p>
		</body></html>`

		emails, phone := extractContacts(html)

		assert.Equal(t, []string{"info@example.com"}, emails)
		assert.Equal(t, "+49 30 1234567", phone)
	})

	t.Run("regex sweep as fallback", func(t *testing.T) {
		html := `<html><body><p>Write to hello@shop.example or call +44 20 7946 0958.</p></body></html>`

		emails, phone := extractContacts(html)

		assert.Equal(t, []string{"hello@shop.example"}, emails)
		assert.NotEmpty(t, phone)
	})

	t.Run("asset names are not emails", func(t *testing.T) {
		html := `<html><body><img srcset="hero@2x.png"><p>real@company.example</p></body></html>`

		emails, _ := extractContacts(html)

		assert.Equal(t, []string{"real@company.example"}, emails)
	})

	t.Run("no contacts", func(t *testing.T) {
		emails, phone := extractContacts(`<html><body><p>nothing here</p></body></html>`)

		assert.Empty(t, emails)
		assert.Empty(t, phone)
	})
}

func TestEnrichPlace(t *testing.T) {
	pool := identity.NewPool([]string{"test-agent"}, nil, 0, 0)

	t.Run("fills emails and phone from the website", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
			io.WriteString(w, `<html><body><a href="mailto:team@cafe.example">Mail</a><a href="tel:+4930111">Call</a></body></html>`)
		}))
		defer server.Close()

		en := NewEnricher(pool, testEngineLogger())
		place := &models.Place{Name: "Cafe", Website: &server.URL}

		en.EnrichPlace(context.Background(), place)

		assert.Equal(t, []string{"team@cafe.example"}, place.Emails)
		require.NotNil(t, place.Phone)
		assert.Equal(t, "+4930111", *place.Phone)
	})

	t.Run("existing phone is not overwritten", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `<html><body><a href="tel:+999">Call</a></body></html>`)
		}))
		defer server.Close()

		en := NewEnricher(pool, testEngineLogger())
		existing := "+4930555"
		place := &models.Place{Name: "Cafe", Website: &server.URL, Phone: &existing}

		en.EnrichPlace(context.Background(), place)

		assert.Equal(t, "+4930555", *place.Phone)
	})

	t.Run("fetch failure leaves the record untouched", func(t *testing.T) {
		en := NewEnricher(pool, testEngineLogger())
		site := "http://127.0.0.1:1"
		place := &models.Place{Name: "Cafe", Website: &site}

		en.EnrichPlace(context.Background(), place)

		assert.Empty(t, place.Emails)
		assert.Nil(t, place.Phone)
	})

	t.Run("no website is a no-op", func(t *testing.T) {
		en := NewEnricher(pool, testEngineLogger())
		place := &models.Place{Name: "Cafe"}

		en.EnrichPlace(context.Background(), place)

		assert.Empty(t, place.Emails)
	})
}
